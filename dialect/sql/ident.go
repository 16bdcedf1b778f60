package sql

import (
	"regexp"
	"strings"

	"github.com/syssam/idbroker/dialect"
)

// validIdentifierRe validates SQL identifiers: a plain name, optionally
// qualified by a schema (schema.name).
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*(\.[a-zA-Z_][a-zA-Z0-9_]*)?$`)

// IsValidIdentifier checks if the string is a valid SQL identifier.
func IsValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// Quote quotes an identifier for the given dialect. A schema-qualified name is
// quoted part by part. Callers validate the identifier with IsValidIdentifier
// first; Quote does not escape.
func Quote(d, ident string) string {
	q := `"`
	if d == dialect.MySQL {
		q = "`"
	}
	parts := strings.Split(ident, ".")
	for i, p := range parts {
		parts[i] = q + p + q
	}
	return strings.Join(parts, ".")
}

// SplitQualified splits a schema-qualified name into its schema and name. The
// schema is empty for an unqualified name.
func SplitQualified(ident string) (schema, name string) {
	if i := strings.LastIndexByte(ident, '.'); i >= 0 {
		return ident[:i], ident[i+1:]
	}
	return "", ident
}
