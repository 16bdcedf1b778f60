package idgen

import (
	"fmt"
	"strings"

	"github.com/syssam/idbroker/dialect"
)

// Method is the key generation strategy configured for a table.
type Method string

// Supported methods.
const (
	// IDBroker reserves keys in blocks from the key-space table.
	IDBroker Method = "idbroker"
	// Native uses the database's own mechanism: Sequence on Postgres,
	// AutoIncrement elsewhere.
	Native Method = "native"
	// Sequence reads the next value of a database sequence before the insert.
	Sequence Method = "sequence"
	// AutoIncrement reads the key the database assigned after the insert.
	AutoIncrement Method = "autoincrement"
	// None leaves keys to the application.
	None Method = "none"
)

// ParseMethod parses a method name. Matching ignores case and surrounding
// space; the empty string selects IDBroker.
func ParseMethod(s string) (Method, error) {
	switch m := Method(strings.ToLower(strings.TrimSpace(s))); m {
	case "":
		return IDBroker, nil
	case IDBroker, Native, Sequence, AutoIncrement, None:
		return m, nil
	case "auto_increment", "autoinc", "identity":
		return AutoIncrement, nil
	default:
		return "", fmt.Errorf("idgen: unknown method %q", s)
	}
}

// String returns the method name.
func (m Method) String() string { return string(m) }

// UnmarshalText implements encoding.TextUnmarshaler.
func (m *Method) UnmarshalText(text []byte) error {
	v, err := ParseMethod(string(text))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// Resolve maps Native to the concrete method of dialect d. Other methods are
// returned unchanged.
func (m Method) Resolve(d string) (Method, error) {
	if m != Native {
		return m, nil
	}
	switch d {
	case dialect.Postgres:
		return Sequence, nil
	case dialect.MySQL, dialect.SQLite:
		return AutoIncrement, nil
	default:
		return "", fmt.Errorf("idgen: no native method for dialect %q", d)
	}
}
