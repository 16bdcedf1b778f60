package sql

import (
	"database/sql"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"

	"github.com/syssam/idbroker/dialect"
)

// NormalizeDSN prepares a data source name for the given dialect.
//
// MySQL DSNs get parseTime, a UTC location, clientFoundRows and an optional
// session isolation level such as READ-COMMITTED. Postgres URLs
// (postgres://...) are converted to the key=value form understood by lib/pq.
// SQLite DSNs default to immediate transactions and a busy timeout, so a
// replenishment waits for the database write lock at BEGIN instead of failing
// on a lock upgrade halfway through.
func NormalizeDSN(d, dsn, isolation string) (string, error) {
	switch d {
	case dialect.MySQL:
		cfg, err := mysql.ParseDSN(dsn)
		if err != nil {
			return "", fmt.Errorf("dialect/sql: parse mysql dsn: %w", err)
		}
		cfg.ParseTime = true
		cfg.Loc = time.UTC
		// Report matched rather than changed rows, so rewriting an unchanged
		// QUANTITY still proves the key-space row exists.
		cfg.ClientFoundRows = true
		if isolation != "" {
			level, err := ParseIsolation(isolation)
			if err != nil {
				return "", err
			}
			if cfg.Params == nil {
				cfg.Params = make(map[string]string)
			}
			cfg.Params["transaction_isolation"] = "'" + strings.ReplaceAll(strings.ToUpper(level.String()), " ", "-") + "'"
		}
		return cfg.FormatDSN(), nil
	case dialect.Postgres:
		if !strings.HasPrefix(dsn, "postgres://") && !strings.HasPrefix(dsn, "postgresql://") {
			return dsn, nil
		}
		conn, err := pq.ParseURL(dsn)
		if err != nil {
			return "", fmt.Errorf("dialect/sql: parse postgres url: %w", err)
		}
		return conn, nil
	case dialect.SQLite:
		return sqliteDSN(dsn)
	default:
		return dsn, nil
	}
}

// ParseIsolation parses an isolation level name. Words may be separated by
// spaces, dashes or underscores: READ-COMMITTED, read committed and
// READ_COMMITTED are the same level.
func ParseIsolation(s string) (sql.IsolationLevel, error) {
	name := strings.Join(strings.Fields(strings.NewReplacer("-", " ", "_", " ").Replace(strings.ToUpper(s))), " ")
	for _, l := range []sql.IsolationLevel{
		sql.LevelReadUncommitted,
		sql.LevelReadCommitted,
		sql.LevelRepeatableRead,
		sql.LevelSerializable,
	} {
		if strings.ToUpper(l.String()) == name {
			return l, nil
		}
	}
	return sql.LevelDefault, fmt.Errorf("dialect/sql: unknown isolation level %q", s)
}

// IsolationOptions returns the driver options that apply isolation to the
// transactions of a driver opened for d. MySQL sets the level per session in
// the DSN (see NormalizeDSN) and SQLite has no isolation levels, so only
// Postgres gets transaction options.
func IsolationOptions(d, isolation string) ([]DriverOption, error) {
	if isolation == "" {
		return nil, nil
	}
	level, err := ParseIsolation(isolation)
	if err != nil {
		return nil, err
	}
	switch d {
	case dialect.Postgres:
		return []DriverOption{WithTxOptions(&TxOptions{Isolation: level})}, nil
	case dialect.SQLite:
		return nil, fmt.Errorf("dialect/sql: sqlite does not support isolation level %q", isolation)
	default:
		return nil, nil
	}
}

// DriverName maps a dialect to the database/sql driver name registered by
// the driver packages imported by this module.
func DriverName(d string) string {
	switch d {
	case dialect.Postgres:
		return "postgres"
	case dialect.MySQL:
		return "mysql"
	case dialect.SQLite:
		return "sqlite"
	default:
		return d
	}
}

// DefaultBusyTimeout is the busy_timeout pragma applied to SQLite DSNs that do
// not set one.
const DefaultBusyTimeout = 5 * time.Second

func sqliteDSN(dsn string) (string, error) {
	base, query, _ := strings.Cut(dsn, "?")
	q, err := url.ParseQuery(query)
	if err != nil {
		return "", fmt.Errorf("dialect/sql: parse sqlite dsn: %w", err)
	}
	if q.Get("_txlock") == "" {
		q.Set("_txlock", "immediate")
	}
	busy := false
	for _, p := range q["_pragma"] {
		if strings.HasPrefix(strings.ToLower(strings.TrimSpace(p)), "busy_timeout") {
			busy = true
		}
	}
	if !busy {
		q.Add("_pragma", fmt.Sprintf("busy_timeout(%d)", DefaultBusyTimeout.Milliseconds()))
	}
	return base + "?" + q.Encode(), nil
}
