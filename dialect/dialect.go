package dialect

import "context"

// Dialect names for external usage.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// ExecQuerier wraps the two database operations.
type ExecQuerier interface {
	// Exec executes a query that does not return records. For example, in SQL, UPDATE.
	// v, if not nil, is populated with the query result (e.g. *sql.Result).
	Exec(ctx context.Context, query string, args, v any) error
	// Query executes a query that returns rows, typically a SELECT in SQL.
	// It scans the result into the pointer v (e.g. *sql.Rows).
	Query(ctx context.Context, query string, args, v any) error
}

// Driver is the interface that wraps all necessary operations for the id
// broker and its collaborators.
type Driver interface {
	ExecQuerier
	// Tx starts and returns a new transaction.
	// The provided context is used until the transaction is committed or rolled back.
	Tx(context.Context) (Tx, error)
	// Close closes the underlying connection.
	Close() error
	// Dialect returns the dialect name of the driver.
	Dialect() string
}

// Tx wraps the Exec and Query operations in transaction.
type Tx interface {
	ExecQuerier
	Commit() error
	Rollback() error
}

// TxSupporter is optionally implemented by drivers that can report whether
// the underlying database honors transactions. Drivers that do not implement
// it are assumed to support them.
type TxSupporter interface {
	SupportsTransactions() bool
}

// SupportsTransactions reports whether drv runs statements in real transactions.
func SupportsTransactions(drv Driver) bool {
	if s, ok := drv.(TxSupporter); ok {
		return s.SupportsTransactions()
	}
	return true
}

// NopTx returns a Tx that runs statements directly on the given ExecQuerier.
// Commit and Rollback are no-ops. It lets callers share one code path for
// drivers without transaction support and for caller-owned transactions.
func NopTx(eq ExecQuerier) Tx {
	return nopTx{eq}
}

type nopTx struct{ ExecQuerier }

func (nopTx) Commit() error   { return nil }
func (nopTx) Rollback() error { return nil }
