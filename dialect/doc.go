// Package dialect provides the database adapter capability consumed by the
// id broker.
//
// The package defines the interfaces used for database operations so that
// the broker can run against PostgreSQL, MySQL and SQLite through any
// implementation, including test doubles.
//
// # Supported Dialects
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// # Driver Interface
//
//	type Driver interface {
//	    Exec(ctx context.Context, query string, args, v any) error
//	    Query(ctx context.Context, query string, args, v any) error
//	    Tx(ctx context.Context) (Tx, error)
//	    Close() error
//	    Dialect() string
//	}
//
// # Transaction Interface
//
// The Tx interface extends ExecQuerier with transaction methods:
//
//	type Tx interface {
//	    ExecQuerier
//	    Commit() error
//	    Rollback() error
//	}
//
// Drivers that talk to a database without transactions implement
// TxSupporter and report false. The broker then degrades to single-process
// correctness and logs a warning when it is constructed.
//
// # Usage
//
//	import (
//	    "log"
//
//	    "github.com/syssam/idbroker/broker"
//	    "github.com/syssam/idbroker/dialect"
//	    "github.com/syssam/idbroker/dialect/sql"
//	    "github.com/syssam/idbroker/keyspace"
//	)
//
//	drv, err := sql.Open(dialect.Postgres, "postgres://...")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer drv.Close()
//
//	b, err := broker.New(drv, keyspace.DefaultTable())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer b.Stop()
package dialect
