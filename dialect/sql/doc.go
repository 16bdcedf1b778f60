// Package sql implements the dialect.Driver interface on top of database/sql
// and carries the helpers the id broker needs to talk SQL.
//
// # Drivers
//
// Driver wraps a *sql.DB and exposes Exec and Query in the dialect.ExecQuerier
// form used across the module. Tx returns a transaction with the same shape.
//
//	drv, err := sql.Open(dialect.Postgres, dsn)
//	if err != nil {
//		return err
//	}
//	b, err := broker.New(drv, keyspace.DefaultTable())
//
// Databases that do not honor transactions are opened WithoutTransactions;
// the broker then warns at construction and runs its statements directly.
//
// # Statements
//
// Statements are written with ? placeholders and rendered per dialect with
// Rebind ($1, $2, ... on Postgres). Identifiers are quoted with Quote
// (backticks on MySQL, double quotes elsewhere) after IsValidIdentifier
// accepted them. A schema-qualified name is quoted part by part.
//
// # Decorators
//
// StatsDriver counts queries, execs and transactions and reports slow
// statements; tests use it to assert that a cache hit costs no round trip.
// DebugDriver logs every statement through log/slog.
//
// # DSNs
//
// NormalizeDSN prepares data source names. MySQL DSNs get clientFoundRows so
// that rewriting an unchanged row still counts as a match. SQLite DSNs get
// immediate transactions and a busy timeout. IsolationOptions turns an
// isolation level into transaction options on Postgres.
package sql
