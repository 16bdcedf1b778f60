package keyspace

import (
	"context"
	stdsql "database/sql"
	"fmt"
	"strings"

	migrate "github.com/rubenv/sql-migrate"

	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
)

// MigrationsTable is the bookkeeping table sql-migrate uses for the
// key-space migrations.
const MigrationsTable = "idbroker_migrations"

// Migrations returns the migration source that creates (up) and drops (down)
// the key-space table.
func Migrations(ctx context.Context, d string, t Table) (*migrate.MemoryMigrationSource, error) {
	t = t.WithDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	up, err := CreateStatements(ctx, d, t)
	if err != nil {
		return nil, err
	}
	return &migrate.MemoryMigrationSource{
		Migrations: []*migrate.Migration{
			{
				Id:   "0001_create_" + strings.ToLower(t.Name),
				Up:   up,
				Down: []string{"DROP TABLE " + sql.Quote(d, t.Name)},
			},
		},
	}, nil
}

// Migrate applies the pending key-space migrations and returns how many ran.
func Migrate(ctx context.Context, db *stdsql.DB, d string, t Table) (int, error) {
	return exec(ctx, db, d, t, migrate.Up)
}

// Rollback reverts the key-space migrations, dropping the table.
func Rollback(ctx context.Context, db *stdsql.DB, d string, t Table) (int, error) {
	return exec(ctx, db, d, t, migrate.Down)
}

func exec(ctx context.Context, db *stdsql.DB, d string, t Table, dir migrate.MigrationDirection) (int, error) {
	src, err := Migrations(ctx, d, t)
	if err != nil {
		return 0, err
	}
	md, err := migrateDialect(d)
	if err != nil {
		return 0, err
	}
	set := migrate.MigrationSet{TableName: MigrationsTable}
	n, err := set.ExecContext(ctx, db, md, src, dir)
	if err != nil {
		return n, fmt.Errorf("keyspace: migrate %s: %w", t.Name, err)
	}
	return n, nil
}

// migrateDialect maps a dialect to the name sql-migrate knows it by.
func migrateDialect(d string) (string, error) {
	switch d {
	case dialect.MySQL:
		return "mysql", nil
	case dialect.Postgres:
		return "postgres", nil
	case dialect.SQLite:
		return "sqlite3", nil
	default:
		return "", fmt.Errorf("keyspace: unsupported dialect %q", d)
	}
}
