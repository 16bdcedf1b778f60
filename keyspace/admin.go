package keyspace

import (
	"context"
	stdsql "database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect/sql"
	"github.com/syssam/idbroker/dialect/sql/sqlerr"
)

// ErrAlreadySeeded is returned by Seed when the table already has a row.
var ErrAlreadySeeded = errors.New("keyspace: table already seeded")

// Admin runs the setup and inspection statements against the key-space
// table. These run rarely and outside the broker.
type Admin struct {
	db      *sqlx.DB
	dialect string
	table   Table
}

// NewAdmin returns an Admin for the given database handle.
func NewAdmin(db *stdsql.DB, d string, t Table) (*Admin, error) {
	t = t.WithDefaults()
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &Admin{
		db:      sqlx.NewDb(db, sql.DriverName(d)),
		dialect: d,
		table:   t,
	}, nil
}

// Seed inserts the key-space row for name. Rows are seeded once, typically
// when the application schema is created.
func (a *Admin) Seed(ctx context.Context, name string, nextID, quantity int64) (*Row, error) {
	if name == "" {
		return nil, idbroker.ErrEmptyTableName
	}
	if quantity < 1 {
		return nil, fmt.Errorf("keyspace: quantity for %q must be positive, got %d", name, quantity)
	}
	if nextID < 0 {
		return nil, fmt.Errorf("keyspace: next id for %q must not be negative, got %d", name, nextID)
	}
	row := &Row{ID: uuid.NewString(), TableName: name, NextID: nextID, Quantity: quantity}
	q := a.db.Rebind(fmt.Sprintf("INSERT INTO %s (%s, %s, %s, %s) VALUES (?, ?, ?, ?)",
		a.quote(a.table.Name), a.quote(a.table.IDColumn), a.quote(a.table.TableNameColumn),
		a.quote(a.table.NextIDColumn), a.quote(a.table.QuantityColumn)))
	if _, err := a.db.ExecContext(ctx, q, row.ID, row.TableName, row.NextID, row.Quantity); err != nil {
		if sqlerr.IsUniqueConstraintError(err) {
			return nil, fmt.Errorf("%w: %s", ErrAlreadySeeded, name)
		}
		return nil, fmt.Errorf("keyspace: seed %q: %w", name, err)
	}
	return row, nil
}

// Get returns the row for name, or ErrUnknownTable.
func (a *Admin) Get(ctx context.Context, name string) (*Row, error) {
	var row Row
	q := a.db.Rebind(a.selectRows() + " WHERE " + a.quote(a.table.TableNameColumn) + " = ?")
	if err := a.db.GetContext(ctx, &row, q, name); err != nil {
		if errors.Is(err, stdsql.ErrNoRows) {
			return nil, idbroker.NewConfigError(name, idbroker.ErrUnknownTable)
		}
		return nil, fmt.Errorf("keyspace: get %q: %w", name, err)
	}
	return &row, nil
}

// List returns all rows ordered by table name.
func (a *Admin) List(ctx context.Context) ([]Row, error) {
	var rows []Row
	q := a.selectRows() + " ORDER BY " + a.quote(a.table.TableNameColumn)
	if err := a.db.SelectContext(ctx, &rows, q); err != nil {
		return nil, fmt.Errorf("keyspace: list: %w", err)
	}
	return rows, nil
}

// Check verifies that the key-space table exists with the expected columns.
// A failure is a configuration error: the broker was pointed at a table it
// cannot use.
func (a *Admin) Check(ctx context.Context) error {
	q := a.selectRows() + " WHERE 1 = 0"
	rows, err := a.db.QueryxContext(ctx, q)
	if err != nil {
		return idbroker.NewConfigError("", fmt.Errorf("key-space table %s: %w", a.table.Name, err))
	}
	return rows.Close()
}

func (a *Admin) selectRows() string {
	t := a.table
	return fmt.Sprintf("SELECT %s AS id, %s AS table_name, %s AS next_id, %s AS quantity FROM %s",
		a.quote(t.IDColumn), a.quote(t.TableNameColumn), a.quote(t.NextIDColumn), a.quote(t.QuantityColumn), a.quote(t.Name))
}

func (a *Admin) quote(ident string) string {
	return sql.Quote(a.dialect, ident)
}
