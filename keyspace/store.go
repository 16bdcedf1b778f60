package keyspace

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
)

// Store renders and runs the statements the broker issues against the
// key-space table. It holds no state besides the prepared statement text and
// is safe for concurrent use.
type Store struct {
	table   Table
	dialect string

	updateQuantity string
	lockRow        string
	selectRow      string
	updateNextID   string
	selectCount    string
}

// NewStore returns a Store for the given key-space table and dialect.
func NewStore(d string, t Table) (*Store, error) {
	t = t.WithDefaults()
	if err := t.Validate(); err != nil {
		return nil, idbroker.NewConfigError("", err)
	}
	q := func(ident string) string { return sql.Quote(d, ident) }
	tbl, name, next, qty := q(t.Name), q(t.TableNameColumn), q(t.NextIDColumn), q(t.QuantityColumn)
	return &Store{
		table:   t,
		dialect: d,
		updateQuantity: sql.Rebind(d, fmt.Sprintf(
			"UPDATE %s SET %s = ? WHERE %s = ?", tbl, qty, name)),
		lockRow: sql.Rebind(d, fmt.Sprintf(
			"UPDATE %s SET %s = %s WHERE %s = ?", tbl, next, next, name)),
		selectRow: sql.Rebind(d, fmt.Sprintf(
			"SELECT %s, %s FROM %s WHERE %s = ?", next, qty, tbl, name)),
		updateNextID: sql.Rebind(d, fmt.Sprintf(
			"UPDATE %s SET %s = ? WHERE %s = ? AND %s = ?", tbl, next, name, next)),
		selectCount: sql.Rebind(d, fmt.Sprintf(
			"SELECT COUNT(*) FROM %s WHERE %s = ?", tbl, name)),
	}, nil
}

// Table returns the key-space table descriptor.
func (s *Store) Table() Table { return s.table }

// Dialect returns the dialect the statements are rendered for.
func (s *Store) Dialect() string { return s.dialect }

// UpdateQuantity writes the block size for name. Besides persisting an
// adapted quantity, the write takes the row lock for the rest of the
// transaction. It returns ErrUnknownTable if no row matched.
func (s *Store) UpdateQuantity(ctx context.Context, eq dialect.ExecQuerier, name string, quantity int64) error {
	var res sql.Result
	if err := eq.Exec(ctx, s.updateQuantity, []any{quantity, name}, &res); err != nil {
		return err
	}
	return expectOneRow(res, idbroker.ErrUnknownTable)
}

// Lock takes the row write lock for name without changing it, for
// replenishments that have no quantity to write back. A missing row is not an
// error here; Select reports it.
func (s *Store) Lock(ctx context.Context, eq dialect.ExecQuerier, name string) error {
	return eq.Exec(ctx, s.lockRow, []any{name}, nil)
}

// Select reads NEXT_ID and QUANTITY for name. It returns ErrUnknownTable if
// the row does not exist.
func (s *Store) Select(ctx context.Context, eq dialect.ExecQuerier, name string) (nextID, quantity int64, err error) {
	rows := &sql.Rows{}
	if err := eq.Query(ctx, s.selectRow, []any{name}, rows); err != nil {
		return 0, 0, err
	}
	if err := sql.ScanInt64s(rows, &nextID, &quantity); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, 0, idbroker.ErrUnknownTable
		}
		return 0, 0, err
	}
	return nextID, quantity, nil
}

// AdvanceNextID moves NEXT_ID from prev to next. The update is conditioned on
// the value read earlier in the same transaction; ErrConcurrentUpdate means
// another writer moved it in between.
func (s *Store) AdvanceNextID(ctx context.Context, eq dialect.ExecQuerier, name string, prev, next int64) error {
	var res sql.Result
	if err := eq.Exec(ctx, s.updateNextID, []any{next, name, prev}, &res); err != nil {
		return err
	}
	return expectOneRow(res, idbroker.ErrConcurrentUpdate)
}

// Exists reports whether a row exists for name.
func (s *Store) Exists(ctx context.Context, eq dialect.ExecQuerier, name string) (bool, error) {
	rows := &sql.Rows{}
	if err := eq.Query(ctx, s.selectCount, []any{name}, rows); err != nil {
		return false, err
	}
	var n int64
	if err := sql.ScanInt64s(rows, &n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func expectOneRow(res sql.Result, none error) error {
	if res == nil {
		return nil
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return none
	}
	return nil
}
