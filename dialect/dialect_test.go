package dialect_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/idbroker/dialect"
)

type recorder struct {
	stmts []string
}

func (r *recorder) Exec(_ context.Context, query string, _, _ any) error {
	r.stmts = append(r.stmts, query)
	return nil
}

func (r *recorder) Query(_ context.Context, query string, _, _ any) error {
	r.stmts = append(r.stmts, query)
	return errors.New("no rows")
}

type plainDriver struct{ recorder }

func (*plainDriver) Tx(context.Context) (dialect.Tx, error) { return nil, nil }
func (*plainDriver) Close() error                          { return nil }
func (*plainDriver) Dialect() string                       { return dialect.SQLite }

type noTxDriver struct{ plainDriver }

func (*noTxDriver) SupportsTransactions() bool { return false }

func TestSupportsTransactions(t *testing.T) {
	assert.True(t, dialect.SupportsTransactions(&plainDriver{}))
	assert.False(t, dialect.SupportsTransactions(&noTxDriver{}))
}

func TestNopTx(t *testing.T) {
	rec := &recorder{}
	tx := dialect.NopTx(rec)
	require.NoError(t, tx.Exec(context.Background(), "UPDATE ID_TABLE SET NEXT_ID = 1", []any{}, nil))
	require.Error(t, tx.Query(context.Background(), "SELECT NEXT_ID FROM ID_TABLE", []any{}, nil))
	require.NoError(t, tx.Commit())
	require.NoError(t, tx.Rollback())
	assert.Equal(t, []string{"UPDATE ID_TABLE SET NEXT_ID = 1", "SELECT NEXT_ID FROM ID_TABLE"}, rec.stmts)
}
