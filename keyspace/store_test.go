package keyspace

import (
	"context"
	"errors"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
)

func TestTable_WithDefaults(t *testing.T) {
	got := Table{Name: "KEYS", QuantityColumn: "BLOCK"}.WithDefaults()
	assert.Equal(t, "KEYS", got.Name)
	assert.Equal(t, "BLOCK", got.QuantityColumn)
	assert.Equal(t, DefaultIDColumn, got.IDColumn)
	assert.Equal(t, DefaultTableNameColumn, got.TableNameColumn)
	assert.Equal(t, DefaultNextIDColumn, got.NextIDColumn)
	assert.Equal(t, "default", got.Database)
	assert.Equal(t, DefaultTable(), Table{}.WithDefaults())
}

func TestTable_Validate(t *testing.T) {
	require.NoError(t, DefaultTable().Validate())

	bad := DefaultTable()
	bad.Name = "ID TABLE"
	bad.NextIDColumn = "NEXT_ID; DROP TABLE ORDERS"
	err := bad.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid table name "ID TABLE"`)
	assert.Contains(t, err.Error(), "invalid next id column name")

	qualified := DefaultTable()
	qualified.Name = "app.ID_TABLE"
	require.NoError(t, qualified.Validate())
	qualified.QuantityColumn = "ID_TABLE.QUANTITY"
	require.ErrorContains(t, qualified.Validate(), "invalid quantity column name")
}

func TestNewStore_InvalidTable(t *testing.T) {
	tbl := DefaultTable()
	tbl.Name = "1ID"
	_, err := NewStore(dialect.MySQL, tbl)
	require.Error(t, err)
	assert.True(t, idbroker.IsConfigError(err))
}

func TestStore_Statements(t *testing.T) {
	tests := []struct {
		dialect        string
		updateQuantity string
		lockRow        string
		selectRow      string
		updateNextID   string
	}{
		{
			dialect:        dialect.Postgres,
			updateQuantity: `UPDATE "ID_TABLE" SET "QUANTITY" = $1 WHERE "TABLE_NAME" = $2`,
			lockRow:        `UPDATE "ID_TABLE" SET "NEXT_ID" = "NEXT_ID" WHERE "TABLE_NAME" = $1`,
			selectRow:      `SELECT "NEXT_ID", "QUANTITY" FROM "ID_TABLE" WHERE "TABLE_NAME" = $1`,
			updateNextID:   `UPDATE "ID_TABLE" SET "NEXT_ID" = $1 WHERE "TABLE_NAME" = $2 AND "NEXT_ID" = $3`,
		},
		{
			dialect:        dialect.MySQL,
			updateQuantity: "UPDATE `ID_TABLE` SET `QUANTITY` = ? WHERE `TABLE_NAME` = ?",
			lockRow:        "UPDATE `ID_TABLE` SET `NEXT_ID` = `NEXT_ID` WHERE `TABLE_NAME` = ?",
			selectRow:      "SELECT `NEXT_ID`, `QUANTITY` FROM `ID_TABLE` WHERE `TABLE_NAME` = ?",
			updateNextID:   "UPDATE `ID_TABLE` SET `NEXT_ID` = ? WHERE `TABLE_NAME` = ? AND `NEXT_ID` = ?",
		},
		{
			dialect:        dialect.SQLite,
			updateQuantity: `UPDATE "ID_TABLE" SET "QUANTITY" = ? WHERE "TABLE_NAME" = ?`,
			lockRow:        `UPDATE "ID_TABLE" SET "NEXT_ID" = "NEXT_ID" WHERE "TABLE_NAME" = ?`,
			selectRow:      `SELECT "NEXT_ID", "QUANTITY" FROM "ID_TABLE" WHERE "TABLE_NAME" = ?`,
			updateNextID:   `UPDATE "ID_TABLE" SET "NEXT_ID" = ? WHERE "TABLE_NAME" = ? AND "NEXT_ID" = ?`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.dialect, func(t *testing.T) {
			s, err := NewStore(tt.dialect, DefaultTable())
			require.NoError(t, err)
			assert.Equal(t, tt.updateQuantity, s.updateQuantity)
			assert.Equal(t, tt.lockRow, s.lockRow)
			assert.Equal(t, tt.selectRow, s.selectRow)
			assert.Equal(t, tt.updateNextID, s.updateNextID)
			assert.Equal(t, tt.dialect, s.Dialect())
			assert.Equal(t, DefaultName, s.Table().Name)
		})
	}
}

func TestStore_QualifiedTable(t *testing.T) {
	tbl := DefaultTable()
	tbl.Name = "app.ID_TABLE"
	s, err := NewStore(dialect.Postgres, tbl)
	require.NoError(t, err)
	assert.Equal(t, `SELECT "NEXT_ID", "QUANTITY" FROM "app"."ID_TABLE" WHERE "TABLE_NAME" = $1`, s.selectRow)
}

func newMockStore(t *testing.T) (*Store, *sql.Driver, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	s, err := NewStore(dialect.MySQL, DefaultTable())
	require.NoError(t, err)
	return s, sql.OpenDB(dialect.MySQL, db), mock
}

func TestStore_UpdateQuantity(t *testing.T) {
	s, drv, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(s.updateQuantity)).
		WithArgs(int64(12), "ORDERS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.UpdateQuantity(ctx, drv, "ORDERS", 12))

	mock.ExpectExec(regexp.QuoteMeta(s.updateQuantity)).
		WithArgs(int64(12), "UNKNOWN_TABLE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	err := s.UpdateQuantity(ctx, drv, "UNKNOWN_TABLE", 12)
	require.ErrorIs(t, err, idbroker.ErrUnknownTable)

	mock.ExpectExec(regexp.QuoteMeta(s.updateQuantity)).
		WillReturnError(errors.New("lock wait timeout"))
	require.Error(t, s.UpdateQuantity(ctx, drv, "ORDERS", 12))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Lock(t *testing.T) {
	s, drv, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(s.lockRow)).
		WithArgs("ORDERS").
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.Lock(ctx, drv, "ORDERS"))

	// A missing row is left for Select to report.
	mock.ExpectExec(regexp.QuoteMeta(s.lockRow)).
		WithArgs("UNKNOWN_TABLE").
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.NoError(t, s.Lock(ctx, drv, "UNKNOWN_TABLE"))

	mock.ExpectExec(regexp.QuoteMeta(s.lockRow)).
		WillReturnError(errors.New("lock wait timeout"))
	require.Error(t, s.Lock(ctx, drv, "ORDERS"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Select(t *testing.T) {
	s, drv, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(s.selectRow)).
		WithArgs("ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{"NEXT_ID", "QUANTITY"}).AddRow(100, 5))
	next, qty, err := s.Select(ctx, drv, "ORDERS")
	require.NoError(t, err)
	assert.Equal(t, int64(100), next)
	assert.Equal(t, int64(5), qty)

	mock.ExpectQuery(regexp.QuoteMeta(s.selectRow)).
		WithArgs("UNKNOWN_TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"NEXT_ID", "QUANTITY"}))
	_, _, err = s.Select(ctx, drv, "UNKNOWN_TABLE")
	require.ErrorIs(t, err, idbroker.ErrUnknownTable)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_AdvanceNextID(t *testing.T) {
	s, drv, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectExec(regexp.QuoteMeta(s.updateNextID)).
		WithArgs(int64(105), "ORDERS", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	require.NoError(t, s.AdvanceNextID(ctx, drv, "ORDERS", 100, 105))

	mock.ExpectExec(regexp.QuoteMeta(s.updateNextID)).
		WithArgs(int64(105), "ORDERS", int64(100)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	require.ErrorIs(t, s.AdvanceNextID(ctx, drv, "ORDERS", 100, 105), idbroker.ErrConcurrentUpdate)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStore_Exists(t *testing.T) {
	s, drv, mock := newMockStore(t)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta(s.selectCount)).
		WithArgs("ORDERS").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(1))
	ok, err := s.Exists(ctx, drv, "ORDERS")
	require.NoError(t, err)
	assert.True(t, ok)

	mock.ExpectQuery(regexp.QuoteMeta(s.selectCount)).
		WithArgs("UNKNOWN_TABLE").
		WillReturnRows(sqlmock.NewRows([]string{"COUNT(*)"}).AddRow(0))
	ok, err = s.Exists(ctx, drv, "UNKNOWN_TABLE")
	require.NoError(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
