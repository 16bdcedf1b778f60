// Package idgen selects how the primary key of a table is produced: by the
// id broker, by a database sequence, by an auto-increment column, or not at
// all.
package idgen

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
)

// Generator produces primary keys for one table. keyInfo is the table name
// for the broker and the sequence name for sequences.
type Generator interface {
	// IsPriorToInsert reports whether the key is obtained before the row is
	// inserted.
	IsPriorToInsert() bool
	// IsPostInsert reports whether the key is read back after the insert.
	IsPostInsert() bool
	// IsConnectionRequired reports whether the id calls need the caller's
	// connection.
	IsConnectionRequired() bool

	IDAsInt(ctx context.Context, conn dialect.ExecQuerier, keyInfo string) (int32, error)
	IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, keyInfo string) (int64, error)
	IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, keyInfo string) (decimal.Decimal, error)
	IDAsString(ctx context.Context, conn dialect.ExecQuerier, keyInfo string) (string, error)
}

// Broker is the block allocator as seen by BrokerGenerator. It is
// implemented by *broker.Broker.
type Broker interface {
	IDAsInt(ctx context.Context, conn dialect.ExecQuerier, table string) (int32, error)
	IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, table string) (int64, error)
	IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, table string) (decimal.Decimal, error)
	IDAsString(ctx context.Context, conn dialect.ExecQuerier, table string) (string, error)
}

// New returns the generator for method m in dialect d. b is required for
// IDBroker and ignored otherwise.
func New(m Method, d string, b Broker) (Generator, error) {
	m, err := m.Resolve(d)
	if err != nil {
		return nil, idbroker.NewConfigError("", err)
	}
	switch m {
	case IDBroker:
		if b == nil {
			return nil, idbroker.NewConfigError("", errors.New("idgen: idbroker method without a broker"))
		}
		return &BrokerGenerator{broker: b}, nil
	case Sequence:
		if d != dialect.Postgres {
			return nil, idbroker.NewConfigError("", fmt.Errorf("idgen: dialect %q has no sequences", d))
		}
		return &SequenceGenerator{dialect: d}, nil
	case AutoIncrement:
		q, ok := lastInsertID[d]
		if !ok {
			return nil, idbroker.NewConfigError("", fmt.Errorf("idgen: dialect %q has no auto-increment lookup", d))
		}
		return &AutoIncrementGenerator{dialect: d, query: q}, nil
	case None:
		return NoGenerator{}, nil
	default:
		return nil, idbroker.NewConfigError("", fmt.Errorf("idgen: unknown method %q", m))
	}
}

// BrokerGenerator hands out keys reserved by the id broker before the insert.
type BrokerGenerator struct {
	broker Broker
}

func (*BrokerGenerator) IsPriorToInsert() bool      { return true }
func (*BrokerGenerator) IsPostInsert() bool         { return false }
func (*BrokerGenerator) IsConnectionRequired() bool { return false }

func (g *BrokerGenerator) IDAsInt(ctx context.Context, conn dialect.ExecQuerier, table string) (int32, error) {
	return g.broker.IDAsInt(ctx, conn, table)
}

func (g *BrokerGenerator) IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, table string) (int64, error) {
	return g.broker.IDAsInt64(ctx, conn, table)
}

func (g *BrokerGenerator) IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, table string) (decimal.Decimal, error) {
	return g.broker.IDAsDecimal(ctx, conn, table)
}

func (g *BrokerGenerator) IDAsString(ctx context.Context, conn dialect.ExecQuerier, table string) (string, error) {
	return g.broker.IDAsString(ctx, conn, table)
}

// SequenceGenerator reads the next value of a database sequence on the
// caller's connection.
type SequenceGenerator struct {
	dialect string
}

func (*SequenceGenerator) IsPriorToInsert() bool      { return true }
func (*SequenceGenerator) IsPostInsert() bool         { return false }
func (*SequenceGenerator) IsConnectionRequired() bool { return true }

func (g *SequenceGenerator) IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, sequence string) (int64, error) {
	if !sql.IsValidIdentifier(sequence) {
		return 0, idbroker.NewGenerationError(sequence, "sequence",
			idbroker.NewConfigError(sequence, fmt.Errorf("invalid sequence name %q", sequence)))
	}
	return queryID(ctx, conn, sequence, "sequence", "SELECT nextval('"+sequence+"')")
}

func (g *SequenceGenerator) IDAsInt(ctx context.Context, conn dialect.ExecQuerier, sequence string) (int32, error) {
	return asInt(g.IDAsInt64(ctx, conn, sequence))
}

func (g *SequenceGenerator) IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, sequence string) (decimal.Decimal, error) {
	return asDecimal(g.IDAsInt64(ctx, conn, sequence))
}

func (g *SequenceGenerator) IDAsString(ctx context.Context, conn dialect.ExecQuerier, sequence string) (string, error) {
	return asString(g.IDAsInt64(ctx, conn, sequence))
}

// lastInsertID holds, per dialect, the query returning the key generated by
// the last insert on the same connection.
var lastInsertID = map[string]string{
	dialect.MySQL:    "SELECT LAST_INSERT_ID()",
	dialect.SQLite:   "SELECT last_insert_rowid()",
	dialect.Postgres: "SELECT lastval()",
}

// AutoIncrementGenerator reads the key the database assigned to the row just
// inserted on the caller's connection.
type AutoIncrementGenerator struct {
	dialect string
	query   string
}

func (*AutoIncrementGenerator) IsPriorToInsert() bool      { return false }
func (*AutoIncrementGenerator) IsPostInsert() bool         { return true }
func (*AutoIncrementGenerator) IsConnectionRequired() bool { return true }

func (g *AutoIncrementGenerator) IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, table string) (int64, error) {
	return queryID(ctx, conn, table, "autoincrement", g.query)
}

func (g *AutoIncrementGenerator) IDAsInt(ctx context.Context, conn dialect.ExecQuerier, table string) (int32, error) {
	return asInt(g.IDAsInt64(ctx, conn, table))
}

func (g *AutoIncrementGenerator) IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, table string) (decimal.Decimal, error) {
	return asDecimal(g.IDAsInt64(ctx, conn, table))
}

func (g *AutoIncrementGenerator) IDAsString(ctx context.Context, conn dialect.ExecQuerier, table string) (string, error) {
	return asString(g.IDAsInt64(ctx, conn, table))
}

// NoGenerator is used for tables whose keys the application supplies.
type NoGenerator struct{}

func (NoGenerator) IsPriorToInsert() bool      { return false }
func (NoGenerator) IsPostInsert() bool         { return false }
func (NoGenerator) IsConnectionRequired() bool { return false }

func (NoGenerator) IDAsInt(_ context.Context, _ dialect.ExecQuerier, table string) (int32, error) {
	return 0, idbroker.NewGenerationError(table, "none", idbroker.ErrNoGenerator)
}

func (NoGenerator) IDAsInt64(_ context.Context, _ dialect.ExecQuerier, table string) (int64, error) {
	return 0, idbroker.NewGenerationError(table, "none", idbroker.ErrNoGenerator)
}

func (NoGenerator) IDAsDecimal(_ context.Context, _ dialect.ExecQuerier, table string) (decimal.Decimal, error) {
	return decimal.Zero, idbroker.NewGenerationError(table, "none", idbroker.ErrNoGenerator)
}

func (NoGenerator) IDAsString(_ context.Context, _ dialect.ExecQuerier, table string) (string, error) {
	return "", idbroker.NewGenerationError(table, "none", idbroker.ErrNoGenerator)
}

func queryID(ctx context.Context, conn dialect.ExecQuerier, key, op, query string) (int64, error) {
	if conn == nil {
		return 0, idbroker.NewGenerationError(key, op, idbroker.ErrConnRequired)
	}
	rows := &sql.Rows{}
	if err := conn.Query(ctx, query, []any{}, rows); err != nil {
		return 0, idbroker.NewGenerationError(key, op, idbroker.NewStorageError(key, "select", err))
	}
	var id int64
	if err := sql.ScanInt64s(rows, &id); err != nil {
		return 0, idbroker.NewGenerationError(key, op, idbroker.NewStorageError(key, "scan", err))
	}
	return id, nil
}

func asInt(id int64, err error) (int32, error) {
	if err != nil {
		return 0, err
	}
	if id > math.MaxInt32 || id < math.MinInt32 {
		return 0, idbroker.NewGenerationError("", "convert", fmt.Errorf("%w: %d", idbroker.ErrIDOverflow, id))
	}
	return int32(id), nil
}

func asDecimal(id int64, err error) (decimal.Decimal, error) {
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(id), nil
}

func asString(id int64, err error) (string, error) {
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}

var (
	_ Generator = (*BrokerGenerator)(nil)
	_ Generator = (*SequenceGenerator)(nil)
	_ Generator = (*AutoIncrementGenerator)(nil)
	_ Generator = NoGenerator{}
)
