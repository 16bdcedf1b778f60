package broker

import (
	"context"
	"math"
	"strconv"

	"github.com/shopspring/decimal"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect"
)

// IDAsInt64 returns the next id for table. conn is only used when the broker
// does not open connections of its own, see ReserveWith.
func (b *Broker) IDAsInt64(ctx context.Context, conn dialect.ExecQuerier, table string) (int64, error) {
	ids, err := b.reserve(ctx, conn, table, 1)
	if err != nil {
		return 0, err
	}
	return ids[0], nil
}

// IDAsInt returns the next id for table as an int32. An id beyond the int32
// range is consumed and reported as ErrIDOverflow.
func (b *Broker) IDAsInt(ctx context.Context, conn dialect.ExecQuerier, table string) (int32, error) {
	id, err := b.IDAsInt64(ctx, conn, table)
	if err != nil {
		return 0, err
	}
	if id > math.MaxInt32 || id < math.MinInt32 {
		return 0, idbroker.NewGenerationError(table, "reserve", idbroker.ErrIDOverflow)
	}
	return int32(id), nil
}

// IDAsDecimal returns the next id for table as a decimal.
func (b *Broker) IDAsDecimal(ctx context.Context, conn dialect.ExecQuerier, table string) (decimal.Decimal, error) {
	id, err := b.IDAsInt64(ctx, conn, table)
	if err != nil {
		return decimal.Zero, err
	}
	return decimal.NewFromInt(id), nil
}

// IDAsString returns the next id for table in base 10.
func (b *Broker) IDAsString(ctx context.Context, conn dialect.ExecQuerier, table string) (string, error) {
	id, err := b.IDAsInt64(ctx, conn, table)
	if err != nil {
		return "", err
	}
	return strconv.FormatInt(id, 10), nil
}
