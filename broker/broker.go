// Package broker implements the block allocator that hands out primary keys.
//
// A Broker keeps, per logical table, an in-memory queue of ids reserved from
// the key-space table. Cache hits never touch the database. When a cache runs
// short the broker reserves the next block of QUANTITY ids in a single
// transaction that reads NEXT_ID and advances it before any of the ids is
// exposed, so brokers in any number of processes never hand out the same id.
package broker

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/keyspace"
)

// Broker dispenses unique ids for the tables listed in a key-space table.
// It is safe for concurrent use.
type Broker struct {
	drv   dialect.Driver
	store *keyspace.Store
	opts  options
	log   *slog.Logger
	noTx  bool

	mu      sync.Mutex // guards entries and every entry's ids and quantity.
	entries map[string]*entry

	stats   counters
	hk      *housekeeper
	stopped atomic.Bool
}

// entry is the per-table state.
type entry struct {
	// refill serializes replenishments of the table. The timing record is
	// only touched while it is held.
	refill sync.Mutex
	last   timing

	ids      []int64
	quantity int64 // 0 until the first replenishment.
	known    bool  // a replenishment succeeded at least once.
}

// New returns a Broker that reserves ids from the key-space table t through
// drv. It does not touch the database. When prefetch is enabled it starts the
// background housekeeper; call Stop to halt it.
func New(drv dialect.Driver, t keyspace.Table, opts ...Option) (*Broker, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	store, err := keyspace.NewStore(drv.Dialect(), t)
	if err != nil {
		return nil, err
	}
	b := &Broker{
		drv:     drv,
		store:   store,
		opts:    o,
		log:     o.logger.With("component", "idbroker", "database", store.Table().Database),
		noTx:    !dialect.SupportsTransactions(drv),
		entries: make(map[string]*entry),
	}
	if b.noTx {
		b.log.Warn("database does not support transactions; concurrent processes may receive duplicate ids",
			"dialect", drv.Dialect())
	}
	if o.prefetch {
		b.hk = b.startHousekeeper()
	}
	return b, nil
}

// Table returns the key-space table descriptor the broker reads.
func (b *Broker) Table() keyspace.Table { return b.store.Table() }

// Reserve returns count unique, strictly increasing ids for table.
func (b *Broker) Reserve(ctx context.Context, table string, count int) ([]int64, error) {
	return b.reserve(ctx, nil, table, count)
}

// NextIDs is an alias of Reserve.
func (b *Broker) NextIDs(ctx context.Context, table string, count int) ([]int64, error) {
	return b.reserve(ctx, nil, table, count)
}

// ReserveWith is like Reserve. When the broker was built with
// WithUseNewConnection(false) and conn is not nil, replenishments run on
// conn without a transaction of their own, and ids of such a block that are
// not returned are discarded.
func (b *Broker) ReserveWith(ctx context.Context, conn dialect.ExecQuerier, table string, count int) ([]int64, error) {
	return b.reserve(ctx, conn, table, count)
}

// Exists reports whether the key-space table has a row for table. It does
// not consume any id.
func (b *Broker) Exists(ctx context.Context, table string) (bool, error) {
	if table == "" {
		return false, idbroker.NewGenerationError(table, "exists", idbroker.ErrEmptyTableName)
	}
	ok, err := b.store.Exists(ctx, b.drv, table)
	if err != nil {
		return false, idbroker.NewGenerationError(table, "exists", idbroker.NewStorageError(table, "select", err))
	}
	return ok, nil
}

func (b *Broker) reserve(ctx context.Context, conn dialect.ExecQuerier, table string, count int) ([]int64, error) {
	switch {
	case table == "":
		return nil, idbroker.NewGenerationError(table, "reserve", idbroker.ErrEmptyTableName)
	case count < 1:
		return nil, idbroker.NewGenerationError(table, "reserve", idbroker.ErrInvalidCount)
	}
	e := b.entry(table)
	if ids := b.take(e, count); ids != nil {
		b.stats.hits.Add(1)
		return ids, nil
	}
	e.refill.Lock()
	defer e.refill.Unlock()
	if ids := b.take(e, count); ids != nil {
		b.stats.hits.Add(1)
		return ids, nil
	}
	b.stats.misses.Add(1)
	if conn != nil && !b.opts.useNewConnection {
		ids, err := b.reserveOn(ctx, conn, table, e, count)
		if err != nil {
			return nil, idbroker.NewGenerationError(table, "reserve", err)
		}
		return ids, nil
	}
	for adjust := true; ; adjust = false {
		if err := b.replenish(ctx, table, e, adjust); err != nil {
			return nil, idbroker.NewGenerationError(table, "reserve", err)
		}
		if ids := b.take(e, count); ids != nil {
			return ids, nil
		}
	}
}

// entry returns the state of table, creating it on first use.
func (b *Broker) entry(table string) *entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	e, ok := b.entries[table]
	if !ok {
		e = &entry{}
		b.entries[table] = e
	}
	return e
}

// take pops count ids off the front of the cache, or returns nil if it holds
// fewer.
func (b *Broker) take(e *entry, count int) []int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(e.ids) < count {
		return nil
	}
	ids := make([]int64, count)
	copy(ids, e.ids)
	e.ids = e.ids[count:]
	if len(e.ids) == 0 {
		e.ids = nil
	}
	return ids
}

// replenish reserves one block for table in a transaction of its own and
// appends it to the cache once committed. The caller holds e.refill.
func (b *Broker) replenish(ctx context.Context, table string, e *entry, adjust bool) error {
	if adjust && b.opts.prefetch && b.opts.cleverQuantity {
		b.adjustQuantity(table, e)
	}
	b.mu.Lock()
	quantity := e.quantity
	b.mu.Unlock()

	tx, err := b.begin(ctx)
	if err != nil {
		return idbroker.NewStorageError(table, "begin", err)
	}
	next, quantity, err := b.advance(ctx, tx, table, quantity)
	if err != nil {
		return idbroker.Rollback(tx, err)
	}
	if err := tx.Commit(); err != nil {
		return idbroker.NewStorageError(table, "commit", err)
	}

	b.mu.Lock()
	for id := next; id < next+quantity; id++ {
		e.ids = append(e.ids, id)
	}
	e.quantity = quantity
	e.known = true
	b.mu.Unlock()
	b.stats.replenishments.Add(1)
	b.log.Debug("reserved id block", "table", table, "next_id", next, "quantity", quantity)
	return nil
}

// reserveOn serves count ids using blocks reserved on the caller's
// connection. Ids already cached are used first. The caller holds e.refill.
func (b *Broker) reserveOn(ctx context.Context, conn dialect.ExecQuerier, table string, e *entry, count int) ([]int64, error) {
	b.mu.Lock()
	cached := e.ids
	e.ids = nil
	quantity := e.quantity
	b.mu.Unlock()

	ids := make([]int64, 0, count)
	ids = append(ids, cached...)
	for len(ids) < count {
		next, q, err := b.advance(ctx, conn, table, quantity)
		if err != nil {
			// Ids taken from the cache were committed earlier and stay valid.
			b.mu.Lock()
			e.ids = append(cached, e.ids...)
			b.mu.Unlock()
			return nil, err
		}
		quantity = q
		for id := next; id < next+q && len(ids) < count; id++ {
			ids = append(ids, id)
		}
		b.stats.replenishments.Add(1)
	}
	b.mu.Lock()
	e.quantity = quantity
	e.known = true
	b.mu.Unlock()
	return ids, nil
}

// begin starts the replenishment transaction. Drivers without transactions
// run the statements directly.
func (b *Broker) begin(ctx context.Context) (dialect.Tx, error) {
	if b.noTx {
		return dialect.NopTx(b.drv), nil
	}
	return b.drv.Tx(ctx)
}

// advance runs the replenishment statements on eq and returns the first id of
// the reserved block and its size. The row is write-locked before NEXT_ID is
// read, so concurrent brokers queue on the lock and each reads the value the
// previous one committed.
func (b *Broker) advance(ctx context.Context, eq dialect.ExecQuerier, table string, quantity int64) (int64, int64, error) {
	if quantity > 0 && b.opts.prefetch {
		if err := b.store.UpdateQuantity(ctx, eq, table, quantity); err != nil {
			return 0, 0, b.storeErr(table, "update quantity", err)
		}
	} else if err := b.store.Lock(ctx, eq, table); err != nil {
		return 0, 0, b.storeErr(table, "lock", err)
	}
	next, stored, err := b.store.Select(ctx, eq, table)
	if err != nil {
		return 0, 0, b.storeErr(table, "select", err)
	}
	switch {
	case !b.opts.prefetch:
		quantity = 1
	case quantity <= 0:
		quantity = max(stored, 1)
	}
	if next > math.MaxInt64-quantity {
		return 0, 0, idbroker.NewStorageError(table, "advance", idbroker.ErrIDOverflow)
	}
	if err := b.store.AdvanceNextID(ctx, eq, table, next, next+quantity); err != nil {
		return 0, 0, b.storeErr(table, "update next id", err)
	}
	return next, quantity, nil
}

func (b *Broker) storeErr(table, op string, err error) error {
	if errors.Is(err, idbroker.ErrUnknownTable) {
		return idbroker.NewConfigError(table, err)
	}
	return idbroker.NewStorageError(table, op, err)
}
