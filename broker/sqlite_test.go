package broker_test

import (
	"cmp"
	"context"
	stdsql "database/sql"
	"fmt"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
	_ "modernc.org/sqlite"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/broker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
	"github.com/syssam/idbroker/keyspace"
)

// openStore returns an in-memory SQLite database with the key-space table
// migrated and ORDERS seeded at 100 with blocks of 5.
func openStore(t testing.TB) *stdsql.DB {
	t.Helper()
	ctx := context.Background()
	db, err := stdsql.Open("sqlite", "file:broker?mode=memory")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	_, err = keyspace.Migrate(ctx, db, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)
	admin, err := keyspace.NewAdmin(db, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)
	_, err = admin.Seed(ctx, "ORDERS", 100, 5)
	require.NoError(t, err)
	return db
}

func newBroker(t testing.TB, db *stdsql.DB, opts ...broker.Option) *broker.Broker {
	t.Helper()
	opts = append([]broker.Option{broker.WithInterval(time.Hour)}, opts...)
	b, err := broker.New(sql.OpenDB(dialect.SQLite, db), keyspace.DefaultTable(), opts...)
	require.NoError(t, err)
	t.Cleanup(b.Stop)
	return b
}

func nextID(t *testing.T, db *stdsql.DB, table string) int64 {
	t.Helper()
	admin, err := keyspace.NewAdmin(db, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)
	row, err := admin.Get(context.Background(), table)
	require.NoError(t, err)
	return row.NextID
}

func TestTwoBrokersShareStore(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	b1, b2 := newBroker(t, db), newBroker(t, db)

	ids1, err := b1.Reserve(ctx, "ORDERS", 5)
	require.NoError(t, err)
	ids2, err := b2.Reserve(ctx, "ORDERS", 5)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102, 103, 104}, ids1)
	assert.Equal(t, []int64{105, 106, 107, 108, 109}, ids2)
	assert.Equal(t, int64(110), nextID(t, db, "ORDERS"))
}

// openPools returns two independent pools on one file-backed SQLite database
// with the key-space table migrated.
func openPools(t *testing.T) (*stdsql.DB, *stdsql.DB) {
	t.Helper()
	dsn, err := sql.NormalizeDSN(dialect.SQLite, "file:"+filepath.Join(t.TempDir(), "ids.db"), "")
	require.NoError(t, err)
	open := func() *stdsql.DB {
		db, err := stdsql.Open("sqlite", dsn)
		require.NoError(t, err)
		t.Cleanup(func() { db.Close() })
		return db
	}
	db1, db2 := open(), open()
	_, err = keyspace.Migrate(context.Background(), db1, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)
	return db1, db2
}

func TestTwoBrokersRace(t *testing.T) {
	ctx := context.Background()
	db1, db2 := openPools(t)
	admin, err := keyspace.NewAdmin(db1, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)

	for round := range 50 {
		table := fmt.Sprintf("ORDERS_%d", round)
		_, err := admin.Seed(ctx, table, 100, 5)
		require.NoError(t, err)

		brokers := []*broker.Broker{newBroker(t, db1), newBroker(t, db2)}
		got := make([][]int64, len(brokers))
		start := make(chan struct{})
		var g errgroup.Group
		for i, b := range brokers {
			g.Go(func() error {
				<-start
				ids, err := b.Reserve(ctx, table, 5)
				got[i] = ids
				return err
			})
		}
		close(start)
		require.NoError(t, g.Wait(), "round %d", round)

		slices.SortFunc(got, func(a, b []int64) int { return cmp.Compare(a[0], b[0]) })
		assert.Equal(t, [][]int64{{100, 101, 102, 103, 104}, {105, 106, 107, 108, 109}}, got, "round %d", round)
		assert.Equal(t, int64(110), nextID(t, db1, table), "round %d", round)
		for _, b := range brokers {
			b.Stop()
		}
	}
}

func TestTwoBrokersRace_WithoutPrefetch(t *testing.T) {
	ctx := context.Background()
	db1, db2 := openPools(t)
	admin, err := keyspace.NewAdmin(db1, dialect.SQLite, keyspace.DefaultTable())
	require.NoError(t, err)
	_, err = admin.Seed(ctx, "ORDERS", 100, 5)
	require.NoError(t, err)

	brokers := []*broker.Broker{
		newBroker(t, db1, broker.WithPrefetch(false)),
		newBroker(t, db2, broker.WithPrefetch(false)),
	}
	var (
		mu   sync.Mutex
		seen = make(map[int64]bool)
	)
	start := make(chan struct{})
	var g errgroup.Group
	for _, b := range brokers {
		g.Go(func() error {
			<-start
			for range 150 {
				ids, err := b.Reserve(ctx, "ORDERS", 1)
				if err != nil {
					return err
				}
				mu.Lock()
				assert.False(t, seen[ids[0]], "id %d dispensed twice", ids[0])
				seen[ids[0]] = true
				mu.Unlock()
			}
			return nil
		})
	}
	close(start)
	require.NoError(t, g.Wait())
	assert.Len(t, seen, 300)
	assert.Equal(t, int64(400), nextID(t, db1, "ORDERS"))
}

func TestOrdersScenario(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	b := newBroker(t, db)

	ids, err := b.Reserve(ctx, "ORDERS", 3)
	require.NoError(t, err)
	assert.Equal(t, []int64{100, 101, 102}, ids)
	assert.Equal(t, int64(105), nextID(t, db, "ORDERS"))

	ids, err = b.Reserve(ctx, "ORDERS", 2)
	require.NoError(t, err)
	assert.Equal(t, []int64{103, 104}, ids)
	assert.Equal(t, int64(105), nextID(t, db, "ORDERS"))

	_, err = b.Reserve(ctx, "UNKNOWN_TABLE", 1)
	require.Error(t, err)
	assert.True(t, idbroker.IsGenerationError(err))
	assert.ErrorIs(t, err, idbroker.ErrUnknownTable)
	assert.Equal(t, int64(105), nextID(t, db, "ORDERS"))
}

func TestConcurrentReserveIsUnique(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	brokers := []*broker.Broker{
		newBroker(t, db, broker.WithMaxQuantity(64)),
		newBroker(t, db, broker.WithMaxQuantity(64)),
	}

	var (
		mu      sync.Mutex
		seen    = make(map[int64]bool)
		total   int
		highest int64
	)
	var g errgroup.Group
	for w := range 8 {
		b := brokers[w%len(brokers)]
		g.Go(func() error {
			for i := range 40 {
				ids, err := b.Reserve(ctx, "ORDERS", 1+i%3)
				if err != nil {
					return err
				}
				for j := 1; j < len(ids); j++ {
					assert.Greater(t, ids[j], ids[j-1])
				}
				mu.Lock()
				total += len(ids)
				for _, id := range ids {
					assert.False(t, seen[id], "id %d dispensed twice", id)
					seen[id] = true
					highest = max(highest, id)
				}
				mu.Unlock()
			}
			return nil
		})
	}
	require.NoError(t, g.Wait())
	assert.Len(t, seen, total)
	assert.Greater(t, nextID(t, db, "ORDERS"), highest)
}

func TestHousekeeperTopsUp(t *testing.T) {
	ctx := context.Background()
	db := openStore(t)
	b := newBroker(t, db, broker.WithInterval(20*time.Millisecond), broker.WithCleverQuantity(false))

	ids, err := b.Reserve(ctx, "ORDERS", 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{100}, ids)

	require.Eventually(t, func() bool {
		return b.Stats().Tables["ORDERS"].Cached == 9
	}, 5*time.Second, 10*time.Millisecond)
	b.Stop()
	assert.Equal(t, int64(110), nextID(t, db, "ORDERS"))
	assert.GreaterOrEqual(t, b.Stats().Background, int64(1))
}
