package broker

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/idbroker"
)

// housekeeper tops caches up in the background once per interval.
type housekeeper struct {
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func (b *Broker) startHousekeeper() *housekeeper {
	ctx, cancel := context.WithCancel(context.Background())
	hk := &housekeeper{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(hk.done)
		ticker := time.NewTicker(b.opts.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				// Failures are logged per table.
				_ = b.flush(ctx)
			}
		}
	}()
	return hk
}

func (hk *housekeeper) stop() {
	hk.once.Do(hk.cancel)
	<-hk.done
}

// Stop halts the housekeeper and waits for a running pass to return. It is
// safe to call more than once, and on a broker that never started one.
// Reserve keeps working after Stop.
func (b *Broker) Stop() {
	b.stopped.Store(true)
	if b.hk != nil {
		b.hk.stop()
	}
}

// Flush runs one housekeeping pass: every known table whose block size
// exceeds the number of cached ids is replenished once. Tables are processed
// concurrently, bounded by the configured number of workers. Failures are
// logged and returned joined; they do not stop the pass. Flush returns
// ErrBrokerStopped after Stop.
func (b *Broker) Flush(ctx context.Context) error {
	if b.stopped.Load() {
		return idbroker.ErrBrokerStopped
	}
	return b.flush(ctx)
}

func (b *Broker) flush(ctx context.Context) error {
	tables := b.pending()
	if len(tables) == 0 {
		return nil
	}
	var (
		mu   sync.Mutex
		errs []error
	)
	var g errgroup.Group
	g.SetLimit(b.opts.workers)
	for table, e := range tables {
		g.Go(func() error {
			if err := b.topUp(ctx, table, e); err != nil {
				b.log.Warn("background id replenishment failed", "table", table, "error", err)
				mu.Lock()
				errs = append(errs, err)
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

// pending returns the known tables whose cache holds fewer ids than a block.
func (b *Broker) pending() map[string]*entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	tables := make(map[string]*entry)
	for table, e := range b.entries {
		if e.known && e.quantity > int64(len(e.ids)) {
			tables[table] = e
		}
	}
	return tables
}

func (b *Broker) topUp(ctx context.Context, table string, e *entry) error {
	e.refill.Lock()
	defer e.refill.Unlock()
	b.mu.Lock()
	short := e.quantity > int64(len(e.ids))
	b.mu.Unlock()
	if !short {
		return nil
	}
	if err := b.replenish(ctx, table, e, false); err != nil {
		return err
	}
	b.stats.background.Add(1)
	return nil
}
