package broker

import (
	"fmt"
	"sort"
	"sync/atomic"
)

type counters struct {
	hits           atomic.Int64
	misses         atomic.Int64
	replenishments atomic.Int64
	background     atomic.Int64
}

// TableStats describes the cache of one table.
type TableStats struct {
	Cached   int   // Ids reserved but not yet dispensed
	Quantity int64 // Current block size, 0 if not yet known
}

// Stats is a point-in-time snapshot of a Broker.
type Stats struct {
	Tables map[string]TableStats

	CacheHits      int64 // Requests served without a replenishment
	CacheMisses    int64 // Requests that had to replenish
	Replenishments int64 // Blocks reserved, foreground and background
	Background     int64 // Blocks reserved by the housekeeper
}

// Names returns the known table names in sorted order.
func (s Stats) Names() []string {
	names := make([]string, 0, len(s.Tables))
	for name := range s.Tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// String returns a human-readable summary.
func (s Stats) String() string {
	return fmt.Sprintf("tables=%d hits=%d misses=%d replenishments=%d background=%d",
		len(s.Tables), s.CacheHits, s.CacheMisses, s.Replenishments, s.Background)
}

// Stats returns a snapshot of the broker's caches and counters. Only tables
// with at least one successful replenishment are listed.
func (b *Broker) Stats() Stats {
	s := Stats{
		Tables:         make(map[string]TableStats),
		CacheHits:      b.stats.hits.Load(),
		CacheMisses:    b.stats.misses.Load(),
		Replenishments: b.stats.replenishments.Load(),
		Background:     b.stats.background.Load(),
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for name, e := range b.entries {
		if e.known {
			s.Tables[name] = TableStats{Cached: len(e.ids), Quantity: e.quantity}
		}
	}
	return s
}
