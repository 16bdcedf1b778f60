package broker

import (
	"math"
	"time"
)

// timing records when a table was last replenished by a caller.
type timing struct {
	at time.Time
}

// adjustQuantity grows the block size of table when the previous foreground
// replenishment happened less than one interval ago, so that a block lasts
// about one interval at the observed rate. The caller holds e.refill.
func (b *Broker) adjustQuantity(table string, e *entry) {
	now := b.opts.clock()
	prev := e.last.at
	e.last.at = now
	if prev.IsZero() {
		return
	}
	elapsed := now.Sub(prev)
	if elapsed <= 0 || elapsed >= b.opts.interval {
		return
	}
	b.mu.Lock()
	from := e.quantity
	to := from
	if from > 0 {
		to = grow(from, elapsed, b.opts.interval, b.opts.safetyMargin, b.opts.maxQuantity)
		e.quantity = to
	}
	b.mu.Unlock()
	if to > from {
		b.log.Info("increasing id block size", "table", table, "from", from, "to", to, "elapsed", elapsed)
	}
}

// grow returns ceil(interval/elapsed * quantity * margin), capped at limit.
// The result is never smaller than quantity.
func grow(quantity int64, elapsed, interval time.Duration, margin float64, limit int64) int64 {
	n := math.Ceil(float64(interval) / float64(elapsed) * float64(quantity) * margin)
	switch {
	case n >= float64(limit):
		return max(limit, quantity)
	case int64(n) < quantity:
		return quantity
	default:
		return int64(n)
	}
}
