package broker

import (
	"log/slog"
	"time"
)

// Defaults applied by New.
const (
	DefaultInterval     = time.Minute
	DefaultSafetyMargin = 1.2
	DefaultMaxQuantity  = 1 << 20
	DefaultWorkers      = 4
)

type options struct {
	prefetch         bool
	cleverQuantity   bool
	useNewConnection bool
	interval         time.Duration
	safetyMargin     float64
	maxQuantity      int64
	workers          int
	logger           *slog.Logger
	clock            func() time.Time
}

func defaultOptions() options {
	return options{
		prefetch:         true,
		cleverQuantity:   true,
		useNewConnection: true,
		interval:         DefaultInterval,
		safetyMargin:     DefaultSafetyMargin,
		maxQuantity:      DefaultMaxQuantity,
		workers:          DefaultWorkers,
		logger:           slog.Default(),
		clock:            time.Now,
	}
}

// Option configures a Broker.
type Option func(*options)

// WithPrefetch enables reserving whole blocks and topping caches up in the
// background. With prefetch off every replenishment reserves a single id and
// no housekeeper runs.
func WithPrefetch(on bool) Option {
	return func(o *options) { o.prefetch = on }
}

// WithCleverQuantity enables growing the block size of tables that drain
// their cache faster than once per interval.
func WithCleverQuantity(on bool) Option {
	return func(o *options) { o.cleverQuantity = on }
}

// WithUseNewConnection controls whether replenishments always run in a
// transaction of their own. When off, ReserveWith runs them on the caller's
// connection instead.
func WithUseNewConnection(on bool) Option {
	return func(o *options) { o.useNewConnection = on }
}

// WithInterval sets the housekeeper period and the target time a block
// should last.
func WithInterval(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.interval = d
		}
	}
}

// WithSafetyMargin sets the factor applied on top of the observed drain rate
// when the block size grows.
func WithSafetyMargin(f float64) Option {
	return func(o *options) {
		if f >= 1 {
			o.safetyMargin = f
		}
	}
}

// WithMaxQuantity caps the block size the heuristic may grow to.
func WithMaxQuantity(n int64) Option {
	return func(o *options) {
		if n > 0 {
			o.maxQuantity = n
		}
	}
}

// WithWorkers sets how many tables a housekeeping pass replenishes at once.
func WithWorkers(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.workers = n
		}
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

// WithClock replaces time.Now for the timing heuristic.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.clock = now
		}
	}
}
