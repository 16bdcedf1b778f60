// Package database ties a configured logical database together: the SQL
// driver, the id broker that owns the key-space table, and the key
// generator of every table.
package database

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/go-openapi/inflect"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/broker"
	"github.com/syssam/idbroker/config"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
	"github.com/syssam/idbroker/idgen"
)

// Database is an opened logical database.
type Database struct {
	name    string
	dialect string
	drv     dialect.Driver
	stats   *sql.StatsDriver
	broker  *broker.Broker
	log     *slog.Logger

	tables   map[string]table
	fallback idgen.Generator

	closeOnce sync.Once
	closeErr  error
}

// table is the generator of one table and the key it is called with.
type table struct {
	gen     idgen.Generator
	keyInfo string
}

type options struct {
	drv        dialect.Driver
	logger     *slog.Logger
	stats      bool
	statsOpts  []sql.StatsOption
	debug      bool
	brokerOpts []broker.Option
}

// Option configures Open.
type Option func(*options)

// WithDriver uses drv instead of opening one from the DSN. The database
// takes ownership of drv and closes it on Close.
func WithDriver(drv dialect.Driver) Option {
	return func(o *options) { o.drv = drv }
}

// WithLogger sets the logger of the database and its broker.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithStats wraps the driver with a sql.StatsDriver. See Stats.
func WithStats(opts ...sql.StatsOption) Option {
	return func(o *options) {
		o.stats = true
		o.statsOpts = opts
	}
}

// WithDebug logs every statement at debug level.
func WithDebug() Option {
	return func(o *options) { o.debug = true }
}

// WithBrokerOptions appends broker options after those derived from the
// configuration.
func WithBrokerOptions(opts ...broker.Option) Option {
	return func(o *options) { o.brokerOpts = append(o.brokerOpts, opts...) }
}

// Open opens the database described by cfg, verifies the connection and
// builds the key generator of every configured table.
func Open(ctx context.Context, cfg config.Database, opts ...Option) (*Database, error) {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.drv != nil && cfg.Dialect == "" {
		cfg.Dialect = o.drv.Dialect()
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, idbroker.NewConfigError("", err)
	}
	drv := o.drv
	if drv == nil {
		var err error
		if drv, err = open(ctx, cfg); err != nil {
			return nil, err
		}
	}
	db := &Database{
		name:    cfg.Name,
		dialect: cfg.Dialect,
		log:     o.logger.With("database", cfg.Name),
		tables:  make(map[string]table),
	}
	if o.stats {
		db.stats = sql.NewStatsDriver(drv, append([]sql.StatsOption{sql.WithSlowQueryLog(db.log)}, o.statsOpts...)...)
		drv = db.stats
	}
	if o.debug {
		drv = sql.NewDebugDriver(drv, db.log)
	}
	db.drv = drv

	bopts := append(cfg.Broker.Options(), broker.WithLogger(o.logger))
	b, err := broker.New(drv, cfg.IDTable, append(bopts, o.brokerOpts...)...)
	if err != nil {
		return nil, closeOnError(drv, err)
	}
	db.broker = b
	if db.fallback, err = idgen.New(idgen.IDBroker, cfg.Dialect, b); err != nil {
		b.Stop()
		return nil, closeOnError(drv, err)
	}
	for _, t := range cfg.Tables {
		name := t.Name
		if name == "" {
			name = TableName(t.Entity)
		}
		gen, err := idgen.New(t.Method, cfg.Dialect, b)
		if err != nil {
			b.Stop()
			return nil, closeOnError(drv, idbroker.NewConfigError(name, err))
		}
		keyInfo := name
		if gen.IsPriorToInsert() && gen.IsConnectionRequired() {
			keyInfo = t.Sequence
			if keyInfo == "" {
				keyInfo = strings.ToLower(name) + "_seq"
			}
		}
		db.tables[name] = table{gen: gen, keyInfo: keyInfo}
	}
	db.log.Info("database opened", "dialect", cfg.Dialect, "tables", len(db.tables),
		"id_table", cfg.IDTable.Name)
	return db, nil
}

// open opens and pings the SQL driver of cfg.
func open(ctx context.Context, cfg config.Database) (*sql.Driver, error) {
	if cfg.DSN == "" {
		return nil, idbroker.NewConfigError("", fmt.Errorf("database %q: empty dsn", cfg.Name))
	}
	dsn, err := sql.NormalizeDSN(cfg.Dialect, cfg.DSN, cfg.Isolation)
	if err != nil {
		return nil, idbroker.NewConfigError("", err)
	}
	txOpts, err := sql.IsolationOptions(cfg.Dialect, cfg.Isolation)
	if err != nil {
		return nil, idbroker.NewConfigError("", err)
	}
	drv, err := sql.Open(sql.DriverName(cfg.Dialect), dsn, txOpts...)
	if err != nil {
		return nil, idbroker.NewConfigError("", fmt.Errorf("open %s: %w", cfg.Name, err))
	}
	if err := drv.DB().PingContext(ctx); err != nil {
		return nil, closeOnError(drv, idbroker.NewStorageError("", "ping", err))
	}
	return drv, nil
}

func closeOnError(drv dialect.Driver, err error) error {
	if cerr := drv.Close(); cerr != nil {
		return fmt.Errorf("%w (close: %v)", err, cerr)
	}
	return err
}

// Name returns the logical database name.
func (db *Database) Name() string { return db.name }

// Dialect returns the SQL dialect.
func (db *Database) Dialect() string { return db.dialect }

// Driver returns the driver, including any stats or debug wrapper.
func (db *Database) Driver() dialect.Driver { return db.drv }

// Broker returns the id broker of the database.
func (db *Database) Broker() *broker.Broker { return db.broker }

// Stats returns the statement counters, or nil unless opened WithStats.
func (db *Database) Stats() *sql.QueryStats {
	if db.stats == nil {
		return nil
	}
	return db.stats.QueryStats()
}

// Generator returns the key generator of table. Tables without an explicit
// configuration use the id broker.
func (db *Database) Generator(name string) (idgen.Generator, error) {
	if name == "" {
		return nil, idbroker.NewGenerationError(name, "generator", idbroker.ErrEmptyTableName)
	}
	if t, ok := db.tables[name]; ok {
		return t.gen, nil
	}
	return db.fallback, nil
}

// NextID returns the next key of table through its generator. conn is the
// caller's connection or transaction; generators that read the key from the
// session (sequences, auto-increment) require it.
func (db *Database) NextID(ctx context.Context, conn dialect.ExecQuerier, name string) (int64, error) {
	if name == "" {
		return 0, idbroker.NewGenerationError(name, "next id", idbroker.ErrEmptyTableName)
	}
	t, ok := db.tables[name]
	if !ok {
		t = table{gen: db.fallback, keyInfo: name}
	}
	if t.gen.IsConnectionRequired() && conn == nil {
		return 0, idbroker.NewGenerationError(name, "next id", idbroker.ErrConnRequired)
	}
	return t.gen.IDAsInt64(ctx, conn, t.keyInfo)
}

// Close stops the broker and closes the driver. Later calls return the
// result of the first.
func (db *Database) Close() error {
	db.closeOnce.Do(func() {
		db.broker.Stop()
		db.closeErr = db.drv.Close()
		db.log.Info("database closed")
	})
	return db.closeErr
}

// TableName derives the table name of an entity: the plural of its name in
// upper snake case. For example, Order maps to ORDERS and OrderItem to
// ORDER_ITEMS.
func TableName(entity string) string {
	return cases.Upper(language.Und).String(inflect.Underscore(inflect.Pluralize(entity)))
}
