// Package config loads the YAML configuration of the id broker: the logical
// databases, their key-space tables, broker tuning and per-table key
// generation methods.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/syssam/idbroker"
	"github.com/syssam/idbroker/broker"
	"github.com/syssam/idbroker/dialect"
	"github.com/syssam/idbroker/dialect/sql"
	"github.com/syssam/idbroker/idgen"
	"github.com/syssam/idbroker/keyspace"
)

// Environment variables that override the first database entry.
const (
	EnvDSN     = "IDBROKER_DSN"
	EnvDialect = "IDBROKER_DIALECT"
)

// Config is the root of the configuration file.
type Config struct {
	Databases []Database `yaml:"databases"`
}

// Database configures one logical database.
type Database struct {
	// Name identifies the database. Defaults to "default".
	Name string `yaml:"name"`

	// Dialect is one of mysql, postgres or sqlite.
	Dialect string `yaml:"dialect"`

	// DSN is the data source name passed to the driver.
	DSN string `yaml:"dsn"`

	// Isolation is the transaction isolation of the broker's transactions,
	// e.g. READ-COMMITTED: a session variable on MySQL, a BEGIN option on
	// Postgres. SQLite takes none. Empty keeps the server default.
	Isolation string `yaml:"isolation,omitempty"`

	// IDTable names the key-space table and its columns.
	IDTable keyspace.Table `yaml:"id_table"`

	// Broker tunes the block allocator.
	Broker Broker `yaml:"broker"`

	// Tables lists the key generation method of each table.
	Tables []Table `yaml:"tables"`
}

// Broker holds the broker settings. Unset switches default to on.
type Broker struct {
	Prefetch         *bool    `yaml:"prefetch,omitempty"`
	CleverQuantity   *bool    `yaml:"clever_quantity,omitempty"`
	UseNewConnection *bool    `yaml:"use_new_connection,omitempty"`
	Interval         Duration `yaml:"interval,omitempty"`
	SafetyMargin     float64  `yaml:"safety_margin,omitempty"`
	MaxQuantity      int64    `yaml:"max_quantity,omitempty"`
	Workers          int      `yaml:"workers,omitempty"`
}

// Table configures key generation for one table. Either Name or Entity is
// set; the table name is derived from Entity when Name is empty.
type Table struct {
	Name     string       `yaml:"name,omitempty"`
	Entity   string       `yaml:"entity,omitempty"`
	Method   idgen.Method `yaml:"method,omitempty"`
	Sequence string       `yaml:"sequence,omitempty"`
}

// Duration is a time.Duration read from strings such as "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: duration must be a string", node.Line)
	}
	v, err := time.ParseDuration(node.Value)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.Marshaler for Duration.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Load reads the configuration file at path. See Parse.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, idbroker.NewConfigError("", fmt.Errorf("read %s: %w", path, err))
	}
	return Parse(data)
}

// Parse decodes data, applies defaults and environment overrides, and
// validates the result. Unknown keys are rejected.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, idbroker.NewConfigError("", fmt.Errorf("parse: %w", err))
	}
	cfg.applyEnv(os.LookupEnv)
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyEnv overrides the first database with the environment. A database
// entry is created when the file declares none.
func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	dsn, hasDSN := lookup(EnvDSN)
	d, hasDialect := lookup(EnvDialect)
	if !hasDSN && !hasDialect {
		return
	}
	if len(c.Databases) == 0 {
		c.Databases = append(c.Databases, Database{})
	}
	if hasDSN {
		c.Databases[0].DSN = dsn
	}
	if hasDialect {
		c.Databases[0].Dialect = d
	}
}

// SetDefaults fills unset values.
func (c *Config) SetDefaults() {
	for i := range c.Databases {
		c.Databases[i].SetDefaults()
	}
}

// SetDefaults fills unset values.
func (d *Database) SetDefaults() {
	if d.Name == "" {
		d.Name = "default"
	}
	if d.IDTable.Database == "" {
		d.IDTable.Database = d.Name
	}
	d.IDTable = d.IDTable.WithDefaults()
	d.Broker.SetDefaults()
	for i := range d.Tables {
		if d.Tables[i].Method == "" {
			d.Tables[i].Method = idgen.IDBroker
		}
	}
}

// SetDefaults fills unset values.
func (b *Broker) SetDefaults() {
	on := func(p **bool) {
		if *p == nil {
			v := true
			*p = &v
		}
	}
	on(&b.Prefetch)
	on(&b.CleverQuantity)
	on(&b.UseNewConnection)
	if b.Interval == 0 {
		b.Interval = Duration(broker.DefaultInterval)
	}
	if b.SafetyMargin == 0 {
		b.SafetyMargin = broker.DefaultSafetyMargin
	}
	if b.MaxQuantity == 0 {
		b.MaxQuantity = broker.DefaultMaxQuantity
	}
	if b.Workers == 0 {
		b.Workers = broker.DefaultWorkers
	}
}

// Options returns the broker options for the settings. Call SetDefaults
// first.
func (b Broker) Options() []broker.Option {
	opts := []broker.Option{
		broker.WithInterval(time.Duration(b.Interval)),
		broker.WithSafetyMargin(b.SafetyMargin),
		broker.WithMaxQuantity(b.MaxQuantity),
		broker.WithWorkers(b.Workers),
	}
	if b.Prefetch != nil {
		opts = append(opts, broker.WithPrefetch(*b.Prefetch))
	}
	if b.CleverQuantity != nil {
		opts = append(opts, broker.WithCleverQuantity(*b.CleverQuantity))
	}
	if b.UseNewConnection != nil {
		opts = append(opts, broker.WithUseNewConnection(*b.UseNewConnection))
	}
	return opts
}

// Database returns the database named name.
func (c *Config) Database(name string) (Database, error) {
	for _, d := range c.Databases {
		if d.Name == name {
			return d, nil
		}
	}
	return Database{}, idbroker.NewConfigError("", fmt.Errorf("unknown database %q", name))
}

// Validate reports every problem found in the configuration.
func (c *Config) Validate() error {
	var errs []error
	if len(c.Databases) == 0 {
		errs = append(errs, errors.New("no databases configured"))
	}
	seen := make(map[string]bool)
	for _, d := range c.Databases {
		if seen[d.Name] {
			errs = append(errs, fmt.Errorf("duplicate database %q", d.Name))
		}
		seen[d.Name] = true
		if d.DSN == "" {
			errs = append(errs, fmt.Errorf("database %q: empty dsn", d.Name))
		}
		if err := d.Validate(); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		return idbroker.NewConfigError("", err)
	}
	return nil
}

// Validate reports every problem found in the database entry. The DSN is
// checked by Config.Validate, since a database may be opened over an
// existing driver.
func (d Database) Validate() error {
	var errs []error
	switch d.Dialect {
	case dialect.MySQL, dialect.Postgres, dialect.SQLite:
	default:
		errs = append(errs, fmt.Errorf("database %q: unsupported dialect %q", d.Name, d.Dialect))
	}
	if _, err := sql.IsolationOptions(d.Dialect, d.Isolation); err != nil {
		errs = append(errs, fmt.Errorf("database %q: %w", d.Name, err))
	}
	if err := d.IDTable.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("database %q: %w", d.Name, err))
	}
	b := d.Broker
	if b.Interval < 0 {
		errs = append(errs, fmt.Errorf("database %q: negative broker interval", d.Name))
	}
	if b.SafetyMargin != 0 && b.SafetyMargin < 1 {
		errs = append(errs, fmt.Errorf("database %q: safety margin %v is below 1", d.Name, b.SafetyMargin))
	}
	if b.MaxQuantity < 0 || b.Workers < 0 {
		errs = append(errs, fmt.Errorf("database %q: negative broker limits", d.Name))
	}
	tables := make(map[string]bool)
	for i, t := range d.Tables {
		key := t.Name
		if key == "" {
			key = t.Entity
		}
		switch {
		case key == "":
			errs = append(errs, fmt.Errorf("database %q: table %d has neither name nor entity", d.Name, i))
			continue
		case tables[key]:
			errs = append(errs, fmt.Errorf("database %q: duplicate table %q", d.Name, key))
		}
		tables[key] = true
		if _, err := idgen.ParseMethod(string(t.Method)); err != nil {
			errs = append(errs, fmt.Errorf("database %q: table %q: %w", d.Name, key, err))
			continue
		}
		m, err := t.Method.Resolve(d.Dialect)
		if err != nil {
			errs = append(errs, fmt.Errorf("database %q: table %q: %w", d.Name, key, err))
			continue
		}
		if m == idgen.Sequence && d.Dialect != dialect.Postgres {
			errs = append(errs, fmt.Errorf("database %q: table %q: dialect %q has no sequences", d.Name, key, d.Dialect))
		}
	}
	return errors.Join(errs...)
}
