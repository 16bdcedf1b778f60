package main

import (
	stdsql "database/sql"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"text/tabwriter"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/syssam/idbroker/config"
	"github.com/syssam/idbroker/database"
	"github.com/syssam/idbroker/dialect/sql"
	"github.com/syssam/idbroker/keyspace"
)

// load returns the selected database configuration.
func (g *Globals) load() (config.Database, error) {
	cfg, err := config.Load(g.Config)
	if err != nil {
		return config.Database{}, err
	}
	if g.Database == "" {
		return cfg.Databases[0], nil
	}
	return cfg.Database(g.Database)
}

// openSQL opens a plain connection pool for the administrative commands.
func openSQL(d config.Database) (*stdsql.DB, error) {
	dsn, err := sql.NormalizeDSN(d.Dialect, d.DSN, d.Isolation)
	if err != nil {
		return nil, err
	}
	return stdsql.Open(sql.DriverName(d.Dialect), dsn)
}

// MigrateCmd creates the key-space table.
type MigrateCmd struct {
	Down bool `help:"Drop the key-space table instead"`
	DDL  bool `help:"Print the DDL without connecting" name:"ddl"`
}

func (c *MigrateCmd) Run(g *Globals) error {
	d, err := g.load()
	if err != nil {
		return err
	}
	if c.DDL {
		stmts, err := keyspace.CreateStatements(g.ctx, d.Dialect, d.IDTable)
		if err != nil {
			return err
		}
		for _, s := range stmts {
			fmt.Println(s + ";")
		}
		return nil
	}
	db, err := openSQL(d)
	if err != nil {
		return err
	}
	defer db.Close()
	migrate := keyspace.Migrate
	if c.Down {
		migrate = keyspace.Rollback
	}
	n, err := migrate(g.ctx, db, d.Dialect, d.IDTable)
	if err != nil {
		return err
	}
	g.log.Info("key-space migrations applied", "database", d.Name, "count", n, "down", c.Down)
	return nil
}

// SeedCmd inserts the key-space row of a table.
type SeedCmd struct {
	Table    string `arg:"" help:"Table name, or entity name with --entity"`
	Entity   bool   `help:"Derive the table name from an entity name"`
	NextID   int64  `help:"First id to hand out" default:"1" name:"next-id"`
	Quantity int64  `help:"Initial block size" default:"10"`
}

func (c *SeedCmd) Run(g *Globals) error {
	d, err := g.load()
	if err != nil {
		return err
	}
	db, err := openSQL(d)
	if err != nil {
		return err
	}
	defer db.Close()
	admin, err := keyspace.NewAdmin(db, d.Dialect, d.IDTable)
	if err != nil {
		return err
	}
	name := c.Table
	if c.Entity {
		name = database.TableName(name)
	}
	row, err := admin.Seed(g.ctx, name, c.NextID, c.Quantity)
	if err != nil {
		return err
	}
	g.log.Info("table seeded", "table", row.TableName, "id", row.ID, "next_id", row.NextID, "quantity", row.Quantity)
	return nil
}

// ListCmd prints the key-space rows.
type ListCmd struct{}

func (c *ListCmd) Run(g *Globals) error {
	d, err := g.load()
	if err != nil {
		return err
	}
	db, err := openSQL(d)
	if err != nil {
		return err
	}
	defer db.Close()
	admin, err := keyspace.NewAdmin(db, d.Dialect, d.IDTable)
	if err != nil {
		return err
	}
	rows, err := admin.List(g.ctx)
	if err != nil {
		return err
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "TABLE\tNEXT_ID\tQUANTITY\tROW_ID")
	for _, r := range rows {
		fmt.Fprintf(w, "%s\t%d\t%d\t%s\n", r.TableName, r.NextID, r.Quantity, r.ID)
	}
	return w.Flush()
}

// NextCmd reserves ids and prints them, one per line.
type NextCmd struct {
	Table string `arg:"" help:"Table name"`
	Count int    `help:"Number of ids to reserve" default:"1" short:"n"`
}

func (c *NextCmd) Run(g *Globals) error {
	d, err := g.load()
	if err != nil {
		return err
	}
	db, err := database.Open(g.ctx, d, database.WithLogger(g.log))
	if err != nil {
		return err
	}
	defer db.Close()
	ids, err := db.Broker().Reserve(g.ctx, c.Table, c.Count)
	if err != nil {
		return err
	}
	out := make([]string, len(ids))
	for i, id := range ids {
		out[i] = strconv.FormatInt(id, 10)
	}
	fmt.Println(strings.Join(out, "\n"))
	return nil
}

// BenchCmd reserves ids from concurrent workers and reports throughput and
// database round trips.
type BenchCmd struct {
	Table    string `arg:"" help:"Table name"`
	Workers  int    `help:"Concurrent callers" default:"8"`
	Requests int    `help:"Requests per worker" default:"1000"`
	Count    int    `help:"Ids per request" default:"1"`
}

func (c *BenchCmd) Run(g *Globals) error {
	d, err := g.load()
	if err != nil {
		return err
	}
	db, err := database.Open(g.ctx, d, database.WithLogger(g.log), database.WithStats())
	if err != nil {
		return err
	}
	defer db.Close()

	var ids atomic.Int64
	start := time.Now()
	eg, ctx := errgroup.WithContext(g.ctx)
	for range c.Workers {
		eg.Go(func() error {
			for range c.Requests {
				got, err := db.Broker().Reserve(ctx, c.Table, c.Count)
				if err != nil {
					return err
				}
				ids.Add(int64(len(got)))
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	elapsed := time.Since(start)
	qs := db.Stats().Stats()
	bs := db.Broker().Stats()
	fmt.Printf("ids=%d elapsed=%s rate=%.0f/s round_trips=%d %s\n",
		ids.Load(), elapsed.Round(time.Millisecond), float64(ids.Load())/elapsed.Seconds(), qs.RoundTrips(), bs)
	return nil
}
