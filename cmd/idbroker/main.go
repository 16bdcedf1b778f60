package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/alecthomas/kong"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

var version = "idbroker v0.1.0"

type LogOpts struct {
	Level  string `help:"Logging level (debug, info, warn, error)" default:"info" enum:"debug,info,warn,error" envvar:"IDBROKER_LOG_LEVEL"`
	Format string `help:"Log format (text, json)"                  default:"text" enum:"text,json"             envvar:"IDBROKER_LOG_FORMAT"`
}

// Globals are the flags shared by every command.
type Globals struct {
	Config   string  `help:"Path to the configuration file" default:"idbroker.yaml" type:"path" short:"c" envvar:"IDBROKER_CONFIG"`
	Database string  `help:"Logical database to use (default: the first configured)" short:"d"`
	LogOpts  LogOpts `embed:"" prefix:"log-" help:"Logging options"`

	ctx context.Context `kong:"-"`
	log *slog.Logger    `kong:"-"`
}

type CLI struct {
	Globals

	Migrate MigrateCmd `cmd:"" help:"Create (or drop) the key-space table"`
	Seed    SeedCmd    `cmd:"" help:"Insert the key-space row of a table"`
	List    ListCmd    `cmd:"" help:"List the key-space rows"`
	Next    NextCmd    `cmd:"" help:"Reserve ids for a table and print them"`
	Bench   BenchCmd   `cmd:"" help:"Reserve ids concurrently and report throughput"`

	Version kong.VersionFlag `help:"Show version information" short:"V"`
}

func newLogger(opts LogOpts) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.ToUpper(opts.Level))); err != nil {
		level = slog.LevelInfo
	}
	hopts := &slog.HandlerOptions{Level: level}
	if opts.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stderr, hopts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, hopts))
}

func main() {
	cli := &CLI{}
	k := kong.Parse(cli,
		kong.Name("idbroker"),
		kong.Description("Manage and exercise the primary-key broker"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
		kong.Vars{
			"version": version,
		},
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	cli.ctx = ctx
	cli.log = newLogger(cli.LogOpts)
	slog.SetDefault(cli.log)

	if err := k.Run(&cli.Globals); err != nil {
		fmt.Fprintln(os.Stderr, "idbroker:", err)
		stop()
		os.Exit(1)
	}
}
