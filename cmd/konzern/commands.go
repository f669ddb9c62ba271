package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hibiken/asynq"

	"github.com/odyssey-erp/konzern/cmd/konzern/cli"
	"github.com/odyssey-erp/konzern/internal/platform/db"
	"github.com/odyssey-erp/konzern/migrations"
)

func runCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("run", stderr)
	statement := fs.String("statement", "", "statement id")
	actor := fs.String("actor", "", "user recorded as creator of the entries")
	async := fs.Bool("async", false, "enqueue the run for the worker")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}
	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "open backend: %v\n", err)
		return 1
	}
	defer b.Close()

	return cli.NewConsolOpsCLI(b.consol, b.client).RunCommand(ctx, cli.RunOptions{
		StatementID: *statement,
		ActorID:     *actor,
		Async:       *async,
		JSONOutput:  *asJSON,
		Stdout:      stdout,
		Stderr:      stderr,
	})
}

func simulateCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("simulate", stderr)
	fixture := fs.String("fixture", "", "path to the fixture JSON, - for stdin")
	asJSON := fs.Bool("json", false, "print the result as JSON")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *fixture == "" {
		fmt.Fprintln(stderr, "--fixture is required")
		return 2
	}
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}
	consolCfg, err := cfg.ConsolConfig()
	if err != nil {
		fmt.Fprintf(stderr, "consolidation config: %v\n", err)
		return 1
	}

	var in io.Reader = os.Stdin
	if *fixture != "-" {
		f, err := os.Open(*fixture)
		if err != nil {
			fmt.Fprintf(stderr, "open fixture: %v\n", err)
			return 1
		}
		defer f.Close()
		in = f
	}
	return cli.SimulateCommand(ctx, cli.SimulateOptions{
		Fixture:    in,
		Config:     consolCfg,
		JSONOutput: *asJSON,
		Logger:     logger,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func jobsCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 || args[0] != "inspect" {
		fmt.Fprintln(stderr, "usage: konzern jobs inspect [--scheduled N] [--json]")
		return 2
	}
	fs := newFlagSet("jobs inspect", stderr)
	scheduled := fs.Int("scheduled", 0, "also list the next N scheduled tasks")
	asJSON := fs.Bool("json", false, "print as JSON")
	if err := fs.Parse(args[1:]); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}
	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()
	return cli.NewJobsCLI(inspector).InspectCommand(ctx, cli.InspectOptions{
		Scheduled:  *scheduled,
		JSONOutput: *asJSON,
		Stdout:     stdout,
		Stderr:     stderr,
	})
}

func migrateCommand(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	fs := newFlagSet("migrate", stderr)
	if err := fs.Parse(args); err != nil {
		return 2
	}
	cfg, logger, ok := loadConfig(stderr)
	if !ok {
		return 1
	}
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		fmt.Fprintf(stderr, "connect database: %v\n", err)
		return 1
	}
	defer pool.Close()

	applied, err := migrations.Apply(ctx, pool, logger)
	if err != nil {
		fmt.Fprintf(stderr, "migrate: %v\n", err)
		return 1
	}
	if len(applied) == 0 {
		fmt.Fprintln(stdout, "schema up to date")
		return 0
	}
	for _, name := range applied {
		fmt.Fprintf(stdout, "applied %s\n", name)
	}
	return 0
}
