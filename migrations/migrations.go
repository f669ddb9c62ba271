// Package migrations ships the Postgres schema and applies it with
// golang-migrate.
package migrations

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pgxmigrate "github.com/golang-migrate/migrate/v4/database/pgx/v5"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
)

//go:embed *.sql
var files embed.FS

// ErrDirty is returned when an earlier migration failed half way and the
// schema needs a manual fix before anything else is applied.
var ErrDirty = errors.New("migrations: database is dirty")

// Names lists the embedded up migrations in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.up.sql")
	if err != nil {
		return nil, err
	}
	sort.Strings(names)
	return names, nil
}

// Apply runs every pending up migration and returns the names applied by
// this call. An up-to-date schema yields no names and no error.
func Apply(ctx context.Context, pool *pgxpool.Pool, logger *slog.Logger) ([]string, error) {
	if logger == nil {
		logger = slog.Default()
	}
	src, err := iofs.New(files, ".")
	if err != nil {
		return nil, fmt.Errorf("migrations: source: %w", err)
	}
	driver, err := pgxmigrate.WithInstance(stdlib.OpenDBFromPool(pool), &pgxmigrate.Config{})
	if err != nil {
		return nil, fmt.Errorf("migrations: driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "pgx5", driver)
	if err != nil {
		return nil, fmt.Errorf("migrations: init: %w", err)
	}
	defer func() {
		if srcErr, dbErr := m.Close(); srcErr != nil || dbErr != nil {
			logger.Warn("migrations: close", slog.Any("source_error", srcErr), slog.Any("db_error", dbErr))
		}
	}()

	before, err := version(m)
	if err != nil {
		return nil, err
	}

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			m.GracefulStop <- true
		case <-done:
		}
	}()

	err = m.Up()
	if errors.Is(err, migrate.ErrNoChange) {
		logger.Info("no new migrations to apply")
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("migrations: up: %w", err)
	}
	after, err := version(m)
	if err != nil {
		return nil, err
	}

	applied, err := between(before, after)
	if err != nil {
		return nil, err
	}
	for _, name := range applied {
		logger.Info("migration applied", slog.String("version", name))
	}
	return applied, nil
}

func version(m *migrate.Migrate) (uint, error) {
	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("migrations: version: %w", err)
	}
	if dirty {
		return 0, fmt.Errorf("%w at version %d", ErrDirty, v)
	}
	return v, nil
}

// between lists the up files with a version in (from, to].
func between(from, to uint) ([]string, error) {
	names, err := Names()
	if err != nil {
		return nil, err
	}
	var out []string
	for _, name := range names {
		v, err := versionOf(name)
		if err != nil {
			return nil, err
		}
		if v > from && v <= to {
			out = append(out, name)
		}
	}
	return out, nil
}

func versionOf(name string) (uint, error) {
	prefix, _, ok := strings.Cut(name, "_")
	if !ok {
		return 0, fmt.Errorf("migrations: %s has no version prefix", name)
	}
	v, err := strconv.ParseUint(prefix, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("migrations: %s: %w", name, err)
	}
	return uint(v), nil
}
