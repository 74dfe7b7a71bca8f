// Package schema applies Rollcall's embedded SQL migrations.
//
// Migration files are templated on the target schema ({{schema}}) so tests can
// apply them to throwaway schemas. Applied files are recorded in
// <schema>.schema_migrations and skipped on the next run.
package schema

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"strings"

	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

//go:embed *.sql
var files embed.FS

const placeholder = "{{schema}}"

// Names returns the embedded migration file names in apply order.
func Names() ([]string, error) {
	names, err := fs.Glob(files, "*.sql")
	if err != nil {
		return nil, fmt.Errorf("list embedded migrations: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Render returns migration name with the schema placeholder substituted.
func Render(name, schemaName string) (string, error) {
	clean, err := pgutil.CleanSchema(schemaName)
	if err != nil {
		return "", err
	}
	raw, err := files.ReadFile(name)
	if err != nil {
		return "", fmt.Errorf("read migration %s: %w", name, err)
	}
	return strings.ReplaceAll(string(raw), placeholder, pgx.Identifier{clean}.Sanitize()), nil
}

// Up creates schemaName if needed and applies every pending migration, each in
// its own transaction.
func Up(ctx context.Context, pool *pgxpool.Pool, schemaName string) (applied int, err error) {
	if pool == nil {
		return 0, errors.New("schema: nil pool")
	}
	clean, err := pgutil.CleanSchema(schemaName)
	if err != nil {
		return 0, err
	}
	ident := pgx.Identifier{clean}.Sanitize()
	tracking := pgutil.Table(clean, "schema_migrations")

	if _, err := pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+ident); err != nil {
		if !isIgnorable(err) {
			return 0, fmt.Errorf("create schema %s: %w", clean, err)
		}
	}
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS `+tracking+` (
			filename TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)
	`); err != nil {
		return 0, fmt.Errorf("ensure migration table: %w", err)
	}

	names, err := Names()
	if err != nil {
		return 0, err
	}

	for _, name := range names {
		var done bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM `+tracking+` WHERE filename = $1)`, name,
		).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", name, err)
		}
		if done {
			continue
		}

		sql, err := Render(name, clean)
		if err != nil {
			return applied, err
		}
		if err := applyOne(ctx, pool, tracking, name, sql); err != nil {
			return applied, err
		}
		applied++
	}
	return applied, nil
}

func applyOne(ctx context.Context, pool *pgxpool.Pool, tracking, name, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx for %s: %w", name, err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, sql); err != nil {
		if !isIgnorable(err) {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		// The failed tx is unusable; record outside it.
		_ = tx.Rollback(ctx)
		if _, err := pool.Exec(ctx,
			`INSERT INTO `+tracking+` (filename) VALUES ($1) ON CONFLICT (filename) DO NOTHING`, name,
		); err != nil {
			return fmt.Errorf("record migration %s after ignored error: %w", name, err)
		}
		return nil
	}

	if _, err := tx.Exec(ctx, `INSERT INTO `+tracking+` (filename) VALUES ($1)`, name); err != nil {
		return fmt.Errorf("record migration %s: %w", name, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", name, err)
	}
	return nil
}

func isIgnorable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}

	switch pgErr.Code {
	case "42P07", // duplicate_table
		"42710", // duplicate_object
		"42P06": // duplicate_schema
		return true
	default:
		return false
	}
}
