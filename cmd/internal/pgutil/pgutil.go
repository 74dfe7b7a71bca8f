// Package pgutil holds the small Postgres helpers shared by Rollcall's stores.
package pgutil

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DefaultSchema is the schema created by the embedded migrations.
const DefaultSchema = "rollcall"

// Querier is the query surface shared by *pgxpool.Pool and pgx.Tx, so a
// store can write either on its own or inside another store's transaction.
type Querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var identRE = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// ValidIdent reports whether s is a legal unquoted PostgreSQL identifier.
func ValidIdent(s string) bool {
	return identRE.MatchString(s)
}

// CleanSchema trims and validates a schema name.
func CleanSchema(schema string) (string, error) {
	schema = strings.TrimSpace(schema)
	if schema == "" {
		return "", errors.New("pgutil: empty schema")
	}
	if !ValidIdent(schema) {
		return "", errors.New("pgutil: invalid schema identifier")
	}
	return schema, nil
}

// Table returns the quoted, schema-qualified table name.
func Table(schema, table string) string {
	// pgx.Identifier safely quotes identifiers, preventing SQL injection.
	return pgx.Identifier{schema, table}.Sanitize()
}

// UniqueViolation returns the violated constraint name for SQLSTATE 23505.
func UniqueViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23505" { // unique_violation
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// ExclusionViolation returns the violated constraint name for SQLSTATE 23P01.
func ExclusionViolation(err error) (constraint string, ok bool) {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return "", false
	}
	if pgErr.Code != "23P01" { // exclusion_violation
		return "", false
	}
	return strings.ToLower(strings.TrimSpace(pgErr.ConstraintName)), true
}

// IsForeignKeyViolation reports SQLSTATE 23503.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23503" // foreign_key_violation
}

// NullIfEmpty maps "" to SQL NULL.
func NullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
