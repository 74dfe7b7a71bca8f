package identity

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresRoster implements RosterStore over <schema>.class_enrollments.
// The pool is owned by the caller; the store never closes it.
type PostgresRoster struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures the roster store.
type PostgresOption func(*PostgresRoster) error

// WithSchema sets the Postgres schema (default "rollcall").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresRoster) error {
		clean, err := pgutil.CleanSchema(schema)
		if err != nil {
			return err
		}
		s.schema = clean
		return nil
	}
}

// NewPostgresRoster creates a Postgres-backed roster.
func NewPostgresRoster(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresRoster, error) {
	st := &PostgresRoster{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("identity: nil pool")
	}
	return st, nil
}

func (s *PostgresRoster) table() string { return pgutil.Table(s.schema, "class_enrollments") }

func (s *PostgresRoster) Enroll(ctx context.Context, className string, studentIDs []string, now time.Time) (int, error) {
	className, students, err := normalizeEnroll("identity.Enroll", className, studentIDs)
	if err != nil {
		return 0, err
	}

	ct, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (class_name, student_id, enrolled_at)
		SELECT $1, student_id, $3
		FROM unnest($2::text[]) AS t(student_id)
		ON CONFLICT (class_name, student_id) DO NOTHING
	`, className, students, now.UTC())
	if err != nil {
		return 0, fmt.Errorf("identity.Enroll: %w", err)
	}
	return int(ct.RowsAffected()), nil
}

func (s *PostgresRoster) Withdraw(ctx context.Context, className, studentID string) error {
	const op = "identity.Withdraw"
	className = strings.TrimSpace(className)
	studentID = strings.TrimSpace(studentID)
	if className == "" || studentID == "" {
		return OpError{Op: op, Kind: ErrInvalidInput, Msg: "class name and student id are required"}
	}

	ct, err := s.pool.Exec(ctx, `
		DELETE FROM `+s.table()+`
		WHERE class_name = $1 AND student_id = $2
	`, className, studentID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if ct.RowsAffected() == 0 {
		return NotFoundError{Op: op, Resource: "enrollment"}
	}
	return nil
}

func (s *PostgresRoster) Students(ctx context.Context, className string) ([]string, error) {
	className = strings.TrimSpace(className)
	if className == "" {
		return nil, OpError{Op: "identity.Students", Kind: ErrInvalidInput, Msg: "class name is required"}
	}

	rows, err := s.pool.Query(ctx, `
		SELECT student_id FROM `+s.table()+`
		WHERE class_name = $1
		ORDER BY student_id
	`, className)
	if err != nil {
		return nil, fmt.Errorf("identity.Students: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
