package device

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.device_bindings).
//
// Writes that touch primary state take a per-student transaction-scoped
// advisory lock, so registration and promotion for one student serialize.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// PostgresOption configures PostgresStore behavior.
type PostgresOption func(*PostgresStore) error

// WithSchema sets the DB schema used by this store (default: "rollcall").
func WithSchema(schema string) PostgresOption {
	return func(s *PostgresStore) error {
		clean, err := pgutil.CleanSchema(schema)
		if err != nil {
			return err
		}
		s.schema = clean
		return nil
	}
}

// NewPostgresStore creates a Postgres-backed binding store.
func NewPostgresStore(pool *pgxpool.Pool, opts ...PostgresOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: pgutil.DefaultSchema}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, errors.New("device: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgutil.Table(s.schema, "device_bindings") }

const (
	bindingColumns = `
		id, student_id, device_id, fingerprint,
		is_primary, is_verified, is_active,
		usage_count, last_used_at, suspicious,
		created_at, updated_at, deactivated_at`

	constraintActiveFingerprint = "ex_device_bindings_active_fingerprint"
	constraintStudentDevice     = "uq_device_bindings_student_device"
)

func scanBinding(row pgx.Row) (Binding, error) {
	var (
		out        Binding
		suspicious []byte
	)
	err := row.Scan(
		&out.ID,
		&out.StudentID,
		&out.DeviceID,
		&out.Fingerprint,
		&out.IsPrimary,
		&out.IsVerified,
		&out.IsActive,
		&out.UsageCount,
		&out.LastUsedAt,
		&suspicious,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.DeactivatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Binding{}, ErrNotRegistered
	}
	if err != nil {
		return Binding{}, err
	}
	if len(suspicious) > 0 {
		if err := json.Unmarshal(suspicious, &out.Suspicious); err != nil {
			return Binding{}, err
		}
	}
	return out, nil
}

func lockStudent(ctx context.Context, tx pgx.Tx, studentID string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtextextended('device_binding:' || $1, 0))`, studentID)
	return err
}

func (s *PostgresStore) withStudentTx(ctx context.Context, studentID string, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := lockStudent(ctx, tx, studentID); err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// Register inserts a binding, or returns the existing one for the pair.
func (s *PostgresStore) Register(ctx context.Context, b Binding) (Binding, bool, error) {
	var (
		out     Binding
		created bool
	)
	err := s.withStudentTx(ctx, b.StudentID, func(tx pgx.Tx) error {
		cur, err := scanBinding(tx.QueryRow(ctx, `
			SELECT `+bindingColumns+`
			FROM `+s.table()+`
			WHERE student_id = $1 AND device_id = $2
		`, b.StudentID, b.DeviceID))
		if err == nil {
			out = cur
			return nil
		}
		if !errors.Is(err, ErrNotRegistered) {
			return err
		}

		var hasPrimary bool
		if err := tx.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM `+s.table()+` WHERE student_id = $1 AND is_primary)
		`, b.StudentID).Scan(&hasPrimary); err != nil {
			return err
		}

		out, err = scanBinding(tx.QueryRow(ctx, `
			INSERT INTO `+s.table()+` (`+bindingColumns+`)
			VALUES ($1, $2, $3, $4, $5, false, true, 0, NULL, '[]'::jsonb, $6, $6, NULL)
			RETURNING `+bindingColumns,
			b.ID, b.StudentID, b.DeviceID, b.Fingerprint, !hasPrimary, b.CreatedAt))
		if err != nil {
			return classifyWrite(err)
		}
		created = true
		return nil
	})
	if err != nil {
		return Binding{}, false, err
	}
	return out, created, nil
}

func classifyWrite(err error) error {
	if c, ok := pgutil.ExclusionViolation(err); ok && c == constraintActiveFingerprint {
		return ErrFingerprintConflict
	}
	if c, ok := pgutil.UniqueViolation(err); ok && c == constraintStudentDevice {
		// Only reachable without the advisory lock; surface as a conflict.
		return ErrFingerprintConflict
	}
	return err
}

// Get loads a binding by (student, device).
func (s *PostgresStore) Get(ctx context.Context, studentID, deviceID string) (Binding, error) {
	return scanBinding(s.pool.QueryRow(ctx, `
		SELECT `+bindingColumns+`
		FROM `+s.table()+`
		WHERE student_id = $1 AND device_id = $2
	`, studentID, deviceID))
}

// ListByStudent returns the student's bindings oldest first.
func (s *PostgresStore) ListByStudent(ctx context.Context, studentID string) ([]Binding, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+bindingColumns+`
		FROM `+s.table()+`
		WHERE student_id = $1
		ORDER BY created_at, id
	`, studentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Binding, 0, 4)
	for rows.Next() {
		b, err := scanBinding(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// promote demotes the current primary and promotes deviceID in one statement.
// The one-primary exclusion constraint is deferred to commit.
func (s *PostgresStore) promote(ctx context.Context, tx pgx.Tx, studentID, deviceID string, now time.Time) error {
	_, err := tx.Exec(ctx, `
		UPDATE `+s.table()+`
		SET is_primary = (device_id = $2), updated_at = $3
		WHERE student_id = $1
		  AND (is_primary OR device_id = $2)
	`, studentID, deviceID, now)
	return err
}

// Promote makes (student, device) the only primary binding.
func (s *PostgresStore) Promote(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error) {
	var out Binding
	err := s.withStudentTx(ctx, studentID, func(tx pgx.Tx) error {
		cur, err := scanBinding(tx.QueryRow(ctx, `
			SELECT `+bindingColumns+`
			FROM `+s.table()+`
			WHERE student_id = $1 AND device_id = $2
			FOR UPDATE
		`, studentID, deviceID))
		if err != nil {
			return err
		}
		if !cur.IsActive {
			return ErrInactive
		}
		if err := s.promote(ctx, tx, studentID, deviceID, now); err != nil {
			return err
		}
		cur.IsPrimary = true
		cur.UpdatedAt = now
		out = cur
		return nil
	})
	if err != nil {
		return Binding{}, err
	}
	return out, nil
}

// Flag appends a suspicious activity entry and optionally deactivates.
func (s *PostgresStore) Flag(ctx context.Context, studentID, deviceID string, entry SuspiciousActivity, deactivate bool, now time.Time) (FlagResult, error) {
	payload, err := json.Marshal([]SuspiciousActivity{entry})
	if err != nil {
		return FlagResult{}, err
	}

	var res FlagResult
	err = s.withStudentTx(ctx, studentID, func(tx pgx.Tx) error {
		before, err := scanBinding(tx.QueryRow(ctx, `
			SELECT `+bindingColumns+`
			FROM `+s.table()+`
			WHERE student_id = $1 AND device_id = $2
			FOR UPDATE
		`, studentID, deviceID))
		if err != nil {
			return err
		}

		off := deactivate && before.IsActive
		after, err := scanBinding(tx.QueryRow(ctx, `
			UPDATE `+s.table()+`
			SET suspicious = suspicious || $3::jsonb,
			    is_active = CASE WHEN $4 THEN false ELSE is_active END,
			    is_primary = CASE WHEN $4 THEN false ELSE is_primary END,
			    deactivated_at = CASE WHEN $4 THEN $5 ELSE deactivated_at END,
			    updated_at = $5
			WHERE student_id = $1 AND device_id = $2
			RETURNING `+bindingColumns,
			studentID, deviceID, string(payload), off, now))
		if err != nil {
			return err
		}
		res.Binding = after
		res.Deactivated = off

		if !off || !before.IsPrimary {
			return nil
		}

		var next string
		err = tx.QueryRow(ctx, `
			SELECT device_id
			FROM `+s.table()+`
			WHERE student_id = $1 AND device_id <> $2 AND is_active
			ORDER BY last_used_at DESC NULLS LAST, created_at DESC
			LIMIT 1
		`, studentID, deviceID).Scan(&next)
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		if err := s.promote(ctx, tx, studentID, next, now); err != nil {
			return err
		}
		res.PromotedDeviceID = next
		return nil
	})
	if err != nil {
		return FlagResult{}, err
	}
	return res, nil
}

// RecordUse bumps usage stats.
func (s *PostgresStore) RecordUse(ctx context.Context, studentID, deviceID string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET usage_count = usage_count + 1, last_used_at = $3, updated_at = $3
		WHERE student_id = $1 AND device_id = $2
	`, studentID, deviceID, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotRegistered
	}
	return nil
}

// MarkVerified sets is_verified.
func (s *PostgresStore) MarkVerified(ctx context.Context, studentID, deviceID string, now time.Time) (Binding, error) {
	return scanBinding(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET is_verified = true,
		    updated_at = CASE WHEN is_verified THEN updated_at ELSE $3 END
		WHERE student_id = $1 AND device_id = $2
		RETURNING `+bindingColumns, studentID, deviceID, now))
}
