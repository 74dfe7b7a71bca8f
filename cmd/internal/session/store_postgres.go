package session

import (
	"context"
	"errors"
	"time"

	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.sessions).
//
// The pool is owned by the caller.
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

// NewPostgresStore creates a Postgres-backed session store.
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
		return nil, errors.New("session: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgutil.Table(s.schema, "sessions") }

const sessionColumns = `
	id, faculty_id, subject_code, class_name, topic,
	start_time, end_time, validity_seconds, status,
	total_scans, manual_overrides, max_manual_overrides,
	token, token_nonce, token_expires_at,
	created_at, updated_at, closed_at`

func scanSession(row pgx.Row) (Session, error) {
	var (
		out             Session
		validitySeconds int64
		status          string
		token           *string
		nonce           *string
		tokenExp        *time.Time
	)
	err := row.Scan(
		&out.ID,
		&out.FacultyID,
		&out.SubjectCode,
		&out.ClassName,
		&out.Topic,
		&out.StartTime,
		&out.EndTime,
		&validitySeconds,
		&status,
		&out.TotalScans,
		&out.ManualOverrides,
		&out.MaxManualOverrides,
		&token,
		&nonce,
		&tokenExp,
		&out.CreatedAt,
		&out.UpdatedAt,
		&out.ClosedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Session{}, ErrNotFound
	}
	if err != nil {
		return Session{}, err
	}

	out.Validity = time.Duration(validitySeconds) * time.Second
	out.Status = Status(status)
	if token != nil {
		out.Token = *token
	}
	if nonce != nil {
		out.TokenNonce = *nonce
	}
	if tokenExp != nil {
		out.TokenExpiresAt = *tokenExp
	}
	return out, nil
}

// Create inserts a new session row.
func (s *PostgresStore) Create(ctx context.Context, in Session) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO `+s.table()+` (`+sessionColumns+`)
		VALUES (
			$1, $2, $3, $4, $5,
			$6, $7, $8, $9,
			$10, $11, $12,
			$13, $14, $15,
			$16, $16, NULL
		)
	`,
		in.ID, in.FacultyID, in.SubjectCode, in.ClassName, in.Topic,
		in.StartTime, in.EndTime, int64(in.Validity/time.Second), string(in.Status),
		in.TotalScans, in.ManualOverrides, in.MaxManualOverrides,
		pgutil.NullIfEmpty(in.Token), pgutil.NullIfEmpty(in.TokenNonce), nullTime(in.TokenExpiresAt),
		in.CreatedAt,
	)
	return err
}

// Get loads a session row by ID.
func (s *PostgresStore) Get(ctx context.Context, id string) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE id = $1
	`, id))
}

// ListByFaculty returns sessions newest first.
func (s *PostgresStore) ListByFaculty(ctx context.Context, facultyID string, limit int) ([]Session, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}

	rows, err := s.pool.Query(ctx, `
		SELECT `+sessionColumns+`
		FROM `+s.table()+`
		WHERE faculty_id = $1
		ORDER BY start_time DESC, id DESC
		LIMIT $2
	`, facultyID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Session, 0, 16)
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// Transition conditionally moves an active session to a terminal status.
func (s *PostgresStore) Transition(ctx context.Context, id string, to Status, now time.Time) (Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET status = $2, updated_at = $3, closed_at = $3
		WHERE id = $1 AND status = 'active'
		RETURNING `+sessionColumns, id, string(to), now))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	// Distinguish missing from not active.
	cur, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return cur, TransitionError{SessionID: id, From: cur.Status, To: to}
}

// ExpireIfDue expires an active session whose end time has passed.
func (s *PostgresStore) ExpireIfDue(ctx context.Context, id string, now time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET status = 'expired', updated_at = $2, closed_at = end_time
		WHERE id = $1 AND status = 'active' AND end_time < $2
	`, id, now)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

// ExpireDue expires up to limit overdue active sessions.
func (s *PostgresStore) ExpireDue(ctx context.Context, now time.Time, limit int) (int, error) {
	if limit <= 0 {
		limit = 1000
	}

	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET status = 'expired', updated_at = $1, closed_at = end_time
		WHERE id IN (
			SELECT id FROM `+s.table()+`
			WHERE status = 'active' AND end_time < $1
			ORDER BY end_time
			LIMIT $2
			FOR UPDATE SKIP LOCKED
		)
		AND status = 'active'
	`, now, limit)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// Extend moves end_time forward with optimistic concurrency on the previous end.
func (s *PostgresStore) Extend(ctx context.Context, id string, oldEnd, newEnd time.Time, tok TokenUpdate, now time.Time) (Session, error) {
	sess, err := scanSession(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET end_time = $3,
		    validity_seconds = EXTRACT(EPOCH FROM ($3 - start_time))::bigint,
		    token = $4, token_nonce = $5, token_expires_at = $6,
		    updated_at = $7
		WHERE id = $1 AND status = 'active' AND end_time = $2
		RETURNING `+sessionColumns,
		id, oldEnd, newEnd, tok.Token, tok.Nonce, tok.ExpiresAt, now))
	if err == nil {
		return sess, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Session{}, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return cur, TransitionError{SessionID: id, From: cur.Status, To: StatusActive}
}

// SetToken records a re-issued token on an active session.
func (s *PostgresStore) SetToken(ctx context.Context, id string, tok TokenUpdate, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET token = $2, token_nonce = $3, token_expires_at = $4, updated_at = $5
		WHERE id = $1 AND status = 'active'
	`, id, tok.Token, tok.Nonce, tok.ExpiresAt, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return TransitionError{SessionID: id, From: cur.Status, To: StatusActive}
}

// IncrementScans adds one to total_scans.
func (s *PostgresStore) IncrementScans(ctx context.Context, id string, now time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE `+s.table()+`
		SET total_scans = total_scans + 1, updated_at = $2
		WHERE id = $1
	`, id, now)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// IncrementOverrides adds one to manual_overrides.
func (s *PostgresStore) IncrementOverrides(ctx context.Context, id string, now time.Time) (Session, error) {
	return scanSession(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET manual_overrides = manual_overrides + 1, updated_at = $2
		WHERE id = $1
		RETURNING `+sessionColumns, id, now))
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}
