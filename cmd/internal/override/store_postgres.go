package override

import (
	"context"
	"errors"
	"time"

	"rollcall/cmd/internal/ledger"
	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.override_log).
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

// NewPostgresStore creates a Postgres-backed override log.
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
		return nil, errors.New("override: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgutil.Table(s.schema, "override_log") }

const entryColumns = `
	id, session_id, student_id, faculty_id,
	previous_status, new_status, reason, evidence, time_difference_seconds,
	requires_approval, approval_status, approver_id, approval_note, decided_at,
	created_at`

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		out       Entry
		prev      string
		next      string
		evidence  *string
		diff      int64
		approval  string
		approver  *string
		note      *string
		decidedAt *time.Time
	)
	err := row.Scan(
		&out.ID,
		&out.SessionID,
		&out.StudentID,
		&out.FacultyID,
		&prev,
		&next,
		&out.Reason,
		&evidence,
		&diff,
		&out.RequiresApproval,
		&approval,
		&approver,
		&note,
		&decidedAt,
		&out.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}

	out.PreviousStatus = ledger.Status(prev)
	out.NewStatus = ledger.Status(next)
	out.TimeDifference = time.Duration(diff) * time.Second
	out.ApprovalStatus = ApprovalStatus(approval)
	if evidence != nil {
		out.Evidence = *evidence
	}
	if approver != nil {
		out.ApproverID = *approver
	}
	if note != nil {
		out.ApprovalNote = *note
	}
	out.DecidedAt = decidedAt
	return out, nil
}

func (s *PostgresStore) Append(ctx context.Context, e Entry) error {
	return s.AppendIn(ctx, nil, e)
}

func (s *PostgresStore) AppendIn(ctx context.Context, q pgutil.Querier, e Entry) error {
	if q == nil {
		q = s.pool
	}
	_, err := q.Exec(ctx, `
		INSERT INTO `+s.table()+` (`+entryColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NULL, NULL, NULL, $12)
	`,
		e.ID, e.SessionID, e.StudentID, e.FacultyID,
		string(e.PreviousStatus), string(e.NewStatus), e.Reason, pgutil.NullIfEmpty(e.Evidence), int64(e.TimeDifference/time.Second),
		e.RequiresApproval, string(e.ApprovalStatus),
		e.CreatedAt,
	)
	return err
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Entry, error) {
	return scanEntry(s.pool.QueryRow(ctx, `
		SELECT `+entryColumns+`
		FROM `+s.table()+`
		WHERE id = $1
	`, id))
}

// Decide is a conditional UPDATE; of two racing deciders exactly one wins.
func (s *PostgresStore) Decide(ctx context.Context, id string, to ApprovalStatus, approverID, note string, at time.Time) (Entry, bool, error) {
	out, err := scanEntry(s.pool.QueryRow(ctx, `
		UPDATE `+s.table()+`
		SET approval_status = $2, approver_id = $3, approval_note = $4, decided_at = $5
		WHERE id = $1 AND approval_status = 'pending'
		RETURNING `+entryColumns,
		id, string(to), approverID, pgutil.NullIfEmpty(note), at))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Entry{}, false, err
	}

	cur, err := s.Get(ctx, id)
	if err != nil {
		return Entry{}, false, err
	}
	return cur, false, nil
}

func (s *PostgresStore) CountByFacultySince(ctx context.Context, facultyID string, since, until time.Time) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx, `
		SELECT count(*)
		FROM `+s.table()+`
		WHERE faculty_id = $1 AND created_at >= $2 AND created_at < $3
	`, facultyID, since, until).Scan(&n)
	return n, err
}

func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Entry, error) {
	return s.list(ctx, `
		SELECT `+entryColumns+`
		FROM `+s.table()+`
		WHERE session_id = $1
		ORDER BY created_at, id
	`, sessionID)
}

func (s *PostgresStore) Pending(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 500
	}
	return s.list(ctx, `
		SELECT `+entryColumns+`
		FROM `+s.table()+`
		WHERE approval_status = 'pending'
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
}

func (s *PostgresStore) list(ctx context.Context, sql string, args ...any) ([]Entry, error) {
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Entry, 0, 16)
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
