package ledger

import (
	"context"
	"errors"
	"time"

	"rollcall/cmd/internal/pgutil"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore implements Store using PostgreSQL (<schema>.attendance_records).
//
// The (student_id, session_id) unique constraint is the only guard against
// duplicate records; every insert is ON CONFLICT DO NOTHING.
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

// NewPostgresStore creates a Postgres-backed ledger store.
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
		return nil, errors.New("ledger: nil pool")
	}
	return st, nil
}

func (s *PostgresStore) table() string { return pgutil.Table(s.schema, "attendance_records") }

const (
	recordColumns = `
		id, student_id, session_id,
		status, method, marked_at, marking_delay_seconds, device_id,
		override_by, override_reason, override_evidence, override_at,
		created_at, updated_at`

	constraintStudentSession = "uq_attendance_student_session"
)

func scanRecord(row pgx.Row) (Record, error) {
	var (
		out          Record
		status       string
		method       string
		delaySeconds int64
		deviceID     *string
		by           *string
		reason       *string
		evidence     *string
		at           *time.Time
	)
	err := row.Scan(
		&out.ID,
		&out.StudentID,
		&out.SessionID,
		&status,
		&method,
		&out.MarkedAt,
		&delaySeconds,
		&deviceID,
		&by,
		&reason,
		&evidence,
		&at,
		&out.CreatedAt,
		&out.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}

	out.Status = Status(status)
	out.Method = Method(method)
	out.MarkingDelay = time.Duration(delaySeconds) * time.Second
	if deviceID != nil {
		out.DeviceID = *deviceID
	}
	if by != nil {
		meta := OverrideMeta{FacultyID: *by}
		if reason != nil {
			meta.Reason = *reason
		}
		if evidence != nil {
			meta.Evidence = *evidence
		}
		if at != nil {
			meta.At = *at
		}
		out.Override = &meta
	}
	return out, nil
}

func overrideArgs(r Record) (by, reason, evidence, at any) {
	if r.Override == nil {
		return nil, nil, nil, nil
	}
	return r.Override.FacultyID, r.Override.Reason, pgutil.NullIfEmpty(r.Override.Evidence), r.Override.At
}

func recordArgs(r Record) []any {
	by, reason, evidence, at := overrideArgs(r)
	return []any{
		r.ID, r.StudentID, r.SessionID,
		string(r.Status), string(r.Method), r.MarkedAt, int64(r.MarkingDelay / time.Second), pgutil.NullIfEmpty(r.DeviceID),
		by, reason, evidence, at,
		r.CreatedAt, r.UpdatedAt,
	}
}

const recordValues = `$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14`

func classify(err error) error {
	if pgutil.IsForeignKeyViolation(err) {
		return ErrUnknownSession
	}
	return err
}

// Insert writes r if (student, session) has no record.
func (s *PostgresStore) Insert(ctx context.Context, r Record) (Record, bool, error) {
	out, err := scanRecord(s.pool.QueryRow(ctx, `
		INSERT INTO `+s.table()+` (`+recordColumns+`)
		VALUES (`+recordValues+`)
		ON CONFLICT ON CONSTRAINT `+constraintStudentSession+` DO NOTHING
		RETURNING `+recordColumns, recordArgs(r)...))
	if err == nil {
		return out, true, nil
	}
	if !errors.Is(err, ErrNotFound) {
		return Record{}, false, classify(err)
	}

	// Lost the race (or a plain duplicate): report the winner.
	cur, err := s.Get(ctx, r.SessionID, r.StudentID)
	if err != nil {
		return Record{}, false, err
	}
	return cur, false, nil
}

// Get loads the record for (session, student).
func (s *PostgresStore) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	return scanRecord(s.pool.QueryRow(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE session_id = $1 AND student_id = $2
	`, sessionID, studentID))
}

// ListBySession returns the session's records in marking order.
func (s *PostgresStore) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+recordColumns+`
		FROM `+s.table()+`
		WHERE session_id = $1
		ORDER BY marked_at, student_id
	`, sessionID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]Record, 0, 32)
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Upsert replaces the pair's record under a row lock.
func (s *PostgresStore) Upsert(ctx context.Context, r Record, then WriteHook) (Status, Record, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return "", Record{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	by, reason, evidence, at := overrideArgs(r)

	// Two passes at most: a concurrent first insert makes the second pass
	// find and lock the row.
	for attempt := 0; attempt < 2; attempt++ {
		cur, err := scanRecord(tx.QueryRow(ctx, `
			SELECT `+recordColumns+`
			FROM `+s.table()+`
			WHERE session_id = $1 AND student_id = $2
			FOR UPDATE
		`, r.SessionID, r.StudentID))

		switch {
		case err == nil:
			out, err := scanRecord(tx.QueryRow(ctx, `
				UPDATE `+s.table()+`
				SET status = $2, method = $3, marked_at = $4, marking_delay_seconds = $5,
				    device_id = COALESCE($6, device_id),
				    override_by = $7, override_reason = $8, override_evidence = $9, override_at = $10,
				    updated_at = $11
				WHERE id = $1
				RETURNING `+recordColumns,
				cur.ID, string(r.Status), string(r.Method), r.MarkedAt, int64(r.MarkingDelay/time.Second),
				pgutil.NullIfEmpty(r.DeviceID), by, reason, evidence, at, r.UpdatedAt))
			if err != nil {
				return "", Record{}, err
			}
			if err := commitWith(ctx, tx, then, cur.Status, out); err != nil {
				return "", Record{}, err
			}
			return cur.Status, out, nil

		case errors.Is(err, ErrNotFound):
			out, err := scanRecord(tx.QueryRow(ctx, `
				INSERT INTO `+s.table()+` (`+recordColumns+`)
				VALUES (`+recordValues+`)
				ON CONFLICT ON CONSTRAINT `+constraintStudentSession+` DO NOTHING
				RETURNING `+recordColumns, recordArgs(r)...))
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return "", Record{}, classify(err)
			}
			if err := commitWith(ctx, tx, then, NotMarked, out); err != nil {
				return "", Record{}, err
			}
			return NotMarked, out, nil

		default:
			return "", Record{}, err
		}
	}
	return "", Record{}, errors.New("ledger: upsert did not converge")
}

// commitWith runs then inside tx and commits only if it succeeds.
func commitWith(ctx context.Context, tx pgx.Tx, then WriteHook, prev Status, out Record) error {
	if then != nil {
		if err := then(ctx, tx, prev, out); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

// InsertMissing bulk-inserts records for pairs without one.
func (s *PostgresStore) InsertMissing(ctx context.Context, rs []Record) (int, error) {
	if len(rs) == 0 {
		return 0, nil
	}

	batch := &pgx.Batch{}
	for _, r := range rs {
		batch.Queue(`
			INSERT INTO `+s.table()+` (`+recordColumns+`)
			VALUES (`+recordValues+`)
			ON CONFLICT ON CONSTRAINT `+constraintStudentSession+` DO NOTHING
		`, recordArgs(r)...)
	}

	br := s.pool.SendBatch(ctx, batch)
	defer func() { _ = br.Close() }()

	n := 0
	for range rs {
		tag, err := br.Exec()
		if err != nil {
			return n, classify(err)
		}
		n += int(tag.RowsAffected())
	}
	return n, nil
}
