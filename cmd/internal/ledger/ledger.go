package ledger

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"rollcall/cmd/identity/ids"
)

// Ledger records attendance.
type Ledger struct {
	store Store
	log   *slog.Logger
}

// New constructs a Ledger. A nil logger uses slog.Default().
func New(store Store, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log}
}

// ScanEntry is a successful scan to be recorded.
type ScanEntry struct {
	SessionID    string
	StudentID    string
	DeviceID     string
	SessionStart time.Time
	At           time.Time
}

// RecordScan inserts a present/scan record unless one already exists for the
// pair, in which case the existing record is returned with Duplicated set.
func (l *Ledger) RecordScan(ctx context.Context, in ScanEntry) (RecordResult, error) {
	if strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.StudentID) == "" {
		return RecordResult{}, ErrInvalidInput
	}

	id, err := ids.NewULID(in.At)
	if err != nil {
		return RecordResult{}, err
	}

	out, inserted, err := l.store.Insert(ctx, Record{
		ID:           id,
		StudentID:    in.StudentID,
		SessionID:    in.SessionID,
		Status:       StatusPresent,
		Method:       MethodScan,
		MarkedAt:     in.At,
		MarkingDelay: MarkingDelay(in.SessionStart, in.At),
		DeviceID:     in.DeviceID,
		CreatedAt:    in.At,
		UpdatedAt:    in.At,
	})
	if err != nil {
		return RecordResult{}, err
	}
	return RecordResult{Record: out, Duplicated: !inserted}, nil
}

// Get returns the record for (session, student).
func (l *Ledger) Get(ctx context.Context, sessionID, studentID string) (Record, error) {
	return l.store.Get(ctx, sessionID, studentID)
}

// ListBySession returns the session's records in marking order.
func (l *Ledger) ListBySession(ctx context.Context, sessionID string) ([]Record, error) {
	return l.store.ListBySession(ctx, sessionID)
}

// OverrideEntry is a faculty correction to be written.
type OverrideEntry struct {
	SessionID    string
	StudentID    string
	Status       Status
	SessionStart time.Time
	At           time.Time
	Meta         OverrideMeta

	// Then, when set, runs in the same write as the record change; an error
	// leaves the previous record in place.
	Then WriteHook
}

// ApplyOverride writes or replaces the pair's record with method override and
// returns the status it replaced (NotMarked when there was none).
func (l *Ledger) ApplyOverride(ctx context.Context, in OverrideEntry) (Status, Record, error) {
	if !in.Status.Valid() || strings.TrimSpace(in.SessionID) == "" || strings.TrimSpace(in.StudentID) == "" {
		return "", Record{}, ErrInvalidInput
	}

	id, err := ids.NewULID(in.At)
	if err != nil {
		return "", Record{}, err
	}

	meta := in.Meta
	if meta.At.IsZero() {
		meta.At = in.At
	}

	prev, out, err := l.store.Upsert(ctx, Record{
		ID:           id,
		StudentID:    in.StudentID,
		SessionID:    in.SessionID,
		Status:       in.Status,
		Method:       MethodOverride,
		MarkedAt:     in.At,
		MarkingDelay: MarkingDelay(in.SessionStart, in.At),
		Override:     &meta,
		CreatedAt:    in.At,
		UpdatedAt:    in.At,
	}, in.Then)
	if err != nil {
		return "", Record{}, err
	}

	l.log.Info("attendance.override",
		"session_id", in.SessionID,
		"student_id", in.StudentID,
		"previous", string(prev),
		"status", string(in.Status),
	)
	return prev, out, nil
}

// MarkMissing records roster students without a record as absent with
// method missed_submission. Blank and repeated IDs are skipped.
func (l *Ledger) MarkMissing(ctx context.Context, sessionID string, sessionStart time.Time, roster []string, now time.Time) (int, error) {
	if strings.TrimSpace(sessionID) == "" {
		return 0, ErrInvalidInput
	}

	seen := make(map[string]struct{}, len(roster))
	rs := make([]Record, 0, len(roster))
	for _, student := range roster {
		student = strings.TrimSpace(student)
		if student == "" {
			continue
		}
		if _, dup := seen[student]; dup {
			continue
		}
		seen[student] = struct{}{}

		id, err := ids.NewULID(now)
		if err != nil {
			return 0, err
		}
		rs = append(rs, Record{
			ID:           id,
			StudentID:    student,
			SessionID:    sessionID,
			Status:       StatusAbsent,
			Method:       MethodMissedSubmission,
			MarkedAt:     now,
			MarkingDelay: MarkingDelay(sessionStart, now),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
	}

	n, err := l.store.InsertMissing(ctx, rs)
	if err != nil {
		return n, err
	}
	if n > 0 {
		l.log.Info("attendance.mark_missing", "session_id", sessionID, "count", n)
	}
	return n, nil
}
