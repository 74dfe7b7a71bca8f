package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"rollcall/cmd/identity/ids"
	"rollcall/cmd/internal/qrtoken"
	"rollcall/cmd/internal/validate"

	"github.com/google/uuid"
)

// TokenEncoder produces the opaque QR token for a payload.
type TokenEncoder interface {
	Encode(p qrtoken.Payload) (string, error)
}

// CreateInput is the faculty's request to open a session.
type CreateInput struct {
	FacultyID          string `json:"facultyId" validate:"required,notblank,max=64"`
	SubjectCode        string `json:"subjectCode" validate:"required,notblank,max=32"`
	ClassName          string `json:"className" validate:"required,notblank,max=64"`
	Topic              string `json:"topic" validate:"max=200"`
	ValidityMinutes    int    `json:"validityMinutes" validate:"min=1,max=60"`
	MaxManualOverrides int    `json:"maxManualOverrides" validate:"omitempty,min=1,max=100"`
}

// Manager implements the session lifecycle.
type Manager struct {
	cfg    Config
	store  Store
	tokens TokenEncoder
	log    *slog.Logger
}

// NewManager constructs a Manager. A nil logger uses slog.Default().
func NewManager(cfg Config, store Store, tokens TokenEncoder, log *slog.Logger) *Manager {
	if log == nil {
		log = slog.Default()
	}
	return &Manager{cfg: cfg, store: store, tokens: tokens, log: log}
}

// Create opens a session starting at now and issues its first token.
func (m *Manager) Create(ctx context.Context, now time.Time, in CreateInput) (Session, error) {
	in.FacultyID = strings.TrimSpace(in.FacultyID)
	in.SubjectCode = strings.TrimSpace(in.SubjectCode)
	in.ClassName = strings.TrimSpace(in.ClassName)
	in.Topic = strings.TrimSpace(in.Topic)

	if vs := validate.Struct(in); len(vs) > 0 {
		return Session{}, ValidationError{Field: vs[0].Field, Rule: vs[0].Rule}
	}

	id, err := ids.NewULID(now)
	if err != nil {
		return Session{}, err
	}

	validity := time.Duration(in.ValidityMinutes) * time.Minute
	maxOverrides := in.MaxManualOverrides
	if maxOverrides == 0 {
		maxOverrides = m.cfg.DefaultOverrideCap
	}

	s := Session{
		ID:                 id,
		FacultyID:          in.FacultyID,
		SubjectCode:        in.SubjectCode,
		ClassName:          in.ClassName,
		Topic:              in.Topic,
		StartTime:          now,
		EndTime:            now.Add(validity),
		Validity:           validity,
		Status:             StatusActive,
		MaxManualOverrides: maxOverrides,
		CreatedAt:          now,
		UpdatedAt:          now,
	}

	tok, err := m.issue(s, now)
	if err != nil {
		return Session{}, err
	}
	s.Token, s.TokenNonce, s.TokenExpiresAt = tok.Token, tok.Nonce, tok.ExpiresAt

	if err := m.store.Create(ctx, s); err != nil {
		return Session{}, err
	}

	m.log.Info("session.create",
		"session_id", s.ID,
		"faculty_id", s.FacultyID,
		"subject", s.SubjectCode,
		"validity_min", in.ValidityMinutes,
	)
	return s, nil
}

// Get loads a session and applies lazy expiry at now.
func (m *Manager) Get(ctx context.Context, now time.Time, id string) (Session, error) {
	s, err := m.store.Get(ctx, id)
	if err != nil {
		return Session{}, err
	}
	return m.settle(ctx, now, s), nil
}

// settle persists active -> expired when the window has passed. The returned
// session always reflects the derived status, even if the write failed.
func (m *Manager) settle(ctx context.Context, now time.Time, s Session) Session {
	if s.EffectiveStatus(now) == s.Status {
		return s
	}

	if _, err := m.store.ExpireIfDue(ctx, s.ID, now); err != nil {
		m.log.Warn("session.expire.fail", "session_id", s.ID, "err", err)
	}
	s.Status = StatusExpired
	if s.ClosedAt == nil {
		end := s.EndTime
		s.ClosedAt = &end
	}
	return s
}

// ListByFaculty returns the faculty's sessions newest first with derived status.
func (m *Manager) ListByFaculty(ctx context.Context, now time.Time, facultyID string, limit int) ([]Session, error) {
	list, err := m.store.ListByFaculty(ctx, facultyID, limit)
	if err != nil {
		return nil, err
	}
	for i := range list {
		list[i].Status = list[i].EffectiveStatus(now)
	}
	return list, nil
}

// Cancel moves an active session owned by facultyID to cancelled.
func (m *Manager) Cancel(ctx context.Context, now time.Time, id, facultyID string) (Session, error) {
	return m.close(ctx, now, id, facultyID, StatusCancelled)
}

// Complete moves an active session owned by facultyID to completed.
func (m *Manager) Complete(ctx context.Context, now time.Time, id, facultyID string) (Session, error) {
	return m.close(ctx, now, id, facultyID, StatusCompleted)
}

func (m *Manager) close(ctx context.Context, now time.Time, id, facultyID string, to Status) (Session, error) {
	s, err := m.owned(ctx, now, id, facultyID)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return s, TransitionError{SessionID: id, From: s.Status, To: to}
	}

	out, err := m.store.Transition(ctx, id, to, now)
	if err != nil {
		return out, err
	}

	m.log.Info("session.close", "session_id", id, "status", string(to), "total_scans", out.TotalScans)
	return out, nil
}

// Extend pushes the end time of an active session by minutes and re-issues its token.
func (m *Manager) Extend(ctx context.Context, now time.Time, id, facultyID string, minutes int) (Session, error) {
	by := time.Duration(minutes) * time.Minute
	if minutes < 1 || by > m.cfg.MaxExtension {
		return Session{}, ValidationError{Field: "minutes", Rule: "range"}
	}

	s, err := m.owned(ctx, now, id, facultyID)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return s, TransitionError{SessionID: id, From: s.Status, To: StatusActive}
	}

	oldEnd := s.EndTime
	s.EndTime = oldEnd.Add(by)

	tok, err := m.issue(s, now)
	if err != nil {
		return Session{}, err
	}

	out, err := m.store.Extend(ctx, id, oldEnd, s.EndTime, tok, now)
	if err != nil {
		return out, err
	}

	m.log.Info("session.extend", "session_id", id, "minutes", minutes, "end_time", out.EndTime)
	return out, nil
}

// IssueToken rotates the QR token of an active session.
func (m *Manager) IssueToken(ctx context.Context, now time.Time, id, facultyID string) (Session, error) {
	s, err := m.owned(ctx, now, id, facultyID)
	if err != nil {
		return Session{}, err
	}
	if s.Status != StatusActive {
		return s, TransitionError{SessionID: id, From: s.Status, To: StatusActive}
	}

	tok, err := m.issue(s, now)
	if err != nil {
		return Session{}, err
	}
	if err := m.store.SetToken(ctx, id, tok, now); err != nil {
		return Session{}, err
	}

	s.Token, s.TokenNonce, s.TokenExpiresAt = tok.Token, tok.Nonce, tok.ExpiresAt
	s.UpdatedAt = now
	return s, nil
}

// RecordScan increments the session's scan counter.
func (m *Manager) RecordScan(ctx context.Context, now time.Time, id string) error {
	return m.store.IncrementScans(ctx, id, now)
}

// RecordOverride increments the session's manual override counter.
func (m *Manager) RecordOverride(ctx context.Context, now time.Time, id string) (Session, error) {
	return m.store.IncrementOverrides(ctx, id, now)
}

// SweepExpired expires up to limit overdue sessions and returns how many it
// changed; the caller reports the count. Scan acceptance never depends on
// this running.
func (m *Manager) SweepExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	return m.store.ExpireDue(ctx, now, limit)
}

func (m *Manager) owned(ctx context.Context, now time.Time, id, facultyID string) (Session, error) {
	s, err := m.Get(ctx, now, id)
	if err != nil {
		return Session{}, err
	}
	if s.FacultyID != facultyID {
		return Session{}, ErrNotOwner
	}
	return s, nil
}

func (m *Manager) issue(s Session, now time.Time) (TokenUpdate, error) {
	if m.tokens == nil {
		return TokenUpdate{}, errors.New("session: nil token encoder")
	}

	p := qrtoken.Payload{
		SessionID:   s.ID,
		FacultyID:   s.FacultyID,
		SubjectCode: s.SubjectCode,
		ClassName:   s.ClassName,
		IssuedAt:    now,
		ExpiresAt:   s.EndTime.Add(m.cfg.TokenGrace),
		Nonce:       uuid.NewString(),
	}
	tok, err := m.tokens.Encode(p)
	if err != nil {
		return TokenUpdate{}, err
	}
	return TokenUpdate{Token: tok, Nonce: p.Nonce, ExpiresAt: p.ExpiresAt}, nil
}
