// Package store persists sessions, messages and interventions in a
// key/prefix-addressed durable object store. Objects are grouped by
// patient for privacy-scoped retention:
//
//	{patientIdOrUnknown}/{sessionId}/session.json
//	{patientIdOrUnknown}/{sessionId}/messages/{index}.json
//	{patientIdOrUnknown}/{sessionId}/interventions/{index}.json
//
// Message and intervention writes are append-only. Session metadata
// (bound patient, status, last-used) is the only mutable state and is
// updated with compare-and-set semantics.
package store

import (
	"context"
	"errors"
	"time"

	"clinical-copilot/backend/internal/models"
)

var (
	// ErrSessionNotFound means no session object exists for the id
	ErrSessionNotFound = errors.New("session not found")
	// ErrConflict means a compare-and-set update lost a race
	ErrConflict = errors.New("concurrent session update")
	// ErrSessionCorrupt means the stored session object no longer
	// decodes; the caller replaces it with a fresh session
	ErrSessionCorrupt = errors.New("session object corrupt")
)

// SessionStore is the adapter contract to the durable object store
type SessionStore interface {
	// CreateSession persists a new session object
	CreateSession(ctx context.Context, s *models.Session) error
	// GetSession loads a session by id
	GetSession(ctx context.Context, id string) (*models.Session, error)
	// UpdateSession applies mutate to the current session state under
	// compare-and-set semantics and returns the updated session
	UpdateSession(ctx context.Context, id string, mutate func(*models.Session) error) (*models.Session, error)

	// AppendMessage appends a message and returns its index
	AppendMessage(ctx context.Context, m *models.Message) (int, error)
	// Messages returns up to limit messages starting at offset, plus
	// the total count
	Messages(ctx context.Context, sessionID string, offset, limit int) ([]models.Message, int, error)

	// AppendIntervention appends an intervention record and returns its index
	AppendIntervention(ctx context.Context, iv *models.Intervention) (int, error)
	// Interventions returns the full accumulated list in append order
	Interventions(ctx context.Context, sessionID string) ([]models.Intervention, error)

	// ActiveSessions lists sessions with status active, for the idle reaper
	ActiveSessions(ctx context.Context) ([]models.Session, error)

	// AcquireTurnLock takes the per-session busy lock. It returns a
	// release token, or ok=false if another turn holds the lock.
	AcquireTurnLock(ctx context.Context, sessionID string, ttl time.Duration) (token string, ok bool, err error)
	// CheckTurnLock reports whether token still owns the busy lock;
	// false once the TTL reclaimed it or another turn took over
	CheckTurnLock(ctx context.Context, sessionID string, token string) (bool, error)
	// ReleaseTurnLock releases the busy lock if token still owns it
	ReleaseTurnLock(ctx context.Context, sessionID string, token string) error
}
