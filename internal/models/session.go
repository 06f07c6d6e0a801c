package models

import (
	"time"
)

// SessionStatus represents the lifecycle state of a session
type SessionStatus string

const (
	// SessionActive means the session accepts new turns
	SessionActive SessionStatus = "active"
	// SessionArchived means the session is retained read-only for audit
	SessionArchived SessionStatus = "archived"
)

// MinSessionIDLength is the minimum session id length accepted by the
// downstream agent runtime. Session ids are produced by session.NewID,
// which guarantees this by construction.
const MinSessionIDLength = 33

// UnknownPatient is the store prefix used for sessions that have no
// bound patient yet.
const UnknownPatient = "unknown"

// Session represents one logical conversation with a clinician
type Session struct {
	ID             string        `json:"id"`
	BoundPatientID string        `json:"bound_patient_id,omitempty"`
	MessageCount   int           `json:"message_count"`
	Status         SessionStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	LastUsedAt     time.Time     `json:"last_used_at"`
}

// PatientPrefix returns the store prefix that groups this session's
// objects for privacy-scoped retention and access control.
func (s *Session) PatientPrefix() string {
	if s.BoundPatientID == "" {
		return UnknownPatient
	}
	return s.BoundPatientID
}

// Valid reports whether a restored session passes schema validation.
// A session that fails this check is treated as corrupt and replaced.
func (s *Session) Valid() bool {
	if len(s.ID) < MinSessionIDLength {
		return false
	}
	if s.Status != SessionActive && s.Status != SessionArchived {
		return false
	}
	if s.MessageCount < 0 {
		return false
	}
	return !s.CreatedAt.IsZero() && !s.LastUsedAt.IsZero()
}
