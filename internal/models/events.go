package models

import (
	"time"
)

// PatientEventType identifies a patient-context change
type PatientEventType string

const (
	// PatientDetected means an unbound session acquired a patient context
	PatientDetected PatientEventType = "patient_detected"
	// PatientChanged means a conflicting patient was detected and the
	// session was security-reset
	PatientChanged PatientEventType = "patient_changed"
)

// PatientContextEvent is the caller-visible record of a patient-context
// decision made during a turn.
type PatientContextEvent struct {
	Type              PatientEventType `json:"type"`
	SessionID         string           `json:"session_id"`
	NewSessionID      string           `json:"new_session_id,omitempty"`
	PreviousPatientID string           `json:"previous_patient_id,omitempty"`
	NewPatientID      string           `json:"new_patient_id"`
	// ClearTranscript instructs the caller to discard any locally
	// cached transcript for the old session
	ClearTranscript bool      `json:"clear_transcript"`
	Timestamp       time.Time `json:"timestamp"`
}

// AuditEventType identifies an event broadcast on the audit feed
type AuditEventType string

const (
	AuditPatientDetected      AuditEventType = "patient_detected"
	AuditPatientChanged       AuditEventType = "patient_changed"
	AuditEvaluatorUnavailable AuditEventType = "evaluator_unavailable"
	AuditLookupUnavailable    AuditEventType = "lookup_unavailable"
	AuditSessionCorrupt       AuditEventType = "session_corrupt"
	AuditSessionExpired       AuditEventType = "session_expired"
)

// AuditEvent is a diagnostic event pushed to monitoring clients over the
// websocket audit feed.
type AuditEvent struct {
	Type      AuditEventType    `json:"type"`
	SessionID string            `json:"session_id,omitempty"`
	Fields    map[string]string `json:"fields,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
