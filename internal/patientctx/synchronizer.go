package patientctx

import (
	"context"
	"errors"
	"time"

	"clinical-copilot/backend/internal/identity"
	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/shared/observability"
)

// DecisionKind is the synchronizer's verdict for one turn
type DecisionKind string

const (
	// DecisionNoop means the patient context is unchanged
	DecisionNoop DecisionKind = "noop"
	// DecisionBind means an unbound session acquired a patient
	DecisionBind DecisionKind = "bind"
	// DecisionReset means a conflicting patient was detected and the
	// session must be archived and replaced
	DecisionReset DecisionKind = "reset"
)

// Decision is the outcome of synchronizing one turn's candidates
// against the session's bound patient.
type Decision struct {
	Kind DecisionKind
	// PatientID is the resolved patient for bind and reset decisions
	PatientID string
	// PreviousPatientID is set on reset decisions
	PreviousPatientID string
}

// Notifier pushes diagnostic events to the audit feed
type Notifier interface {
	Broadcast(event models.AuditEvent)
}

// Synchronizer enforces the single-bound-patient invariant. Failing to
// reset on a genuine patient change leaks one patient's data into
// another's transcript; a spurious reset only costs a session.
type Synchronizer struct {
	lookup   Lookup
	log      *logger.Logger
	metrics  *observability.Metrics
	notifier Notifier
}

// NewSynchronizer creates a synchronizer around the given lookup capability
func NewSynchronizer(lookup Lookup, log *logger.Logger, metrics *observability.Metrics, notifier Notifier) *Synchronizer {
	return &Synchronizer{
		lookup:   lookup,
		log:      log,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Sync resolves this turn's candidates and applies the decision table:
//
//	unbound + resolves          -> bind
//	unbound + none resolve      -> noop
//	bound P + resolves to P     -> noop
//	bound P + resolves to Q!=P  -> reset (security)
//	bound P + none resolve      -> noop (never unbind on a failed lookup)
//
// When candidates resolve to different patients in one turn, explicit
// session claims win over inferred matches; among conflicting explicit
// claims the most recent one in the message wins.
func (s *Synchronizer) Sync(ctx context.Context, session *models.Session, cands []identity.Candidate) Decision {
	target, found := s.resolveTarget(ctx, session.ID, cands)
	if !found {
		return Decision{Kind: DecisionNoop}
	}

	current := session.BoundPatientID
	switch {
	case current == "":
		return Decision{Kind: DecisionBind, PatientID: target}
	case current == target:
		return Decision{Kind: DecisionNoop}
	default:
		s.log.Warn("conflicting patient detected, session will be reset",
			"session_id", session.ID,
			"bound_patient", current,
			"detected_patient", target,
		)
		return Decision{Kind: DecisionReset, PatientID: target, PreviousPatientID: current}
	}
}

// resolveTarget picks the patient this turn refers to. The last
// resolving explicit claim wins; otherwise the first resolving inferred
// candidate does.
func (s *Synchronizer) resolveTarget(ctx context.Context, sessionID string, cands []identity.Candidate) (string, bool) {
	var explicitTarget string
	var inferredTarget string

	for _, cand := range cands {
		id, err := s.lookup.Resolve(ctx, cand)
		if errors.Is(err, ErrPatientNotFound) {
			continue
		}
		if err != nil {
			s.lookupUnavailable(ctx, sessionID, cand, err)
			continue
		}
		if cand.Confidence == identity.ConfidenceExplicit {
			// last explicit claim in document order wins
			explicitTarget = id
		} else if inferredTarget == "" {
			inferredTarget = id
		}
	}

	if explicitTarget != "" {
		return explicitTarget, true
	}
	if inferredTarget != "" {
		return inferredTarget, true
	}
	return "", false
}

// lookupUnavailable records a directory outage. The candidate is
// treated as "does not resolve"; the conversation continues.
func (s *Synchronizer) lookupUnavailable(ctx context.Context, sessionID string, cand identity.Candidate, err error) {
	s.log.LogError(err, "patient lookup unavailable, treating candidate as unresolved",
		"session_id", sessionID,
		"candidate_kind", string(cand.Kind),
	)
	if s.metrics != nil {
		s.metrics.LookupFailures.Add(ctx, 1)
	}
	if s.notifier != nil {
		s.notifier.Broadcast(models.AuditEvent{
			Type:      models.AuditLookupUnavailable,
			SessionID: sessionID,
			Fields:    map[string]string{"candidate_kind": string(cand.Kind)},
			Timestamp: time.Now().UTC(),
		})
	}
}
