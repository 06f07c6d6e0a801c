// Package session owns the conversation lifecycle: creation, restore,
// idle expiry, archival and the security-reset that replaces a session
// when a conflicting patient identity is detected mid-conversation.
package session

import (
	"context"
	"errors"
	"time"

	"clinical-copilot/backend/internal/guardrail"
	"clinical-copilot/backend/internal/identity"
	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/internal/patientctx"
	"clinical-copilot/backend/internal/store"
	apperrors "clinical-copilot/backend/pkg/errors"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/shared/observability"
)

// ContentEvaluator screens one message; implemented by guardrail.Evaluator
type ContentEvaluator interface {
	Evaluate(ctx context.Context, sessionID, text string, source models.EvaluationSource) guardrail.Result
}

// ContextSynchronizer decides the patient-context action for one turn;
// implemented by patientctx.Synchronizer
type ContextSynchronizer interface {
	Sync(ctx context.Context, s *models.Session, cands []identity.Candidate) patientctx.Decision
}

// Notifier pushes events to the audit feed
type Notifier interface {
	Broadcast(event models.AuditEvent)
}

// Config holds the lifecycle engine settings
type Config struct {
	// IdleTimeout is how long a session may sit unused before a
	// restore attempt is treated as create
	IdleTimeout time.Duration
	// BusyLockTTL bounds how long an in-flight turn may hold the
	// per-session lock before it is considered abandoned
	BusyLockTTL time.Duration
	// ReaperPeriod is how often idle sessions are scanned for archival
	ReaperPeriod time.Duration
}

// DefaultConfig returns the reference lifecycle settings
func DefaultConfig() Config {
	return Config{
		IdleTimeout:  24 * time.Hour,
		BusyLockTTL:  2 * time.Minute,
		ReaperPeriod: time.Hour,
	}
}

// Manager orchestrates one turn end to end. The order is fixed:
// persist user message, evaluate INPUT, synchronize patient context
// (which may replace the active session), then — once the external
// agent runtime has produced the reply — persist the assistant message,
// evaluate OUTPUT and persist interventions.
type Manager struct {
	cfg       Config
	store     store.SessionStore
	evaluator ContentEvaluator
	sync      ContextSynchronizer
	log       *logger.Logger
	metrics   *observability.Metrics
	notifier  Notifier
}

// NewManager creates a session lifecycle manager
func NewManager(cfg Config, st store.SessionStore, evaluator ContentEvaluator, sync ContextSynchronizer, log *logger.Logger, metrics *observability.Metrics, notifier Notifier) *Manager {
	if cfg.IdleTimeout == 0 {
		cfg.IdleTimeout = DefaultConfig().IdleTimeout
	}
	if cfg.BusyLockTTL == 0 {
		cfg.BusyLockTTL = DefaultConfig().BusyLockTTL
	}
	if cfg.ReaperPeriod == 0 {
		cfg.ReaperPeriod = DefaultConfig().ReaperPeriod
	}
	return &Manager{
		cfg:       cfg,
		store:     st,
		evaluator: evaluator,
		sync:      sync,
		log:       log,
		metrics:   metrics,
		notifier:  notifier,
	}
}

// TurnInput is the inbound half of one turn
type TurnInput struct {
	// SessionID restores an existing session; empty means create
	SessionID string
	// NewSession forces a fresh session even if SessionID is set
	NewSession bool
	// Text is the raw user message
	Text string
}

// TurnResult is returned to the agent runtime after each half of a turn
type TurnResult struct {
	// SessionID is the session the turn ran against; after a
	// security-reset it differs from the requested one
	SessionID string `json:"session_id"`
	// TurnID correlates the reply callback with the in-flight turn
	TurnID string `json:"turn_id,omitempty"`
	// PatientEvent is set when this turn bound or changed the patient
	PatientEvent *models.PatientContextEvent `json:"patient_context_event,omitempty"`
	// Interventions recorded during this half of the turn
	Interventions []models.Intervention `json:"interventions"`
	// RequiresReply tells the runtime to call back with the assistant
	// reply addressed to SessionID
	RequiresReply bool `json:"requires_reply_with_session_id"`
}

// ProcessTurn runs the INPUT half of a turn: load or create the
// session, persist the user message, evaluate INPUT and synchronize the
// patient context. The per-session lock is held until CompleteTurn (or
// until the lock TTL reclaims an abandoned turn).
func (m *Manager) ProcessTurn(ctx context.Context, in TurnInput) (*TurnResult, error) {
	if m.metrics != nil {
		m.metrics.Turns.Add(ctx, 1)
	}

	sess, err := m.resolveSession(ctx, in)
	if err != nil {
		return nil, err
	}

	token, ok, err := m.store.AcquireTurnLock(ctx, sess.ID, m.cfg.BusyLockTTL)
	if err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	if !ok {
		if m.metrics != nil {
			m.metrics.BusyRejections.Add(ctx, 1)
		}
		return nil, apperrors.NewSessionBusyError(sess.ID)
	}

	now := time.Now().UTC()

	// 1. persist the user message before anything can fail after it
	userMsg := models.Message{
		SessionID: sess.ID,
		Role:      models.RoleUser,
		Content:   in.Text,
		Timestamp: now,
	}
	sessionID := sess.ID
	if _, err := m.store.AppendMessage(ctx, &userMsg); err != nil {
		m.releaseLock(ctx, sessionID, token)
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	sess, err = m.store.UpdateSession(ctx, sessionID, func(s *models.Session) error {
		s.MessageCount++
		s.LastUsedAt = now
		return nil
	})
	if err != nil {
		m.releaseLock(ctx, sessionID, token)
		return nil, apperrors.NewStoreWriteFailedError(err)
	}

	// 2. evaluate INPUT; must finish (or fail open) before the
	// synchronizer step runs
	interventions, err := m.recordEvaluation(ctx, sess.ID, in.Text, models.SourceInput, nil)
	if err != nil {
		m.releaseLock(ctx, sess.ID, token)
		return nil, err
	}

	// 3. identity extraction and patient-context synchronization; a
	// reset replaces the active session for the rest of the turn
	var event *models.PatientContextEvent
	if cands := identity.Extract(in.Text); len(cands) > 0 {
		sess, token, event, err = m.applyDecision(ctx, sess, token, m.sync.Sync(ctx, sess, cands))
		if err != nil {
			return nil, err
		}
	}

	return &TurnResult{
		SessionID:     sess.ID,
		TurnID:        token,
		PatientEvent:  event,
		Interventions: interventions,
		RequiresReply: true,
	}, nil
}

// CompleteTurn runs the OUTPUT half: persist the assistant reply,
// evaluate OUTPUT against the session that is active after any reset,
// and release the turn lock. sessionID must be the id returned by
// ProcessTurn.
func (m *Manager) CompleteTurn(ctx context.Context, sessionID, turnID, replyText string) (*TurnResult, error) {
	sess, err := m.store.GetSession(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, apperrors.NewNotFoundError(apperrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	if sess.Status != models.SessionActive {
		return nil, apperrors.NewConflictError("SESSION_ARCHIVED", "session was archived mid-turn")
	}

	// the reply is accepted only while turnID still owns the busy lock;
	// a reply arriving after the TTL reclaimed the turn would interleave
	// with whatever turn holds the session now
	owns, err := m.store.CheckTurnLock(ctx, sess.ID, turnID)
	if err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	if !owns {
		return nil, apperrors.NewTurnNotFoundError(sess.ID)
	}

	now := time.Now().UTC()
	assistantMsg := models.Message{
		SessionID: sess.ID,
		Role:      models.RoleAssistant,
		Content:   replyText,
		Timestamp: now,
	}
	if _, err := m.store.AppendMessage(ctx, &assistantMsg); err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	if _, err := m.store.UpdateSession(ctx, sess.ID, func(s *models.Session) error {
		s.MessageCount++
		s.LastUsedAt = now
		return nil
	}); err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}

	interventions, err := m.recordEvaluation(ctx, sess.ID, replyText, models.SourceOutput, nil)
	if err != nil {
		return nil, err
	}

	m.releaseLock(ctx, sess.ID, turnID)

	return &TurnResult{
		SessionID:     sess.ID,
		Interventions: interventions,
	}, nil
}

// CancelTurn abandons an in-flight turn after a client disconnect. The
// user message and INPUT interventions already persisted stay in place;
// partial audit trail is preferable to data loss.
func (m *Manager) CancelTurn(ctx context.Context, sessionID, turnID string) {
	m.releaseLock(ctx, sessionID, turnID)
}

// Session returns session metadata for read endpoints
func (m *Manager) Session(ctx context.Context, id string) (*models.Session, error) {
	sess, err := m.store.GetSession(ctx, id)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, apperrors.NewNotFoundError(apperrors.CodeSessionNotFound, "session not found")
	}
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// Messages returns a page of session history plus the total count
func (m *Manager) Messages(ctx context.Context, sessionID string, offset, limit int) ([]models.Message, int, error) {
	msgs, total, err := m.store.Messages(ctx, sessionID, offset, limit)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, 0, apperrors.NewNotFoundError(apperrors.CodeSessionNotFound, "session not found")
	}
	return msgs, total, err
}

// Interventions returns the accumulated audit trail for a session
func (m *Manager) Interventions(ctx context.Context, sessionID string) ([]models.Intervention, error) {
	ivs, err := m.store.Interventions(ctx, sessionID)
	if errors.Is(err, store.ErrSessionNotFound) {
		return nil, apperrors.NewNotFoundError(apperrors.CodeSessionNotFound, "session not found")
	}
	return ivs, err
}

// resolveSession loads the requested session or creates a fresh one.
// Expired, archived, missing and corrupt sessions all degrade to
// create; stale history is never resurrected into a new conversation.
// A restored session is not written here: LastUsedAt is refreshed
// after the turn lock is taken, so a busy rejection leaves it untouched.
func (m *Manager) resolveSession(ctx context.Context, in TurnInput) (*models.Session, error) {
	if in.SessionID == "" || in.NewSession {
		return m.createSession(ctx, "")
	}

	sess, err := m.store.GetSession(ctx, in.SessionID)
	switch {
	case errors.Is(err, store.ErrSessionNotFound):
		return m.createSession(ctx, "")
	case errors.Is(err, store.ErrSessionCorrupt):
		m.sessionCorrupt(ctx, in.SessionID, err)
		return m.createSession(ctx, "")
	case err != nil:
		return nil, apperrors.NewStoreWriteFailedError(err)
	}

	if !sess.Valid() {
		m.sessionCorrupt(ctx, in.SessionID, errors.New("session failed schema validation"))
		return m.createSession(ctx, "")
	}
	if sess.Status != models.SessionActive {
		// archived sessions are audit records, never reused
		return m.createSession(ctx, "")
	}

	if time.Since(sess.LastUsedAt) >= m.cfg.IdleTimeout {
		m.sessionExpired(ctx, sess)
		return m.createSession(ctx, "")
	}
	return sess, nil
}

// createSession makes a fresh session, optionally pre-bound to a patient
func (m *Manager) createSession(ctx context.Context, boundPatientID string) (*models.Session, error) {
	now := time.Now().UTC()
	sess := &models.Session{
		ID:             NewID(),
		BoundPatientID: boundPatientID,
		Status:         models.SessionActive,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
	if err := m.store.CreateSession(ctx, sess); err != nil {
		return nil, apperrors.NewStoreWriteFailedError(err)
	}
	if m.metrics != nil {
		m.metrics.SessionsCreated.Add(ctx, 1)
	}
	m.log.Info("session created",
		"session_id", sess.ID,
		"bound_patient", boundPatientID,
	)
	return sess, nil
}

// recordEvaluation screens text and persists the intervention record.
// A fail-open evaluation is logged and counted by the evaluator but
// produces no intervention record: the audit trail must not claim the
// text was screened clean.
func (m *Manager) recordEvaluation(ctx context.Context, sessionID, text string, source models.EvaluationSource, acc []models.Intervention) ([]models.Intervention, error) {
	result := m.evaluator.Evaluate(ctx, sessionID, text, source)
	if result.FailedOpen {
		return acc, nil
	}

	violations := result.Violations
	if violations == nil {
		violations = []models.Violation{}
	}
	iv := models.Intervention{
		SessionID:      sessionID,
		Source:         source,
		Action:         result.Action,
		ContentPreview: models.Preview(text),
		Violations:     violations,
		Timestamp:      time.Now().UTC(),
	}
	if _, err := m.store.AppendIntervention(ctx, &iv); err != nil {
		return acc, apperrors.NewStoreWriteFailedError(err)
	}
	if m.metrics != nil {
		m.metrics.Interventions.Add(ctx, 1)
	}
	return append(acc, iv), nil
}

// applyDecision carries out the synchronizer's verdict. On reset the
// current session is archived, a new session bound to the detected
// patient takes over the turn, and the caller is instructed to clear
// any client-held transcript.
func (m *Manager) applyDecision(ctx context.Context, sess *models.Session, token string, d patientctx.Decision) (*models.Session, string, *models.PatientContextEvent, error) {
	now := time.Now().UTC()

	switch d.Kind {
	case patientctx.DecisionNoop:
		return sess, token, nil, nil

	case patientctx.DecisionBind:
		updated, err := m.store.UpdateSession(ctx, sess.ID, func(s *models.Session) error {
			s.BoundPatientID = d.PatientID
			return nil
		})
		if err != nil {
			m.releaseLock(ctx, sess.ID, token)
			return nil, "", nil, apperrors.NewStoreWriteFailedError(err)
		}
		m.broadcast(models.AuditEvent{
			Type:      models.AuditPatientDetected,
			SessionID: sess.ID,
			Fields:    map[string]string{"patient_id": d.PatientID},
			Timestamp: now,
		})
		event := &models.PatientContextEvent{
			Type:         models.PatientDetected,
			SessionID:    sess.ID,
			NewPatientID: d.PatientID,
			Timestamp:    now,
		}
		return updated, token, event, nil

	case patientctx.DecisionReset:
		return m.securityReset(ctx, sess, token, d)

	default:
		return sess, token, nil, nil
	}
}

// securityReset archives the current session and hands the turn over to
// a fresh session bound to the newly detected patient. No message
// history carries over.
func (m *Manager) securityReset(ctx context.Context, old *models.Session, oldToken string, d patientctx.Decision) (*models.Session, string, *models.PatientContextEvent, error) {
	now := time.Now().UTC()

	if _, err := m.store.UpdateSession(ctx, old.ID, func(s *models.Session) error {
		s.Status = models.SessionArchived
		s.LastUsedAt = now
		return nil
	}); err != nil {
		m.releaseLock(ctx, old.ID, oldToken)
		return nil, "", nil, apperrors.NewStoreWriteFailedError(err)
	}

	fresh, err := m.createSession(ctx, d.PatientID)
	if err != nil {
		m.releaseLock(ctx, old.ID, oldToken)
		return nil, "", nil, err
	}

	newToken, ok, err := m.store.AcquireTurnLock(ctx, fresh.ID, m.cfg.BusyLockTTL)
	if err != nil || !ok {
		m.releaseLock(ctx, old.ID, oldToken)
		if err == nil {
			err = errors.New("could not lock replacement session")
		}
		return nil, "", nil, apperrors.NewStoreWriteFailedError(err)
	}
	m.releaseLock(ctx, old.ID, oldToken)

	if m.metrics != nil {
		m.metrics.SecurityResets.Add(ctx, 1)
	}
	m.log.Warn("security reset: session archived after patient change",
		"old_session_id", old.ID,
		"new_session_id", fresh.ID,
		"previous_patient", d.PreviousPatientID,
		"new_patient", d.PatientID,
	)
	m.broadcast(models.AuditEvent{
		Type:      models.AuditPatientChanged,
		SessionID: old.ID,
		Fields: map[string]string{
			"new_session_id":   fresh.ID,
			"previous_patient": d.PreviousPatientID,
			"new_patient":      d.PatientID,
		},
		Timestamp: now,
	})

	event := &models.PatientContextEvent{
		Type:              models.PatientChanged,
		SessionID:         old.ID,
		NewSessionID:      fresh.ID,
		PreviousPatientID: d.PreviousPatientID,
		NewPatientID:      d.PatientID,
		ClearTranscript:   true,
		Timestamp:         now,
	}
	return fresh, newToken, event, nil
}

// errReapSkip aborts an archive update whose session was used again
// between the scan and the compare-and-set.
var errReapSkip = errors.New("session no longer idle")

// Reap archives sessions idle past the timeout and returns how many it
// archived. Restore attempts on an archived session create a fresh one.
func (m *Manager) Reap(ctx context.Context) (int, error) {
	sessions, err := m.store.ActiveSessions(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now().UTC()
	archived := 0
	for i := range sessions {
		sess := sessions[i]
		if now.Sub(sess.LastUsedAt) < m.cfg.IdleTimeout {
			continue
		}
		_, err := m.store.UpdateSession(ctx, sess.ID, func(s *models.Session) error {
			if s.Status != models.SessionActive || now.Sub(s.LastUsedAt) < m.cfg.IdleTimeout {
				return errReapSkip
			}
			s.Status = models.SessionArchived
			return nil
		})
		if errors.Is(err, errReapSkip) || errors.Is(err, store.ErrSessionNotFound) {
			continue
		}
		if err != nil {
			m.log.LogError(err, "failed to archive idle session", "session_id", sess.ID)
			continue
		}
		archived++
		m.sessionExpired(ctx, &sess)
	}
	return archived, nil
}

// StartReaper runs the idle-session scan on a fixed period until ctx is
// cancelled.
func (m *Manager) StartReaper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.ReaperPeriod)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := m.Reap(ctx); err != nil {
					m.log.LogError(err, "idle session reap failed")
				} else if n > 0 {
					m.log.Info("idle sessions archived", "count", n)
				}
			}
		}
	}()
}

func (m *Manager) sessionExpired(ctx context.Context, sess *models.Session) {
	if m.metrics != nil {
		m.metrics.SessionsExpired.Add(ctx, 1)
	}
	m.log.Info("session idle timeout exceeded, starting fresh",
		"session_id", sess.ID,
		"last_used_at", sess.LastUsedAt,
	)
	m.broadcast(models.AuditEvent{
		Type:      models.AuditSessionExpired,
		SessionID: sess.ID,
		Timestamp: time.Now().UTC(),
	})
}

func (m *Manager) sessionCorrupt(ctx context.Context, sessionID string, err error) {
	if m.metrics != nil {
		m.metrics.SessionsCorrupt.Add(ctx, 1)
	}
	m.log.LogError(err, "stored session corrupt, replacing with fresh session",
		"session_id", sessionID,
	)
	m.broadcast(models.AuditEvent{
		Type:      models.AuditSessionCorrupt,
		SessionID: sessionID,
		Fields:    map[string]string{"error": err.Error()},
		Timestamp: time.Now().UTC(),
	})
}

func (m *Manager) releaseLock(ctx context.Context, sessionID, token string) {
	if err := m.store.ReleaseTurnLock(ctx, sessionID, token); err != nil {
		m.log.LogError(err, "failed to release turn lock", "session_id", sessionID)
	}
}

func (m *Manager) broadcast(event models.AuditEvent) {
	if m.notifier != nil {
		m.notifier.Broadcast(event)
	}
}
