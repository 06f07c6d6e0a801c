package session

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-copilot/backend/internal/guardrail"
	"clinical-copilot/backend/internal/identity"
	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/internal/patientctx"
	"clinical-copilot/backend/internal/store"
	apperrors "clinical-copilot/backend/pkg/errors"
	"clinical-copilot/backend/pkg/logger"
)

// stubEvaluator returns a canned result and records which sources it
// was asked to screen.
type stubEvaluator struct {
	mu         sync.Mutex
	action     models.EvaluationAction
	violations []models.Violation
	failOpen   bool
	sources    []models.EvaluationSource
}

func (s *stubEvaluator) Evaluate(_ context.Context, _ string, _ string, source models.EvaluationSource) guardrail.Result {
	s.mu.Lock()
	s.sources = append(s.sources, source)
	s.mu.Unlock()
	if s.failOpen {
		return guardrail.Result{Source: source, Action: models.ActionNone, FailedOpen: true}
	}
	return guardrail.Result{Source: source, Action: s.action, Violations: s.violations}
}

// fakeLookup resolves candidate values from a fixed table
type fakeLookup struct {
	table map[string]string
}

func (f *fakeLookup) Resolve(_ context.Context, cand identity.Candidate) (string, error) {
	if id, ok := f.table[cand.Value]; ok {
		return id, nil
	}
	return "", patientctx.ErrPatientNotFound
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AuditEvent
}

func (r *recordingNotifier) Broadcast(event models.AuditEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recordingNotifier) byType(t models.AuditEventType) []models.AuditEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.AuditEvent
	for _, e := range r.events {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

type managerFixture struct {
	store     *store.MemoryStore
	evaluator *stubEvaluator
	notifier  *recordingNotifier
	manager   *Manager
}

func newFixture(t *testing.T, lookupTable map[string]string) *managerFixture {
	return newFixtureCfg(t, DefaultConfig(), lookupTable)
}

func newFixtureCfg(t *testing.T, cfg Config, lookupTable map[string]string) *managerFixture {
	t.Helper()
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	st := store.NewMemoryStore()
	eval := &stubEvaluator{action: models.ActionNone}
	notifier := &recordingNotifier{}
	sync := patientctx.NewSynchronizer(&fakeLookup{table: lookupTable}, log, nil, notifier)
	mgr := NewManager(cfg, st, eval, sync, log, nil, notifier)
	return &managerFixture{store: st, evaluator: eval, notifier: notifier, manager: mgr}
}

// runTurn drives both halves of one turn
func runTurn(t *testing.T, f *managerFixture, sessionID, text, reply string) *TurnResult {
	t.Helper()
	res, err := f.manager.ProcessTurn(context.Background(), TurnInput{SessionID: sessionID, Text: text})
	require.NoError(t, err)
	_, err = f.manager.CompleteTurn(context.Background(), res.SessionID, res.TurnID, reply)
	require.NoError(t, err)
	return res
}

func TestProcessTurnCreatesSessionWhenNoneGiven(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.manager.ProcessTurn(context.Background(), TurnInput{Text: "hola"})
	require.NoError(t, err)

	assert.GreaterOrEqual(t, len(res.SessionID), models.MinSessionIDLength)
	assert.NotEmpty(t, res.TurnID)
	assert.True(t, res.RequiresReply)
	assert.Nil(t, res.PatientEvent)

	sess, err := f.manager.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, sess.Status)
	assert.Equal(t, 1, sess.MessageCount)
}

func TestProcessTurnRestoresExistingSession(t *testing.T) {
	f := newFixture(t, nil)

	first := runTurn(t, f, "", "primer mensaje", "respuesta")
	res, err := f.manager.ProcessTurn(context.Background(), TurnInput{SessionID: first.SessionID, Text: "segundo mensaje"})
	require.NoError(t, err)

	assert.Equal(t, first.SessionID, res.SessionID)
	sess, err := f.manager.Session(context.Background(), res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, 3, sess.MessageCount)
}

func TestProcessTurnUnknownSessionIDCreatesFresh(t *testing.T) {
	f := newFixture(t, nil)

	res, err := f.manager.ProcessTurn(context.Background(), TurnInput{
		SessionID: "ses_ffffffffffffffffffffffffffffffff",
		Text:      "hola",
	})
	require.NoError(t, err)
	assert.NotEqual(t, "ses_ffffffffffffffffffffffffffffffff", res.SessionID)
}

func TestProcessTurnRejectsBusySession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)

	// second turn before the reply callback: the lock is still held
	_, err = f.manager.ProcessTurn(ctx, TurnInput{SessionID: res.SessionID, Text: "otra"})
	require.Error(t, err)
	assert.True(t, apperrors.IsSessionBusy(err))

	appErr := apperrors.FromError(err)
	assert.True(t, appErr.Retryable)
}

func TestCompleteTurnReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	first := runTurn(t, f, "", "hola", "respuesta")

	// after CompleteTurn the session accepts the next turn
	res, err := f.manager.ProcessTurn(context.Background(), TurnInput{SessionID: first.SessionID, Text: "siguiente"})
	require.NoError(t, err)
	assert.Equal(t, first.SessionID, res.SessionID)
}

func TestCancelTurnReleasesLock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)

	f.manager.CancelTurn(ctx, res.SessionID, res.TurnID)

	_, err = f.manager.ProcessTurn(ctx, TurnInput{SessionID: res.SessionID, Text: "otra"})
	require.NoError(t, err)
}

func TestStaleReplyAfterLockReclaimIsRejected(t *testing.T) {
	cfg := DefaultConfig()
	cfg.BusyLockTTL = 20 * time.Millisecond
	f := newFixtureCfg(t, cfg, nil)
	ctx := context.Background()

	first, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "primer mensaje"})
	require.NoError(t, err)

	// the abandoned turn's lock expires and a new turn takes the session
	time.Sleep(40 * time.Millisecond)
	second, err := f.manager.ProcessTurn(ctx, TurnInput{SessionID: first.SessionID, Text: "segundo mensaje"})
	require.NoError(t, err)
	require.Equal(t, first.SessionID, second.SessionID)

	// the late reply must not land between the new turn's messages
	_, err = f.manager.CompleteTurn(ctx, first.SessionID, first.TurnID, "respuesta tardía")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTurnNotFound, apperrors.FromError(err).Code)

	msgs, total, err := f.manager.Messages(ctx, first.SessionID, 0, 0)
	require.NoError(t, err)
	require.Equal(t, 2, total)
	for _, msg := range msgs {
		assert.Equal(t, models.RoleUser, msg.Role)
	}

	// the live turn completes normally
	out, err := f.manager.CompleteTurn(ctx, second.SessionID, second.TurnID, "respuesta real")
	require.NoError(t, err)
	assert.Equal(t, second.SessionID, out.SessionID)
}

func TestCompleteTurnRejectsFabricatedTurnID(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)

	_, err = f.manager.CompleteTurn(ctx, res.SessionID, "turn-id-invent-ado", "respuesta ajena")
	require.Error(t, err)
	assert.Equal(t, apperrors.CodeTurnNotFound, apperrors.FromError(err).Code)

	// the issued token still completes the turn
	_, err = f.manager.CompleteTurn(ctx, res.SessionID, res.TurnID, "respuesta")
	require.NoError(t, err)
}

func TestBusyRejectionLeavesSessionUntouched(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)

	stamp := time.Now().UTC().Add(-time.Hour)
	_, err = f.store.UpdateSession(ctx, res.SessionID, func(s *models.Session) error {
		s.LastUsedAt = stamp
		return nil
	})
	require.NoError(t, err)

	_, err = f.manager.ProcessTurn(ctx, TurnInput{SessionID: res.SessionID, Text: "otra"})
	require.True(t, apperrors.IsSessionBusy(err))

	sess, err := f.manager.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.True(t, sess.LastUsedAt.Equal(stamp))
	assert.Equal(t, 1, sess.MessageCount)
}

func TestInterventionsAccumulateMonotonically(t *testing.T) {
	f := newFixture(t, nil)
	f.evaluator.action = models.ActionIntervened
	f.evaluator.violations = []models.Violation{
		models.NewPIIRegexViolation(models.PIIRegexDetail{PatternName: "CedulaColombia", Action: "ANONYMIZED"}),
	}
	ctx := context.Background()

	first := runTurn(t, f, "", "cedula 12345678901", "anotado")
	prev := 0
	for i := 0; i < 3; i++ {
		runTurn(t, f, first.SessionID, "mas contenido sensible", "ok")
		ivs, err := f.manager.Interventions(ctx, first.SessionID)
		require.NoError(t, err)
		assert.Greater(t, len(ivs), prev, "intervention list must only grow")
		prev = len(ivs)
	}

	// both halves of each turn were screened
	ivs, err := f.manager.Interventions(ctx, first.SessionID)
	require.NoError(t, err)
	assert.Len(t, ivs, 8)
	for _, iv := range ivs {
		assert.Equal(t, first.SessionID, iv.SessionID)
		assert.Equal(t, models.ActionIntervened, iv.Action)
		assert.NotEmpty(t, iv.Violations)
	}
}

func TestCompleteTurnEvaluatesOutputSide(t *testing.T) {
	f := newFixture(t, nil)
	runTurn(t, f, "", "pregunta", "respuesta")

	require.Len(t, f.evaluator.sources, 2)
	assert.Equal(t, models.SourceInput, f.evaluator.sources[0])
	assert.Equal(t, models.SourceOutput, f.evaluator.sources[1])
}

func TestFailOpenEvaluatorDoesNotBlockTurn(t *testing.T) {
	f := newFixture(t, nil)
	f.evaluator.failOpen = true
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)
	assert.Empty(t, res.Interventions)

	out, err := f.manager.CompleteTurn(ctx, res.SessionID, res.TurnID, "respuesta")
	require.NoError(t, err)
	assert.Empty(t, out.Interventions)

	// no intervention record may claim the text was screened
	ivs, err := f.manager.Interventions(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Empty(t, ivs)
}

func TestExplicitClaimBindsPatient(t *testing.T) {
	f := newFixture(t, map[string]string{"Juan_Perez_123": "patient-juan"})
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{
		Text: "Esta sesión es del paciente Juan_Perez_123",
	})
	require.NoError(t, err)

	require.NotNil(t, res.PatientEvent)
	assert.Equal(t, models.PatientDetected, res.PatientEvent.Type)
	assert.Equal(t, "patient-juan", res.PatientEvent.NewPatientID)
	assert.False(t, res.PatientEvent.ClearTranscript)

	sess, err := f.manager.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-juan", sess.BoundPatientID)

	assert.Len(t, f.notifier.byType(models.AuditPatientDetected), 1)
}

func TestUnresolvedMentionNeverBindsOrResets(t *testing.T) {
	f := newFixture(t, map[string]string{"Juan_Perez_123": "patient-juan"})
	ctx := context.Background()

	bound := runTurn(t, f, "", "Esta sesión es del paciente Juan_Perez_123", "listo")

	// a name the directory cannot resolve must not disturb the binding
	res, err := f.manager.ProcessTurn(ctx, TurnInput{
		SessionID: bound.SessionID,
		Text:      "revisar notas del paciente Persona_Desconocida",
	})
	require.NoError(t, err)
	assert.Equal(t, bound.SessionID, res.SessionID)
	assert.Nil(t, res.PatientEvent)

	sess, err := f.manager.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-juan", sess.BoundPatientID)
}

func TestConflictingPatientTriggersSecurityReset(t *testing.T) {
	f := newFixture(t, map[string]string{
		"Juan_Perez_123": "patient-juan",
		"Maria_Garcia":   "patient-maria",
	})
	ctx := context.Background()

	bound := runTurn(t, f, "", "Esta sesión es del paciente Juan_Perez_123", "listo")

	res, err := f.manager.ProcessTurn(ctx, TurnInput{
		SessionID: bound.SessionID,
		Text:      "Necesito las notas del paciente Maria_Garcia",
	})
	require.NoError(t, err)

	// the turn continues against a replacement session
	assert.NotEqual(t, bound.SessionID, res.SessionID)
	assert.NotEmpty(t, res.TurnID)

	require.NotNil(t, res.PatientEvent)
	assert.Equal(t, models.PatientChanged, res.PatientEvent.Type)
	assert.Equal(t, bound.SessionID, res.PatientEvent.SessionID)
	assert.Equal(t, res.SessionID, res.PatientEvent.NewSessionID)
	assert.Equal(t, "patient-juan", res.PatientEvent.PreviousPatientID)
	assert.Equal(t, "patient-maria", res.PatientEvent.NewPatientID)
	assert.True(t, res.PatientEvent.ClearTranscript)

	old, err := f.manager.Session(ctx, bound.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionArchived, old.Status)
	assert.Equal(t, "patient-juan", old.BoundPatientID)

	fresh, err := f.manager.Session(ctx, res.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, fresh.Status)
	assert.Equal(t, "patient-maria", fresh.BoundPatientID)

	// no transcript carries over to the replacement session
	_, total, err := f.manager.Messages(ctx, res.SessionID, 0, 0)
	require.NoError(t, err)
	assert.Zero(t, total)

	assert.Len(t, f.notifier.byType(models.AuditPatientChanged), 1)
}

func TestSecurityResetHandsLockToReplacementSession(t *testing.T) {
	f := newFixture(t, map[string]string{
		"Juan_Perez_123": "patient-juan",
		"Maria_Garcia":   "patient-maria",
	})
	ctx := context.Background()

	bound := runTurn(t, f, "", "Esta sesión es del paciente Juan_Perez_123", "listo")
	res, err := f.manager.ProcessTurn(ctx, TurnInput{
		SessionID: bound.SessionID,
		Text:      "Necesito las notas del paciente Maria_Garcia",
	})
	require.NoError(t, err)

	// the replacement session is mid-turn; the archived one is free
	_, err = f.manager.ProcessTurn(ctx, TurnInput{SessionID: res.SessionID, Text: "otra"})
	assert.True(t, apperrors.IsSessionBusy(err))

	// the reply callback lands on the replacement session
	out, err := f.manager.CompleteTurn(ctx, res.SessionID, res.TurnID, "aquí están las notas")
	require.NoError(t, err)
	assert.Equal(t, res.SessionID, out.SessionID)

	_, total, err := f.manager.Messages(ctx, res.SessionID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, total)
}

func TestIdleExpiredSessionIsReplacedOnRestore(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := runTurn(t, f, "", "hola", "respuesta")

	_, err := f.store.UpdateSession(ctx, first.SessionID, func(s *models.Session) error {
		s.LastUsedAt = time.Now().UTC().Add(-25 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	res, err := f.manager.ProcessTurn(ctx, TurnInput{SessionID: first.SessionID, Text: "sigo aquí"})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, res.SessionID)

	assert.Len(t, f.notifier.byType(models.AuditSessionExpired), 1)
}

func TestArchivedSessionIsNeverReused(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	first := runTurn(t, f, "", "hola", "respuesta")
	_, err := f.store.UpdateSession(ctx, first.SessionID, func(s *models.Session) error {
		s.Status = models.SessionArchived
		return nil
	})
	require.NoError(t, err)

	res, err := f.manager.ProcessTurn(ctx, TurnInput{SessionID: first.SessionID, Text: "de vuelta"})
	require.NoError(t, err)
	assert.NotEqual(t, first.SessionID, res.SessionID)
}

func TestCompleteTurnRejectsArchivedSession(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res, err := f.manager.ProcessTurn(ctx, TurnInput{Text: "hola"})
	require.NoError(t, err)

	_, err = f.store.UpdateSession(ctx, res.SessionID, func(s *models.Session) error {
		s.Status = models.SessionArchived
		return nil
	})
	require.NoError(t, err)

	_, err = f.manager.CompleteTurn(ctx, res.SessionID, res.TurnID, "respuesta")
	require.Error(t, err)
}

func TestReapArchivesIdleSessionsOnly(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	idle := runTurn(t, f, "", "viejo", "ok")
	active := runTurn(t, f, "", "nuevo", "ok")

	_, err := f.store.UpdateSession(ctx, idle.SessionID, func(s *models.Session) error {
		s.LastUsedAt = time.Now().UTC().Add(-25 * time.Hour)
		return nil
	})
	require.NoError(t, err)

	n, err := f.manager.Reap(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	idleSess, err := f.manager.Session(ctx, idle.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionArchived, idleSess.Status)

	activeSess, err := f.manager.Session(ctx, active.SessionID)
	require.NoError(t, err)
	assert.Equal(t, models.SessionActive, activeSess.Status)
}
