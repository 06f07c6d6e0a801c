package guardrail

import (
	"context"
	"strings"
	"time"

	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/pkg/logger"
	"clinical-copilot/backend/pkg/resilience"
	"clinical-copilot/backend/shared/observability"
)

// Notifier pushes diagnostic events to the audit feed
type Notifier interface {
	Broadcast(event models.AuditEvent)
}

// Evaluator screens message text against the external content-evaluation
// capability. The conversation is never blocked on the evaluator: if the
// service is unreachable or errors, evaluation fails open with action
// NONE and the outage is recorded as a diagnostic event.
type Evaluator struct {
	client   EvaluationClient
	breaker  *resilience.CircuitBreaker
	log      *logger.Logger
	metrics  *observability.Metrics
	notifier Notifier
}

// NewEvaluator creates an evaluator around the given transport client
func NewEvaluator(client EvaluationClient, breaker *resilience.CircuitBreaker, log *logger.Logger, metrics *observability.Metrics, notifier Notifier) *Evaluator {
	return &Evaluator{
		client:   client,
		breaker:  breaker,
		log:      log,
		metrics:  metrics,
		notifier: notifier,
	}
}

// Evaluate screens text from the given source and returns the
// normalized result. It never returns an error: outages degrade to
// {action: NONE, FailedOpen: true}.
func (e *Evaluator) Evaluate(ctx context.Context, sessionID, text string, source models.EvaluationSource) Result {
	var resp Response
	err := e.breaker.Execute(func() error {
		var callErr error
		resp, callErr = e.client.Evaluate(ctx, Request{
			Text:      text,
			SourceTag: string(source),
		})
		return callErr
	})
	if err != nil {
		e.failOpen(ctx, sessionID, source, err)
		return Result{Source: source, Action: models.ActionNone, FailedOpen: true}
	}

	action := models.ActionNone
	if strings.EqualFold(resp.Action, string(models.ActionIntervened)) {
		action = models.ActionIntervened
	}
	return Result{
		Source:     source,
		Action:     action,
		Violations: ParseAssessments(resp.Assessments),
	}
}

func (e *Evaluator) failOpen(ctx context.Context, sessionID string, source models.EvaluationSource, err error) {
	e.log.LogError(err, "content evaluator unavailable, failing open",
		"session_id", sessionID,
		"source", string(source),
	)
	if e.metrics != nil {
		e.metrics.EvaluatorFailures.Add(ctx, 1)
	}
	if e.notifier != nil {
		e.notifier.Broadcast(models.AuditEvent{
			Type:      models.AuditEvaluatorUnavailable,
			SessionID: sessionID,
			Fields:    map[string]string{"source": string(source), "error": err.Error()},
			Timestamp: time.Now().UTC(),
		})
	}
}
