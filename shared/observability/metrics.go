package observability

import (
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics holds the engine's instruments. All counters are monotonic.
type Metrics struct {
	Turns             metric.Int64Counter
	SecurityResets    metric.Int64Counter
	Interventions     metric.Int64Counter
	EvaluatorFailures metric.Int64Counter
	LookupFailures    metric.Int64Counter
	SessionsCreated   metric.Int64Counter
	SessionsExpired   metric.Int64Counter
	SessionsCorrupt   metric.Int64Counter
	BusyRejections    metric.Int64Counter
}

// NewMetrics registers the engine instruments on the given provider
func NewMetrics(mp *sdkmetric.MeterProvider) (*Metrics, error) {
	meter := mp.Meter("clinical-copilot/session-engine")

	m := &Metrics{}
	var err error

	if m.Turns, err = meter.Int64Counter("engine_turns_total",
		metric.WithDescription("Turns processed")); err != nil {
		return nil, err
	}
	if m.SecurityResets, err = meter.Int64Counter("engine_security_resets_total",
		metric.WithDescription("Sessions archived after a conflicting patient was detected")); err != nil {
		return nil, err
	}
	if m.Interventions, err = meter.Int64Counter("engine_interventions_recorded_total",
		metric.WithDescription("Intervention records persisted")); err != nil {
		return nil, err
	}
	if m.EvaluatorFailures, err = meter.Int64Counter("engine_evaluator_failures_total",
		metric.WithDescription("Content evaluations that failed open")); err != nil {
		return nil, err
	}
	if m.LookupFailures, err = meter.Int64Counter("engine_lookup_failures_total",
		metric.WithDescription("Patient directory lookups that errored")); err != nil {
		return nil, err
	}
	if m.SessionsCreated, err = meter.Int64Counter("engine_sessions_created_total",
		metric.WithDescription("Sessions created")); err != nil {
		return nil, err
	}
	if m.SessionsExpired, err = meter.Int64Counter("engine_sessions_expired_total",
		metric.WithDescription("Restore attempts past the idle timeout")); err != nil {
		return nil, err
	}
	if m.SessionsCorrupt, err = meter.Int64Counter("engine_sessions_corrupt_total",
		metric.WithDescription("Stored sessions that failed schema validation")); err != nil {
		return nil, err
	}
	if m.BusyRejections, err = meter.Int64Counter("engine_busy_rejections_total",
		metric.WithDescription("Turns rejected because the session was mid-processing")); err != nil {
		return nil, err
	}

	return m, nil
}
