package models

import (
	"time"
)

// EvaluationSource tags which side of the turn was evaluated
type EvaluationSource string

const (
	SourceInput  EvaluationSource = "INPUT"
	SourceOutput EvaluationSource = "OUTPUT"
)

// EvaluationAction is the evaluator's verdict. The engine runs in shadow
// mode: INTERVENED is recorded for audit, never enforced.
type EvaluationAction string

const (
	ActionNone       EvaluationAction = "NONE"
	ActionIntervened EvaluationAction = "INTERVENED"
)

// PreviewMaxRunes bounds the excerpt of evaluated text stored with an
// intervention, to limit log exposure of clinical content.
const PreviewMaxRunes = 120

// Intervention records one evaluation outcome for one message.
// Interventions for a session accumulate monotonically; the list length
// never decreases while the session is active.
type Intervention struct {
	SessionID      string           `json:"session_id"`
	Source         EvaluationSource `json:"source"`
	Action         EvaluationAction `json:"action"`
	ContentPreview string           `json:"content_preview"`
	Violations     []Violation      `json:"violations"`
	Timestamp      time.Time        `json:"timestamp"`
}

// Preview truncates evaluated text to the bounded excerpt stored on an
// intervention record.
func Preview(text string) string {
	runes := []rune(text)
	if len(runes) <= PreviewMaxRunes {
		return text
	}
	return string(runes[:PreviewMaxRunes]) + "..."
}
