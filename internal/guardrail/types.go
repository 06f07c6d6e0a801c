// Package guardrail wraps the external content-evaluation capability.
// Every inbound and outbound message is screened in shadow mode: policy
// violations are parsed and accumulated for audit, never enforced.
package guardrail

import (
	"clinical-copilot/backend/internal/models"
)

// Request is the wire request sent to the content-evaluation service
type Request struct {
	Text      string `json:"text"`
	SourceTag string `json:"source_tag"`
}

// Response is the wire response. Action is the evaluator's overall
// verdict; Assessments carries four independently populated policy
// blocks, any of which may be absent.
type Response struct {
	Action      string      `json:"action"`
	Assessments Assessments `json:"assessments"`
}

// Assessments groups the four policy blocks of one evaluation call
type Assessments struct {
	TopicPolicy                *TopicPolicyBlock         `json:"topicPolicy,omitempty"`
	ContentPolicy              *ContentPolicyBlock       `json:"contentPolicy,omitempty"`
	SensitiveInformationPolicy *SensitiveInfoPolicyBlock `json:"sensitiveInformationPolicy,omitempty"`
	ContextualGroundingPolicy  *GroundingPolicyBlock     `json:"contextualGroundingPolicy,omitempty"`
}

// TopicPolicyBlock lists denied-topic matches
type TopicPolicyBlock struct {
	Topics []TopicMatch `json:"topics"`
}

// TopicMatch is one denied-topic hit
type TopicMatch struct {
	Name   string `json:"name"`
	Type   string `json:"type"`
	Action string `json:"action"`
}

// ContentPolicyBlock lists harmful-content filter matches
type ContentPolicyBlock struct {
	Filters []ContentFilterMatch `json:"filters"`
}

// ContentFilterMatch is one content-category hit
type ContentFilterMatch struct {
	Type       string `json:"type"`
	Confidence string `json:"confidence"`
	Action     string `json:"action"`
}

// SensitiveInfoPolicyBlock lists sensitive-information matches. Generic
// entities (email, phone, address, age) and domain-specific regex
// patterns (national id, clinical record number) are reported in
// separate lists and normalize to distinct violation kinds.
type SensitiveInfoPolicyBlock struct {
	PIIEntities []PIIEntityMatch `json:"piiEntities"`
	Regexes     []RegexMatch     `json:"regexes"`
}

// PIIEntityMatch is one generic sensitive-entity hit
type PIIEntityMatch struct {
	Type   string `json:"type"`
	Action string `json:"action"`
}

// RegexMatch is one domain-specific pattern hit
type RegexMatch struct {
	Name   string `json:"name"`
	Action string `json:"action"`
}

// GroundingPolicyBlock lists contextual-grounding filter results
type GroundingPolicyBlock struct {
	Filters []GroundingFilterMatch `json:"filters"`
}

// GroundingFilterMatch is one grounding score below threshold
type GroundingFilterMatch struct {
	Type      string  `json:"type"`
	Score     float64 `json:"score"`
	Threshold float64 `json:"threshold"`
	Action    string  `json:"action"`
}

// Result is the normalized outcome of evaluating one message
type Result struct {
	Source     models.EvaluationSource
	Action     models.EvaluationAction
	Violations []models.Violation
	// FailedOpen is set when the evaluator was unreachable and the
	// result degraded to NONE
	FailedOpen bool
}
