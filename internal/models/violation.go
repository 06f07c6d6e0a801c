package models

// ViolationKind tags the policy block a violation was parsed from.
// The five kinds form a closed set; guardrail.ParseAssessments switches
// over all of them so a new kind is a compile-time gap, not a silent one.
type ViolationKind string

const (
	ViolationTopicPolicy     ViolationKind = "topic_policy"
	ViolationContentPolicy   ViolationKind = "content_policy"
	ViolationPIIEntity       ViolationKind = "pii_entity"
	ViolationPIIRegex        ViolationKind = "pii_regex"
	ViolationGroundingPolicy ViolationKind = "grounding_policy"
)

// TopicPolicyDetail records a denied-topic match
type TopicPolicyDetail struct {
	Topic      string `json:"topic"`
	PolicyType string `json:"policy_type"`
	Action     string `json:"action"`
}

// ContentPolicyDetail records a harmful-content category match
type ContentPolicyDetail struct {
	ContentType string `json:"content_type"`
	Confidence  string `json:"confidence"`
	Action      string `json:"action"`
}

// PIIEntityDetail records a generic sensitive-entity match (email, phone, ...)
type PIIEntityDetail struct {
	PIIType string `json:"pii_type"`
	Action  string `json:"action"`
}

// PIIRegexDetail records a domain-specific pattern match
// (national id, clinical record number, ...)
type PIIRegexDetail struct {
	PatternName string `json:"pattern_name"`
	Action      string `json:"action"`
}

// GroundingPolicyDetail records a contextual-grounding score below threshold
type GroundingPolicyDetail struct {
	GroundingType string  `json:"grounding_type"`
	Score         float64 `json:"score"`
	Threshold     float64 `json:"threshold"`
	Action        string  `json:"action"`
}

// Violation is a tagged variant: Kind selects which detail pointer is set.
// Exactly one detail field is non-nil for a well-formed violation.
type Violation struct {
	Kind      ViolationKind          `json:"kind"`
	Topic     *TopicPolicyDetail     `json:"topic_policy,omitempty"`
	Content   *ContentPolicyDetail   `json:"content_policy,omitempty"`
	PIIEntity *PIIEntityDetail       `json:"pii_entity,omitempty"`
	PIIRegex  *PIIRegexDetail        `json:"pii_regex,omitempty"`
	Grounding *GroundingPolicyDetail `json:"grounding_policy,omitempty"`
}

// NewTopicViolation builds a topic_policy violation
func NewTopicViolation(d TopicPolicyDetail) Violation {
	return Violation{Kind: ViolationTopicPolicy, Topic: &d}
}

// NewContentViolation builds a content_policy violation
func NewContentViolation(d ContentPolicyDetail) Violation {
	return Violation{Kind: ViolationContentPolicy, Content: &d}
}

// NewPIIEntityViolation builds a pii_entity violation
func NewPIIEntityViolation(d PIIEntityDetail) Violation {
	return Violation{Kind: ViolationPIIEntity, PIIEntity: &d}
}

// NewPIIRegexViolation builds a pii_regex violation
func NewPIIRegexViolation(d PIIRegexDetail) Violation {
	return Violation{Kind: ViolationPIIRegex, PIIRegex: &d}
}

// NewGroundingViolation builds a grounding_policy violation
func NewGroundingViolation(d GroundingPolicyDetail) Violation {
	return Violation{Kind: ViolationGroundingPolicy, Grounding: &d}
}
