package guardrail

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-copilot/backend/internal/models"
)

func TestParseAssessmentsCapturesEveryPopulatedBlock(t *testing.T) {
	// one response with violations in all four policy blocks must yield
	// at least one violation per block; a shared accumulator overwritten
	// per block would keep only the last one
	a := Assessments{
		TopicPolicy: &TopicPolicyBlock{Topics: []TopicMatch{
			{Name: "medical_advice_outside_scope", Type: "DENY", Action: "BLOCKED"},
		}},
		ContentPolicy: &ContentPolicyBlock{Filters: []ContentFilterMatch{
			{Type: "VIOLENCE", Confidence: "HIGH", Action: "BLOCKED"},
		}},
		SensitiveInformationPolicy: &SensitiveInfoPolicyBlock{
			PIIEntities: []PIIEntityMatch{{Type: "EMAIL", Action: "ANONYMIZED"}},
			Regexes:     []RegexMatch{{Name: "CedulaColombia", Action: "ANONYMIZED"}},
		},
		ContextualGroundingPolicy: &GroundingPolicyBlock{Filters: []GroundingFilterMatch{
			{Type: "GROUNDING", Score: 0.21, Threshold: 0.75, Action: "BLOCKED"},
		}},
	}

	violations := ParseAssessments(a)

	require.Len(t, violations, 5)
	kinds := make(map[models.ViolationKind]int)
	for _, v := range violations {
		kinds[v.Kind]++
	}
	assert.Equal(t, 1, kinds[models.ViolationTopicPolicy])
	assert.Equal(t, 1, kinds[models.ViolationContentPolicy])
	assert.Equal(t, 1, kinds[models.ViolationPIIEntity])
	assert.Equal(t, 1, kinds[models.ViolationPIIRegex])
	assert.Equal(t, 1, kinds[models.ViolationGroundingPolicy])
}

func TestParseAssessmentsEntityAndRegexAreDistinct(t *testing.T) {
	a := Assessments{
		SensitiveInformationPolicy: &SensitiveInfoPolicyBlock{
			PIIEntities: []PIIEntityMatch{{Type: "EMAIL", Action: "ANONYMIZED"}},
			Regexes:     []RegexMatch{{Name: "CedulaColombia", Action: "BLOCKED"}},
		},
	}

	violations := ParseAssessments(a)

	require.Len(t, violations, 2)
	assert.Equal(t, models.ViolationPIIEntity, violations[0].Kind)
	require.NotNil(t, violations[0].PIIEntity)
	assert.Equal(t, "EMAIL", violations[0].PIIEntity.PIIType)
	assert.Equal(t, models.ViolationPIIRegex, violations[1].Kind)
	require.NotNil(t, violations[1].PIIRegex)
	assert.Equal(t, "CedulaColombia", violations[1].PIIRegex.PatternName)
}

func TestParseAssessmentsEmptyResponse(t *testing.T) {
	violations := ParseAssessments(Assessments{})
	assert.Empty(t, violations)
}

func TestParseAssessmentsMultipleMatchesPerBlock(t *testing.T) {
	a := Assessments{
		ContentPolicy: &ContentPolicyBlock{Filters: []ContentFilterMatch{
			{Type: "HATE", Confidence: "LOW", Action: "NONE"},
			{Type: "INSULTS", Confidence: "MEDIUM", Action: "BLOCKED"},
		}},
	}

	violations := ParseAssessments(a)

	require.Len(t, violations, 2)
	assert.Equal(t, "HATE", violations[0].Content.ContentType)
	assert.Equal(t, "INSULTS", violations[1].Content.ContentType)
}

func TestParseAssessmentsPreservesBlockOrder(t *testing.T) {
	a := Assessments{
		TopicPolicy: &TopicPolicyBlock{Topics: []TopicMatch{
			{Name: "billing", Type: "DENY", Action: "BLOCKED"},
		}},
		ContextualGroundingPolicy: &GroundingPolicyBlock{Filters: []GroundingFilterMatch{
			{Type: "RELEVANCE", Score: 0.1, Threshold: 0.5, Action: "BLOCKED"},
		}},
	}

	violations := ParseAssessments(a)

	require.Len(t, violations, 2)
	assert.Equal(t, models.ViolationTopicPolicy, violations[0].Kind)
	assert.Equal(t, models.ViolationGroundingPolicy, violations[1].Kind)
}
