package guardrail

import (
	"clinical-copilot/backend/internal/models"
)

// ParseAssessments normalizes one evaluation response into violation
// records. Each policy block's violations are appended to the shared
// result slice immediately after that block is parsed, so a populated
// block can never be lost to a later block overwriting an accumulator.
func ParseAssessments(a Assessments) []models.Violation {
	violations := make([]models.Violation, 0, 4)

	if a.TopicPolicy != nil {
		for _, t := range a.TopicPolicy.Topics {
			violations = append(violations, models.NewTopicViolation(models.TopicPolicyDetail{
				Topic:      t.Name,
				PolicyType: t.Type,
				Action:     t.Action,
			}))
		}
	}

	if a.ContentPolicy != nil {
		for _, f := range a.ContentPolicy.Filters {
			violations = append(violations, models.NewContentViolation(models.ContentPolicyDetail{
				ContentType: f.Type,
				Confidence:  f.Confidence,
				Action:      f.Action,
			}))
		}
	}

	if a.SensitiveInformationPolicy != nil {
		for _, e := range a.SensitiveInformationPolicy.PIIEntities {
			violations = append(violations, models.NewPIIEntityViolation(models.PIIEntityDetail{
				PIIType: e.Type,
				Action:  e.Action,
			}))
		}
		for _, r := range a.SensitiveInformationPolicy.Regexes {
			violations = append(violations, models.NewPIIRegexViolation(models.PIIRegexDetail{
				PatternName: r.Name,
				Action:      r.Action,
			}))
		}
	}

	if a.ContextualGroundingPolicy != nil {
		for _, f := range a.ContextualGroundingPolicy.Filters {
			violations = append(violations, models.NewGroundingViolation(models.GroundingPolicyDetail{
				GroundingType: f.Type,
				Score:         f.Score,
				Threshold:     f.Threshold,
				Action:        f.Action,
			}))
		}
	}

	return violations
}
