// Package identity extracts candidate patient identifiers from free
// message text. Extraction is deterministic and does no network or
// storage access; ambiguous or absent matches yield an empty list.
package identity

import (
	"regexp"
	"sort"
)

// Kind classifies what shape of identifier a candidate is
type Kind string

const (
	KindNationalID    Kind = "national_id"
	KindRecordNumber  Kind = "record_number"
	KindName          Kind = "name"
	KindExplicitClaim Kind = "explicit_session_claim"
)

// Confidence distinguishes an explicit user statement from an
// incidental pattern match
type Confidence string

const (
	// ConfidenceExplicit means the user stated the session's patient
	ConfidenceExplicit Confidence = "explicit"
	// ConfidenceInferred means a pattern matched incidentally
	ConfidenceInferred Confidence = "inferred"
)

// Candidate is one extracted patient identifier. Candidates are not
// persisted; they only feed the synchronizer for the current turn.
type Candidate struct {
	Value      string     `json:"value"`
	Kind       Kind       `json:"kind"`
	Confidence Confidence `json:"confidence"`
}

// nameToken matches a proper-noun token, allowing accented letters,
// digits and underscores ("Juan_Perez_123", "Maria").
const nameToken = `[A-ZÁÉÍÓÚÑ][A-Za-z0-9ÁÉÍÓÚÑáéíóúñ_-]*`

var (
	// explicit binding phrases, English and Spanish
	explicitClaimRe = regexp.MustCompile(
		`(?i:this\s+session\s+(?:belongs\s+to|is\s+for)\s+patient|` +
			`esta\s+sesi(?:ó|o)n\s+(?:es\s+del?|pertenece\s+al?)\s+paciente|` +
			`la\s+sesi(?:ó|o)n\s+(?:es\s+del?|pertenece\s+al?)\s+paciente)` +
			`\s+(` + nameToken + `(?:\s+` + nameToken + `)*)`)

	// national-id-shaped numeric tokens (8 to 10 digits)
	nationalIDRe = regexp.MustCompile(`(?:^|[^\d-])(\d{8,10})(?:[^\d-]|$)`)

	// clinical record numbers: fixed HC prefix plus digits
	recordNumberRe = regexp.MustCompile(`\b(HC-?\d{4,10})\b`)

	// proper-noun sequences following a patient-reference keyword
	nameAfterKeywordRe = regexp.MustCompile(
		`(?i:patient|paciente|notes\s+for|notas\s+(?:de|del)(?:\s+paciente)?)` +
			`\s+(` + nameToken + `(?:\s+` + nameToken + `)*)`)
)

// kindPriority orders candidate kinds when the same value matches more
// than one rule; the strongest interpretation wins.
var kindPriority = map[Kind]int{
	KindExplicitClaim: 0,
	KindNationalID:    1,
	KindRecordNumber:  2,
	KindName:          3,
}

type match struct {
	cand  Candidate
	start int
	end   int
}

// Extract scans text and returns candidates in document order. A value
// that matches multiple rules is reported once, under its strongest
// kind (an explicit claim suppresses the incidental name match inside
// the same phrase).
func Extract(text string) []Candidate {
	var matches []match

	for _, m := range explicitClaimRe.FindAllStringSubmatchIndex(text, -1) {
		matches = append(matches, match{
			cand: Candidate{
				Value:      text[m[2]:m[3]],
				Kind:       KindExplicitClaim,
				Confidence: ConfidenceExplicit,
			},
			start: m[2],
			end:   m[3],
		})
	}

	var recordSpans [][2]int
	for _, m := range recordNumberRe.FindAllStringSubmatchIndex(text, -1) {
		recordSpans = append(recordSpans, [2]int{m[2], m[3]})
		matches = append(matches, match{
			cand: Candidate{
				Value:      text[m[2]:m[3]],
				Kind:       KindRecordNumber,
				Confidence: ConfidenceInferred,
			},
			start: m[2],
			end:   m[3],
		})
	}

	for _, m := range nationalIDRe.FindAllStringSubmatchIndex(text, -1) {
		// digits belonging to a record number are not a national id
		if overlapsAny(recordSpans, m[2], m[3]) {
			continue
		}
		matches = append(matches, match{
			cand: Candidate{
				Value:      text[m[2]:m[3]],
				Kind:       KindNationalID,
				Confidence: ConfidenceInferred,
			},
			start: m[2],
			end:   m[3],
		})
	}

	for _, m := range nameAfterKeywordRe.FindAllStringSubmatchIndex(text, -1) {
		matches = append(matches, match{
			cand: Candidate{
				Value:      text[m[2]:m[3]],
				Kind:       KindName,
				Confidence: ConfidenceInferred,
			},
			start: m[2],
			end:   m[3],
		})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].start != matches[j].start {
			return matches[i].start < matches[j].start
		}
		return kindPriority[matches[i].cand.Kind] < kindPriority[matches[j].cand.Kind]
	})

	// keep one candidate per value, strongest kind wins
	best := make(map[string]int)
	var out []Candidate
	for _, m := range matches {
		if i, seen := best[m.cand.Value]; seen {
			if kindPriority[m.cand.Kind] < kindPriority[out[i].Kind] {
				out[i] = m.cand
			}
			continue
		}
		best[m.cand.Value] = len(out)
		out = append(out, m.cand)
	}
	return out
}

func overlapsAny(spans [][2]int, start, end int) bool {
	for _, s := range spans {
		if start < s[1] && end > s[0] {
			return true
		}
	}
	return false
}
