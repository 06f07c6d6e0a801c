package patientctx

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-copilot/backend/internal/identity"
	"clinical-copilot/backend/internal/models"
	"clinical-copilot/backend/pkg/logger"
)

// fakeLookup resolves candidates from a fixed table; values absent from
// the table do not resolve. A non-nil err simulates a directory outage.
type fakeLookup struct {
	table map[string]string
	err   error
}

func (f *fakeLookup) Resolve(_ context.Context, cand identity.Candidate) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	if id, ok := f.table[cand.Value]; ok {
		return id, nil
	}
	return "", ErrPatientNotFound
}

func testSync(lookup Lookup) *Synchronizer {
	log := logger.New(logger.Config{Level: "error", Output: io.Discard})
	return NewSynchronizer(lookup, log, nil, nil)
}

func unboundSession() *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:         "ses_0123456789abcdef0123456789abcdef",
		Status:     models.SessionActive,
		CreatedAt:  now,
		LastUsedAt: now,
	}
}

func boundSession(patientID string) *models.Session {
	s := unboundSession()
	s.BoundPatientID = patientID
	return s
}

func explicit(value string) identity.Candidate {
	return identity.Candidate{Value: value, Kind: identity.KindExplicitClaim, Confidence: identity.ConfidenceExplicit}
}

func inferred(value string, kind identity.Kind) identity.Candidate {
	return identity.Candidate{Value: value, Kind: kind, Confidence: identity.ConfidenceInferred}
}

func TestSyncBindsUnboundSession(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{"Juan_Perez_123": "patient-juan"}})

	d := sync.Sync(context.Background(), unboundSession(), []identity.Candidate{explicit("Juan_Perez_123")})

	assert.Equal(t, DecisionBind, d.Kind)
	assert.Equal(t, "patient-juan", d.PatientID)
	assert.Empty(t, d.PreviousPatientID)
}

func TestSyncNoopWhenNothingResolves(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{}})

	d := sync.Sync(context.Background(), unboundSession(), []identity.Candidate{
		inferred("99999999", identity.KindNationalID),
	})

	// no spurious binding: unbound stays unbound
	assert.Equal(t, DecisionNoop, d.Kind)
}

func TestSyncNoopWithoutCandidates(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{}})
	d := sync.Sync(context.Background(), unboundSession(), nil)
	assert.Equal(t, DecisionNoop, d.Kind)
}

func TestSyncNoopWhenSamePatient(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{"12345678": "patient-juan"}})

	d := sync.Sync(context.Background(), boundSession("patient-juan"), []identity.Candidate{
		inferred("12345678", identity.KindNationalID),
	})

	assert.Equal(t, DecisionNoop, d.Kind)
}

func TestSyncResetsOnConflictingPatient(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{"Maria_Garcia": "patient-maria"}})

	d := sync.Sync(context.Background(), boundSession("patient-juan"), []identity.Candidate{
		inferred("Maria_Garcia", identity.KindName),
	})

	assert.Equal(t, DecisionReset, d.Kind)
	assert.Equal(t, "patient-maria", d.PatientID)
	assert.Equal(t, "patient-juan", d.PreviousPatientID)
}

func TestSyncDoesNotUnbindOnFailedLookup(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{}})

	d := sync.Sync(context.Background(), boundSession("patient-juan"), []identity.Candidate{
		inferred("Desconocida_Persona", identity.KindName),
	})

	assert.Equal(t, DecisionNoop, d.Kind)
}

func TestSyncExplicitClaimWinsOverInferred(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{
		"12345678":    "patient-otro",
		"Maria_Lopez": "patient-maria",
	}})

	// the inferred national id appears first but the explicit claim wins
	d := sync.Sync(context.Background(), unboundSession(), []identity.Candidate{
		inferred("12345678", identity.KindNationalID),
		explicit("Maria_Lopez"),
	})

	assert.Equal(t, DecisionBind, d.Kind)
	assert.Equal(t, "patient-maria", d.PatientID)
}

func TestSyncLastExplicitClaimWins(t *testing.T) {
	sync := testSync(&fakeLookup{table: map[string]string{
		"Juan_Perez":  "patient-juan",
		"Pedro_Gomez": "patient-pedro",
	}})

	d := sync.Sync(context.Background(), boundSession("patient-juan"), []identity.Candidate{
		explicit("Juan_Perez"),
		explicit("Pedro_Gomez"),
	})

	// conflicting explicit claims: the most recent one applies, and the
	// changed rule still fires against the bound patient
	require.Equal(t, DecisionReset, d.Kind)
	assert.Equal(t, "patient-pedro", d.PatientID)
	assert.Equal(t, "patient-juan", d.PreviousPatientID)
}

func TestSyncLookupOutageIsNoop(t *testing.T) {
	sync := testSync(&fakeLookup{err: errors.New("directory unreachable")})

	d := sync.Sync(context.Background(), boundSession("patient-juan"), []identity.Candidate{
		explicit("Maria_Lopez"),
	})

	// an outage must never unbind or reset
	assert.Equal(t, DecisionNoop, d.Kind)
}
