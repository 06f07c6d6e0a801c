package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractExplicitClaimSpanish(t *testing.T) {
	cands := Extract("Esta sesión es del paciente Juan_Perez_123. Tengo dolor de cabeza.")

	require.Len(t, cands, 1)
	assert.Equal(t, "Juan_Perez_123", cands[0].Value)
	assert.Equal(t, KindExplicitClaim, cands[0].Kind)
	assert.Equal(t, ConfidenceExplicit, cands[0].Confidence)
}

func TestExtractExplicitClaimEnglish(t *testing.T) {
	cands := Extract("This session belongs to patient Maria_Garcia")

	require.Len(t, cands, 1)
	assert.Equal(t, "Maria_Garcia", cands[0].Value)
	assert.Equal(t, KindExplicitClaim, cands[0].Kind)
}

func TestExtractNationalID(t *testing.T) {
	cands := Extract("el número de cédula es 12345678 según el registro")

	require.Len(t, cands, 1)
	assert.Equal(t, "12345678", cands[0].Value)
	assert.Equal(t, KindNationalID, cands[0].Kind)
	assert.Equal(t, ConfidenceInferred, cands[0].Confidence)
}

func TestExtractNationalIDLengthBounds(t *testing.T) {
	// 7 digits is too short, 11 too long
	assert.Empty(t, Extract("code 1234567 end"))
	assert.Empty(t, Extract("code 12345678901 end"))
}

func TestExtractRecordNumber(t *testing.T) {
	cands := Extract("ver historia HC-20240123 del archivo")

	require.Len(t, cands, 1)
	assert.Equal(t, "HC-20240123", cands[0].Value)
	assert.Equal(t, KindRecordNumber, cands[0].Kind)
}

func TestExtractRecordNumberDigitsNotDoubleCounted(t *testing.T) {
	// the 8 digits inside HC-20240123 must not also surface as a national id
	cands := Extract("historia HC-20240123")

	require.Len(t, cands, 1)
	assert.Equal(t, KindRecordNumber, cands[0].Kind)
}

func TestExtractNameAfterKeyword(t *testing.T) {
	cands := Extract("Ahora hablemos del paciente Maria_Garcia")

	require.Len(t, cands, 1)
	assert.Equal(t, "Maria_Garcia", cands[0].Value)
	assert.Equal(t, KindName, cands[0].Kind)
	assert.Equal(t, ConfidenceInferred, cands[0].Confidence)
}

func TestExtractMultiWordName(t *testing.T) {
	cands := Extract("notes for Ana Maria Lopez from yesterday")

	require.Len(t, cands, 1)
	assert.Equal(t, "Ana Maria Lopez", cands[0].Value)
	assert.Equal(t, KindName, cands[0].Kind)
}

func TestExtractMultipleCandidates(t *testing.T) {
	cands := Extract("paciente Maria_Garcia con cédula 98765432 e historia HC-4411")

	require.Len(t, cands, 3)
	assert.Equal(t, KindName, cands[0].Kind)
	assert.Equal(t, "98765432", cands[1].Value)
	assert.Equal(t, KindNationalID, cands[1].Kind)
	assert.Equal(t, "HC-4411", cands[2].Value)
	assert.Equal(t, KindRecordNumber, cands[2].Kind)
}

func TestExtractNoMatchIsEmpty(t *testing.T) {
	assert.Empty(t, Extract("tengo dolor de cabeza desde ayer"))
	assert.Empty(t, Extract(""))
}

func TestExtractDocumentOrderPreserved(t *testing.T) {
	cands := Extract(
		"Esta sesión es del paciente Juan_Perez. " +
			"Esta sesión es del paciente Pedro_Gomez.")

	require.Len(t, cands, 2)
	assert.Equal(t, "Juan_Perez", cands[0].Value)
	assert.Equal(t, "Pedro_Gomez", cands[1].Value)
}

func TestExtractLowercaseWordAfterKeywordIgnored(t *testing.T) {
	// "paciente" followed by a non-proper-noun is not a name candidate
	assert.Empty(t, Extract("el paciente mejora con el tratamiento"))
}
