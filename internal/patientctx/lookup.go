// Package patientctx keeps a session's bound patient consistent with
// the identities mentioned in the conversation. It decides, per turn,
// whether to bind a patient, do nothing, or security-reset the session.
package patientctx

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"clinical-copilot/backend/internal/identity"
	"clinical-copilot/backend/internal/models"
)

// ErrPatientNotFound means the candidate matched no directory entry.
// It is a normal outcome, not a failure.
var ErrPatientNotFound = errors.New("patient not found")

// Lookup resolves an extracted candidate to a canonical patient id
type Lookup interface {
	Resolve(ctx context.Context, cand identity.Candidate) (string, error)
}

// DirectoryLookup resolves candidates against the patient directory table
type DirectoryLookup struct {
	db *gorm.DB
}

// NewDirectoryLookup creates a directory-backed lookup
func NewDirectoryLookup(db *gorm.DB) *DirectoryLookup {
	return &DirectoryLookup{db: db}
}

// Resolve maps a candidate to a canonical patient id, or
// ErrPatientNotFound. Any other error means the directory itself was
// unreachable, which callers treat as "does not resolve."
func (l *DirectoryLookup) Resolve(ctx context.Context, cand identity.Candidate) (string, error) {
	switch cand.Kind {
	case identity.KindNationalID:
		return l.one(ctx, "national_id = ?", cand.Value)
	case identity.KindRecordNumber:
		return l.one(ctx, "record_number = ?", normalizeRecord(cand.Value))
	case identity.KindName:
		return l.one(ctx, "LOWER(full_name) = ?", normalizeName(cand.Value))
	case identity.KindExplicitClaim:
		// an explicit claim may carry any identifier shape
		for _, attempt := range []struct {
			query string
			value string
		}{
			{"id = ?", cand.Value},
			{"national_id = ?", cand.Value},
			{"record_number = ?", normalizeRecord(cand.Value)},
			{"LOWER(full_name) = ?", normalizeName(cand.Value)},
		} {
			id, err := l.one(ctx, attempt.query, attempt.value)
			if err == nil {
				return id, nil
			}
			if !errors.Is(err, ErrPatientNotFound) {
				return "", err
			}
		}
		return "", ErrPatientNotFound
	default:
		return "", fmt.Errorf("unknown candidate kind %q", cand.Kind)
	}
}

func (l *DirectoryLookup) one(ctx context.Context, query, value string) (string, error) {
	var patient models.Patient
	err := l.db.WithContext(ctx).Where(query, value).First(&patient).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrPatientNotFound
	}
	if err != nil {
		return "", fmt.Errorf("patient directory query: %w", err)
	}
	return patient.ID, nil
}

// normalizeName folds case and treats underscores as spaces, so
// "Juan_Perez" matches the directory entry "juan perez"
func normalizeName(v string) string {
	return strings.ToLower(strings.ReplaceAll(v, "_", " "))
}

// normalizeRecord strips the optional hyphen after the HC prefix
func normalizeRecord(v string) string {
	upper := strings.ToUpper(v)
	return strings.Replace(upper, "HC-", "HC", 1)
}
