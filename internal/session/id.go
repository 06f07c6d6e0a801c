package session

import (
	"fmt"

	"github.com/google/uuid"

	"clinical-copilot/backend/internal/models"
)

// idPrefix marks engine-generated session ids
const idPrefix = "ses_"

// NewID returns a new session id. Two concatenated UUIDv4 hex strings
// give 68 characters, comfortably above the downstream runtime's
// 33-character minimum and long enough that collisions are not a
// practical concern under high concurrency. No padding is involved:
// the length invariant holds by construction.
func NewID() string {
	a := uuid.New()
	b := uuid.New()
	id := fmt.Sprintf("%s%x%x", idPrefix, a[:], b[:])
	if len(id) < models.MinSessionIDLength {
		// unreachable; guards against a future format change
		panic("session id shorter than minimum length")
	}
	return id
}
