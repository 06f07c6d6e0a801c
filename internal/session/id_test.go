package session

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"clinical-copilot/backend/internal/models"
)

func TestNewIDMeetsMinimumLength(t *testing.T) {
	for i := 0; i < 100; i++ {
		id := NewID()
		assert.GreaterOrEqual(t, len(id), models.MinSessionIDLength)
	}
}

func TestNewIDHasPrefixAndCharset(t *testing.T) {
	id := NewID()
	assert.True(t, strings.HasPrefix(id, "ses_"))
	for _, r := range id[len("ses_"):] {
		assert.Contains(t, "0123456789abcdef", string(r))
	}
}

func TestNewIDUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		assert.False(t, seen[id], "duplicate session id generated")
		seen[id] = true
	}
}
