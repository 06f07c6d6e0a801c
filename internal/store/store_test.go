package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"clinical-copilot/backend/internal/models"
)

func newSession(id, patientID string) *models.Session {
	now := time.Now().UTC()
	return &models.Session{
		ID:             id,
		BoundPatientID: patientID,
		Status:         models.SessionActive,
		CreatedAt:      now,
		LastUsedAt:     now,
	}
}

const testSessionID = "ses_0123456789abcdef0123456789abcdef"

func TestMemoryStoreSessionRoundTrip(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	require.NoError(t, s.CreateSession(ctx, newSession(testSessionID, "")))

	got, err := s.GetSession(ctx, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, testSessionID, got.ID)
	assert.Empty(t, got.BoundPatientID)
	assert.Equal(t, models.SessionActive, got.Status)
}

func TestMemoryStoreGetMissingSession(t *testing.T) {
	s := NewMemoryStore()
	_, err := s.GetSession(context.Background(), "ses_missing_missing_missing_missing")
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestMemoryStoreUpdateSession(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(testSessionID, "")))

	updated, err := s.UpdateSession(ctx, testSessionID, func(sess *models.Session) error {
		sess.BoundPatientID = "patient-1"
		sess.MessageCount++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "patient-1", updated.BoundPatientID)
	assert.Equal(t, 1, updated.MessageCount)

	got, err := s.GetSession(ctx, testSessionID)
	require.NoError(t, err)
	assert.Equal(t, "patient-1", got.BoundPatientID)
}

func TestMemoryStoreMessagesAppendOnly(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(testSessionID, "")))

	for i, content := range []string{"hola", "buenas", "gracias"} {
		idx, err := s.AppendMessage(ctx, &models.Message{
			SessionID: testSessionID,
			Role:      models.RoleUser,
			Content:   content,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)
		assert.Equal(t, i, idx)
	}

	msgs, total, err := s.Messages(ctx, testSessionID, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, msgs, 3)
	assert.Equal(t, "hola", msgs[0].Content)
	assert.Equal(t, "gracias", msgs[2].Content)

	page, total, err := s.Messages(ctx, testSessionID, 1, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, page, 1)
	assert.Equal(t, "buenas", page[0].Content)
}

func TestMemoryStoreInterventionsAccumulate(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.CreateSession(ctx, newSession(testSessionID, "patient-1")))

	var lastLen int
	for i := 0; i < 4; i++ {
		_, err := s.AppendIntervention(ctx, &models.Intervention{
			SessionID: testSessionID,
			Source:    models.SourceInput,
			Action:    models.ActionNone,
			Timestamp: time.Now().UTC(),
		})
		require.NoError(t, err)

		ivs, err := s.Interventions(ctx, testSessionID)
		require.NoError(t, err)
		// accumulation is monotonic: the list never shrinks
		assert.GreaterOrEqual(t, len(ivs), lastLen)
		lastLen = len(ivs)
	}
	assert.Equal(t, 4, lastLen)
}

func TestMemoryStoreTurnLock(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	token, ok, err := s.AcquireTurnLock(ctx, testSessionID, time.Minute)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotEmpty(t, token)

	// a second turn for the same session must not get the lock
	_, ok, err = s.AcquireTurnLock(ctx, testSessionID, time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	// a different session proceeds in parallel
	_, ok, err = s.AcquireTurnLock(ctx, "ses_ffffffffffffffffffffffffffffffff", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)

	owns, err := s.CheckTurnLock(ctx, testSessionID, token)
	require.NoError(t, err)
	assert.True(t, owns)
	owns, err = s.CheckTurnLock(ctx, testSessionID, "some-other-token")
	require.NoError(t, err)
	assert.False(t, owns)

	require.NoError(t, s.ReleaseTurnLock(ctx, testSessionID, token))
	owns, err = s.CheckTurnLock(ctx, testSessionID, token)
	require.NoError(t, err)
	assert.False(t, owns)

	_, ok, err = s.AcquireTurnLock(ctx, testSessionID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreLockExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	token, ok, err := s.AcquireTurnLock(ctx, testSessionID, time.Millisecond)
	require.NoError(t, err)
	require.True(t, ok)

	time.Sleep(5 * time.Millisecond)

	// an abandoned lock expires rather than wedging the session, and
	// its token no longer passes the ownership check
	owns, err := s.CheckTurnLock(ctx, testSessionID, token)
	require.NoError(t, err)
	assert.False(t, owns)

	_, ok, err = s.AcquireTurnLock(ctx, testSessionID, time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestMemoryStoreActiveSessions(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	active := newSession(testSessionID, "")
	archived := newSession("ses_aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa", "patient-2")
	archived.Status = models.SessionArchived
	require.NoError(t, s.CreateSession(ctx, active))
	require.NoError(t, s.CreateSession(ctx, archived))

	got, err := s.ActiveSessions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, testSessionID, got[0].ID)
}

func TestObjectKeyLayout(t *testing.T) {
	assert.Equal(t, "patient-1/ses_1/session.json", sessionKey("patient-1", "ses_1"))
	assert.Equal(t, "unknown/ses_1/messages/0.json", messageKey(models.UnknownPatient, "ses_1", 0))
	assert.Equal(t, "patient-1/ses_1/interventions/7.json", interventionKey("patient-1", "ses_1", 7))
	assert.Equal(t, "sessions/ses_1", sessionIndexKey("ses_1"))
	assert.Equal(t, "locks/turn/ses_1", turnLockKey("ses_1"))
}
