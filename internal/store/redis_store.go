package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"clinical-copilot/backend/internal/models"
	sharedredis "clinical-copilot/backend/shared/redis"
)

// casRetries bounds optimistic-transaction retries before reporting a conflict
const casRetries = 3

// RedisStore implements SessionStore on redis. Every object is a JSON
// value addressed by the layout in keys.go; an index entry per session
// records which patient prefix currently owns it.
type RedisStore struct {
	client *sharedredis.Client
}

// NewRedisStore creates a redis-backed session store
func NewRedisStore(client *sharedredis.Client) *RedisStore {
	return &RedisStore{client: client}
}

// CreateSession persists a new session object and registers it active
func (r *RedisStore) CreateSession(ctx context.Context, s *models.Session) error {
	body, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	prefix := s.PatientPrefix()

	_, err = r.client.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, sessionIndexKey(s.ID), prefix, 0)
		pipe.Set(ctx, sessionKey(prefix, s.ID), body, 0)
		pipe.SAdd(ctx, activeSetKey, s.ID)
		return nil
	})
	if err != nil {
		return fmt.Errorf("create session %s: %w", s.ID, err)
	}
	return nil
}

// GetSession loads a session by id
func (r *RedisStore) GetSession(ctx context.Context, id string) (*models.Session, error) {
	prefix, err := r.prefixFor(ctx, id)
	if err != nil {
		return nil, err
	}

	body, err := r.client.Get(ctx, sessionKey(prefix, id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session %s: %w", id, err)
	}

	var s models.Session
	if err := json.Unmarshal(body, &s); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, id, err)
	}
	return &s, nil
}

// UpdateSession applies mutate under an optimistic WATCH transaction.
// If the bound patient changes, the session's objects are moved to the
// new patient prefix so retention stays privacy-scoped.
func (r *RedisStore) UpdateSession(ctx context.Context, id string, mutate func(*models.Session) error) (*models.Session, error) {
	var updated *models.Session

	for attempt := 0; attempt < casRetries; attempt++ {
		prefix, err := r.prefixFor(ctx, id)
		if err != nil {
			return nil, err
		}
		key := sessionKey(prefix, id)

		err = r.client.Watch(ctx, func(tx *goredis.Tx) error {
			body, err := tx.Get(ctx, key).Bytes()
			if errors.Is(err, goredis.Nil) {
				return ErrSessionNotFound
			}
			if err != nil {
				return err
			}

			var s models.Session
			if err := json.Unmarshal(body, &s); err != nil {
				return fmt.Errorf("%w: %s: %v", ErrSessionCorrupt, id, err)
			}
			if err := mutate(&s); err != nil {
				return err
			}

			newBody, err := json.Marshal(&s)
			if err != nil {
				return fmt.Errorf("marshal session: %w", err)
			}
			newPrefix := s.PatientPrefix()

			_, err = tx.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
				if newPrefix != prefix {
					pipe.Del(ctx, key)
					pipe.Set(ctx, sessionIndexKey(id), newPrefix, 0)
					r.moveChildren(ctx, pipe, prefix, newPrefix, id)
				}
				pipe.Set(ctx, sessionKey(newPrefix, id), newBody, 0)
				if s.Status == models.SessionArchived {
					pipe.SRem(ctx, activeSetKey, id)
				}
				return nil
			})
			if err == nil {
				updated = &s
			}
			return err
		}, key, sessionIndexKey(id))

		if errors.Is(err, goredis.TxFailedErr) {
			continue
		}
		if err != nil {
			return nil, err
		}
		return updated, nil
	}
	return nil, ErrConflict
}

// moveChildren renames message and intervention objects to a new
// patient prefix. Counts are read outside the transaction; appends are
// serialized per session so no new children appear mid-move.
func (r *RedisStore) moveChildren(ctx context.Context, pipe goredis.Pipeliner, oldPrefix, newPrefix, id string) {
	msgCount, _ := r.client.Get(ctx, messageCountKey(oldPrefix, id)).Int()
	for i := 0; i < msgCount; i++ {
		pipe.Rename(ctx, messageKey(oldPrefix, id, i), messageKey(newPrefix, id, i))
	}
	if msgCount > 0 {
		pipe.Rename(ctx, messageCountKey(oldPrefix, id), messageCountKey(newPrefix, id))
	}

	ivCount, _ := r.client.Get(ctx, interventionCountKey(oldPrefix, id)).Int()
	for i := 0; i < ivCount; i++ {
		pipe.Rename(ctx, interventionKey(oldPrefix, id, i), interventionKey(newPrefix, id, i))
	}
	if ivCount > 0 {
		pipe.Rename(ctx, interventionCountKey(oldPrefix, id), interventionCountKey(newPrefix, id))
	}
}

// AppendMessage appends a message object and returns its index
func (r *RedisStore) AppendMessage(ctx context.Context, m *models.Message) (int, error) {
	prefix, err := r.prefixFor(ctx, m.SessionID)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(m)
	if err != nil {
		return 0, fmt.Errorf("marshal message: %w", err)
	}

	next, err := r.client.Incr(ctx, messageCountKey(prefix, m.SessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("append message: %w", err)
	}
	index := int(next) - 1
	if err := r.client.Set(ctx, messageKey(prefix, m.SessionID, index), body, 0).Err(); err != nil {
		return 0, fmt.Errorf("append message %d: %w", index, err)
	}
	return index, nil
}

// Messages returns up to limit messages starting at offset, plus the total count
func (r *RedisStore) Messages(ctx context.Context, sessionID string, offset, limit int) ([]models.Message, int, error) {
	prefix, err := r.prefixFor(ctx, sessionID)
	if err != nil {
		return nil, 0, err
	}
	total, err := r.client.Get(ctx, messageCountKey(prefix, sessionID)).Int()
	if errors.Is(err, goredis.Nil) {
		return nil, 0, nil
	}
	if err != nil {
		return nil, 0, fmt.Errorf("message count: %w", err)
	}

	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}

	keys := make([]string, 0, end-offset)
	for i := offset; i < end; i++ {
		keys = append(keys, messageKey(prefix, sessionID, i))
	}
	values, err := r.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, 0, fmt.Errorf("load messages: %w", err)
	}

	out := make([]models.Message, 0, len(values))
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var m models.Message
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, 0, fmt.Errorf("decode message: %w", err)
		}
		out = append(out, m)
	}
	return out, total, nil
}

// AppendIntervention appends an intervention record and returns its index
func (r *RedisStore) AppendIntervention(ctx context.Context, iv *models.Intervention) (int, error) {
	prefix, err := r.prefixFor(ctx, iv.SessionID)
	if err != nil {
		return 0, err
	}
	body, err := json.Marshal(iv)
	if err != nil {
		return 0, fmt.Errorf("marshal intervention: %w", err)
	}

	next, err := r.client.Incr(ctx, interventionCountKey(prefix, iv.SessionID)).Result()
	if err != nil {
		return 0, fmt.Errorf("append intervention: %w", err)
	}
	index := int(next) - 1
	if err := r.client.Set(ctx, interventionKey(prefix, iv.SessionID, index), body, 0).Err(); err != nil {
		return 0, fmt.Errorf("append intervention %d: %w", index, err)
	}
	return index, nil
}

// Interventions returns the accumulated list in append order
func (r *RedisStore) Interventions(ctx context.Context, sessionID string) ([]models.Intervention, error) {
	prefix, err := r.prefixFor(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	total, err := r.client.Get(ctx, interventionCountKey(prefix, sessionID)).Int()
	if errors.Is(err, goredis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("intervention count: %w", err)
	}

	out := make([]models.Intervention, 0, total)
	for i := 0; i < total; i++ {
		body, err := r.client.Get(ctx, interventionKey(prefix, sessionID, i)).Bytes()
		if errors.Is(err, goredis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load intervention %d: %w", i, err)
		}
		var iv models.Intervention
		if err := json.Unmarshal(body, &iv); err != nil {
			return nil, fmt.Errorf("decode intervention %d: %w", i, err)
		}
		out = append(out, iv)
	}
	return out, nil
}

// ActiveSessions lists sessions currently registered active
func (r *RedisStore) ActiveSessions(ctx context.Context) ([]models.Session, error) {
	ids, err := r.client.SMembers(ctx, activeSetKey).Result()
	if err != nil {
		return nil, fmt.Errorf("list active sessions: %w", err)
	}

	out := make([]models.Session, 0, len(ids))
	for _, id := range ids {
		s, err := r.GetSession(ctx, id)
		if errors.Is(err, ErrSessionNotFound) {
			// stale set entry; drop it
			r.client.SRem(ctx, activeSetKey, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		if s.Status == models.SessionActive {
			out = append(out, *s)
		}
	}
	return out, nil
}

// AcquireTurnLock takes the per-session busy lock with SetNX
func (r *RedisStore) AcquireTurnLock(ctx context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := r.client.SetNX(ctx, turnLockKey(sessionID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("acquire turn lock: %w", err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// CheckTurnLock reports whether token still owns the busy lock
func (r *RedisStore) CheckTurnLock(ctx context.Context, sessionID string, token string) (bool, error) {
	current, err := r.client.Get(ctx, turnLockKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check turn lock: %w", err)
	}
	return current == token, nil
}

// releaseLockScript deletes the lock only if the caller still owns it
var releaseLockScript = goredis.NewScript(`
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0
`)

// ReleaseTurnLock releases the busy lock if token still owns it
func (r *RedisStore) ReleaseTurnLock(ctx context.Context, sessionID string, token string) error {
	return releaseLockScript.Run(ctx, r.client, []string{turnLockKey(sessionID)}, token).Err()
}

// prefixFor resolves the patient prefix that currently owns a session
func (r *RedisStore) prefixFor(ctx context.Context, sessionID string) (string, error) {
	prefix, err := r.client.Get(ctx, sessionIndexKey(sessionID)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", ErrSessionNotFound
	}
	if err != nil {
		return "", fmt.Errorf("resolve session prefix: %w", err)
	}
	return prefix, nil
}
