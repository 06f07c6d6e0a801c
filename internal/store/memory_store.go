package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"clinical-copilot/backend/internal/models"
)

// MemoryStore implements SessionStore in process memory. It backs unit
// tests and local development without a redis instance; semantics match
// the redis store, including compare-and-set on session metadata.
type MemoryStore struct {
	mu            sync.Mutex
	sessions      map[string]models.Session
	messages      map[string][]models.Message
	interventions map[string][]models.Intervention
	locks         map[string]memLock
}

type memLock struct {
	token   string
	expires time.Time
}

// NewMemoryStore creates an empty in-memory session store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions:      make(map[string]models.Session),
		messages:      make(map[string][]models.Message),
		interventions: make(map[string][]models.Intervention),
		locks:         make(map[string]memLock),
	}
}

// CreateSession persists a new session
func (m *MemoryStore) CreateSession(_ context.Context, s *models.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = *s
	return nil
}

// GetSession loads a session by id
func (m *MemoryStore) GetSession(_ context.Context, id string) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	copied := s
	return &copied, nil
}

// UpdateSession applies mutate atomically
func (m *MemoryStore) UpdateSession(_ context.Context, id string, mutate func(*models.Session) error) (*models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if err := mutate(&s); err != nil {
		return nil, err
	}
	m.sessions[id] = s
	copied := s
	return &copied, nil
}

// AppendMessage appends a message and returns its index
func (m *MemoryStore) AppendMessage(_ context.Context, msg *models.Message) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[msg.SessionID]; !ok {
		return 0, ErrSessionNotFound
	}
	m.messages[msg.SessionID] = append(m.messages[msg.SessionID], *msg)
	return len(m.messages[msg.SessionID]) - 1, nil
}

// Messages returns up to limit messages starting at offset, plus the total count
func (m *MemoryStore) Messages(_ context.Context, sessionID string, offset, limit int) ([]models.Message, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.messages[sessionID]
	total := len(all)
	if offset >= total {
		return nil, total, nil
	}
	end := total
	if limit > 0 && offset+limit < end {
		end = offset + limit
	}
	out := make([]models.Message, end-offset)
	copy(out, all[offset:end])
	return out, total, nil
}

// AppendIntervention appends an intervention and returns its index
func (m *MemoryStore) AppendIntervention(_ context.Context, iv *models.Intervention) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[iv.SessionID]; !ok {
		return 0, ErrSessionNotFound
	}
	m.interventions[iv.SessionID] = append(m.interventions[iv.SessionID], *iv)
	return len(m.interventions[iv.SessionID]) - 1, nil
}

// Interventions returns the accumulated list in append order
func (m *MemoryStore) Interventions(_ context.Context, sessionID string) ([]models.Intervention, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := m.interventions[sessionID]
	out := make([]models.Intervention, len(all))
	copy(out, all)
	return out, nil
}

// ActiveSessions lists sessions with status active
func (m *MemoryStore) ActiveSessions(_ context.Context) ([]models.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []models.Session
	for _, s := range m.sessions {
		if s.Status == models.SessionActive {
			out = append(out, s)
		}
	}
	return out, nil
}

// AcquireTurnLock takes the per-session busy lock
func (m *MemoryStore) AcquireTurnLock(_ context.Context, sessionID string, ttl time.Duration) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, held := m.locks[sessionID]; held && time.Now().Before(l.expires) {
		return "", false, nil
	}
	token := uuid.New().String()
	m.locks[sessionID] = memLock{token: token, expires: time.Now().Add(ttl)}
	return token, true, nil
}

// CheckTurnLock reports whether token still owns the busy lock
func (m *MemoryStore) CheckTurnLock(_ context.Context, sessionID string, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, held := m.locks[sessionID]
	return held && l.token == token && time.Now().Before(l.expires), nil
}

// ReleaseTurnLock releases the busy lock if token still owns it
func (m *MemoryStore) ReleaseTurnLock(_ context.Context, sessionID string, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, held := m.locks[sessionID]; held && l.token == token {
		delete(m.locks, sessionID)
	}
	return nil
}

// compile-time interface checks
var (
	_ SessionStore = (*MemoryStore)(nil)
	_ SessionStore = (*RedisStore)(nil)
)
