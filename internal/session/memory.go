package session

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

type entry struct {
	mu   sync.Mutex
	sess *Session
}

// MemoryStore keeps sessions for the life of the process.
type MemoryStore struct {
	policy Policy
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[string]*entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore(p Policy) *MemoryStore {
	return &MemoryStore{
		policy:   p,
		now:      time.Now,
		sessions: make(map[string]*entry),
	}
}

func (m *MemoryStore) Create(_ context.Context, ns NewSession) (*Session, error) {
	s := &Session{
		ID:           uuid.NewString(),
		Owner:        ns.Owner,
		Config:       ns.Config,
		SystemPrompt: ns.SystemPrompt,
		Transcript:   append([]Turn(nil), ns.Opening...),
		CreatedAt:    m.now().UTC(),
	}

	m.mu.Lock()
	m.sessions[s.ID] = &entry{sess: s}
	m.mu.Unlock()

	return s.Clone(), nil
}

func (m *MemoryStore) lookup(id string) (*entry, error) {
	m.mu.RLock()
	e, ok := m.sessions[id]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return e, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sess.Clone(), nil
}

func (m *MemoryStore) AppendExchange(_ context.Context, id string, ex Exchange) (*Session, error) {
	e, err := m.lookup(id)
	if err != nil {
		return nil, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	m.policy.ApplyExchange(e.sess, ex, m.now())
	return e.sess.Clone(), nil
}

func (m *MemoryStore) RecordStrike(_ context.Context, id string) (int, error) {
	e, err := m.lookup(id)
	if err != nil {
		return 0, err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sess.Counters.Strikes++
	return e.sess.Counters.Strikes, nil
}

func (m *MemoryStore) ListForOwner(_ context.Context, owner string) ([]Summary, error) {
	m.mu.RLock()
	entries := make([]*entry, 0, len(m.sessions))
	for _, e := range m.sessions {
		entries = append(entries, e)
	}
	m.mu.RUnlock()

	var out []Summary
	for _, e := range entries {
		e.mu.Lock()
		if e.sess.Owner == owner {
			out = append(out, e.sess.Summary())
		}
		e.mu.Unlock()
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryStore) Sweep(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	removed := 0
	for id, e := range m.sessions {
		e.mu.Lock()
		expired := m.policy.Expired(e.sess, now)
		e.mu.Unlock()
		if expired {
			delete(m.sessions, id)
			removed++
		}
	}
	return removed, nil
}

func (m *MemoryStore) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions), nil
}
