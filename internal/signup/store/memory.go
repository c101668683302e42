package store

import (
	"context"
	"sync"
	"time"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/signup/domain"
)

// Memory is a process local session store. Expired entries are dropped
// lazily on access and on Save.
type Memory struct {
	clock clock.Clock

	mu       sync.Mutex
	sessions map[string]entry
}

type entry struct {
	session domain.Session
	expires time.Time
}

func NewMemory(clk clock.Clock) *Memory {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Memory{clock: clk, sessions: map[string]entry{}}
}

func (m *Memory) Get(_ context.Context, id string) (domain.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.sessions[id]
	if !ok {
		return domain.Session{}, domain.ErrSessionNotFound
	}
	if !m.clock.Now().Before(e.expires) {
		delete(m.sessions, id)
		return domain.Session{}, domain.ErrSessionNotFound
	}
	return e.session, nil
}

func (m *Memory) Save(_ context.Context, s domain.Session, ttl time.Duration) error {
	now := m.clock.Now()
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, e := range m.sessions {
		if !now.Before(e.expires) {
			delete(m.sessions, id)
		}
	}
	m.sessions[s.ID] = entry{session: s, expires: now.Add(ttl)}
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	delete(m.sessions, id)
	m.mu.Unlock()
	return nil
}
