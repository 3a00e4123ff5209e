package ratelimit

import (
	"context"
	"errors"
	"sync"
	"time"

	"keystone/internal/domain"
)

// defaultMaxClients caps the window map so a client-address scan against
// the verify endpoint cannot grow memory without bound.
const defaultMaxClients = 10000

// Memory is a fixed-window limiter for the token verification hot path.
// Each client key owns one window; expired windows are swept lazily when
// the map reaches capacity.
type Memory struct {
	mu         sync.Mutex
	clock      func() time.Time
	windows    map[string]*clientWindow
	maxClients int
}

type clientWindow struct {
	used  int
	until time.Time
}

type MemoryConfig struct {
	Clock      func() time.Time
	MaxClients int
}

func NewMemory(cfg MemoryConfig) *Memory {
	if cfg.Clock == nil {
		cfg.Clock = time.Now
	}
	if cfg.MaxClients <= 0 {
		cfg.MaxClients = defaultMaxClients
	}
	return &Memory{
		clock:      cfg.Clock,
		windows:    make(map[string]*clientWindow),
		maxClients: cfg.MaxClients,
	}
}

func (m *Memory) Allow(_ context.Context, key string, limit int, window time.Duration) (domain.RateLimitDecision, error) {
	if limit <= 0 {
		return domain.RateLimitDecision{Allowed: true, Limit: limit, Remaining: limit}, nil
	}
	now := m.clock()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if ok && now.After(w.until) {
		delete(m.windows, key)
		ok = false
	}
	if !ok {
		if len(m.windows) >= m.maxClients {
			m.sweep(now)
		}
		if len(m.windows) >= m.maxClients {
			return domain.RateLimitDecision{}, errors.New("rate limiter capacity exceeded")
		}
		w = &clientWindow{until: now.Add(window)}
		m.windows[key] = w
	}

	decision := domain.RateLimitDecision{Limit: limit, ResetAt: w.until}
	if w.used < limit {
		w.used++
		decision.Allowed = true
		decision.Remaining = limit - w.used
	}
	return decision, nil
}

func (m *Memory) sweep(now time.Time) {
	for key, w := range m.windows {
		if now.After(w.until) {
			delete(m.windows, key)
		}
	}
}
