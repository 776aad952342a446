package ratelimit

import (
	"context"
	"sync"
	"time"
)

var _ Store = (*Memory)(nil)

type window struct {
	count int
	start time.Time
}

// Memory is a process-local Store. It is safe for concurrent use, but each
// process keeps its own counters: behind a load balancer the effective limit
// is Max times the number of instances. Use Redis to share counters.
type Memory struct {
	cfg Config
	now func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemory creates an in-memory Store.
func NewMemory(cfg Config) *Memory {
	return &Memory{
		cfg:     cfg.withDefaults(),
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// Allow records a request for key.
func (m *Memory) Allow(_ context.Context, key string) (Decision, error) {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	w, ok := m.windows[key]
	if !ok || now.Sub(w.start) > m.cfg.Window {
		w = &window{count: 1, start: now}
		m.windows[key] = w
		return m.decision(w, true), nil
	}
	if w.count >= m.cfg.Max {
		return m.decision(w, false), nil
	}
	w.count++
	return m.decision(w, true), nil
}

func (m *Memory) decision(w *window, allowed bool) Decision {
	return Decision{
		Allowed:   allowed,
		Limit:     m.cfg.Max,
		Remaining: max(m.cfg.Max-w.count, 0),
		ResetAt:   w.start.Add(m.cfg.Window),
	}
}

// Sweep drops windows that have elapsed.
func (m *Memory) Sweep() {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	for key, w := range m.windows {
		if now.Sub(w.start) > m.cfg.Window {
			delete(m.windows, key)
		}
	}
}

// Len returns the number of tracked keys.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.windows)
}

// StartSweeper runs Sweep every 2x window until ctx is cancelled.
func (m *Memory) StartSweeper(ctx context.Context) {
	interval := 2 * m.cfg.Window
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				m.Sweep()
			}
		}
	}()
}
