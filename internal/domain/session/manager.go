package session

import (
	"log/slog"
	"sync"
	"time"
)

// Manager is a bounded, single-mutex store of session State keyed by
// session id. It evicts the least-recently-used session on insert once
// MaxSessions is reached, and sweeps idle sessions older than TTL on a
// background ticker — mirroring the cleanup-goroutine shape used
// elsewhere in this codebase for bounded in-memory state.
type Manager struct {
	mu      sync.Mutex
	byID    map[string]*entry
	lru     lruList
	maxSize int
	ttl     time.Duration

	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
}

// Config bounds a Manager's size and idle lifetime.
type Config struct {
	MaxSessions   int
	TTL           time.Duration
	SweepInterval time.Duration
}

const (
	defaultMaxSessions   = 10_000
	defaultTTL           = 30 * time.Minute
	defaultSweepInterval = time.Minute
)

// NewManager builds a Manager with the given bounds, defaulting any
// zero-valued field.
func NewManager(cfg Config) *Manager {
	if cfg.MaxSessions <= 0 {
		cfg.MaxSessions = defaultMaxSessions
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultTTL
	}
	if cfg.SweepInterval <= 0 {
		cfg.SweepInterval = defaultSweepInterval
	}
	return &Manager{
		byID:          make(map[string]*entry),
		maxSize:       cfg.MaxSessions,
		ttl:           cfg.TTL,
		sweepInterval: cfg.SweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// Get returns the session's State, creating it (and evicting the LRU
// victim if at capacity) if it doesn't exist yet.
func (m *Manager) Get(sessionID string) *State {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	if e, ok := m.byID[sessionID]; ok {
		e.state.lastSeen = now
		m.lru.moveToFront(e)
		return e.state
	}

	if len(m.byID) >= m.maxSize {
		if victim := m.lru.popBack(); victim != nil {
			delete(m.byID, victim.state.ID)
		}
	}

	st := newState(sessionID)
	st.lastSeen = now
	e := &entry{state: st}
	m.byID[sessionID] = e
	m.lru.pushFront(e)
	return st
}

// Len reports the current number of tracked sessions.
func (m *Manager) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.byID)
}

// StartSweep launches the background idle-session sweep goroutine. Safe
// to call at most once per Manager.
func (m *Manager) StartSweep() {
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.sweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stopChan:
				return
			case <-ticker.C:
				m.sweep()
			}
		}
	}()
}

func (m *Manager) sweep() {
	m.mu.Lock()
	defer m.mu.Unlock()

	cutoff := time.Now().Add(-m.ttl)
	removed := 0
	for id, e := range m.byID {
		if e.state.lastSeen.Before(cutoff) {
			m.lru.remove(e)
			delete(m.byID, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("session sweep completed", "removed", removed, "remaining", len(m.byID))
	}
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call
// multiple times.
func (m *Manager) Stop() {
	m.once.Do(func() {
		close(m.stopChan)
	})
	m.wg.Wait()
}
