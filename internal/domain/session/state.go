package session

import (
	"sync"
	"time"

	"github.com/policyshield/policyshield/internal/domain/rule"
)

// State is one session's mutable tracking data: tool-call counters,
// per-rate-limit sliding windows, a recent-event ring buffer, the set of
// PII kinds ever observed in a tool result (the "taint" set), and a
// per-approval-strategy decision cache. It satisfies rule.SessionView so
// the matcher can consult it directly.
//
// State has its own mutex, separate from the owning Manager's: the
// Manager's lock only protects the session map/LRU, never a session's
// internal counters, so two concurrent checks against the *same* session
// don't serialize behind unrelated sessions' traffic.
type State struct {
	ID string

	mu          sync.Mutex
	counts      map[string]uint64
	windows     map[string]*window // keyed by RateLimit.ID
	events      *ring
	taint       map[string]bool
	approvalMemo map[string]rule.Verdict

	lastSeen time.Time
}

func newState(id string) *State {
	return &State{
		ID:      id,
		counts:  make(map[string]uint64),
		windows: make(map[string]*window),
		events:  newRing(defaultEventCapacity),
	}
}

// ToolCount implements rule.SessionView.
func (s *State) ToolCount(tool string) uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.counts[tool]
}

// RecentEvents implements rule.SessionView, most-recent-first.
func (s *State) RecentEvents() []rule.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.events.events()
}

// RecordEvent appends a pipeline event and, for ALLOW/REDACT verdicts,
// increments the tool counter (spec §4.5 counter increment policy).
func (s *State) RecordEvent(e rule.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events.push(e)
	if e.Verdict == rule.Allow || e.Verdict == rule.Redact {
		s.counts[e.Tool]++
	}
}

// CheckRateLimit prunes stale hits from the limit's window, reports
// whether the call would exceed max_calls, and — when allowed — records
// the hit. A violation does NOT record the hit (the call never happened
// from the window's perspective since it's blocked).
func (s *State) CheckRateLimit(rl rule.RateLimit, now time.Time) (exceeded bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.windows[rl.ID]
	if !ok {
		w = &window{}
		s.windows[rl.ID] = w
	}
	cutoff := now.Add(-time.Duration(rl.WindowSeconds) * time.Second)
	count := w.prune(cutoff)
	if count >= rl.MaxCalls {
		return true
	}
	w.record(now)
	return false
}

// TaintWith records PII kinds found in a post-call result.
func (s *State) TaintWith(kinds []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.taint == nil {
		s.taint = make(map[string]bool, len(kinds))
	}
	for _, k := range kinds {
		s.taint[k] = true
	}
}

// Tainted reports whether kind has ever been observed in this session's
// tool results.
func (s *State) Tainted(kind string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.taint[kind]
}

// ApprovalCache returns the cached decision for an approval-strategy key,
// if one has been recorded for this session.
func (s *State) ApprovalCache(key string) (rule.Verdict, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.approvalMemo[key]
	return v, ok
}

// CacheApproval records the resolved (or pending) decision for an
// approval-strategy key, so later identical calls reuse it instead of
// re-prompting (spec §4.6).
func (s *State) CacheApproval(key string, v rule.Verdict) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.approvalMemo == nil {
		s.approvalMemo = make(map[string]rule.Verdict)
	}
	s.approvalMemo[key] = v
}

// entry wraps a State with the bookkeeping the Manager's LRU needs.
type entry struct {
	state *State
	prev  *entry
	next  *entry
}

// lruList is a minimal intrusive doubly-linked list, most-recently-used
// at the front. Callers must hold the owning Manager's mutex.
type lruList struct {
	head, tail *entry
}

func (l *lruList) pushFront(e *entry) {
	e.prev = nil
	e.next = l.head
	if l.head != nil {
		l.head.prev = e
	}
	l.head = e
	if l.tail == nil {
		l.tail = e
	}
}

func (l *lruList) remove(e *entry) {
	if e.prev != nil {
		e.prev.next = e.next
	} else {
		l.head = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	} else {
		l.tail = e.prev
	}
	e.prev, e.next = nil, nil
}

func (l *lruList) moveToFront(e *entry) {
	if l.head == e {
		return
	}
	l.remove(e)
	l.pushFront(e)
}

func (l *lruList) popBack() *entry {
	e := l.tail
	if e != nil {
		l.remove(e)
	}
	return e
}
