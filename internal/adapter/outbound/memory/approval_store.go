package memory

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/policyshield/policyshield/internal/domain/approval"
)

// DefaultMaxPending bounds the number of simultaneously pending approvals
// an ApprovalStore holds before it starts evicting the oldest entry.
const DefaultMaxPending = 100

// DefaultTTL and DefaultSweepInterval are the spec §4.6 fallbacks for a
// request's unresolved lifetime and how often the background sweep scans
// for requests past it.
const (
	DefaultTTL           = time.Hour
	DefaultSweepInterval = time.Minute
)

type pendingEntry struct {
	req    approval.Request
	waiter chan approval.Response
}

// ApprovalStore implements approval.Backend with an in-memory, bounded FIFO
// of pending requests. A request blocked on WaitForResponse unblocks the
// instant Respond (or eviction) delivers a result; GetStatus never blocks
// but does resolve a request past its TTL into StatusTimeout inline, the
// same way a background sweep would, so a poller never has to wait for the
// next sweep tick to see it — mirrors session.Manager's sweep shape.
type ApprovalStore struct {
	mu      sync.Mutex
	pending map[string]*pendingEntry
	order   []string
	maxSize int
	ttl     time.Duration

	sweepInterval time.Duration
	stopChan      chan struct{}
	wg            sync.WaitGroup
	once          sync.Once
}

// NewApprovalStore creates an ApprovalStore with the given capacity and
// unresolved-request TTL. A non-positive maxSize falls back to
// DefaultMaxPending, and a non-positive ttl falls back to DefaultTTL.
func NewApprovalStore(maxSize int, ttl time.Duration) *ApprovalStore {
	if maxSize <= 0 {
		maxSize = DefaultMaxPending
	}
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &ApprovalStore{
		pending:       make(map[string]*pendingEntry),
		maxSize:       maxSize,
		ttl:           ttl,
		sweepInterval: DefaultSweepInterval,
		stopChan:      make(chan struct{}),
	}
}

// StartSweep launches the background TTL sweep goroutine on the given
// interval (DefaultSweepInterval if non-positive). Safe to call at most
// once per ApprovalStore.
func (s *ApprovalStore) StartSweep(interval time.Duration) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.stopChan:
				return
			case <-ticker.C:
				s.sweep()
			}
		}
	}()
}

// Stop halts the sweep goroutine and waits for it to exit. Safe to call
// multiple times.
func (s *ApprovalStore) Stop() {
	s.once.Do(func() {
		close(s.stopChan)
	})
	s.wg.Wait()
}

func (s *ApprovalStore) sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for _, e := range s.pending {
		if s.expireLocked(e) {
			removed++
		}
	}
	if removed > 0 {
		slog.Debug("approval sweep completed", "expired", removed, "remaining_pending", s.pendingCountLocked())
	}
}

// expireLocked marks e timed out if it is pending and past ttl. Caller
// must hold s.mu.
func (s *ApprovalStore) expireLocked(e *pendingEntry) bool {
	if e.req.Status != approval.StatusPending {
		return false
	}
	if time.Since(e.req.CreatedAt) < s.ttl {
		return false
	}
	e.req.Status = approval.StatusTimeout
	select {
	case e.waiter <- approval.Response{Status: approval.StatusTimeout}:
	default:
	}
	return true
}

func (s *ApprovalStore) pendingCountLocked() int {
	n := 0
	for _, e := range s.pending {
		if e.req.Status == approval.StatusPending {
			n++
		}
	}
	return n
}

// Submit records a new pending approval, evicting the oldest pending entry
// (auto-denied) if the store is at capacity.
func (s *ApprovalStore) Submit(ctx context.Context, req approval.Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.order) >= s.maxSize {
		oldID := s.order[0]
		s.order = s.order[1:]
		if old, ok := s.pending[oldID]; ok {
			old.req.Status = approval.StatusDenied
			old.req.Comment = "evicted: approval store at capacity"
			select {
			case old.waiter <- approval.Response{Status: approval.StatusDenied, Comment: old.req.Comment}:
			default:
			}
			delete(s.pending, oldID)
		}
	}

	req.Status = approval.StatusPending
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}
	s.pending[req.ID] = &pendingEntry{req: req, waiter: make(chan approval.Response, 1)}
	s.order = append(s.order, req.ID)
	return req.ID, nil
}

// Respond resolves a pending approval. Returns approval.ErrNotFound if the
// ID is unknown, approval.ErrAlreadyResolved if it was already decided.
func (s *ApprovalStore) Respond(ctx context.Context, id string, approved bool, responder, comment string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	if e.req.Status != approval.StatusPending {
		return fmt.Errorf("%w: %s is %s", approval.ErrAlreadyResolved, id, e.req.Status)
	}

	status := approval.StatusDenied
	if approved {
		status = approval.StatusApproved
	}
	now := time.Now()
	e.req.Status = status
	e.req.Responder = responder
	e.req.RespondedAt = &now
	e.req.Comment = comment

	select {
	case e.waiter <- approval.Response{Status: status, Responder: responder, Comment: comment}:
	default:
	}
	return nil
}

// GetStatus returns a snapshot of the request's current state.
func (s *ApprovalStore) GetStatus(ctx context.Context, id string) (approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.pending[id]
	if !ok {
		return approval.Request{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}
	s.expireLocked(e)
	return e.req, nil
}

// WaitForResponse blocks until the request resolves, the timeout elapses
// (marking it StatusTimeout), or ctx is cancelled.
func (s *ApprovalStore) WaitForResponse(ctx context.Context, id string, timeout time.Duration) (approval.Response, error) {
	s.mu.Lock()
	e, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return approval.Response{}, fmt.Errorf("%w: %s", approval.ErrNotFound, id)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-e.waiter:
		return resp, nil
	case <-timer.C:
		s.mu.Lock()
		if e.req.Status == approval.StatusPending {
			e.req.Status = approval.StatusTimeout
		}
		s.mu.Unlock()
		return approval.Response{Status: approval.StatusTimeout}, nil
	case <-ctx.Done():
		return approval.Response{}, ctx.Err()
	}
}

// ListPending returns a snapshot of every request still pending, oldest first.
func (s *ApprovalStore) ListPending(ctx context.Context) ([]approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]approval.Request, 0, len(s.order))
	for _, id := range s.order {
		if e, ok := s.pending[id]; ok {
			s.expireLocked(e)
			if e.req.Status == approval.StatusPending {
				out = append(out, e.req)
			}
		}
	}
	return out, nil
}

var _ approval.Backend = (*ApprovalStore)(nil)
