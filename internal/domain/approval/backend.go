package approval

import (
	"context"
	"errors"
	"time"
)

// Sentinel errors returned by Backend implementations.
var (
	ErrNotFound        = errors.New("approval: request not found")
	ErrAlreadyResolved = errors.New("approval: request already resolved")
)

// Backend is the storage and notification contract for approval
// requests, implementable by in-memory and remote/persistent backends
// alike (spec §4.6). Implementations must make Respond first-response-
// wins: a second call on an already-resolved request is a no-op error,
// never a silent overwrite.
type Backend interface {
	// Submit stores req and returns its id. If req.ID is already set,
	// Submit is idempotent on that id: a resubmission of the same id
	// returns the existing request's id without creating a duplicate.
	Submit(ctx context.Context, req Request) (string, error)

	// Respond resolves a pending request. Returns ErrAlreadyResolved if
	// the request already has a terminal status.
	Respond(ctx context.Context, id string, approved bool, responder, comment string) error

	// GetStatus returns the current request, with Status reflecting
	// timeout if the request is still pending past its TTL.
	GetStatus(ctx context.Context, id string) (Request, error)

	// WaitForResponse blocks until the request resolves or timeout
	// elapses, whichever comes first. Safe to call concurrently for the
	// same id; every waiter observes the same resolution.
	WaitForResponse(ctx context.Context, id string, timeout time.Duration) (Response, error)

	// ListPending returns every request still in StatusPending, for the
	// admin pending-approvals listing (spec §6).
	ListPending(ctx context.Context) ([]Request, error)
}
