package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/policyshield/policyshield/internal/domain/approval"
)

func newTestApprovalStore(t *testing.T) *ApprovalStore {
	t.Helper()
	path := filepath.Join(t.TempDir(), "approvals.db")
	store, err := NewApprovalStore(path, 0, 0)
	if err != nil {
		t.Fatalf("NewApprovalStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestApprovalStoreSubmitAndGetStatus(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	req := approval.Request{
		ID:        "req-1",
		Tool:      "delete_file",
		Args:      map[string]any{"path": "/tmp/x"},
		RuleID:    "rule-42",
		SessionID: "sess-1",
	}

	id, err := store.Submit(ctx, req)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if id != "req-1" {
		t.Errorf("Submit id = %q, want req-1", id)
	}

	got, err := store.GetStatus(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != approval.StatusPending {
		t.Errorf("Status = %v, want pending", got.Status)
	}
	if got.Tool != "delete_file" || got.RuleID != "rule-42" || got.SessionID != "sess-1" {
		t.Errorf("unexpected request fields: %+v", got)
	}
	if got.Args["path"] != "/tmp/x" {
		t.Errorf("Args[path] = %v, want /tmp/x", got.Args["path"])
	}
}

func TestApprovalStoreSubmitIsIdempotent(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	req := approval.Request{ID: "req-1", Tool: "a"}
	if _, err := store.Submit(ctx, req); err != nil {
		t.Fatalf("first Submit: %v", err)
	}
	if _, err := store.Submit(ctx, req); err != nil {
		t.Fatalf("second Submit: %v", err)
	}
}

func TestApprovalStoreGetStatusUnknownID(t *testing.T) {
	store := newTestApprovalStore(t)
	_, err := store.GetStatus(context.Background(), "nope")
	if !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApprovalStoreRespondApprove(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Respond(ctx, "req-1", true, "alice", "looks fine"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	got, err := store.GetStatus(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != approval.StatusApproved {
		t.Errorf("Status = %v, want approved", got.Status)
	}
	if got.Responder != "alice" || got.Comment != "looks fine" {
		t.Errorf("unexpected response fields: %+v", got)
	}
	if got.RespondedAt == nil {
		t.Error("RespondedAt is nil, want set")
	}
}

func TestApprovalStoreRespondUnknownID(t *testing.T) {
	store := newTestApprovalStore(t)
	err := store.Respond(context.Background(), "nope", true, "alice", "")
	if !errors.Is(err, approval.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestApprovalStoreRespondAlreadyResolved(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Respond(ctx, "req-1", true, "alice", ""); err != nil {
		t.Fatalf("first Respond: %v", err)
	}
	err := store.Respond(ctx, "req-1", false, "bob", "")
	if !errors.Is(err, approval.ErrAlreadyResolved) {
		t.Errorf("err = %v, want ErrAlreadyResolved", err)
	}
}

func TestApprovalStoreWaitForResponseResolves(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	go func() {
		time.Sleep(150 * time.Millisecond)
		if err := store.Respond(ctx, "req-1", true, "alice", "ok"); err != nil {
			t.Errorf("Respond: %v", err)
		}
	}()

	resp, err := store.WaitForResponse(ctx, "req-1", 2*time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if resp.Status != approval.StatusApproved {
		t.Errorf("Status = %v, want approved", resp.Status)
	}
	if resp.Responder != "alice" {
		t.Errorf("Responder = %q, want alice", resp.Responder)
	}
}

func TestApprovalStoreWaitForResponseTimeout(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	resp, err := store.WaitForResponse(ctx, "req-1", 200*time.Millisecond)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if resp.Status != approval.StatusTimeout {
		t.Errorf("Status = %v, want timeout", resp.Status)
	}
}

func TestApprovalStoreWaitForResponseAlreadyResolved(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Respond(ctx, "req-1", false, "bob", "denied"); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	resp, err := store.WaitForResponse(ctx, "req-1", time.Second)
	if err != nil {
		t.Fatalf("WaitForResponse: %v", err)
	}
	if resp.Status != approval.StatusDenied {
		t.Errorf("Status = %v, want denied", resp.Status)
	}
}

func TestApprovalStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.db")
	ctx := context.Background()

	store, err := NewApprovalStore(path, 0, 0)
	if err != nil {
		t.Fatalf("NewApprovalStore: %v", err)
	}
	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a", SessionID: "sess-1"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if err := store.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := NewApprovalStore(path, 0, 0)
	if err != nil {
		t.Fatalf("reopen NewApprovalStore: %v", err)
	}
	defer reopened.Close()

	got, err := reopened.GetStatus(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStatus after reopen: %v", err)
	}
	if got.SessionID != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", got.SessionID)
	}
}

func TestApprovalStoreListPending(t *testing.T) {
	store := newTestApprovalStore(t)
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit req-1: %v", err)
	}
	if _, err := store.Submit(ctx, approval.Request{ID: "req-2", Tool: "b"}); err != nil {
		t.Fatalf("Submit req-2: %v", err)
	}
	if err := store.Respond(ctx, "req-2", true, "alice", ""); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	pending, err := store.ListPending(ctx)
	if err != nil {
		t.Fatalf("ListPending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != "req-1" {
		t.Fatalf("ListPending = %+v, want only req-1", pending)
	}
}

func TestApprovalStoreGetStatusExpiresStalePendingInline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.db")
	store, err := NewApprovalStore(path, 0, 10*time.Millisecond)
	if err != nil {
		t.Fatalf("NewApprovalStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	if _, err := store.Submit(ctx, approval.Request{ID: "req-1", Tool: "a"}); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	time.Sleep(20 * time.Millisecond)

	got, err := store.GetStatus(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != approval.StatusTimeout {
		t.Errorf("Status = %v, want timeout from inline TTL expiry", got.Status)
	}
}

func TestApprovalStoreEvictsOldestPendingAtCapacity(t *testing.T) {
	path := filepath.Join(t.TempDir(), "approvals.db")
	store, err := NewApprovalStore(path, 2, time.Hour)
	if err != nil {
		t.Fatalf("NewApprovalStore: %v", err)
	}
	defer store.Close()
	ctx := context.Background()

	for _, id := range []string{"req-1", "req-2", "req-3"} {
		if _, err := store.Submit(ctx, approval.Request{ID: id, Tool: "a"}); err != nil {
			t.Fatalf("Submit %s: %v", id, err)
		}
	}

	got, err := store.GetStatus(ctx, "req-1")
	if err != nil {
		t.Fatalf("GetStatus: %v", err)
	}
	if got.Status != approval.StatusDenied {
		t.Errorf("Status = %v, want evicted entry denied", got.Status)
	}
}

func TestApprovalStoreImplementsBackendInterface(t *testing.T) {
	var _ approval.Backend = (*ApprovalStore)(nil)
}
