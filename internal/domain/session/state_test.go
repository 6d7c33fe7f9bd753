package session

import (
	"testing"
	"time"

	"github.com/policyshield/policyshield/internal/domain/rule"
)

func TestStateRecordEventIncrementsCountOnAllowAndRedact(t *testing.T) {
	s := newState("sess")
	s.RecordEvent(rule.Event{Tool: "read_file", Verdict: rule.Allow})
	s.RecordEvent(rule.Event{Tool: "read_file", Verdict: rule.Redact})
	s.RecordEvent(rule.Event{Tool: "read_file", Verdict: rule.Block})

	if got := s.ToolCount("read_file"); got != 2 {
		t.Errorf("ToolCount() = %d, want 2", got)
	}
}

func TestStateRecentEventsMostRecentFirst(t *testing.T) {
	s := newState("sess")
	s.RecordEvent(rule.Event{Tool: "a", Verdict: rule.Allow})
	s.RecordEvent(rule.Event{Tool: "b", Verdict: rule.Allow})
	s.RecordEvent(rule.Event{Tool: "c", Verdict: rule.Allow})

	events := s.RecentEvents()
	if len(events) != 3 {
		t.Fatalf("len(events) = %d, want 3", len(events))
	}
	if events[0].Tool != "c" || events[2].Tool != "a" {
		t.Errorf("events = %+v, want most-recent-first order", events)
	}
}

func TestStateRecentEventsRingOverwritesOldest(t *testing.T) {
	s := newState("sess")
	s.events = newRing(2)
	s.RecordEvent(rule.Event{Tool: "a", Verdict: rule.Allow})
	s.RecordEvent(rule.Event{Tool: "b", Verdict: rule.Allow})
	s.RecordEvent(rule.Event{Tool: "c", Verdict: rule.Allow})

	events := s.RecentEvents()
	if len(events) != 2 {
		t.Fatalf("len(events) = %d, want 2", len(events))
	}
	if events[0].Tool != "c" || events[1].Tool != "b" {
		t.Errorf("events = %+v, want [c b]", events)
	}
}

func TestStateCheckRateLimitAllowsUnderLimitAndBlocksOver(t *testing.T) {
	s := newState("sess")
	rl := rule.RateLimit{ID: "rl1", MaxCalls: 2, WindowSeconds: 60}
	now := time.Now()

	if s.CheckRateLimit(rl, now) {
		t.Fatal("first call should not exceed the limit")
	}
	if s.CheckRateLimit(rl, now) {
		t.Fatal("second call should not exceed the limit")
	}
	if !s.CheckRateLimit(rl, now) {
		t.Fatal("third call should exceed max_calls=2")
	}
}

func TestStateCheckRateLimitPrunesExpiredHits(t *testing.T) {
	s := newState("sess")
	rl := rule.RateLimit{ID: "rl1", MaxCalls: 1, WindowSeconds: 1}
	past := time.Now().Add(-2 * time.Second)

	if s.CheckRateLimit(rl, past) {
		t.Fatal("first call should not exceed the limit")
	}
	if s.CheckRateLimit(rl, time.Now()) {
		t.Fatal("stale hit outside the window should have been pruned")
	}
}

func TestStateTaintWithAndTainted(t *testing.T) {
	s := newState("sess")
	if s.Tainted("EMAIL") {
		t.Fatal("fresh state should not be tainted")
	}
	s.TaintWith([]string{"EMAIL", "SSN"})
	if !s.Tainted("EMAIL") || !s.Tainted("SSN") {
		t.Error("expected both kinds tainted")
	}
	if s.Tainted("IBAN") {
		t.Error("unrelated kind should not be tainted")
	}
}

func TestStateApprovalCacheRoundTrip(t *testing.T) {
	s := newState("sess")
	if _, ok := s.ApprovalCache("k1"); ok {
		t.Fatal("expected no cached decision yet")
	}
	s.CacheApproval("k1", rule.Approve)
	v, ok := s.ApprovalCache("k1")
	if !ok || v != rule.Approve {
		t.Errorf("ApprovalCache() = (%v, %v), want (APPROVE, true)", v, ok)
	}
}

func TestLRUListPushMoveAndPopBack(t *testing.T) {
	var l lruList
	a := &entry{state: &State{ID: "a"}}
	b := &entry{state: &State{ID: "b"}}
	c := &entry{state: &State{ID: "c"}}

	l.pushFront(a)
	l.pushFront(b)
	l.pushFront(c)

	l.moveToFront(a)
	if l.head != a {
		t.Fatal("moveToFront did not move a to head")
	}

	victim := l.popBack()
	if victim != b {
		t.Errorf("popBack() = %v, want b", victim.state.ID)
	}
}
