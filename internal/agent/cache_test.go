package agent

import (
	"testing"
	"time"
)

func TestRequestCacheLifecycle(t *testing.T) {
	c := NewRequestCache(time.Minute)

	if c.Len() != 0 {
		t.Fatalf("expected empty cache, got %d", c.Len())
	}

	s := c.New("peer-a", RoleInitiator, []byte("peer-a-key"))
	if s.State != StateIdle {
		t.Fatalf("expected a fresh session to start IDLE, got %s", s.State)
	}
	if c.Len() != 1 {
		t.Fatalf("expected one open session, got %d", c.Len())
	}

	got, ok := c.Get("peer-a")
	if !ok || got != s {
		t.Fatal("expected Get to return the same session New created")
	}

	c.Remove("peer-a")
	if _, ok := c.Get("peer-a"); ok {
		t.Fatal("expected Remove to clear the session")
	}
}

func TestRequestCacheSweepExpiresOldSessions(t *testing.T) {
	c := NewRequestCache(time.Minute)
	s := c.New("stale-peer", RoleResponder, []byte("key"))
	s.OpenedAt = time.Now().Add(-2 * time.Minute)

	c.New("fresh-peer", RoleResponder, []byte("key2"))

	expired := c.Sweep(time.Now())
	if len(expired) != 1 || expired[0] != "stale-peer" {
		t.Fatalf("expected only stale-peer to expire, got %v", expired)
	}
	if _, ok := c.Get("stale-peer"); ok {
		t.Fatal("expired session should have been removed")
	}
	if _, ok := c.Get("fresh-peer"); !ok {
		t.Fatal("fresh session must survive the sweep")
	}
}

func TestRoleAndStateStrings(t *testing.T) {
	if RoleInitiator.String() != "initiator" || RoleResponder.String() != "responder" {
		t.Fatal("unexpected Role.String() output")
	}
	if StateDone.String() != "DONE" || StateIdle.String() != "IDLE" {
		t.Fatal("unexpected State.String() output")
	}
	if State(999).String() != "UNKNOWN" {
		t.Fatal("expected an out-of-range state to stringify as UNKNOWN")
	}
}
