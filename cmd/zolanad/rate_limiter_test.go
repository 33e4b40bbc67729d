package main

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestRateLimiterBurstThenRefill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewRateLimiter(3, 2, func() time.Time { return now })

	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("request %d within burst denied", i)
		}
	}
	if rl.Allow() {
		t.Fatal("request over burst allowed")
	}

	now = now.Add(500 * time.Millisecond)
	if !rl.Allow() {
		t.Fatal("token should refill after half a second at 2/s")
	}
	if rl.Allow() {
		t.Fatal("only one token should have refilled")
	}

	now = now.Add(time.Hour)
	for i := 0; i < 3; i++ {
		if !rl.Allow() {
			t.Fatalf("refill should cap at burst, request %d denied", i)
		}
	}
	if rl.Allow() {
		t.Fatal("refill exceeded burst")
	}
}

func TestClientRateLimiterMiddleware(t *testing.T) {
	rl := NewClientRateLimiter(1, 1)
	rejected := 0
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}), func() { rejected++ })

	do := func(remote string) int {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}

	if code := do("10.0.0.1:1234"); code != http.StatusNoContent {
		t.Fatalf("first request = %d", code)
	}
	if code := do("10.0.0.1:5678"); code != http.StatusTooManyRequests {
		t.Fatalf("second request from same IP = %d, want 429", code)
	}
	if code := do("10.0.0.2:1234"); code != http.StatusNoContent {
		t.Fatalf("other client = %d", code)
	}
	if rejected != 1 {
		t.Errorf("rejected = %d, want 1", rejected)
	}
	if rl.Clients() != 2 {
		t.Errorf("clients = %d, want 2", rl.Clients())
	}
}

func TestClientRateLimiterDropsIdleClients(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	rl := NewClientRateLimiter(2, 1)
	rl.now = func() time.Time { return now }
	rl.lastSweep = now

	rl.Allow("10.0.0.1")
	rl.Allow("10.0.0.2")
	rl.Allow("10.0.0.2")
	if rl.Clients() != 2 {
		t.Fatalf("clients = %d, want 2", rl.Clients())
	}

	// 10.0.0.3 stays busy; the others go quiet long enough to refill.
	now = now.Add(DefaultIdleTimeout - time.Second)
	rl.Allow("10.0.0.3")
	now = now.Add(2 * time.Second)
	rl.Allow("10.0.0.3")

	if rl.Clients() != 1 {
		t.Fatalf("clients after sweep = %d, want 1", rl.Clients())
	}
	if !rl.Allow("10.0.0.2") || !rl.Allow("10.0.0.2") {
		t.Fatal("a returning client should start with a full bucket")
	}
}
