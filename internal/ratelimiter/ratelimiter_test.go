package ratelimiter

import (
	"testing"
	"time"
)

// TestNew verifies rate limiter creation with different parameters.
func TestNew(t *testing.T) {
	tests := []struct {
		name              string
		requestsPerSecond uint
		burst             uint
	}{
		{
			name:              "standard rate",
			requestsPerSecond: 100,
			burst:             200,
		},
		{
			name:              "default burst",
			requestsPerSecond: 10,
			burst:             0,
		},
		{
			name:              "unlimited (zero rate)",
			requestsPerSecond: 0,
			burst:             0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			limiter := New(tt.requestsPerSecond, tt.burst)
			if limiter == nil {
				t.Fatal("New() returned nil")
			}
			if limiter.limiter == nil {
				t.Fatal("internal limiter is nil")
			}
		})
	}
}

// TestAllow verifies that Allow() correctly enforces rate limits.
func TestAllow(t *testing.T) {
	limiter := New(10, 10)

	for i := 0; i < 10; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed (within burst)", i)
		}
	}

	if limiter.Allow() {
		t.Fatal("request should be rate-limited after burst exhausted")
	}
}

// TestUnlimited verifies that a zero rate never limits.
func TestUnlimited(t *testing.T) {
	limiter := New(0, 0)
	for i := 0; i < 10000; i++ {
		if !limiter.Allow() {
			t.Fatalf("request %d should be allowed with unlimited rate", i)
		}
	}
}

// TestPeerLimiter verifies that peers get independent buckets.
func TestPeerLimiter(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewPeerLimiter(1, 2, 0)
	p.now = func() time.Time { return now }

	if !p.Allow("a") || !p.Allow("a") {
		t.Fatal("first two requests from a should pass (burst 2)")
	}
	if p.Allow("a") {
		t.Fatal("third request from a should be limited")
	}
	if !p.Allow("b") {
		t.Fatal("b has its own bucket")
	}

	now = now.Add(time.Second)
	if !p.Allow("a") {
		t.Fatal("a should have one token after a second")
	}
}

// TestPeerLimiterPrune verifies idle buckets are evicted when the table is full.
func TestPeerLimiterPrune(t *testing.T) {
	now := time.Unix(1000, 0)
	p := NewPeerLimiter(5, 5, 2)
	p.now = func() time.Time { return now }

	p.Allow("a")
	p.Allow("b")
	if got := p.Peers(); got != 2 {
		t.Fatalf("expected 2 peers, got %d", got)
	}

	now = now.Add(2 * time.Minute)
	p.Allow("c")
	if got := p.Peers(); got != 1 {
		t.Fatalf("expected idle peers to be pruned, got %d peers", got)
	}
}

// TestPeerLimiterDisabled verifies a zero rate allows everything.
func TestPeerLimiterDisabled(t *testing.T) {
	p := NewPeerLimiter(0, 0, 0)
	if p.Enabled() {
		t.Fatal("zero rate should disable limiting")
	}
	for i := 0; i < 100; i++ {
		if !p.Allow("peer") {
			t.Fatal("disabled limiter must allow")
		}
	}
	if p.Peers() != 0 {
		t.Fatal("disabled limiter should not track peers")
	}

	var nilLimiter *PeerLimiter
	if !nilLimiter.Allow("peer") {
		t.Fatal("nil limiter must allow")
	}
}
