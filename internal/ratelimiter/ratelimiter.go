package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter provides request rate limiting using the token bucket algorithm.
//
// This implementation wraps golang.org/x/time/rate:
//   - Tokens are added to the bucket at a constant rate (requests per second)
//   - Each request consumes one token from the bucket
//   - Burst capacity allows temporary spikes above the sustained rate
//
// Thread safety:
// All methods are safe for concurrent use.
type RateLimiter struct {
	limiter *rate.Limiter
}

// New creates a new RateLimiter with the specified rate and burst capacity.
//
// Special cases:
//   - requestsPerSecond = 0: No rate limiting (unlimited)
//   - burst = 0: burst defaults to requestsPerSecond
func New(requestsPerSecond, burst uint) *RateLimiter {
	if requestsPerSecond == 0 {
		return &RateLimiter{limiter: rate.NewLimiter(rate.Inf, 0)}
	}
	if burst == 0 {
		burst = requestsPerSecond
	}

	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), int(burst)),
	}
}

// Allow reports whether one request may proceed now, consuming a token if so.
func (r *RateLimiter) Allow() bool {
	return r.limiter.Allow()
}

// allowAt is Allow with an explicit clock, used by PeerLimiter.
func (r *RateLimiter) allowAt(now time.Time) bool {
	return r.limiter.AllowN(now, 1)
}

// Tokens returns the current number of available tokens.
func (r *RateLimiter) Tokens() float64 {
	return r.limiter.Tokens()
}

// PeerLimiter keeps one token bucket per remote peer.
//
// Buckets for peers that have not sent anything for idleTTL are dropped
// the next time the table grows past maxPeers.
type PeerLimiter struct {
	requestsPerSecond uint
	burst             uint
	maxPeers          int
	idleTTL           time.Duration

	mu    sync.Mutex
	peers map[string]*peerBucket
	now   func() time.Time
}

type peerBucket struct {
	limiter  *RateLimiter
	lastSeen time.Time
}

// NewPeerLimiter returns a limiter allowing requestsPerSecond per peer with
// the given burst. A zero rate disables limiting entirely.
func NewPeerLimiter(requestsPerSecond, burst uint, maxPeers int) *PeerLimiter {
	if maxPeers <= 0 {
		maxPeers = 1024
	}
	return &PeerLimiter{
		requestsPerSecond: requestsPerSecond,
		burst:             burst,
		maxPeers:          maxPeers,
		idleTTL:           time.Minute,
		peers:             make(map[string]*peerBucket),
		now:               time.Now,
	}
}

// Enabled reports whether any limit is enforced.
func (p *PeerLimiter) Enabled() bool {
	return p != nil && p.requestsPerSecond > 0
}

// Allow reports whether peer may send one more request now.
func (p *PeerLimiter) Allow(peer string) bool {
	if !p.Enabled() {
		return true
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	now := p.now()
	b, ok := p.peers[peer]
	if !ok {
		if len(p.peers) >= p.maxPeers {
			p.prune(now)
		}
		b = &peerBucket{limiter: New(p.requestsPerSecond, p.burst)}
		p.peers[peer] = b
	}
	b.lastSeen = now
	return b.limiter.allowAt(now)
}

// prune drops idle buckets. Must be called with mu held.
func (p *PeerLimiter) prune(now time.Time) {
	for k, b := range p.peers {
		if now.Sub(b.lastSeen) > p.idleTTL {
			delete(p.peers, k)
		}
	}
}

// Peers returns the number of tracked peers.
func (p *PeerLimiter) Peers() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.peers)
}
