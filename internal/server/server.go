package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/marmos91/coapfs/internal/logger"
	"github.com/marmos91/coapfs/internal/protocol/coap"
)

// DefaultHousekeepingInterval bounds every wait so that retransmissions
// and shutdown are noticed even when no traffic arrives.
const DefaultHousekeepingInterval = 2 * time.Second

// Engine is the protocol engine as seen by the loop.
//
// *coap.Engine implements it.
type Engine interface {
	// PeekNext returns the pending message with the earliest deadline.
	PeekNext() (*coap.Pending, bool)

	// PopNext removes the pending message with the earliest deadline.
	PopNext() *coap.Pending

	// Retransmit resends or abandons a popped message.
	Retransmit(p *coap.Pending)

	// Now returns the engine's current tick.
	Now() coap.Tick

	// TicksPerSecond converts ticks to wall-clock time.
	TicksPerSecond() coap.Tick

	// Wait blocks until a datagram is readable or timeout elapses.
	// A timeout is reported as (false, nil).
	Wait(timeout time.Duration) (bool, error)

	// ReceiveAndDispatch processes one readable datagram.
	ReceiveAndDispatch() error
}

// Server drives an Engine until its context is cancelled.
type Server struct {
	engine       Engine
	closer       io.Closer
	housekeeping time.Duration
}

// New creates a loop over engine.
//
// Parameters:
//   - engine: protocol engine to drive
//   - closer: closed on cancellation to unblock a pending Wait (may be nil)
//   - housekeeping: upper bound on a single wait (0 selects the default)
func New(engine Engine, closer io.Closer, housekeeping time.Duration) *Server {
	if housekeeping <= 0 {
		housekeeping = DefaultHousekeepingInterval
	}
	return &Server{
		engine:       engine,
		closer:       closer,
		housekeeping: housekeeping,
	}
}

// Serve runs the event loop until ctx is cancelled.
//
// Transport and handler failures are logged and never end the loop. The
// only error returned is an endpoint that was closed while ctx was still
// live, since nothing can be served after that.
//
// Returns nil on cancellation.
func (s *Server) Serve(ctx context.Context) error {
	done := make(chan struct{})
	defer close(done)

	if s.closer != nil {
		go func() {
			select {
			case <-ctx.Done():
				if err := s.closer.Close(); err != nil {
					logger.Debug("Error closing endpoint: %v", err)
				}
			case <-done:
			}
		}()
	}

	logger.Debug("Event loop started (housekeeping every %v)", s.housekeeping)

	for {
		if ctx.Err() != nil {
			logger.Debug("Event loop stopped")
			return nil
		}

		if err := s.runOnce(); err != nil {
			if ctx.Err() != nil {
				logger.Debug("Event loop stopped")
				return nil
			}
			if errors.Is(err, net.ErrClosed) {
				return fmt.Errorf("endpoint closed: %w", err)
			}
			logger.Error("Error waiting for datagrams: %v", err)
		}
	}
}

// runOnce performs one loop iteration. It only returns Wait failures.
func (s *Server) runOnce() error {
	// Step 1: flush everything that is already due
	next, ok := s.engine.PeekNext()
	now := s.engine.Now()
	for ok && next.Deadline <= now {
		s.engine.Retransmit(s.engine.PopNext())
		next, ok = s.engine.PeekNext()
	}

	// Step 2: wait for traffic, bounded by the next deadline
	timeout := waitTimeout(next, ok, now, s.engine.TicksPerSecond(), s.housekeeping)
	ready, err := s.engine.Wait(timeout)
	if err != nil {
		return err
	}
	if !ready {
		return nil
	}

	// Step 3: dispatch exactly one datagram
	if err := s.engine.ReceiveAndDispatch(); err != nil {
		logger.Error("Error handling datagram: %v", err)
	}
	return nil
}

// waitTimeout returns how long the loop may block: the time until the
// next deadline when it falls within one housekeeping interval, otherwise
// the interval itself.
func waitTimeout(next *coap.Pending, ok bool, now, ticksPerSecond coap.Tick, housekeeping time.Duration) time.Duration {
	if !ok || next == nil || ticksPerSecond == 0 {
		return housekeeping
	}
	if next.Deadline <= now {
		return 0
	}

	delta := next.Deadline - now
	if delta/ticksPerSecond >= coap.Tick(housekeeping/time.Second)+1 {
		return housekeeping
	}

	d := time.Duration(delta/ticksPerSecond)*time.Second +
		time.Duration(delta%ticksPerSecond)*time.Second/time.Duration(ticksPerSecond)
	if d > housekeeping {
		return housekeeping
	}
	return d
}
