package coap

import (
	"encoding/binary"
	"fmt"
	"math/rand"
	"net"
	"time"

	"github.com/cespare/xxhash/v2"
	gocoap "github.com/dustin/go-coap"
	"github.com/marmos91/coapfs/internal/logger"
	"github.com/marmos91/coapfs/internal/ratelimiter"
	"github.com/marmos91/coapfs/internal/resource"
	"github.com/marmos91/coapfs/pkg/metrics"
)

// Options tunes the engine. Zero AckTimeout and AckRandomFactor fall back
// to the RFC 7252 transmission parameters; MaxRetransmit is taken as given.
type Options struct {
	// MaxWriteSize is the largest PUT payload accepted (4.13 beyond it).
	MaxWriteSize int

	AckTimeout      time.Duration
	AckRandomFactor float64
	MaxRetransmit   int

	// Observe enables RFC 7641 registrations.
	Observe bool
	// ConfirmableNotify sends notifications as CON instead of NON.
	ConfirmableNotify bool
	// MaxObservers caps registrations per resource.
	MaxObservers int

	// Changes reports resources modified outside the server. They are
	// notified on the next Wait.
	Changes <-chan string

	// Per-peer token bucket; zero RequestsPerSecond disables it.
	RequestsPerSecond uint
	Burst             uint
	MaxPeers          int

	// Metrics receives request and transmission counters; nil disables
	// collection.
	Metrics metrics.CoAPMetrics

	// Now overrides the wall clock. Tests only.
	Now func() time.Time
}

const (
	defaultAckTimeout      = 2 * time.Second
	defaultAckRandomFactor = 1.5
	defaultMaxObservers    = 16
)

// Engine turns datagrams into handler calls and handler results into
// datagrams. It satisfies the event loop's engine interface.
type Engine struct {
	ep       *Endpoint
	registry *resource.Registry
	opts     Options

	clock   *clock
	queue   retransmitQueue
	limiter *ratelimiter.PeerLimiter
	metrics metrics.CoAPMetrics
	rnd     *rand.Rand

	nextMID   uint16
	observeNo uint32
	observers map[string]*observerSet

	// ETag last sent to the observers of a path
	lastTag map[string][]byte

	// resources written or changed outside since the last notification pass
	touched map[string]struct{}
}

// NewEngine wires an endpoint to a resource registry.
func NewEngine(ep *Endpoint, registry *resource.Registry, opts Options) *Engine {
	if opts.AckTimeout <= 0 {
		opts.AckTimeout = defaultAckTimeout
	}
	if opts.AckRandomFactor < 1 {
		opts.AckRandomFactor = defaultAckRandomFactor
	}
	if opts.MaxRetransmit < 0 {
		opts.MaxRetransmit = 0
	}
	if opts.MaxObservers <= 0 {
		opts.MaxObservers = defaultMaxObservers
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewNoopCoAPMetrics()
	}

	seed := time.Now().UnixNano()
	rnd := rand.New(rand.NewSource(seed))

	return &Engine{
		ep:        ep,
		registry:  registry,
		opts:      opts,
		clock:     newClock(opts.Now),
		limiter:   ratelimiter.NewPeerLimiter(opts.RequestsPerSecond, opts.Burst, opts.MaxPeers),
		metrics:   m,
		rnd:       rnd,
		nextMID:   uint16(rnd.Intn(1 << 16)),
		observers: make(map[string]*observerSet),
		lastTag:   make(map[string][]byte),
		touched:   make(map[string]struct{}),
	}
}

// Now returns the current tick.
func (e *Engine) Now() Tick {
	return e.clock.Now()
}

// TicksPerSecond returns the tick resolution.
func (e *Engine) TicksPerSecond() Tick {
	return TicksPerSecond
}

// Wait blocks until a datagram is readable or timeout elapses. Outside
// changes reported since the previous call are notified first.
func (e *Engine) Wait(timeout time.Duration) (bool, error) {
	if e.drainChanges() {
		e.notifyTouched()
	}
	return e.ep.Wait(timeout)
}

func (e *Engine) drainChanges() bool {
	if e.opts.Changes == nil {
		return false
	}
	drained := false
	for {
		select {
		case path, ok := <-e.opts.Changes:
			if !ok {
				e.opts.Changes = nil
				return drained
			}
			e.touched[path] = struct{}{}
			drained = true
		default:
			return drained
		}
	}
}

// PeekNext returns the pending message with the earliest deadline.
func (e *Engine) PeekNext() (*Pending, bool) {
	return e.queue.peek()
}

// PopNext removes and returns the pending message with the earliest
// deadline, or nil when the queue is empty.
func (e *Engine) PopNext() *Pending {
	return e.queue.pop()
}

// Pending returns the number of unacknowledged messages.
func (e *Engine) Pending() int {
	return e.queue.len()
}

// ReceiveAndDispatch processes the datagram made available by Wait, then
// sends notifications for resources it changed.
//
// Errors are transport failures; request-level problems are answered on
// the wire or dropped and never returned.
func (e *Engine) ReceiveAndDispatch() error {
	data, peer, ok := e.ep.take()
	if !ok {
		return nil
	}

	err := e.dispatch(data, peer)
	e.notifyTouched()
	return err
}

func (e *Engine) dispatch(data []byte, peer *net.UDPAddr) error {
	if e.limiter.Enabled() && !e.limiter.Allow(peer.IP.String()) {
		logger.Debug("Rate limit exceeded for %s, dropping datagram", peer)
		e.metrics.RecordDropped(metrics.DropRateLimited)
		return nil
	}

	msg, err := gocoap.ParseMessage(data)
	if err != nil {
		logger.Debug("Dropping malformed datagram from %s (%d bytes): %v", peer, len(data), err)
		e.metrics.RecordDropped(metrics.DropMalformed)
		return nil
	}

	if limit := e.ep.MaxDatagramSize(); len(data) > limit {
		if !isRequest(msg.Code) {
			logger.Debug("Dropping %d-byte datagram from %s: limit is %d", len(data), peer, limit)
			e.metrics.RecordDropped(metrics.DropOversized)
			return nil
		}
		logger.Debug("%s %v /%s rejected: %d-byte datagram exceeds %d", peer, msg.Code, msg.PathString(), len(data), limit)
		resp := e.newResponse(msg)
		resp.Code = gocoap.RequestEntityTooLarge
		e.metrics.RecordRequest(methodName(msg.Code), codeName(resp.Code), 0)
		return e.send(resp, peer)
	}

	switch msg.Type {
	case gocoap.Acknowledgement:
		e.handleAck(msg, peer)
		return nil
	case gocoap.Reset:
		e.handleReset(msg, peer)
		return nil
	}

	// Empty CON is a CoAP ping, answered with RST
	if msg.Code == 0 {
		if msg.Type == gocoap.Confirmable {
			return e.send(gocoap.Message{Type: gocoap.Reset, MessageID: msg.MessageID}, peer)
		}
		return nil
	}

	if !isRequest(msg.Code) {
		logger.Debug("Ignoring %v from %s: not a request", msg.Code, peer)
		return nil
	}

	start := time.Now()
	resp := e.handleRequest(msg, peer)

	method := methodName(msg.Code)
	e.metrics.RecordRequest(method, codeName(resp.Code), time.Since(start))
	if resp.Code == gocoap.InternalServerError {
		e.metrics.RecordHandlerFailure(method)
	}
	return e.send(resp, peer)
}

// handleRequest routes one request and builds the response.
func (e *Engine) handleRequest(req gocoap.Message, peer *net.UDPAddr) gocoap.Message {
	resp := e.newResponse(req)
	path := req.PathString()

	logger.Debug("%s %v /%s (mid=%d)", peer, req.Code, path, req.MessageID)

	if path == resource.DiscoveryPath {
		if req.Code != gocoap.GET {
			resp.Code = gocoap.MethodNotAllowed
			return resp
		}
		e.discovery(&resp)
		return resp
	}

	entry, ok := e.registry.Lookup(path)
	if !ok {
		resp.Code = gocoap.NotFound
		return resp
	}

	switch req.Code {
	case gocoap.GET:
		e.handleGet(req, &resp, path, entry, peer)
	case gocoap.PUT:
		e.handlePut(req, &resp, path, entry)
	default:
		resp.Code = gocoap.MethodNotAllowed
	}
	return resp
}

func (e *Engine) handleGet(req gocoap.Message, resp *gocoap.Message, path string, entry resource.Entry, peer *net.UDPAddr) {
	reg, observing := e.observeOption(req)

	// Deregistration holds whatever the read returns
	if observing && reg == observeDeregister {
		e.deregister(path, observerKey(peer, req.Token))
	}

	status, payload := entry.Handler.Read()
	resp.Code = statusCode(status)
	if status != resource.StatusContent {
		return
	}

	setContent(resp, payload, entry.ContentFormat)
	e.metrics.RecordBytesTransferred("read", int64(len(payload)))

	if observing && reg == observeRegister {
		if e.register(path, peer, req.Token) {
			resp.SetOption(gocoap.Observe, e.nextObserveNumber())
			e.lastTag[path] = ETag(payload)
		}
	}
}

// observeOption returns the request's Observe value when observation is
// enabled and the option is present.
func (e *Engine) observeOption(req gocoap.Message) (uint32, bool) {
	if !e.opts.Observe {
		return 0, false
	}
	return optionUint(req.Option(gocoap.Observe))
}

func (e *Engine) handlePut(req gocoap.Message, resp *gocoap.Message, path string, entry resource.Entry) {
	if e.opts.MaxWriteSize > 0 && len(req.Payload) > e.opts.MaxWriteSize {
		logger.Debug("PUT /%s rejected: %d bytes exceeds %d", path, len(req.Payload), e.opts.MaxWriteSize)
		resp.Code = gocoap.RequestEntityTooLarge
		return
	}

	status := entry.Handler.Write(req.Payload)
	resp.Code = statusCode(status)
	e.touched[path] = struct{}{}
	if status == resource.StatusChanged {
		e.metrics.RecordBytesTransferred("write", int64(len(req.Payload)))
	}
}

// newResponse answers CON with a piggybacked ACK and NON with NON.
func (e *Engine) newResponse(req gocoap.Message) gocoap.Message {
	resp := gocoap.Message{
		Token: req.Token,
	}
	if req.IsConfirmable() {
		resp.Type = gocoap.Acknowledgement
		resp.MessageID = req.MessageID
	} else {
		resp.Type = gocoap.NonConfirmable
		resp.MessageID = e.newMessageID()
	}
	return resp
}

func (e *Engine) handleAck(msg gocoap.Message, peer *net.UDPAddr) {
	p := e.queue.find(peer, msg.MessageID)
	if p == nil {
		logger.Debug("Unmatched ACK mid=%d from %s", msg.MessageID, peer)
		return
	}
	e.queue.remove(p)
}

func (e *Engine) handleReset(msg gocoap.Message, peer *net.UDPAddr) {
	p := e.queue.find(peer, msg.MessageID)
	if p == nil {
		logger.Debug("Unmatched RST mid=%d from %s", msg.MessageID, peer)
		return
	}
	e.queue.remove(p)
	if p.observerKey != "" {
		logger.Debug("Observer %s reset notification for /%s", peer, p.path)
		e.deregister(p.path, p.observerKey)
	}
}

// Retransmit resends p with a doubled timeout, or abandons it once the
// retransmission budget is spent.
func (e *Engine) Retransmit(p *Pending) {
	if p == nil {
		return
	}
	e.queue.remove(p)

	if p.retransmits >= e.opts.MaxRetransmit {
		logger.Warn("Giving up on mid=%d to %s after %d retransmissions", p.messageID, p.peer, p.retransmits)
		e.metrics.RecordGiveUp()
		if p.observerKey != "" {
			e.deregister(p.path, p.observerKey)
		}
		return
	}

	p.retransmits++
	e.metrics.RecordRetransmission()
	p.timeout *= 2
	p.Deadline = e.Now() + p.timeout

	logger.Debug("Retransmitting mid=%d to %s (attempt %d, next in %v)",
		p.messageID, p.peer, p.retransmits, p.timeout.Duration())

	if err := e.ep.send(p.data, p.peer); err != nil {
		logger.Error("Retransmission to %s failed: %v", p.peer, err)
	}
	e.queue.push(p)
}

// sendConfirmable transmits msg and queues it for retransmission.
func (e *Engine) sendConfirmable(msg gocoap.Message, peer *net.UDPAddr, path, observer string) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	timeout := e.initialTimeout()
	p := &Pending{
		Deadline:    e.Now() + timeout,
		peer:        peer,
		messageID:   msg.MessageID,
		token:       msg.Token,
		data:        data,
		timeout:     timeout,
		path:        path,
		observerKey: observer,
	}
	e.queue.push(p)

	if err := e.ep.send(data, peer); err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

func (e *Engine) send(msg gocoap.Message, peer *net.UDPAddr) error {
	data, err := msg.MarshalBinary()
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}
	if err := e.ep.send(data, peer); err != nil {
		return fmt.Errorf("send to %s: %w", peer, err)
	}
	return nil
}

// initialTimeout picks a value in [AckTimeout, AckTimeout*AckRandomFactor].
func (e *Engine) initialTimeout() Tick {
	base := float64(e.opts.AckTimeout)
	d := time.Duration(base + e.rnd.Float64()*base*(e.opts.AckRandomFactor-1))
	t := TicksOf(d)
	if t == 0 {
		t = 1
	}
	return t
}

func (e *Engine) newMessageID() uint16 {
	e.nextMID++
	return e.nextMID
}

func isRequest(code gocoap.COAPCode) bool {
	return code >= 1 && code < 32
}

func methodName(code gocoap.COAPCode) string {
	switch code {
	case gocoap.GET:
		return "GET"
	case gocoap.POST:
		return "POST"
	case gocoap.PUT:
		return "PUT"
	case gocoap.DELETE:
		return "DELETE"
	default:
		return codeName(code)
	}
}

// codeName renders a code in the dotted class.detail form, e.g. "2.05".
func codeName(code gocoap.COAPCode) string {
	return fmt.Sprintf("%d.%02d", uint8(code)>>5, uint8(code)&0x1f)
}

func statusCode(s resource.Status) gocoap.COAPCode {
	switch s {
	case resource.StatusContent:
		return gocoap.Content
	case resource.StatusChanged:
		return gocoap.Changed
	default:
		return gocoap.InternalServerError
	}
}

// setContent fills payload, Content-Format and ETag.
func setContent(msg *gocoap.Message, payload []byte, contentFormat uint16) {
	msg.Payload = payload
	msg.SetOption(gocoap.ContentFormat, gocoap.MediaType(contentFormat))
	msg.SetOption(gocoap.ETag, ETag(payload))
}

// ETag returns the 8-byte entity tag for payload.
func ETag(payload []byte) []byte {
	tag := make([]byte, 8)
	binary.BigEndian.PutUint64(tag, xxhash.Sum64(payload))
	return tag
}

// optionUint normalizes a decoded uint option. A zero-length option
// decodes to 0.
func optionUint(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case uint16:
		return uint32(n), true
	case uint8:
		return uint32(n), true
	case int:
		return uint32(n), true
	case uint:
		return uint32(n), true
	case gocoap.MediaType:
		return uint32(n), true
	case []byte:
		var x uint32
		for _, b := range n {
			x = x<<8 | uint32(b)
		}
		return x, true
	default:
		return 0, false
	}
}
