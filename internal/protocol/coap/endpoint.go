package coap

import (
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"time"
)

// BindError reports an endpoint that could not be created.
type BindError struct {
	Address string
	Err     error
}

func (e *BindError) Error() string {
	return fmt.Sprintf("no context available for interface '%s': %v", e.Address, e.Err)
}

func (e *BindError) Unwrap() error {
	return e.Err
}

// maxUDPPayload is the largest datagram UDP over IPv4 can carry. Reads use
// a buffer one byte larger, so a datagram past the configured limit is
// always seen whole and never cut to fit.
const maxUDPPayload = 65507

// Endpoint is the server's single UDP socket.
//
// Wait blocks until one datagram arrives or the timeout passes; the
// datagram is held until the engine takes it.
type Endpoint struct {
	conn  *net.UDPConn
	buf   []byte
	limit int

	packet []byte
	peer   *net.UDPAddr
	ready  bool
}

// Listen binds a UDP endpoint. address must be a numeric IPv4 or IPv6
// literal; host names are not resolved.
func Listen(address string, port int, maxDatagramSize int) (*Endpoint, error) {
	hostPort := net.JoinHostPort(address, strconv.Itoa(port))

	ip := net.ParseIP(address)
	if ip == nil {
		return nil, &BindError{Address: hostPort, Err: fmt.Errorf("%q is not a numeric address", address)}
	}
	if port < 0 || port > 65535 {
		return nil, &BindError{Address: hostPort, Err: fmt.Errorf("port %d out of range", port)}
	}

	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: ip, Port: port})
	if err != nil {
		return nil, &BindError{Address: hostPort, Err: err}
	}

	if maxDatagramSize <= 0 {
		maxDatagramSize = 1152
	}

	return &Endpoint{
		conn:  conn,
		buf:   make([]byte, maxUDPPayload+1),
		limit: maxDatagramSize,
	}, nil
}

// LocalAddr returns the bound address.
func (e *Endpoint) LocalAddr() *net.UDPAddr {
	return e.conn.LocalAddr().(*net.UDPAddr)
}

// MaxDatagramSize returns the largest datagram the endpoint accepts or sends.
func (e *Endpoint) MaxDatagramSize() int {
	return e.limit
}

// Wait blocks for at most timeout until a datagram is available.
//
// It returns false with a nil error when the timeout expires. Interrupted
// system calls are retried by the runtime and never surface here.
func (e *Endpoint) Wait(timeout time.Duration) (bool, error) {
	if e.ready {
		return true, nil
	}

	if err := e.conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return false, fmt.Errorf("set read deadline: %w", err)
	}

	n, peer, err := e.conn.ReadFromUDP(e.buf)
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			return false, nil
		}
		return false, err
	}

	e.packet = e.buf[:n]
	e.peer = peer
	e.ready = true
	return true, nil
}

// take hands out the held datagram. The slice is only valid until the
// next Wait and may be longer than MaxDatagramSize.
func (e *Endpoint) take() ([]byte, *net.UDPAddr, bool) {
	if !e.ready {
		return nil, nil, false
	}
	e.ready = false
	return e.packet, e.peer, true
}

// send writes one datagram to peer.
func (e *Endpoint) send(data []byte, peer *net.UDPAddr) error {
	if len(data) > e.limit {
		return fmt.Errorf("datagram of %d bytes exceeds limit of %d", len(data), e.limit)
	}
	_, err := e.conn.WriteToUDP(data, peer)
	return err
}

// Close releases the socket. A blocked Wait returns net.ErrClosed.
func (e *Endpoint) Close() error {
	return e.conn.Close()
}
