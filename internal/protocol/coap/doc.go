// Package coap is the protocol engine behind the coapfs event loop.
//
// It owns everything the loop treats as opaque:
//   - the UDP endpoint (Listen, Endpoint.Wait)
//   - PDU decoding and encoding (github.com/dustin/go-coap)
//   - routing of GET/PUT requests to resource handlers by Uri-Path
//   - the retransmission queue for confirmable messages the server sends
//   - a monotonic tick clock used for retransmission deadlines
//   - observe registrations and change notifications (RFC 7641)
//   - /.well-known/core discovery (RFC 6690)
//
// The engine is not safe for concurrent use. It is driven by a single
// goroutine, the server's event loop.
package coap
