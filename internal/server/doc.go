// Package server runs the coapfs event loop.
//
// The loop is single-threaded: it flushes due retransmissions, waits for a
// datagram with a bounded timeout, and hands every datagram to the protocol
// engine. Resource handlers therefore never run concurrently. The engine is
// injected through the Engine interface so the loop can be driven by a fake
// in tests.
package server
