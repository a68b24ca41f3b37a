package coap

import (
	"bytes"
	"encoding/hex"
	"net"
	"sort"

	gocoap "github.com/dustin/go-coap"
	"github.com/marmos91/coapfs/internal/logger"
	"github.com/marmos91/coapfs/internal/resource"
)

// Observe option values in requests (RFC 7641 §2).
const (
	observeRegister   = 0
	observeDeregister = 1

	observeNumberMask = 1<<24 - 1
)

type observer struct {
	peer  *net.UDPAddr
	token []byte
}

// observerSet holds the registrations of one resource, keyed by
// observerKey.
type observerSet struct {
	byKey map[string]*observer
	order []string
}

func observerKey(peer *net.UDPAddr, token []byte) string {
	return peer.String() + "#" + hex.EncodeToString(token)
}

// register adds (peer, token) to the observers of path. Re-registering
// an existing pair is a no-op that still succeeds.
func (e *Engine) register(path string, peer *net.UDPAddr, token []byte) bool {
	set, ok := e.observers[path]
	if !ok {
		set = &observerSet{byKey: make(map[string]*observer)}
		e.observers[path] = set
	}

	key := observerKey(peer, token)
	if _, exists := set.byKey[key]; exists {
		return true
	}
	if len(set.order) >= e.opts.MaxObservers {
		logger.Warn("Observer limit (%d) reached for /%s, not registering %s", e.opts.MaxObservers, path, peer)
		return false
	}

	set.byKey[key] = &observer{
		peer:  peer,
		token: append([]byte(nil), token...),
	}
	set.order = append(set.order, key)
	e.metrics.SetObservers(e.observerCount())
	logger.Debug("Registered observer %s on /%s", key, path)
	return true
}

func (e *Engine) deregister(path, key string) {
	set, ok := e.observers[path]
	if !ok {
		return
	}
	if _, exists := set.byKey[key]; !exists {
		return
	}

	delete(set.byKey, key)
	for i, k := range set.order {
		if k == key {
			set.order = append(set.order[:i], set.order[i+1:]...)
			break
		}
	}
	if len(set.order) == 0 {
		delete(e.observers, path)
		delete(e.lastTag, path)
	}

	e.queue.dropObserver(key)
	e.metrics.SetObservers(e.observerCount())
	logger.Debug("Removed observer %s from /%s", key, path)
}

func (e *Engine) observerCount() int {
	n := 0
	for _, set := range e.observers {
		n += len(set.order)
	}
	return n
}

// Observers returns the number of registrations on path.
func (e *Engine) Observers(path string) int {
	if set, ok := e.observers[path]; ok {
		return len(set.order)
	}
	return 0
}

func (e *Engine) nextObserveNumber() uint32 {
	e.observeNo = (e.observeNo + 1) & observeNumberMask
	return e.observeNo
}

// notifyTouched consumes the dirty flag of every touched resource and
// notifies its observers with a fresh representation, unless the content
// is what they last received.
func (e *Engine) notifyTouched() {
	if len(e.touched) == 0 {
		return
	}

	paths := make([]string, 0, len(e.touched))
	for p := range e.touched {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	for _, p := range paths {
		delete(e.touched, p)
	}

	for _, path := range paths {
		entry, ok := e.registry.Lookup(path)
		if !ok || !entry.Handler.TakeDirty() {
			continue
		}
		set, ok := e.observers[path]
		if !ok {
			continue
		}

		status, payload := entry.Handler.Read()
		if status == resource.StatusContent {
			tag := ETag(payload)
			if bytes.Equal(tag, e.lastTag[path]) {
				logger.Debug("/%s unchanged, no notification", path)
				continue
			}
			e.lastTag[path] = tag
		}
		seq := e.nextObserveNumber()

		// copy: an error notification deregisters and mutates order
		keys := append([]string(nil), set.order...)
		for _, key := range keys {
			obs := set.byKey[key]
			if obs == nil {
				continue
			}
			if err := e.notify(path, key, obs, status, payload, entry.ContentFormat, seq); err != nil {
				logger.Error("Notification of /%s to %s failed: %v", path, obs.peer, err)
			}
		}
	}
}

func (e *Engine) notify(path, key string, obs *observer, status resource.Status, payload []byte, contentFormat uint16, seq uint32) error {
	msg := gocoap.Message{
		Type:      gocoap.NonConfirmable,
		Code:      statusCode(status),
		MessageID: e.newMessageID(),
		Token:     obs.token,
	}

	if msg.Code != gocoap.Content {
		// An error response ends the observation (RFC 7641 §3.2)
		e.deregister(path, key)
		return e.send(msg, obs.peer)
	}

	setContent(&msg, payload, contentFormat)
	msg.SetOption(gocoap.Observe, seq)

	if e.opts.ConfirmableNotify {
		msg.Type = gocoap.Confirmable
		return e.sendConfirmable(msg, obs.peer, path, key)
	}
	return e.send(msg, obs.peer)
}
