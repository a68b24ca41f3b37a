package coap

import (
	"container/heap"
	"net"
)

// Pending is a confirmable message awaiting acknowledgement.
type Pending struct {
	// Deadline is the tick at which the message must be resent or
	// abandoned.
	Deadline Tick

	peer      *net.UDPAddr
	messageID uint16
	token     []byte
	data      []byte

	timeout     Tick
	retransmits int

	// observation the message belongs to, empty for plain responses
	path        string
	observerKey string

	seq   uint64
	index int
}

// MessageID returns the CoAP message ID the peer must acknowledge.
func (p *Pending) MessageID() uint16 {
	return p.messageID
}

// Retransmits returns how often the message has been resent.
func (p *Pending) Retransmits() int {
	return p.retransmits
}

// pendingQueue is a min-heap ordered by deadline, ties by insertion.
type pendingQueue []*Pending

func (q pendingQueue) Len() int { return len(q) }

func (q pendingQueue) Less(i, j int) bool {
	if q[i].Deadline != q[j].Deadline {
		return q[i].Deadline < q[j].Deadline
	}
	return q[i].seq < q[j].seq
}

func (q pendingQueue) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *pendingQueue) Push(x any) {
	p := x.(*Pending)
	p.index = len(*q)
	*q = append(*q, p)
}

func (q *pendingQueue) Pop() any {
	old := *q
	n := len(old)
	p := old[n-1]
	old[n-1] = nil
	p.index = -1
	*q = old[:n-1]
	return p
}

// retransmitQueue wraps the heap with lookups by (peer, message ID).
type retransmitQueue struct {
	heap pendingQueue
	seq  uint64
}

func (r *retransmitQueue) push(p *Pending) {
	r.seq++
	p.seq = r.seq
	heap.Push(&r.heap, p)
}

func (r *retransmitQueue) peek() (*Pending, bool) {
	if len(r.heap) == 0 {
		return nil, false
	}
	return r.heap[0], true
}

func (r *retransmitQueue) pop() *Pending {
	if len(r.heap) == 0 {
		return nil
	}
	return heap.Pop(&r.heap).(*Pending)
}

func (r *retransmitQueue) remove(p *Pending) {
	if p.index < 0 || p.index >= len(r.heap) || r.heap[p.index] != p {
		return
	}
	heap.Remove(&r.heap, p.index)
}

// find returns the pending message sent to peer with the given ID.
func (r *retransmitQueue) find(peer *net.UDPAddr, messageID uint16) *Pending {
	for _, p := range r.heap {
		if p.messageID == messageID && sameAddr(p.peer, peer) {
			return p
		}
	}
	return nil
}

// dropObserver removes every queued notification for the observer.
func (r *retransmitQueue) dropObserver(key string) {
	var doomed []*Pending
	for _, p := range r.heap {
		if p.observerKey == key {
			doomed = append(doomed, p)
		}
	}
	for _, p := range doomed {
		r.remove(p)
	}
}

func (r *retransmitQueue) len() int {
	return len(r.heap)
}

func sameAddr(a, b *net.UDPAddr) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Port == b.Port && a.IP.Equal(b.IP) && a.Zone == b.Zone
}
