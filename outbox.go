package groupcast

import (
	"net/netip"
	"sync"
)

// datagram is one encoded envelope awaiting delivery.
type datagram struct {
	addr    netip.AddrPort
	payload []byte
}

// outbox is the shared queue of outbound datagrams. The session machine and
// message router enqueue; the network thread drains through the send
// primitive it owns. The backing slices are swapped rather than copied and
// reused across drain cycles, so steady-state traffic does not grow the
// heap.
type outbox struct {
	mu    sync.Mutex
	queue []datagram
	spare []datagram
}

func newOutbox() *outbox {
	return &outbox{
		queue: make([]datagram, 0, 64),
		spare: make([]datagram, 0, 64),
	}
}

// Enqueue appends one datagram. Satisfies session.Sender and router.Sender.
func (o *outbox) Enqueue(addr netip.AddrPort, payload []byte) {
	o.mu.Lock()
	o.queue = append(o.queue, datagram{addr: addr, payload: payload})
	o.mu.Unlock()
}

// Drain hands every queued datagram to fn in order. Delivery continues past
// individual failures; the first error and its destination are returned so
// the caller can decide whether the failure is fatal.
func (o *outbox) Drain(fn SendFunc) (netip.AddrPort, error) {
	o.mu.Lock()
	batch := o.queue
	o.queue = o.spare[:0]
	o.spare = batch
	o.mu.Unlock()

	var (
		firstErr  error
		firstAddr netip.AddrPort
	)
	for _, d := range batch {
		if err := fn(d.addr, d.payload); err != nil && firstErr == nil {
			firstErr = err
			firstAddr = d.addr
		}
	}
	return firstAddr, firstErr
}

// Len returns the number of queued datagrams.
func (o *outbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.queue)
}
