package event

import (
	"sync"
	"sync/atomic"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/protocol"
)

// Mode selects how events reach the application.
type Mode uint8

const (
	// ModePoll buffers events in FIFO order until the application drains
	// them with Poll on its own schedule.
	ModePoll Mode = iota
	// ModePush invokes the handler synchronously from whatever thread
	// produced the event. The handler must be realtime-safe and tolerate
	// reentrancy in this mode.
	ModePush
)

// Handler receives one event per invocation.
type Handler func(Event)

// ringSize is the preallocated poll-mode capacity. The ring doubles when
// full, but a drain cycle keeps the backing slots, so steady-state
// enqueueing does not allocate.
const ringSize = 64

// strategy is the delivery capability behind the queue. Selecting the
// strategy once at registration keeps the hot-path calls free of mode
// branching.
type strategy interface {
	emit(ev Event)
	poll() error
}

// Queue is the thread-safe event queue. The delivery mode is fixed at the
// first SetHandler call; attempting to change it afterwards fails with
// ErrConfiguration.
type Queue struct {
	mu     sync.Mutex
	strat  strategy
	mode   Mode
	set    bool
	queued atomic.Int32
}

// NewQueue creates a queue with no handler registered. Events emitted
// before registration are dropped with a diagnostic.
func NewQueue() *Queue {
	return &Queue{}
}

// SetHandler registers the handler and fixes the delivery mode. Re-setting
// the handler in the same mode is allowed; switching modes is not.
func (q *Queue) SetHandler(h Handler, mode Mode) error {
	if h == nil {
		return protocol.ErrConfiguration
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.set {
		if mode != q.mode {
			return protocol.ErrConfiguration
		}
		// Swap the handler on the existing strategy: events queued before
		// the swap stay queued and drain through the new handler.
		switch s := q.strat.(type) {
		case *pollStrategy:
			s.setHandler(h)
		default:
			q.strat = pushStrategy{handler: h}
		}
		return nil
	}

	switch mode {
	case ModePoll:
		q.strat = newPollStrategy(h, &q.queued)
	case ModePush:
		q.strat = pushStrategy{handler: h}
	default:
		return protocol.ErrConfiguration
	}
	q.mode = mode
	q.set = true

	logrus.WithFields(logrus.Fields{
		"function": "SetHandler",
		"mode":     mode,
	}).Debug("Event handler registered")
	return nil
}

// Emit delivers or enqueues one event depending on the registered mode.
func (q *Queue) Emit(ev Event) {
	q.mu.Lock()
	strat := q.strat
	q.mu.Unlock()

	if strat == nil {
		logrus.WithFields(logrus.Fields{
			"function": "Emit",
			"kind":     ev.Kind(),
		}).Warn("Event dropped: no handler registered")
		return
	}
	strat.emit(ev)
}

// Available reports whether queued events are waiting for a drain. It reads
// a single atomic counter, so it is safe to call from a realtime thread. In
// push mode it is always false.
func (q *Queue) Available() bool {
	return q.queued.Load() > 0
}

// Poll drains queued events in FIFO order, invoking the handler once per
// event. Only valid in poll mode.
func (q *Queue) Poll() error {
	q.mu.Lock()
	strat := q.strat
	q.mu.Unlock()

	if strat == nil {
		return protocol.ErrConfiguration
	}
	return strat.poll()
}

// pushStrategy invokes the handler immediately from the producing thread.
type pushStrategy struct {
	handler Handler
}

func (s pushStrategy) emit(ev Event) { s.handler(ev) }

func (s pushStrategy) poll() error { return protocol.ErrConfiguration }

// pollStrategy buffers events in a power-of-two ring recycled across drain
// cycles. The shared counter lets Available stay lock-free.
type pollStrategy struct {
	mu      sync.Mutex
	handler Handler
	ring    []Event
	head    int
	tail    int
	count   int
	drain   []Event
	queued  *atomic.Int32
}

func newPollStrategy(h Handler, queued *atomic.Int32) *pollStrategy {
	return &pollStrategy{
		handler: h,
		ring:    make([]Event, ringSize),
		drain:   make([]Event, 0, ringSize),
		queued:  queued,
	}
}

func (s *pollStrategy) setHandler(h Handler) {
	s.mu.Lock()
	s.handler = h
	s.mu.Unlock()
}

func (s *pollStrategy) emit(ev Event) {
	s.mu.Lock()
	if s.count == len(s.ring) {
		s.grow()
	}
	s.ring[s.tail] = ev
	s.tail = (s.tail + 1) & (len(s.ring) - 1)
	s.count++
	s.mu.Unlock()
	s.queued.Add(1)
}

// grow doubles the ring, copying the queued events back into FIFO order.
// Caller holds s.mu.
func (s *pollStrategy) grow() {
	next := make([]Event, len(s.ring)*2)
	for i := 0; i < s.count; i++ {
		next[i] = s.ring[(s.head+i)&(len(s.ring)-1)]
	}
	s.ring = next
	s.head = 0
	s.tail = s.count
}

func (s *pollStrategy) poll() error {
	// Snapshot the queued events so handlers may emit new events without
	// deadlocking; anything emitted during the drain waits for the next
	// poll. The scratch slice is reused between drains.
	s.mu.Lock()
	s.drain = s.drain[:0]
	for s.count > 0 {
		ev := s.ring[s.head]
		s.ring[s.head] = nil
		s.head = (s.head + 1) & (len(s.ring) - 1)
		s.count--
		s.drain = append(s.drain, ev)
	}
	batch := s.drain
	handler := s.handler
	s.mu.Unlock()

	for _, ev := range batch {
		s.queued.Add(-1)
		handler(ev)
	}
	return nil
}
