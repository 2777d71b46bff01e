// Package request implements correlation of outgoing protocol requests with
// their asynchronous server replies. Every outgoing request is registered
// under a fresh correlation ID; the reply, a timeout sweep, or a
// disconnect-triggered cancellation resolves it exactly once.
package request

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/protocol"
)

// DefaultTimeout is the reply deadline applied when the client does not
// configure one. There is no retry at this layer; retries, if any, are the
// caller's responsibility.
const DefaultTimeout = 5 * time.Second

// Result is what a pending request resolves to: either a reply envelope or
// an error from the taxonomy (ErrTimeout, ErrAborted, or a server-reported
// failure).
type Result struct {
	Err      error
	Response *protocol.Message
}

// Callback receives the result of an asynchronous request. It is invoked
// from the thread that resolved the request (network thread for replies,
// pump thread for timeouts), never from the thread that issued it.
type Callback func(Result)

type pending struct {
	kind     protocol.Kind
	callback Callback
	issuedAt time.Time
}

// Tracker matches outgoing requests to replies. Correlation IDs increase
// monotonically and are never reused while the request they name is still
// outstanding.
type Tracker struct {
	mu      sync.Mutex
	next    uint32
	pending map[uint32]pending
	clock   func() time.Time
}

// NewTracker creates an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{
		pending: make(map[uint32]pending),
		clock:   time.Now,
	}
}

// Register records a new pending request and returns its correlation ID.
// ID zero is reserved for uncorrelated notifications and is never issued.
func (t *Tracker) Register(kind protocol.Kind, cb Callback) uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	for {
		t.next++
		if t.next == 0 {
			continue
		}
		if _, taken := t.pending[t.next]; !taken {
			break
		}
	}
	t.pending[t.next] = pending{kind: kind, callback: cb, issuedAt: t.clock()}

	logrus.WithFields(logrus.Fields{
		"function":    "Register",
		"kind":        kind.String(),
		"correlation": t.next,
	}).Debug("Request registered")
	return t.next
}

// Resolve invokes and removes the request with the given correlation ID.
// Resolving an unknown or already-resolved ID is a no-op diagnostic, which
// protects the tracker against duplicate or late server replies. Reports
// whether a request was actually resolved.
func (t *Tracker) Resolve(correlation uint32, result Result) bool {
	t.mu.Lock()
	p, ok := t.pending[correlation]
	if ok {
		delete(t.pending, correlation)
	}
	t.mu.Unlock()

	if !ok {
		logrus.WithFields(logrus.Fields{
			"function":    "Resolve",
			"correlation": correlation,
		}).Warn("Reply for unknown or already-resolved request")
		return false
	}
	if p.callback != nil {
		p.callback(result)
	}
	return true
}

// ExpireOlderThan resolves every request issued before the deadline with
// ErrTimeout and returns how many expired. Invoked once per pump cycle.
func (t *Tracker) ExpireOlderThan(deadline time.Time) int {
	t.mu.Lock()
	var expired []pending
	for id, p := range t.pending {
		if p.issuedAt.Before(deadline) {
			expired = append(expired, p)
			delete(t.pending, id)
		}
	}
	t.mu.Unlock()

	for _, p := range expired {
		logrus.WithFields(logrus.Fields{
			"function": "ExpireOlderThan",
			"kind":     p.kind.String(),
		}).Info("Request timed out")
		if p.callback != nil {
			p.callback(Result{Err: protocol.ErrTimeout})
		}
	}
	return len(expired)
}

// CancelAll resolves every outstanding request with the given error and
// returns how many were cancelled. Disconnect uses this to deliver
// ErrAborted to pending group operations.
func (t *Tracker) CancelAll(err error) int {
	t.mu.Lock()
	cancelled := make([]pending, 0, len(t.pending))
	for id, p := range t.pending {
		cancelled = append(cancelled, p)
		delete(t.pending, id)
	}
	t.mu.Unlock()

	for _, p := range cancelled {
		if p.callback != nil {
			p.callback(Result{Err: err})
		}
	}
	return len(cancelled)
}

// Outstanding reports whether the given correlation ID is still pending.
func (t *Tracker) Outstanding(correlation uint32) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.pending[correlation]
	return ok
}

// Len returns the number of pending requests.
func (t *Tracker) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.pending)
}
