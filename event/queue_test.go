package event

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/groupcast/protocol"
)

// collector records delivered events in order.
type collector struct {
	mu     sync.Mutex
	events []Event
}

func (c *collector) handler() Handler {
	return func(ev Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

func (c *collector) snapshot() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Event(nil), c.events...)
}

func TestPollModeDrainsFIFO(t *testing.T) {
	q := NewQueue()
	col := &collector{}
	require.NoError(t, q.SetHandler(col.handler(), ModePoll))

	const n = 10
	for i := 0; i < n; i++ {
		q.Emit(PeerMessage{UserID: protocol.ID(i)})
	}
	assert.True(t, q.Available())
	assert.Empty(t, col.snapshot(), "poll mode must not deliver before a drain")

	require.NoError(t, q.Poll())

	delivered := col.snapshot()
	require.Len(t, delivered, n)
	for i, ev := range delivered {
		msg, ok := ev.(PeerMessage)
		require.True(t, ok)
		assert.Equal(t, protocol.ID(i), msg.UserID, "FIFO order violated")
	}

	assert.False(t, q.Available(), "queue must be empty immediately after drain")
	require.NoError(t, q.Poll())
	assert.Len(t, col.snapshot(), n, "second drain delivers nothing")
}

func TestPollModeSurvivesRingGrowth(t *testing.T) {
	q := NewQueue()
	col := &collector{}
	require.NoError(t, q.SetHandler(col.handler(), ModePoll))

	// Overflow the preallocated ring several times over.
	const n = ringSize*4 + 3
	for i := 0; i < n; i++ {
		q.Emit(PeerMessage{UserID: protocol.ID(i)})
	}
	require.NoError(t, q.Poll())

	delivered := col.snapshot()
	require.Len(t, delivered, n)
	assert.Equal(t, protocol.ID(0), delivered[0].(PeerMessage).UserID)
	assert.Equal(t, protocol.ID(n-1), delivered[n-1].(PeerMessage).UserID)
}

func TestPushModeDeliversImmediately(t *testing.T) {
	q := NewQueue()
	col := &collector{}
	require.NoError(t, q.SetHandler(col.handler(), ModePush))

	q.Emit(ConnectResult{ClientID: 3})

	delivered := col.snapshot()
	require.Len(t, delivered, 1)
	assert.Equal(t, protocol.ID(3), delivered[0].(ConnectResult).ClientID)

	assert.False(t, q.Available(), "push mode never queues")
	assert.ErrorIs(t, q.Poll(), protocol.ErrConfiguration)
}

func TestModeIsFixedAfterRegistration(t *testing.T) {
	q := NewQueue()
	col := &collector{}
	require.NoError(t, q.SetHandler(col.handler(), ModePoll))

	assert.ErrorIs(t, q.SetHandler(col.handler(), ModePush), protocol.ErrConfiguration)

	// Replacing the handler in the same mode stays legal.
	assert.NoError(t, q.SetHandler(col.handler(), ModePoll))
}

func TestHandlerSwapKeepsQueuedEvents(t *testing.T) {
	q := NewQueue()
	first := &collector{}
	require.NoError(t, q.SetHandler(first.handler(), ModePoll))

	q.Emit(PeerJoin{UserID: 1})
	q.Emit(PeerJoin{UserID: 2})

	second := &collector{}
	require.NoError(t, q.SetHandler(second.handler(), ModePoll))

	assert.True(t, q.Available(), "queued events survive the handler swap")
	require.NoError(t, q.Poll())

	assert.Empty(t, first.snapshot())
	delivered := second.snapshot()
	require.Len(t, delivered, 2)
	assert.Equal(t, protocol.ID(1), delivered[0].(PeerJoin).UserID)
	assert.Equal(t, protocol.ID(2), delivered[1].(PeerJoin).UserID)
	assert.False(t, q.Available())
}

func TestSetHandlerRejectsNil(t *testing.T) {
	q := NewQueue()
	assert.ErrorIs(t, q.SetHandler(nil, ModePoll), protocol.ErrConfiguration)
}

func TestEmitWithoutHandlerDoesNotPanic(t *testing.T) {
	q := NewQueue()
	q.Emit(Error{Err: protocol.ErrNetwork})
	assert.False(t, q.Available())
	assert.ErrorIs(t, q.Poll(), protocol.ErrConfiguration)
}

func TestHandlerMayEmitDuringDrain(t *testing.T) {
	q := NewQueue()
	var delivered []Event
	require.NoError(t, q.SetHandler(func(ev Event) {
		delivered = append(delivered, ev)
		if len(delivered) == 1 {
			q.Emit(PeerLeave{UserID: 99})
		}
	}, ModePoll))

	q.Emit(PeerJoin{UserID: 1})
	require.NoError(t, q.Poll())
	assert.Len(t, delivered, 1, "events emitted during a drain wait for the next poll")

	require.NoError(t, q.Poll())
	assert.Len(t, delivered, 2)
}
