package groupcast

import (
	"errors"
	"net/netip"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/groupcast/event"
	"github.com/opd-ai/groupcast/protocol"
	"github.com/opd-ai/groupcast/request"
	"github.com/opd-ai/groupcast/session"
)

var testServer = netip.MustParseAddrPort("203.0.113.5:9999")

// wire captures datagrams flushed through Send, standing in for the socket
// owner.
type wire struct {
	mu   sync.Mutex
	sent map[netip.AddrPort][][]byte
	fail error
}

func newWire() *wire {
	return &wire{sent: make(map[netip.AddrPort][][]byte)}
}

func (w *wire) sendFunc() SendFunc {
	return func(addr netip.AddrPort, data []byte) error {
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.fail != nil {
			return w.fail
		}
		w.sent[addr] = append(w.sent[addr], data)
		return nil
	}
}

func (w *wire) take(addr netip.AddrPort) [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := w.sent[addr]
	delete(w.sent, addr)
	return out
}

type eventCollector struct {
	mu     sync.Mutex
	events []event.Event
}

func (c *eventCollector) handler() event.Handler {
	return func(ev event.Event) {
		c.mu.Lock()
		c.events = append(c.events, ev)
		c.mu.Unlock()
	}
}

func (c *eventCollector) take() []event.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := c.events
	c.events = nil
	return out
}

// connectClient drives a fresh client to Connected over the fake wire.
func connectClient(t *testing.T) (*Client, *wire, *eventCollector) {
	t.Helper()
	client, err := New(nil)
	require.NoError(t, err)

	col := &eventCollector{}
	require.NoError(t, client.SetEventHandler(col.handler(), event.ModePoll))

	w := newWire()
	require.NoError(t, client.Connect(testServer.Addr().String(), testServer.Port(), "", nil, nil))
	require.NoError(t, client.Send(w.sendFunc()))

	out := w.take(testServer)
	require.Len(t, out, 1)
	req, err := protocol.JSONCodec{}.Decode(out[0])
	require.NoError(t, err)

	accept, err := protocol.JSONCodec{}.Encode(&protocol.Message{
		Kind:        protocol.KindConnect,
		Correlation: req.Correlation,
		Version:     protocol.Version,
		ClientID:    42,
	})
	require.NoError(t, err)
	require.NoError(t, client.HandleMessage(accept, testServer))
	require.Equal(t, session.StateConnected, client.State())
	require.NoError(t, client.PollEvents())
	col.take()
	return client, w, col
}

// joinBand joins group "band" (ID 1) containing peer bob (ID 11).
func joinBand(t *testing.T, client *Client, w *wire, col *eventCollector) netip.AddrPort {
	t.Helper()
	bobAddr := netip.MustParseAddrPort("192.0.2.1:4000")

	require.NoError(t, client.JoinGroup("band", "", nil, "alice", "", nil, "", nil))
	require.NoError(t, client.Send(w.sendFunc()))
	out := w.take(testServer)
	require.Len(t, out, 1)
	req, err := protocol.JSONCodec{}.Decode(out[0])
	require.NoError(t, err)

	reply, err := protocol.JSONCodec{}.Encode(&protocol.Message{
		Kind:        protocol.KindGroupJoin,
		Correlation: req.Correlation,
		GroupID:     1,
		UserID:      10,
		Peers: []protocol.PeerInfo{
			{GroupID: 1, UserID: 11, GroupName: "band", UserName: "bob", Address: bobAddr.String()},
		},
	})
	require.NoError(t, err)
	require.NoError(t, client.HandleMessage(reply, testServer))
	require.NoError(t, client.PollEvents())
	col.take()
	return bobAddr
}

func TestClientLifecycle(t *testing.T) {
	client, w, col := connectClient(t)
	assert.Equal(t, protocol.ID(42), client.ClientID())

	bobAddr := joinBand(t, client, w, col)

	// Peer lookups return owned values.
	addr, err := client.GetPeerByName("band", "bob")
	require.NoError(t, err)
	assert.Equal(t, bobAddr, addr)

	addr, err = client.GetPeerByID(1, 11)
	require.NoError(t, err)
	assert.Equal(t, bobAddr, addr)

	id, err := client.GetPeerByAddress(bobAddr)
	require.NoError(t, err)
	assert.Equal(t, "bob", id.UserName)

	_, err = client.GetPeerByName("band", "nobody")
	assert.ErrorIs(t, err, protocol.ErrNotFound)

	require.NoError(t, client.Disconnect(nil))
	assert.Equal(t, session.StateDisconnected, client.State())
	_, err = client.GetPeerByID(1, 11)
	assert.ErrorIs(t, err, protocol.ErrNotFound, "directory cleared on disconnect")
}

func TestClientSendMessageRoundTrip(t *testing.T) {
	client, w, col := connectClient(t)
	bobAddr := joinBand(t, client, w, col)

	require.NoError(t, client.SendMessage(1, 11,
		protocol.Data{Type: "text", Bytes: []byte("hello bob")}, protocol.TimeNow, 0))
	require.NoError(t, client.Send(w.sendFunc()))

	out := w.take(bobAddr)
	require.Len(t, out, 1)

	// Feed bob's reply back in as if it arrived off the socket.
	reply, err := protocol.JSONCodec{}.Encode(&protocol.Message{
		Kind:      protocol.KindPeerMessage,
		GroupID:   1,
		Timestamp: 555,
		Payload:   &protocol.Data{Type: "text", Bytes: []byte("hi alice")},
	})
	require.NoError(t, err)
	require.NoError(t, client.HandleMessage(reply, bobAddr))

	assert.True(t, client.EventsAvailable())
	require.NoError(t, client.PollEvents())

	events := col.take()
	require.Len(t, events, 1)
	msg := events[0].(event.PeerMessage)
	assert.Equal(t, protocol.ID(11), msg.UserID)
	assert.Equal(t, []byte("hi alice"), msg.Payload.Bytes)
	assert.False(t, client.EventsAvailable())
}

func TestClientSendMessageMissFailsSynchronously(t *testing.T) {
	client, _, _ := connectClient(t)
	err := client.SendMessage(1, 11, protocol.Data{}, protocol.TimeNow, 0)
	assert.ErrorIs(t, err, protocol.ErrPeerNotFound)
}

func TestClientDropsUndecodableDatagrams(t *testing.T) {
	client, err := New(nil)
	require.NoError(t, err)

	assert.Error(t, client.HandleMessage([]byte("garbage"), testServer))
}

func TestSendFailureTowardsServerIsFatal(t *testing.T) {
	client, w, col := connectClient(t)

	require.NoError(t, client.JoinGroup("band", "", nil, "alice", "", nil, "", nil))
	w.fail = errors.New("socket closed")
	err := client.Send(w.sendFunc())
	require.ErrorIs(t, err, protocol.ErrNetwork)

	assert.Equal(t, session.StateDisconnected, client.State())
	require.NoError(t, client.PollEvents())

	var sawError bool
	for _, ev := range col.take() {
		if e, ok := ev.(event.Error); ok {
			sawError = true
			assert.ErrorIs(t, e.Err, protocol.ErrNetwork)
		}
	}
	assert.True(t, sawError, "fatal transport failure must surface an Error event")
}

func TestRunQuitPromptness(t *testing.T) {
	options := NewOptions()
	options.PumpInterval = time.Hour // quit must not wait for a tick
	client, err := New(options)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		_ = client.Run(false)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	client.Quit()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return promptly after Quit")
	}

	// Quit is idempotent.
	client.Quit()
}

func TestRunNonBlockingPumpsOnce(t *testing.T) {
	options := NewOptions()
	options.RequestTimeout = time.Nanosecond
	client, err := New(options)
	require.NoError(t, err)

	var results []request.Result
	require.NoError(t, client.Connect(testServer.Addr().String(), testServer.Port(), "", nil,
		func(res request.Result) { results = append(results, res) }))

	time.Sleep(5 * time.Millisecond)
	require.NoError(t, client.Run(true))

	require.Len(t, results, 1)
	assert.ErrorIs(t, results[0].Err, protocol.ErrTimeout)
	assert.Equal(t, session.StateDisconnected, client.State())
}

func TestStreamRegistration(t *testing.T) {
	client, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, client.AddSource(1))
	require.NoError(t, client.AddSource(2))
	assert.ErrorIs(t, client.AddSource(1), protocol.ErrConfiguration)
	assert.Equal(t, []protocol.ID{1, 2}, client.Sources())

	require.NoError(t, client.RemoveSource(1))
	assert.ErrorIs(t, client.RemoveSource(1), protocol.ErrNotFound)

	require.NoError(t, client.AddSink(7))
	assert.ErrorIs(t, client.AddSink(7), protocol.ErrConfiguration)
	assert.Equal(t, []protocol.ID{7}, client.Sinks())
	require.NoError(t, client.RemoveSink(7))
	assert.ErrorIs(t, client.RemoveSink(7), protocol.ErrNotFound)
}

func TestSecondConnectFailsFastThroughFacade(t *testing.T) {
	client, err := New(nil)
	require.NoError(t, err)

	require.NoError(t, client.Connect(testServer.Addr().String(), testServer.Port(), "", nil, nil))
	assert.ErrorIs(t, client.Connect(testServer.Addr().String(), testServer.Port(), "", nil, nil),
		protocol.ErrAlreadyInProgress)
}
