package groupcast

import (
	"fmt"
	"net/netip"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/event"
	"github.com/opd-ai/groupcast/peer"
	"github.com/opd-ai/groupcast/protocol"
	"github.com/opd-ai/groupcast/request"
	"github.com/opd-ai/groupcast/router"
	"github.com/opd-ai/groupcast/session"
)

// SendFunc is the outbound half of the transport boundary: the send
// primitive owned by the socket collaborator. It must be callable from the
// network thread.
type SendFunc func(addr netip.AddrPort, data []byte) error

// Client is the session facade: the single entry point the application
// thread and the network thread call into. It aggregates the peer
// directory, request tracker, event queue, session state machine and
// message router.
type Client struct {
	options   *Options
	directory *peer.Directory
	tracker   *request.Tracker
	events    *event.Queue
	session   *session.Machine
	router    *router.Router
	outbox    *outbox

	streamsMu sync.Mutex
	sources   map[protocol.ID]struct{}
	sinks     map[protocol.ID]struct{}

	running    atomic.Bool
	quitMu     sync.Mutex
	quit       chan struct{}
	quitClosed bool
}

// New creates a Client with the given options. Passing nil uses defaults.
func New(options *Options) (*Client, error) {
	if options == nil {
		options = NewOptions()
	}
	if options.Codec == nil {
		options.Codec = protocol.JSONCodec{}
	}
	if options.PumpInterval <= 0 {
		options.PumpInterval = 100 * time.Millisecond
	}

	c := &Client{
		options:   options,
		directory: peer.NewDirectory(),
		tracker:   request.NewTracker(),
		events:    event.NewQueue(),
		outbox:    newOutbox(),
		sources:   make(map[protocol.ID]struct{}),
		sinks:     make(map[protocol.ID]struct{}),
		quit:      make(chan struct{}),
	}
	c.session = session.NewMachine(c.directory, c.tracker, c.events, c.outbox, options.Codec, session.Config{
		Version:        options.Version,
		RequestTimeout: options.RequestTimeout,
		PingInterval:   options.PingInterval,
	})
	c.router = router.New(c.directory, c.outbox, c.events, options.Codec)

	logrus.WithFields(logrus.Fields{
		"function": "New",
		"version":  options.Version,
	}).Info("Client created")
	return c, nil
}

// State returns the current session state.
func (c *Client) State() session.State {
	return c.session.State()
}

// ClientID returns the server-assigned client ID, valid while Connected.
func (c *Client) ClientID() protocol.ID {
	return c.session.ClientID()
}

// Connect starts the login handshake with the rendezvous server. The call
// never blocks; the result arrives through cb and a ConnectResult event. A
// second Connect while one is in flight fails with ErrAlreadyInProgress.
func (c *Client) Connect(host string, port uint16, password string, metadata *protocol.Data, cb request.Callback) error {
	return c.session.Connect(host, port, password, metadata, cb)
}

// Disconnect tears the session down, cancelling outstanding group
// operations with ErrAborted.
func (c *Client) Disconnect(cb request.Callback) error {
	return c.session.Disconnect(cb)
}

// JoinGroup joins a named group on the server. Valid only while Connected.
// relay, when non-empty, is a literal "host:port" endpoint offered to peers
// that cannot reach us directly.
func (c *Client) JoinGroup(groupName, groupPwd string, groupMD *protocol.Data,
	userName, userPwd string, userMD *protocol.Data, relay string, cb request.Callback) error {
	return c.session.JoinGroup(groupName, groupPwd, groupMD, userName, userPwd, userMD, relay, cb)
}

// LeaveGroup leaves a previously joined group.
func (c *Client) LeaveGroup(groupID protocol.ID, cb request.Callback) error {
	return c.session.LeaveGroup(groupID, cb)
}

// SendRequest queues an arbitrary correlated request envelope: the
// forward-compatible escape hatch for request kinds this client predates.
func (c *Client) SendRequest(req *protocol.Message, cb request.Callback) error {
	return c.session.SendRequest(req, cb)
}

// SendMessage sends an application payload to a specific peer, to every
// member of a group (user == protocol.IDWildcard), or to every known peer
// (group == protocol.IDWildcard). The timestamp is attached for the
// receiving side to honor; delivery is never delayed locally.
func (c *Client) SendMessage(group, user protocol.ID, payload protocol.Data, ts protocol.Time, flags uint32) error {
	return c.router.SendMessage(group, user, payload, ts, flags)
}

// HandleMessage is the inbound half of the transport boundary: the socket
// owner feeds every received datagram here from the network thread.
// Protocol control traffic goes to the session machine; peer payloads go to
// the message router.
func (c *Client) HandleMessage(data []byte, source netip.AddrPort) error {
	msg, err := c.options.Codec.Decode(data)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandleMessage",
			"source":   source,
			"size":     len(data),
		}).Warn("Dropping undecodable datagram")
		return err
	}
	if msg.Kind == protocol.KindPeerMessage {
		return c.router.HandleMessage(msg, source)
	}
	return c.session.HandleControl(msg, source)
}

// Send drains queued outbound datagrams through the caller's send
// primitive. Call on the network thread; hostname resolution for a pending
// connect happens here, off the application thread. A send failure towards
// the server is fatal and tears the session down.
func (c *Client) Send(fn SendFunc) error {
	if err := c.session.FlushDeferred(); err != nil {
		return err
	}

	failedAddr, err := c.outbox.Drain(fn)
	if err == nil {
		return nil
	}

	wrapped := fmt.Errorf("%w: send to %s: %v", protocol.ErrNetwork, failedAddr, err)
	if server, ok := c.session.ServerAddr(); ok && failedAddr == server {
		c.session.Fail(wrapped)
	}
	return wrapped
}

// Run drives the internal pump. In blocking form it loops until Quit is
// called from another thread; Quit wakes the loop through a channel, so the
// return latency is bounded by the select, not the pump interval. In
// non-blocking form it performs a single pump pass and returns, leaving the
// schedule to the caller.
func (c *Client) Run(nonBlocking bool) error {
	if nonBlocking {
		c.pump()
		return nil
	}

	if !c.running.CompareAndSwap(false, true) {
		return protocol.ErrAlreadyInProgress
	}
	defer c.running.Store(false)

	ticker := time.NewTicker(c.options.PumpInterval)
	defer ticker.Stop()

	logrus.WithFields(logrus.Fields{
		"function": "Run",
		"interval": c.options.PumpInterval,
	}).Info("Pump loop started")

	for {
		select {
		case <-c.quit:
			logrus.WithField("function", "Run").Info("Pump loop stopped")
			return nil
		case <-ticker.C:
			c.pump()
		}
	}
}

// Quit stops a blocking Run from another thread. Safe to call more than
// once; the client is done after Quit and is not restartable.
func (c *Client) Quit() {
	c.quitMu.Lock()
	if !c.quitClosed {
		close(c.quit)
		c.quitClosed = true
	}
	c.quitMu.Unlock()
}

// pump runs one cycle: request expiry sweep, keepalive scheduling, and any
// pending server address resolution.
func (c *Client) pump() {
	_ = c.session.FlushDeferred()
	c.session.Tick(time.Now())
}

// GetPeerByName returns the address used to reach the peer with the given
// group and user names.
func (c *Client) GetPeerByName(group, user string) (netip.AddrPort, error) {
	ep, err := c.directory.LookupByName(group, user)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return ep.Dest(), nil
}

// GetPeerByID returns the address used to reach the peer with the given
// group and user IDs.
func (c *Client) GetPeerByID(group, user protocol.ID) (netip.AddrPort, error) {
	ep, err := c.directory.LookupByID(group, user)
	if err != nil {
		return netip.AddrPort{}, err
	}
	return ep.Dest(), nil
}

// GetPeerByAddress returns the identity of the peer registered at the given
// address.
func (c *Client) GetPeerByAddress(addr netip.AddrPort) (peer.Identity, error) {
	return c.directory.LookupByEndpoint(addr)
}

// SetEventHandler registers the event handler and fixes the delivery mode.
// Call once, before any traffic flows; switching modes later fails with
// ErrConfiguration.
func (c *Client) SetEventHandler(h event.Handler, mode event.Mode) error {
	return c.events.SetHandler(h, mode)
}

// EventsAvailable reports whether queued events await a PollEvents call. It
// reads one atomic counter and is safe from a realtime thread.
func (c *Client) EventsAvailable() bool {
	return c.events.Available()
}

// PollEvents drains queued events in FIFO order through the registered
// handler. Only valid in poll mode.
func (c *Client) PollEvents() error {
	return c.events.Poll()
}
