// Package session implements the connect/disconnect/join/leave lifecycle of
// a groupcast client. The state machine owns the rendezvous-server
// conversation: it issues correlated requests through the request tracker,
// folds replies and peer notifications into the peer directory, and surfaces
// results through callbacks and the event queue.
//
// All lifecycle entry points are non-blocking: they enqueue a protocol
// request on the shared outbox and return; results arrive later on the
// thread that processed the reply.
package session

import (
	"fmt"
	"net"
	"net/netip"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/event"
	"github.com/opd-ai/groupcast/peer"
	"github.com/opd-ai/groupcast/protocol"
	"github.com/opd-ai/groupcast/request"
)

// Sender queues an encoded datagram for delivery by the socket owner. The
// session core never opens sockets; the network thread drains the queue
// through the send primitive it was handed.
type Sender interface {
	Enqueue(addr netip.AddrPort, payload []byte)
}

// Config carries the tunables the facade passes down.
type Config struct {
	Version        string
	RequestTimeout time.Duration
	PingInterval   time.Duration
}

// Machine is the session state machine. Its mutex is the single
// serialization point for lifecycle transitions; the directory, tracker and
// queue keep their own fine-grained locks because the network and
// application threads touch different subsets concurrently.
type Machine struct {
	mu    sync.Mutex
	state atomic.Uint32

	directory *peer.Directory
	tracker   *request.Tracker
	events    *event.Queue
	sender    Sender
	codec     protocol.Codec
	cfg       Config

	// Server endpoint. Hostnames are resolved lazily on the network
	// thread so Connect never blocks its caller on DNS.
	serverHost string
	serverPort uint16
	serverAddr netip.AddrPort
	resolved   bool
	deferred   [][]byte

	connectCorr uint32
	clientID    protocol.ID
	token       string
	groups      map[protocol.ID]protocol.ID // group ID -> our user ID
	lastPing    time.Time
}

// NewMachine wires the state machine to its collaborators.
func NewMachine(directory *peer.Directory, tracker *request.Tracker, events *event.Queue, sender Sender, codec protocol.Codec, cfg Config) *Machine {
	if cfg.Version == "" {
		cfg.Version = protocol.Version
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = request.DefaultTimeout
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 10 * time.Second
	}
	return &Machine{
		directory: directory,
		tracker:   tracker,
		events:    events,
		sender:    sender,
		codec:     codec,
		cfg:       cfg,
		groups:    make(map[protocol.ID]protocol.ID),
	}
}

// State returns the current lifecycle state.
func (m *Machine) State() State {
	return State(m.state.Load())
}

// ClientID returns the server-assigned client ID, valid while Connected.
func (m *Machine) ClientID() protocol.ID {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.clientID
}

// ServerAddr returns the resolved server endpoint, if known.
func (m *Machine) ServerAddr() (netip.AddrPort, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.serverAddr, m.resolved
}

// Connect starts the login handshake. A second call while a handshake is in
// flight fails fast with ErrAlreadyInProgress and leaves the original
// attempt untouched. The result is delivered through cb and a ConnectResult
// event, never by blocking the caller.
func (m *Machine) Connect(host string, port uint16, password string, metadata *protocol.Data, cb request.Callback) error {
	m.mu.Lock()
	switch m.State() {
	case StateConnecting:
		m.mu.Unlock()
		return protocol.ErrAlreadyInProgress
	case StateDisconnected:
	default:
		m.mu.Unlock()
		return protocol.ErrInvalidState
	}

	m.state.Store(uint32(StateConnecting))
	m.serverHost = host
	m.serverPort = port
	m.resolved = false
	m.deferred = nil
	m.token = uuid.NewString()
	if ip, err := netip.ParseAddr(host); err == nil {
		m.serverAddr = netip.AddrPortFrom(ip, port)
		m.resolved = true
	}

	corr := m.tracker.Register(protocol.KindConnect, func(res request.Result) {
		m.completeConnect(res, cb)
	})
	m.connectCorr = corr
	msg := &protocol.Message{
		Kind:        protocol.KindConnect,
		Correlation: corr,
		Version:     m.cfg.Version,
		Token:       m.token,
		Credential:  protocol.DigestCredential(password),
		Metadata:    metadata,
	}
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Connect",
		"host":     host,
		"port":     port,
	}).Info("Connecting to server")
	return m.sendServer(msg)
}

// completeConnect finishes the handshake on the thread that resolved the
// connect request.
func (m *Machine) completeConnect(res request.Result, cb request.Callback) {
	if res.Err == nil && res.Response != nil {
		if res.Response.Code != protocol.CodeNone {
			res.Err = protocol.ErrorOf(res.Response.Code, res.Response.ErrorText)
		} else if res.Response.Version != m.cfg.Version {
			res.Err = fmt.Errorf("%w: server %q, client %q",
				protocol.ErrVersionMismatch, res.Response.Version, m.cfg.Version)
		}
	}

	ev := event.ConnectResult{Err: res.Err}
	m.mu.Lock()
	m.connectCorr = 0
	if res.Err != nil {
		if m.State() == StateConnecting {
			m.state.Store(uint32(StateDisconnected))
		}
	} else if m.State() == StateConnecting {
		m.clientID = res.Response.ClientID
		m.lastPing = time.Now()
		m.state.Store(uint32(StateConnected))
		ev.ClientID = res.Response.ClientID
	}
	state := m.State()
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "completeConnect",
		"state":    state.String(),
		"error":    res.Err,
	}).Info("Connect attempt finished")

	if cb != nil {
		cb(res)
	}
	m.events.Emit(ev)
}

// Disconnect tears the session down. Every outstanding request, group
// operations included, is cancelled with ErrAborted before the goodbye is
// queued; the state machine then returns to Disconnected without waiting
// for a server reply.
func (m *Machine) Disconnect(cb request.Callback) error {
	m.mu.Lock()
	st := m.State()
	if st == StateDisconnected || st == StateDisconnecting {
		m.mu.Unlock()
		return protocol.ErrInvalidState
	}
	m.state.Store(uint32(StateDisconnecting))
	m.mu.Unlock()

	cancelled := m.tracker.CancelAll(protocol.ErrAborted)
	if st == StateConnected {
		_ = m.sendServer(&protocol.Message{Kind: protocol.KindDisconnect})
	}

	m.mu.Lock()
	m.directory.Clear()
	m.groups = make(map[protocol.ID]protocol.ID)
	m.clientID = 0
	m.connectCorr = 0
	m.state.Store(uint32(StateDisconnected))
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function":  "Disconnect",
		"cancelled": cancelled,
	}).Info("Disconnected from server")

	if cb != nil {
		cb(request.Result{})
	}
	m.events.Emit(event.DisconnectResult{})
	return nil
}

// JoinGroup starts the group join sub-protocol. Valid only while Connected.
// relay, when non-empty, must be a literal "host:port" endpoint that the
// server hands to peers which cannot reach us directly.
func (m *Machine) JoinGroup(groupName, groupPwd string, groupMD *protocol.Data,
	userName, userPwd string, userMD *protocol.Data, relay string, cb request.Callback) error {
	if relay != "" {
		if _, err := protocol.ParseEndpoint(relay); err != nil {
			return fmt.Errorf("%w: relay address %q: %v", protocol.ErrConfiguration, relay, err)
		}
	}

	// Check and register under the lock so a concurrent Disconnect either
	// cancels this request in its CancelAll sweep or makes this call fail
	// with ErrInvalidState; a request can never slip between the two.
	m.mu.Lock()
	if m.State() != StateConnected {
		m.mu.Unlock()
		return protocol.ErrInvalidState
	}
	corr := m.tracker.Register(protocol.KindGroupJoin, func(res request.Result) {
		m.completeJoin(groupName, res, cb)
	})
	m.mu.Unlock()
	msg := &protocol.Message{
		Kind:            protocol.KindGroupJoin,
		Correlation:     corr,
		GroupName:       groupName,
		UserName:        userName,
		GroupCredential: protocol.DigestCredential(groupPwd),
		UserCredential:  protocol.DigestCredential(userPwd),
		GroupMetadata:   groupMD,
		UserMetadata:    userMD,
		Relay:           relay,
	}

	logrus.WithFields(logrus.Fields{
		"function": "JoinGroup",
		"group":    groupName,
		"user":     userName,
	}).Info("Joining group")
	return m.sendServer(msg)
}

func (m *Machine) completeJoin(groupName string, res request.Result, cb request.Callback) {
	if res.Err == nil && res.Response != nil && res.Response.Code != protocol.CodeNone {
		res.Err = protocol.ErrorOf(res.Response.Code, res.Response.ErrorText)
	}

	ev := event.GroupJoinResult{GroupName: groupName, Err: res.Err}
	if res.Err == nil && res.Response != nil {
		resp := res.Response
		m.mu.Lock()
		m.groups[resp.GroupID] = resp.UserID
		m.mu.Unlock()
		for _, pi := range resp.Peers {
			m.upsertPeer(pi)
		}
		ev.GroupID = resp.GroupID
		ev.UserID = resp.UserID

		logrus.WithFields(logrus.Fields{
			"function": "completeJoin",
			"group":    groupName,
			"group_id": resp.GroupID,
			"user_id":  resp.UserID,
			"peers":    len(resp.Peers),
		}).Info("Joined group")
	}

	if cb != nil {
		cb(res)
	}
	m.events.Emit(ev)
}

// LeaveGroup starts the group leave sub-protocol for a joined group.
func (m *Machine) LeaveGroup(groupID protocol.ID, cb request.Callback) error {
	m.mu.Lock()
	if m.State() != StateConnected {
		m.mu.Unlock()
		return protocol.ErrInvalidState
	}
	if _, member := m.groups[groupID]; !member {
		m.mu.Unlock()
		return protocol.ErrNotFound
	}
	corr := m.tracker.Register(protocol.KindGroupLeave, func(res request.Result) {
		m.completeLeave(groupID, res, cb)
	})
	m.mu.Unlock()
	return m.sendServer(&protocol.Message{
		Kind:        protocol.KindGroupLeave,
		Correlation: corr,
		GroupID:     groupID,
	})
}

func (m *Machine) completeLeave(groupID protocol.ID, res request.Result, cb request.Callback) {
	if res.Err == nil && res.Response != nil && res.Response.Code != protocol.CodeNone {
		res.Err = protocol.ErrorOf(res.Response.Code, res.Response.ErrorText)
	}

	if res.Err == nil {
		dropped := m.directory.RemoveGroup(groupID)
		m.mu.Lock()
		delete(m.groups, groupID)
		m.mu.Unlock()

		logrus.WithFields(logrus.Fields{
			"function": "completeLeave",
			"group_id": groupID,
			"dropped":  dropped,
		}).Info("Left group")
	}

	if cb != nil {
		cb(res)
	}
	m.events.Emit(event.GroupLeaveResult{Err: res.Err, GroupID: groupID})
}

// SendRequest is the forward-compatible escape hatch: it correlates an
// arbitrary request envelope and queues it for the server.
func (m *Machine) SendRequest(req *protocol.Message, cb request.Callback) error {
	m.mu.Lock()
	if m.State() != StateConnected {
		m.mu.Unlock()
		return protocol.ErrInvalidState
	}
	if req.Kind == 0 {
		req.Kind = protocol.KindCustom
	}
	req.Correlation = m.tracker.Register(req.Kind, cb)
	m.mu.Unlock()
	return m.sendServer(req)
}

// HandleControl dispatches an inbound protocol control envelope: replies go
// to the request tracker, notifications update the directory and emit
// events. Called from the network thread.
func (m *Machine) HandleControl(msg *protocol.Message, source netip.AddrPort) error {
	if msg.IsReply() {
		m.tracker.Resolve(msg.Correlation, request.Result{Response: msg})
		return nil
	}

	switch msg.Kind {
	case protocol.KindPeerJoin:
		for _, pi := range msg.Peers {
			m.upsertPeer(pi)
			addr, _ := protocol.ParseEndpoint(pi.Address)
			m.events.Emit(event.PeerJoin{
				GroupID:   pi.GroupID,
				UserID:    pi.UserID,
				GroupName: pi.GroupName,
				UserName:  pi.UserName,
				Addr:      addr,
				Metadata:  pi.Metadata,
			})
		}
	case protocol.KindPeerLeave:
		for _, pi := range msg.Peers {
			_ = m.directory.SetState(pi.GroupID, pi.UserID, peer.StateLeaving)
			if err := m.directory.RemoveByIdentity(pi.GroupID, pi.UserID); err != nil {
				continue
			}
			m.events.Emit(event.PeerLeave{
				GroupID:   pi.GroupID,
				UserID:    pi.UserID,
				GroupName: pi.GroupName,
				UserName:  pi.UserName,
			})
		}
	case protocol.KindPing:
		// Keepalive echo; no event surfaces.
		return m.sendServer(&protocol.Message{Kind: protocol.KindPing, Correlation: msg.Correlation})
	case protocol.KindDisconnect:
		err := protocol.ErrorOf(msg.Code, msg.ErrorText)
		if err == nil {
			err = fmt.Errorf("%w: server closed the session", protocol.ErrNetwork)
		}
		m.Fail(err)
	default:
		logrus.WithFields(logrus.Fields{
			"function": "HandleControl",
			"kind":     msg.Kind.String(),
			"source":   source,
		}).Warn("Unexpected control message")
	}
	return nil
}

// upsertPeer folds one wire peer description into the directory. Entries
// with unparsable addresses are skipped with a diagnostic rather than
// poisoning the directory.
func (m *Machine) upsertPeer(pi protocol.PeerInfo) {
	addr, err := protocol.ParseEndpoint(pi.Address)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "upsertPeer",
			"address":  pi.Address,
			"group_id": pi.GroupID,
			"user_id":  pi.UserID,
		}).Warn("Skipping peer with unparsable address")
		return
	}
	var relay netip.AddrPort
	if pi.Relay != "" {
		relay, _ = protocol.ParseEndpoint(pi.Relay)
	}
	m.directory.Upsert(
		peer.Identity{GroupID: pi.GroupID, UserID: pi.UserID, GroupName: pi.GroupName, UserName: pi.UserName},
		peer.Endpoint{Addr: addr, Relay: relay},
		pi.Metadata,
	)
}

// Fail tears the session down after a fatal condition: outstanding requests
// are aborted, the directory is cleared, and an Error event surfaces. No
// automatic reconnection is attempted; that policy belongs to the
// application.
func (m *Machine) Fail(err error) {
	m.mu.Lock()
	if m.State() == StateDisconnected {
		m.mu.Unlock()
		return
	}
	m.state.Store(uint32(StateDisconnecting))
	m.mu.Unlock()

	m.tracker.CancelAll(protocol.ErrAborted)

	m.mu.Lock()
	m.directory.Clear()
	m.groups = make(map[protocol.ID]protocol.ID)
	m.clientID = 0
	m.connectCorr = 0
	m.state.Store(uint32(StateDisconnected))
	m.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"function": "Fail",
		"error":    err,
	}).Error("Session failed")
	m.events.Emit(event.Error{Err: err})
}

// Tick runs one pump cycle: expire overdue requests and schedule the
// keepalive. Called periodically by the facade's Run loop or by the
// application's own pump.
func (m *Machine) Tick(now time.Time) {
	m.tracker.ExpireOlderThan(now.Add(-m.cfg.RequestTimeout))

	if m.State() != StateConnected {
		return
	}
	m.mu.Lock()
	due := now.Sub(m.lastPing) >= m.cfg.PingInterval
	if due {
		m.lastPing = now
	}
	m.mu.Unlock()
	if due {
		_ = m.sendServer(&protocol.Message{Kind: protocol.KindPing})
	}
}

// FlushDeferred resolves the server hostname if needed and releases any
// datagrams queued before resolution. Called on the network thread, where
// blocking DNS is acceptable. A resolution failure fails the pending
// connect attempt.
func (m *Machine) FlushDeferred() error {
	m.mu.Lock()
	if m.resolved || m.serverHost == "" {
		m.mu.Unlock()
		return nil
	}
	host, port := m.serverHost, m.serverPort
	m.mu.Unlock()

	udpAddr, err := net.ResolveUDPAddr("udp", net.JoinHostPort(host, strconv.Itoa(int(port))))
	if err != nil {
		wrapped := fmt.Errorf("%w: resolve %s: %v", protocol.ErrNetwork, host, err)
		m.failConnect(wrapped)
		return wrapped
	}

	m.mu.Lock()
	m.serverAddr = udpAddr.AddrPort()
	m.resolved = true
	pending := m.deferred
	m.deferred = nil
	addr := m.serverAddr
	m.mu.Unlock()

	for _, d := range pending {
		m.sender.Enqueue(addr, d)
	}
	return nil
}

// failConnect resolves a pending connect attempt with the given error. The
// stored hostname is dropped so the pump does not retry resolution.
func (m *Machine) failConnect(err error) {
	m.mu.Lock()
	corr := m.connectCorr
	m.deferred = nil
	m.serverHost = ""
	m.mu.Unlock()
	if corr != 0 {
		m.tracker.Resolve(corr, request.Result{Err: err})
	}
}

// sendServer encodes an envelope and queues it for the server, deferring
// when the server address is still unresolved.
func (m *Machine) sendServer(msg *protocol.Message) error {
	data, err := m.codec.Encode(msg)
	if err != nil {
		return err
	}

	m.mu.Lock()
	if !m.resolved {
		m.deferred = append(m.deferred, data)
		m.mu.Unlock()
		return nil
	}
	addr := m.serverAddr
	m.mu.Unlock()

	m.sender.Enqueue(addr, data)
	return nil
}
