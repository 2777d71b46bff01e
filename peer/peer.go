// Package peer implements the client-side peer directory: a bidirectional
// mapping between (group, user) identity, network endpoint and names for
// every remote group member the session currently knows about.
//
// The directory is the single owner of Peer records. Other components refer
// to peers by identity or endpoint and receive copies from lookups, never
// shared pointers, so concurrent peer churn cannot invalidate a caller's
// view mid-use.
package peer

import (
	"net/netip"
	"time"

	"github.com/opd-ai/groupcast/protocol"
)

// State is a peer's membership state within its group.
type State uint8

const (
	// StateJoining means the join notification arrived but the handshake
	// with the peer is not finished.
	StateJoining State = iota
	// StateActive means the peer is a full group member.
	StateActive
	// StateLeaving means a leave notification arrived and the record is
	// about to be dropped.
	StateLeaving
)

// Identity names a peer. The ID pair is server-assigned and unique within
// its namespace; names are unique at a point in time but may be reassigned
// over the lifetime of the server.
type Identity struct {
	GroupID   protocol.ID
	UserID    protocol.ID
	GroupName string
	UserName  string
}

// Endpoint is the transport address used to reach a peer, plus an optional
// relay address for peers that cannot be reached directly. Immutable once
// assigned; a changed address arrives as a fresh Upsert.
type Endpoint struct {
	Addr  netip.AddrPort
	Relay netip.AddrPort
}

// Dest returns the address messages should be sent to: the direct address
// when known, otherwise the relay.
func (e Endpoint) Dest() netip.AddrPort {
	if e.Addr.IsValid() {
		return e.Addr
	}
	return e.Relay
}

// Peer is one remote group member. Metadata is an opaque blob supplied by
// the server at join time.
type Peer struct {
	Identity
	Endpoint
	Metadata *protocol.Data
	State    State
	Joined   time.Time
}
