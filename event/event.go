// Package event implements the notification surface of the session core: a
// tagged set of event variants and a queue with two delivery strategies,
// caller-polled batch drain or immediate synchronous callback, fixed once
// at handler registration.
package event

import (
	"net/netip"

	"github.com/opd-ai/groupcast/protocol"
)

// Kind discriminates event variants.
type Kind uint8

const (
	KindPeerJoin Kind = iota + 1
	KindPeerLeave
	KindPeerMessage
	KindConnectResult
	KindDisconnectResult
	KindGroupJoinResult
	KindGroupLeaveResult
	KindError
)

// Event is the tagged variant consumed exactly once by the queue's delivery
// mechanism.
type Event interface {
	Kind() Kind
}

// PeerJoin reports a peer joining a group we are a member of.
type PeerJoin struct {
	GroupID   protocol.ID
	UserID    protocol.ID
	GroupName string
	UserName  string
	Addr      netip.AddrPort
	Metadata  *protocol.Data
}

func (PeerJoin) Kind() Kind { return KindPeerJoin }

// PeerLeave reports a peer leaving or timing out.
type PeerLeave struct {
	GroupID   protocol.ID
	UserID    protocol.ID
	GroupName string
	UserName  string
}

func (PeerLeave) Kind() Kind { return KindPeerLeave }

// PeerMessage carries an application payload received from a peer, with the
// sender's scheduling timestamp attached.
type PeerMessage struct {
	GroupID   protocol.ID
	UserID    protocol.ID
	Timestamp protocol.Time
	Flags     uint32
	Payload   protocol.Data
}

func (PeerMessage) Kind() Kind { return KindPeerMessage }

// ConnectResult reports the outcome of the connect handshake.
type ConnectResult struct {
	Err      error
	ClientID protocol.ID
}

func (ConnectResult) Kind() Kind { return KindConnectResult }

// DisconnectResult reports the completion of an orderly disconnect.
type DisconnectResult struct {
	Err error
}

func (DisconnectResult) Kind() Kind { return KindDisconnectResult }

// GroupJoinResult reports the outcome of a group join.
type GroupJoinResult struct {
	Err       error
	GroupID   protocol.ID
	UserID    protocol.ID
	GroupName string
}

func (GroupJoinResult) Kind() Kind { return KindGroupJoinResult }

// GroupLeaveResult reports the outcome of a group leave.
type GroupLeaveResult struct {
	Err     error
	GroupID protocol.ID
}

func (GroupLeaveResult) Kind() Kind { return KindGroupLeaveResult }

// Error reports a fatal session condition, such as an unusable transport.
type Error struct {
	Err error
}

func (Error) Kind() Kind { return KindError }
