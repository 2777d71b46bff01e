// Package router resolves application messages to peer endpoints. Outbound,
// it expands a (group, user) target (one peer, every member of a group, or
// every known peer) into encoded datagrams on the shared outbox. Inbound,
// it attributes a decoded peer message to its sender and emits a
// PeerMessage event.
//
// The router never delays delivery: the scheduling timestamp rides the
// envelope untouched so the receiving side can honor sample-accurate
// playout.
package router

import (
	"net/netip"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/event"
	"github.com/opd-ai/groupcast/peer"
	"github.com/opd-ai/groupcast/protocol"
)

// Sender queues an encoded datagram for the socket owner to deliver.
type Sender interface {
	Enqueue(addr netip.AddrPort, payload []byte)
}

// Router is stateless apart from its collaborators and safe for concurrent
// use.
type Router struct {
	directory *peer.Directory
	sender    Sender
	events    *event.Queue
	codec     protocol.Codec
}

// New wires a router to the directory, outbox, event queue and codec.
func New(directory *peer.Directory, sender Sender, events *event.Queue, codec protocol.Codec) *Router {
	return &Router{
		directory: directory,
		sender:    sender,
		events:    events,
		codec:     codec,
	}
}

// SendMessage resolves the target set and queues one datagram per resolved
// peer. A specific (group, user) target that cannot be resolved fails the
// whole call with ErrPeerNotFound; wildcard targets skip unresolvable peers
// and succeed for the remainder, including the empty set.
func (r *Router) SendMessage(group, user protocol.ID, payload protocol.Data, ts protocol.Time, flags uint32) error {
	if group != protocol.IDWildcard && user != protocol.IDWildcard {
		ep, err := r.directory.LookupByID(group, user)
		if err != nil {
			return protocol.ErrPeerNotFound
		}
		return r.deliver(group, ep, payload, ts, flags)
	}

	var targets []peer.Peer
	if group == protocol.IDWildcard {
		targets = r.directory.Peers()
	} else {
		targets = r.directory.GroupPeers(group)
	}

	var delivered int
	for _, p := range targets {
		if err := r.deliver(p.GroupID, p.Endpoint, payload, ts, flags); err != nil {
			logrus.WithFields(logrus.Fields{
				"function": "SendMessage",
				"group_id": p.GroupID,
				"user_id":  p.UserID,
				"error":    err,
			}).Warn("Skipping unresolvable peer")
			continue
		}
		delivered++
	}

	logrus.WithFields(logrus.Fields{
		"function":  "SendMessage",
		"group_id":  group,
		"user_id":   user,
		"delivered": delivered,
	}).Debug("Peer message queued")
	return nil
}

// deliver encodes one envelope and queues it to the peer's reachable
// address (direct, or relay when no direct address is known).
func (r *Router) deliver(group protocol.ID, ep peer.Endpoint, payload protocol.Data, ts protocol.Time, flags uint32) error {
	dest := ep.Dest()
	if !dest.IsValid() {
		return protocol.ErrPeerNotFound
	}
	data, err := r.codec.Encode(&protocol.Message{
		Kind:      protocol.KindPeerMessage,
		GroupID:   group,
		Timestamp: ts,
		Flags:     flags,
		Payload:   &payload,
	})
	if err != nil {
		return err
	}
	r.sender.Enqueue(dest, data)
	return nil
}

// HandleMessage routes a decoded inbound peer message: the sender is
// attributed by source address through the directory and the payload
// surfaces as a PeerMessage event. Messages from unknown endpoints are
// dropped with a diagnostic; a peer must join a shared group before its
// messages are accepted.
func (r *Router) HandleMessage(msg *protocol.Message, source netip.AddrPort) error {
	identity, err := r.directory.LookupByEndpoint(source)
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"function": "HandleMessage",
			"source":   source,
		}).Warn("Dropping message from unknown endpoint")
		return protocol.ErrPeerNotFound
	}

	var payload protocol.Data
	if msg.Payload != nil {
		payload = *msg.Payload
	}
	group := msg.GroupID
	if !group.Valid() {
		group = identity.GroupID
	}
	r.events.Emit(event.PeerMessage{
		GroupID:   group,
		UserID:    identity.UserID,
		Timestamp: msg.Timestamp,
		Flags:     msg.Flags,
		Payload:   payload,
	})
	return nil
}
