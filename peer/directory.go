package peer

import (
	"net/netip"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/protocol"
)

type idKey struct {
	group protocol.ID
	user  protocol.ID
}

type nameKey struct {
	group string
	user  string
}

// Directory is the thread-safe peer registry. All three lookup indices are
// updated under one lock, so they can never disagree: every peer resolvable
// by name also resolves by ID and by endpoint address.
type Directory struct {
	mu     sync.RWMutex
	byID   map[idKey]*Peer
	byName map[nameKey]*Peer
	byAddr map[netip.AddrPort]*Peer
}

// NewDirectory creates an empty directory.
func NewDirectory() *Directory {
	return &Directory{
		byID:   make(map[idKey]*Peer),
		byName: make(map[nameKey]*Peer),
		byAddr: make(map[netip.AddrPort]*Peer),
	}
}

// Upsert inserts or updates the peer with the given identity. Re-inserting
// an existing identity updates endpoint, names and metadata in place; stale
// name and address index entries are dropped so the directory always
// reflects the latest server state. A different peer already registered at
// the same address is evicted, since one socket address can only belong to
// one live peer.
func (d *Directory) Upsert(identity Identity, endpoint Endpoint, metadata *protocol.Data) {
	d.mu.Lock()
	defer d.mu.Unlock()

	id := idKey{identity.GroupID, identity.UserID}
	if stale, ok := d.byAddr[endpoint.Addr]; ok && (stale.GroupID != identity.GroupID || stale.UserID != identity.UserID) {
		logrus.WithFields(logrus.Fields{
			"function": "Upsert",
			"address":  endpoint.Addr,
			"group_id": stale.GroupID,
			"user_id":  stale.UserID,
		}).Warn("Evicting stale peer at reused address")
		d.dropLocked(stale)
	}

	p, exists := d.byID[id]
	if !exists {
		p = &Peer{State: StateActive, Joined: time.Now()}
		d.byID[id] = p
	} else {
		// Names and addresses may have changed server-side; unindex the
		// old keys before reindexing.
		delete(d.byName, nameKey{p.GroupName, p.UserName})
		if p.Addr.IsValid() {
			delete(d.byAddr, p.Addr)
		}
	}

	p.Identity = identity
	p.Endpoint = endpoint
	p.Metadata = metadata
	d.byName[nameKey{identity.GroupName, identity.UserName}] = p
	if endpoint.Addr.IsValid() {
		d.byAddr[endpoint.Addr] = p
	}

	logrus.WithFields(logrus.Fields{
		"function":   "Upsert",
		"group":      identity.GroupName,
		"user":       identity.UserName,
		"group_id":   identity.GroupID,
		"user_id":    identity.UserID,
		"address":    endpoint.Addr,
		"peer_count": len(d.byID),
	}).Debug("Peer upserted")
}

// dropLocked removes a peer from all three indices. Caller holds d.mu.
func (d *Directory) dropLocked(p *Peer) {
	delete(d.byID, idKey{p.GroupID, p.UserID})
	delete(d.byName, nameKey{p.GroupName, p.UserName})
	if p.Addr.IsValid() {
		delete(d.byAddr, p.Addr)
	}
}

// RemoveByIdentity removes the peer with the given ID pair.
func (d *Directory) RemoveByIdentity(groupID, userID protocol.ID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byID[idKey{groupID, userID}]
	if !ok {
		return protocol.ErrNotFound
	}
	d.dropLocked(p)
	return nil
}

// RemoveByEndpoint removes the peer registered at the given address.
func (d *Directory) RemoveByEndpoint(addr netip.AddrPort) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byAddr[addr]
	if !ok {
		return protocol.ErrNotFound
	}
	d.dropLocked(p)
	return nil
}

// RemoveGroup removes every peer belonging to the given group and returns
// how many were dropped. Used when the local user leaves a group.
func (d *Directory) RemoveGroup(groupID protocol.ID) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	var dropped int
	for key, p := range d.byID {
		if key.group != groupID {
			continue
		}
		d.dropLocked(p)
		dropped++
	}
	return dropped
}

// LookupByName returns the endpoint of the peer with the given group and
// user names, or ErrNotFound. An absent peer is an error, not a zero value,
// so messages are never silently routed nowhere.
func (d *Directory) LookupByName(group, user string) (Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byName[nameKey{group, user}]
	if !ok {
		return Endpoint{}, protocol.ErrNotFound
	}
	return p.Endpoint, nil
}

// LookupByID returns the endpoint of the peer with the given ID pair.
func (d *Directory) LookupByID(groupID, userID protocol.ID) (Endpoint, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byID[idKey{groupID, userID}]
	if !ok {
		return Endpoint{}, protocol.ErrNotFound
	}
	return p.Endpoint, nil
}

// LookupByEndpoint returns the identity of the peer registered at the given
// address.
func (d *Directory) LookupByEndpoint(addr netip.AddrPort) (Identity, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	p, ok := d.byAddr[addr]
	if !ok {
		return Identity{}, protocol.ErrNotFound
	}
	return p.Identity, nil
}

// SetState updates the membership state of a peer.
func (d *Directory) SetState(groupID, userID protocol.ID, state State) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	p, ok := d.byID[idKey{groupID, userID}]
	if !ok {
		return protocol.ErrNotFound
	}
	p.State = state
	return nil
}

// GroupPeers returns a snapshot of every peer in the given group.
func (d *Directory) GroupPeers(groupID protocol.ID) []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var peers []Peer
	for key, p := range d.byID {
		if key.group == groupID {
			peers = append(peers, *p)
		}
	}
	return peers
}

// Peers returns a snapshot of every known peer across all groups.
func (d *Directory) Peers() []Peer {
	d.mu.RLock()
	defer d.mu.RUnlock()

	peers := make([]Peer, 0, len(d.byID))
	for _, p := range d.byID {
		peers = append(peers, *p)
	}
	return peers
}

// Count returns the number of known peers.
func (d *Directory) Count() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.byID)
}

// Clear drops every peer. Used on disconnect; the directory is rebuilt from
// scratch on reconnect.
func (d *Directory) Clear() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.byID = make(map[idKey]*Peer)
	d.byName = make(map[nameKey]*Peer)
	d.byAddr = make(map[netip.AddrPort]*Peer)
}
