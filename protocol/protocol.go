// Package protocol defines the client/server and peer wire surface of the
// groupcast session protocol: message envelopes, request and reply kinds,
// the error taxonomy, opaque data blobs, timestamps and the pluggable
// envelope codec.
//
// The package deliberately owns no I/O. Envelopes are encoded and decoded by
// a Codec supplied at client construction; the default JSONCodec is suitable
// for control traffic, and a binary codec can replace it without touching
// the session core.
package protocol

import (
	"net/netip"
	"time"
)

// Version is the protocol revision negotiated during the connect handshake.
// Client and server must report the same revision; any other reply fails the
// handshake with ErrVersionMismatch.
const Version = "2.0"

// ID identifies a group, user, client or stream. Server-assigned IDs are
// non-negative; IDWildcard addresses all groups or all members of a group in
// message routing.
type ID int32

// IDWildcard targets every known peer (as a group ID) or every member of a
// group (as a user ID).
const IDWildcard ID = -1

// Valid reports whether the ID is a concrete server-assigned identifier.
func (id ID) Valid() bool { return id >= 0 }

// Time is an NTP-style timestamp in nanoseconds since the Unix epoch,
// carried opaquely through the router so the receiving side can honor
// sample-accurate scheduling.
type Time uint64

// TimeNow requests immediate delivery at the destination.
const TimeNow Time = 0

// TimeFrom converts a wall-clock time to a wire timestamp.
func TimeFrom(t time.Time) Time { return Time(t.UnixNano()) }

// Data is an opaque typed blob: application metadata attached to sessions,
// groups and users, and the payload of peer messages. The session core
// never interprets the contents.
type Data struct {
	Type  string `json:"type,omitempty"`
	Bytes []byte `json:"bytes,omitempty"`
}

// Clone returns an independent copy so callers may reuse their buffers.
func (d *Data) Clone() *Data {
	if d == nil {
		return nil
	}
	out := &Data{Type: d.Type}
	if d.Bytes != nil {
		out.Bytes = append([]byte(nil), d.Bytes...)
	}
	return out
}

// ParseEndpoint parses a "host:port" string into an address. Only literal
// IP addresses are accepted; hostname resolution belongs to the network
// thread, not the wire layer.
func ParseEndpoint(s string) (netip.AddrPort, error) {
	return netip.ParseAddrPort(s)
}
