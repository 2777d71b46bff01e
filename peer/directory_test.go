package peer

import (
	"fmt"
	"net/netip"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opd-ai/groupcast/protocol"
)

func mustAddr(s string) netip.AddrPort {
	return netip.MustParseAddrPort(s)
}

func testIdentity(group, user protocol.ID) Identity {
	return Identity{
		GroupID:   group,
		UserID:    user,
		GroupName: fmt.Sprintf("group-%d", group),
		UserName:  fmt.Sprintf("user-%d", user),
	}
}

// checkConsistent verifies the directory invariant: every peer resolvable
// through one index resolves identically through the other two.
func checkConsistent(t *testing.T, d *Directory) {
	t.Helper()
	for _, p := range d.Peers() {
		byID, err := d.LookupByID(p.GroupID, p.UserID)
		require.NoError(t, err)
		byName, err := d.LookupByName(p.GroupName, p.UserName)
		require.NoError(t, err)
		assert.Equal(t, byID, byName)

		identity, err := d.LookupByEndpoint(p.Addr)
		require.NoError(t, err)
		assert.Equal(t, p.Identity, identity)
	}
}

func TestDirectoryIndicesStayConsistent(t *testing.T) {
	d := NewDirectory()

	for i := 0; i < 8; i++ {
		d.Upsert(testIdentity(1, protocol.ID(i)),
			Endpoint{Addr: mustAddr(fmt.Sprintf("192.0.2.%d:4000", i+1))}, nil)
		checkConsistent(t, d)
	}
	require.Equal(t, 8, d.Count())

	require.NoError(t, d.RemoveByIdentity(1, 3))
	checkConsistent(t, d)
	require.NoError(t, d.RemoveByEndpoint(mustAddr("192.0.2.5:4000")))
	checkConsistent(t, d)
	assert.Equal(t, 6, d.Count())

	_, err := d.LookupByID(1, 3)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	_, err = d.LookupByEndpoint(mustAddr("192.0.2.5:4000"))
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestUpsertIsIdempotent(t *testing.T) {
	d := NewDirectory()
	identity := testIdentity(1, 1)
	addr := Endpoint{Addr: mustAddr("192.0.2.1:4000")}

	d.Upsert(identity, addr, nil)
	d.Upsert(identity, addr, &protocol.Data{Type: "text", Bytes: []byte("meta")})

	assert.Equal(t, 1, d.Count())
	checkConsistent(t, d)
}

func TestUpsertReindexesChangedName(t *testing.T) {
	d := NewDirectory()
	addr := Endpoint{Addr: mustAddr("192.0.2.1:4000")}

	d.Upsert(Identity{GroupID: 1, UserID: 1, GroupName: "band", UserName: "alice"}, addr, nil)

	// Server-side rename: same IDs, new user name.
	d.Upsert(Identity{GroupID: 1, UserID: 1, GroupName: "band", UserName: "alicia"}, addr, nil)

	_, err := d.LookupByName("band", "alice")
	assert.ErrorIs(t, err, protocol.ErrNotFound, "old name must stop resolving")

	ep, err := d.LookupByName("band", "alicia")
	require.NoError(t, err)
	assert.Equal(t, addr.Addr, ep.Addr)
	assert.Equal(t, 1, d.Count())
	checkConsistent(t, d)
}

func TestUpsertEvictsStalePeerAtReusedAddress(t *testing.T) {
	d := NewDirectory()
	addr := Endpoint{Addr: mustAddr("192.0.2.1:4000")}

	d.Upsert(testIdentity(1, 1), addr, nil)
	d.Upsert(testIdentity(1, 2), addr, nil)

	assert.Equal(t, 1, d.Count())
	identity, err := d.LookupByEndpoint(addr.Addr)
	require.NoError(t, err)
	assert.Equal(t, protocol.ID(2), identity.UserID)
	checkConsistent(t, d)
}

func TestLookupMissesReturnNotFound(t *testing.T) {
	d := NewDirectory()

	_, err := d.LookupByName("band", "nobody")
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	_, err = d.LookupByID(9, 9)
	assert.ErrorIs(t, err, protocol.ErrNotFound)
	_, err = d.LookupByEndpoint(mustAddr("192.0.2.9:4000"))
	assert.ErrorIs(t, err, protocol.ErrNotFound)
}

func TestRemoveGroup(t *testing.T) {
	d := NewDirectory()
	d.Upsert(testIdentity(1, 1), Endpoint{Addr: mustAddr("192.0.2.1:4000")}, nil)
	d.Upsert(testIdentity(1, 2), Endpoint{Addr: mustAddr("192.0.2.2:4000")}, nil)
	d.Upsert(testIdentity(2, 1), Endpoint{Addr: mustAddr("192.0.2.3:4000")}, nil)

	dropped := d.RemoveGroup(1)
	assert.Equal(t, 2, dropped)
	assert.Equal(t, 1, d.Count())
	assert.Len(t, d.GroupPeers(2), 1)
	assert.Empty(t, d.GroupPeers(1))
	checkConsistent(t, d)
}

func TestRelayFallback(t *testing.T) {
	direct := Endpoint{Addr: mustAddr("192.0.2.1:4000"), Relay: mustAddr("198.51.100.1:9000")}
	assert.Equal(t, direct.Addr, direct.Dest())

	relayOnly := Endpoint{Relay: mustAddr("198.51.100.1:9000")}
	assert.Equal(t, relayOnly.Relay, relayOnly.Dest())
}
