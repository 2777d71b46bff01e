package protocol

// Kind discriminates protocol envelopes. Request kinds are answered by a
// reply envelope of the same kind carrying the request's correlation ID;
// notification kinds are uncorrelated.
type Kind uint8

const (
	// KindConnect is the login handshake request/reply.
	KindConnect Kind = iota + 1
	// KindDisconnect announces an orderly logout.
	KindDisconnect
	// KindGroupJoin is the group join sub-protocol request/reply.
	KindGroupJoin
	// KindGroupLeave is the group leave sub-protocol request/reply.
	KindGroupLeave
	// KindCustom is the forward-compatible request escape hatch.
	KindCustom
	// KindPeerJoin notifies that a peer joined a group we are in.
	KindPeerJoin
	// KindPeerLeave notifies that a peer left or timed out.
	KindPeerLeave
	// KindPeerMessage carries an application payload between peers.
	KindPeerMessage
	// KindPing is the server keepalive; the client echoes it back.
	KindPing
)

// String returns the kind name used in logs.
func (k Kind) String() string {
	switch k {
	case KindConnect:
		return "connect"
	case KindDisconnect:
		return "disconnect"
	case KindGroupJoin:
		return "group_join"
	case KindGroupLeave:
		return "group_leave"
	case KindCustom:
		return "custom"
	case KindPeerJoin:
		return "peer_join"
	case KindPeerLeave:
		return "peer_leave"
	case KindPeerMessage:
		return "peer_message"
	case KindPing:
		return "ping"
	}
	return "unknown"
}

// IsReply reports whether a received envelope resolves an outstanding
// request, as opposed to an unsolicited notification.
func (m *Message) IsReply() bool {
	switch m.Kind {
	case KindConnect, KindDisconnect, KindGroupJoin, KindGroupLeave, KindCustom:
		return m.Correlation != 0
	}
	return false
}

// PeerInfo describes one group member in join replies and peer
// notifications.
type PeerInfo struct {
	GroupID   ID     `json:"group_id"`
	UserID    ID     `json:"user_id"`
	GroupName string `json:"group_name"`
	UserName  string `json:"user_name"`
	Address   string `json:"address"`
	Relay     string `json:"relay,omitempty"`
	Metadata  *Data  `json:"metadata,omitempty"`
}

// Message is the single protocol envelope. Each kind uses the subset of
// fields relevant to it; unused fields stay at their zero value and are
// elided by the codec.
type Message struct {
	Kind        Kind   `json:"kind"`
	Correlation uint32 `json:"correlation,omitempty"`

	// Reply status.
	Code      ErrorCode `json:"code,omitempty"`
	ErrorText string    `json:"error_text,omitempty"`

	// Connect handshake.
	Version    string `json:"version,omitempty"`
	Token      string `json:"token,omitempty"`
	ClientID   ID     `json:"client_id,omitempty"`
	Credential []byte `json:"credential,omitempty"`
	Metadata   *Data  `json:"metadata,omitempty"`

	// Group join/leave.
	GroupName       string `json:"group_name,omitempty"`
	UserName        string `json:"user_name,omitempty"`
	GroupCredential []byte `json:"group_credential,omitempty"`
	UserCredential  []byte `json:"user_credential,omitempty"`
	GroupMetadata   *Data  `json:"group_metadata,omitempty"`
	UserMetadata    *Data  `json:"user_metadata,omitempty"`
	Relay           string `json:"relay,omitempty"`

	// Identity and peer lists.
	GroupID ID         `json:"group_id,omitempty"`
	UserID  ID         `json:"user_id,omitempty"`
	Peers   []PeerInfo `json:"peers,omitempty"`

	// Peer messages.
	Timestamp Time   `json:"timestamp,omitempty"`
	Flags     uint32 `json:"flags,omitempty"`
	Payload   *Data  `json:"payload,omitempty"`
}

// Message flag bits, carried opaquely end to end.
const (
	// FlagReliable requests retransmission by transports that support it.
	FlagReliable uint32 = 1 << 0
)
