package protocol

import (
	"encoding/json"
	"fmt"
)

// Codec translates envelopes to and from datagram payloads. Implementations
// must be safe for concurrent use; Decode must reject payloads without a
// recognizable kind so garbage datagrams never reach the session core.
type Codec interface {
	Encode(*Message) ([]byte, error)
	Decode([]byte) (*Message, error)
}

// JSONCodec is the default envelope codec.
type JSONCodec struct{}

// Encode serializes the envelope.
func (JSONCodec) Encode(m *Message) ([]byte, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", m.Kind, err)
	}
	return data, nil
}

// Decode parses an envelope, failing on unknown kinds.
func (JSONCodec) Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode envelope: %w", err)
	}
	if m.Kind == 0 || m.Kind > KindPing {
		return nil, fmt.Errorf("decode envelope: unknown kind %d", m.Kind)
	}
	return &m, nil
}
