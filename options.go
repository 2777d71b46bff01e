package groupcast

import (
	"time"

	"github.com/opd-ai/groupcast/protocol"
	"github.com/opd-ai/groupcast/request"
)

// Options contains configuration for creating a Client.
type Options struct {
	// Codec encodes and decodes protocol envelopes. Defaults to
	// protocol.JSONCodec; realtime deployments supply a binary codec.
	Codec protocol.Codec

	// Version is the protocol revision announced in the handshake.
	Version string

	// RequestTimeout is how long a request may wait for its reply before
	// the tracker resolves it with ErrTimeout.
	RequestTimeout time.Duration

	// PingInterval is the keepalive cadence while Connected.
	PingInterval time.Duration

	// PumpInterval is the tick period of the blocking Run loop.
	PumpInterval time.Duration
}

// NewOptions creates Options with default values.
func NewOptions() *Options {
	return &Options{
		Codec:          protocol.JSONCodec{},
		Version:        protocol.Version,
		RequestTimeout: request.DefaultTimeout,
		PingInterval:   10 * time.Second,
		PumpInterval:   100 * time.Millisecond,
	}
}
