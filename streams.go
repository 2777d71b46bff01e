package groupcast

import (
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/opd-ai/groupcast/protocol"
)

// Stream registration tracks which externally-owned encoder and decoder
// objects are attached to this client, by integer ID. The session core only
// keeps the IDs as routing metadata; audio samples never pass through it.

// AddSource registers a stream encoder ID. Registering an ID twice fails
// with ErrConfiguration.
func (c *Client) AddSource(id protocol.ID) error {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if _, exists := c.sources[id]; exists {
		return protocol.ErrConfiguration
	}
	c.sources[id] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"function":  "AddSource",
		"source_id": id,
	}).Debug("Source registered")
	return nil
}

// RemoveSource unregisters a stream encoder ID.
func (c *Client) RemoveSource(id protocol.ID) error {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if _, exists := c.sources[id]; !exists {
		return protocol.ErrNotFound
	}
	delete(c.sources, id)
	return nil
}

// AddSink registers a stream decoder ID. Registering an ID twice fails with
// ErrConfiguration.
func (c *Client) AddSink(id protocol.ID) error {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if _, exists := c.sinks[id]; exists {
		return protocol.ErrConfiguration
	}
	c.sinks[id] = struct{}{}

	logrus.WithFields(logrus.Fields{
		"function": "AddSink",
		"sink_id":  id,
	}).Debug("Sink registered")
	return nil
}

// RemoveSink unregisters a stream decoder ID.
func (c *Client) RemoveSink(id protocol.ID) error {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()

	if _, exists := c.sinks[id]; !exists {
		return protocol.ErrNotFound
	}
	delete(c.sinks, id)
	return nil
}

// Sources returns the registered source IDs in ascending order.
func (c *Client) Sources() []protocol.ID {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return sortedIDs(c.sources)
}

// Sinks returns the registered sink IDs in ascending order.
func (c *Client) Sinks() []protocol.ID {
	c.streamsMu.Lock()
	defer c.streamsMu.Unlock()
	return sortedIDs(c.sinks)
}

func sortedIDs(set map[protocol.ID]struct{}) []protocol.ID {
	ids := make([]protocol.ID, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
