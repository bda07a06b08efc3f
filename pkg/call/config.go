package call

import (
	"time"

	"github.com/inkboard/huddle/pkg/speaking"
)

// Configuration of the call sessions.
type Config struct {
	// Active speaker detection.
	Speaking speaking.Config `yaml:"speaking"`
	// Capacity of the queue of outgoing signaling messages.
	OutboundQueue int `yaml:"outboundQueue"`
	// Seconds granted to flush the outgoing messages when a session ends.
	TeardownTimeout int `yaml:"teardownTimeout"`
}

func (c Config) outboundQueue() int {
	if c.OutboundQueue <= 0 {
		return 256
	}

	return c.OutboundQueue
}

func (c Config) teardownTimeout() time.Duration {
	if c.TeardownTimeout <= 0 {
		return 2 * time.Second
	}

	return time.Duration(c.TeardownTimeout) * time.Second
}
