package relay

import "time"

// Relay server configuration.
type Config struct {
	// Address to listen on, e.g. `:8090`.
	Listen string `yaml:"listen"`
	// Origins allowed to open a WebSocket. Empty allows any origin.
	AllowedOrigins []string `yaml:"allowedOrigins"`
	// Outbound frames buffered per connection before it is considered stuck.
	SendBuffer int `yaml:"sendBuffer"`
	// Interval of WebSocket pings in seconds.
	PingInterval int `yaml:"pingInterval"`
}

const (
	defaultSendBuffer   = 256
	defaultPingInterval = 20
	writeTimeout        = 10 * time.Second
	maxFrameSize        = 1 << 20
)

func (c Config) sendBuffer() int {
	if c.SendBuffer <= 0 {
		return defaultSendBuffer
	}

	return c.SendBuffer
}

func (c Config) pingInterval() time.Duration {
	if c.PingInterval <= 0 {
		return defaultPingInterval * time.Second
	}

	return time.Duration(c.PingInterval) * time.Second
}

// A peer that misses two pings in a row is gone.
func (c Config) pongTimeout() time.Duration {
	return 2*c.pingInterval() + writeTimeout
}
