package gossip

import "time"

// Gossip (libp2p) transport configuration.
type Config struct {
	// libp2p listen multiaddresses, e.g. `/ip4/0.0.0.0/tcp/4001`.
	ListenAddrs []string `yaml:"listenAddrs"`
	// Multiaddresses (with `/p2p/` id) of peers to connect to on start.
	Bootstrap []string `yaml:"bootstrap"`
	// Discover peers on the local network via mDNS.
	MDNS bool `yaml:"mdns"`
	// How often a member re-announces itself, in milliseconds.
	RefreshInterval int `yaml:"refreshInterval"`
	// How long a member stays present without an announcement, in milliseconds.
	PresenceTTL int `yaml:"presenceTtl"`
}

const mdnsServiceTag = "huddle-voice"

func (c Config) refreshInterval() time.Duration {
	if c.RefreshInterval <= 0 {
		return 5 * time.Second
	}

	return time.Duration(c.RefreshInterval) * time.Millisecond
}

func (c Config) presenceTTL() time.Duration {
	if c.PresenceTTL <= 0 {
		return 3 * c.refreshInterval()
	}

	return time.Duration(c.PresenceTTL) * time.Millisecond
}
