package webrtc_ext

import "time"

// Configuration of the WebRTC API used for every peer connection.
type Config struct {
	// STUN/TURN servers offered to ICE.
	ICEServers []ICEServer `yaml:"iceServers"`
	// Seconds without network activity before a connection is `disconnected`.
	DisconnectedTimeout int `yaml:"disconnectedTimeout"`
	// Seconds in `disconnected` before a connection is `failed`.
	FailedTimeout int `yaml:"failedTimeout"`
	// Seconds between ICE keep-alive checks.
	KeepAliveInterval int `yaml:"keepAliveInterval"`
}

type ICEServer struct {
	URLs       []string `yaml:"urls"`
	Username   string   `yaml:"username"`
	Credential string   `yaml:"credential"`
}

// The defaults are generous so that a short relay hiccup does not fail the link.
func (c Config) timeouts() (disconnected, failed, keepAlive time.Duration) {
	disconnected, failed, keepAlive = 30*time.Second, 120*time.Second, 2*time.Second

	if c.DisconnectedTimeout > 0 {
		disconnected = time.Duration(c.DisconnectedTimeout) * time.Second
	}
	if c.FailedTimeout > 0 {
		failed = time.Duration(c.FailedTimeout) * time.Second
	}
	if c.KeepAliveInterval > 0 {
		keepAlive = time.Duration(c.KeepAliveInterval) * time.Second
	}

	return disconnected, failed, keepAlive
}
