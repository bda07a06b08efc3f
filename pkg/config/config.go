package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"

	"github.com/inkboard/huddle/pkg/call"
	"github.com/inkboard/huddle/pkg/media"
	"github.com/inkboard/huddle/pkg/relay"
	"github.com/inkboard/huddle/pkg/signaling/gossip"
	"github.com/inkboard/huddle/pkg/signaling/matrix"
	"github.com/inkboard/huddle/pkg/telemetry"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Signaling back-ends.
const (
	TransportMemory = "memory"
	TransportRelay  = "relay"
	TransportGossip = "gossip"
	TransportMatrix = "matrix"
)

// Where the relay command listens by default.
const DefaultRelayURL = "http://localhost:8090"

var (
	// ErrNoConfigEnvVar is returned when the CONFIG environment variable is not set.
	ErrNoConfigEnvVar = errors.New("environment variable not set or invalid")
	ErrInvalidConfig  = errors.New("invalid config values")
)

// Participant configuration.
type Config struct {
	// Participant id. A random one is generated when empty.
	Identity string `yaml:"identity"`
	// Starting from which level to log stuff.
	LogLevel string `yaml:"log"`
	// How to reach the other participants.
	Transport Transport `yaml:"transport"`
	// Peer connection configuration.
	WebRTC webrtc_ext.Config `yaml:"webrtc"`
	// Audio capture.
	Capture media.Config `yaml:"capture"`
	// Call sessions, active speaker detection included.
	Call call.Config `yaml:"call"`
	// Tracing.
	Telemetry telemetry.Config `yaml:"telemetry"`
	// Relay server, for the `relay` command.
	Relay relay.Config `yaml:"relay"`
}

type Transport struct {
	// One of `memory`, `relay`, `gossip` or `matrix`. Defaults to `relay`
	// on DefaultRelayURL.
	Kind string `yaml:"kind"`
	// Base URL of the relay server, e.g. `http://localhost:8090`.
	RelayURL string        `yaml:"relayUrl"`
	Gossip   gossip.Config `yaml:"gossip"`
	Matrix   matrix.Config `yaml:"matrix"`
}

// Tries to load a config from the `CONFIG` environment variable.
// If the environment variable is not set, tries to load a config from the
// provided path to the config file (YAML). Returns an error if the config could
// not be loaded.
func LoadConfig(path string) (*Config, error) {
	config, err := LoadConfigFromEnv()
	if err != nil {
		if !errors.Is(err, ErrNoConfigEnvVar) {
			return nil, err
		}

		return LoadConfigFromPath(path)
	}

	return config, nil
}

// Tries to load the config from environment variable (`CONFIG`).
func LoadConfigFromEnv() (*Config, error) {
	configEnv := os.Getenv("CONFIG")
	if configEnv == "" {
		return nil, ErrNoConfigEnvVar
	}

	return LoadConfigFromString(configEnv)
}

// Tries to load a config from the provided path.
func LoadConfigFromPath(path string) (*Config, error) {
	logrus.WithField("path", path).Info("loading config")

	file, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}

	return LoadConfigFromString(string(file))
}

// Load config from the provided string.
// Returns an error if the string is not a valid YAML or the values are invalid.
func LoadConfigFromString(configString string) (*Config, error) {
	var config Config
	if err := yaml.Unmarshal([]byte(configString), &config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal YAML file: %w", err)
	}

	if config.Transport.Kind == "" {
		config.Transport.Kind = TransportRelay
	}
	if config.Transport.Kind == TransportRelay && config.Transport.RelayURL == "" {
		config.Transport.RelayURL = DefaultRelayURL
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) Validate() error {
	switch c.Transport.Kind {
	case TransportMemory, TransportGossip:
	case TransportRelay:
		if _, err := url.Parse(c.Transport.RelayURL); err != nil || c.Transport.RelayURL == "" {
			return fmt.Errorf("%w: invalid transport.relayUrl %q", ErrInvalidConfig, c.Transport.RelayURL)
		}
	case TransportMatrix:
		account := c.Transport.Matrix
		if account.UserID == "" || account.HomeserverURL == "" || account.AccessToken == "" {
			return fmt.Errorf("%w: transport.matrix needs userId, homeserverUrl and accessToken", ErrInvalidConfig)
		}
	default:
		return fmt.Errorf("%w: unknown transport %q", ErrInvalidConfig, c.Transport.Kind)
	}

	if _, err := logrus.ParseLevel(c.logLevel()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	if err := c.Call.Speaking.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}

	return nil
}

// Level parses the log level, `info` when unset.
func (c *Config) Level() logrus.Level {
	level, err := logrus.ParseLevel(c.logLevel())
	if err != nil {
		return logrus.InfoLevel
	}

	return level
}

func (c *Config) logLevel() string {
	if c.LogLevel == "" {
		return "info"
	}

	return c.LogLevel
}
