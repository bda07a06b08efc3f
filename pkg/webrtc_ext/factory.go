package webrtc_ext

import (
	"fmt"

	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Anything that can create peer connections for a call.
type ConnectionFactory interface {
	CreatePeerConnection() (Connection, error)
}

// Peer connection factory is used to construct new (pre-configured) peer connections.
type PeerConnectionFactory struct {
	api           *webrtc.API
	configuration webrtc.Configuration
	logger        *logrus.Entry
}

func NewPeerConnectionFactory(config Config, logger *logrus.Entry) (*PeerConnectionFactory, error) {
	api, err := createWebRTCAPI(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create WebRTC API: %w", err)
	}

	return &PeerConnectionFactory{api, config.configuration(), logger}, nil
}

// Creates a peer connection with a specifically configured API.
func (f *PeerConnectionFactory) CreatePeerConnection() (Connection, error) {
	peerConnection, err := f.api.NewPeerConnection(f.configuration)
	if err != nil {
		return nil, err
	}

	return &pionConnection{peerConnection, f.logger}, nil
}
