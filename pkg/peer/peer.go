package peer

import (
	"errors"

	"github.com/inkboard/huddle/pkg/channel"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

var (
	ErrCantCreatePeerConnection   = errors.New("can't create peer connection")
	ErrCantSetRemoteDescription   = errors.New("can't set remote description")
	ErrCantCreateOffer            = errors.New("can't create offer")
	ErrCantCreateAnswer           = errors.New("can't create answer")
	ErrCantSetLocalDescription    = errors.New("can't set local description")
	ErrCantCreateLocalDescription = errors.New("can't create local description")
	ErrCantAddTrack               = errors.New("can't add track")
	ErrCantAddICECandidate        = errors.New("can't add ICE candidate")
)

// A wrapped representation of the peer connection (single remote participant).
// The peer gets information about the things happening outside via public methods
// and informs the outside world about the things happening inside the peer by posting
// the messages to the sink.
type Peer[ID comparable] struct {
	logger     *logrus.Entry
	connection webrtc_ext.Connection
	sink       *channel.Sink[ID, MessageContent]
}

// Instantiates a new peer connection. No description is processed yet.
func NewPeer[ID comparable](
	factory webrtc_ext.ConnectionFactory,
	sink *channel.Sink[ID, MessageContent],
	logger *logrus.Entry,
) (*Peer[ID], error) {
	connection, err := factory.CreatePeerConnection()
	if err != nil {
		logger.WithError(err).Error("failed to create peer connection")
		return nil, ErrCantCreatePeerConnection
	}

	peer := &Peer[ID]{
		logger:     logger,
		connection: connection,
		sink:       sink,
	}

	connection.OnTrack(peer.onRtpTrackReceived)
	connection.OnICECandidate(peer.onICECandidateGathered)
	connection.OnConnectionStateChange(peer.onConnectionStateChanged)

	return peer, nil
}

// Closes peer connection. From this moment on, no new messages will be sent from the peer.
func (p *Peer[ID]) Terminate() {
	// Seal first so that the callbacks fired by `Close` don't block on the sink.
	p.sink.Seal()

	if err := p.connection.Close(); err != nil {
		p.logger.WithError(err).Error("failed to close peer connection")
	}
}

// Adds a local track, so that it is sent to the remote peer.
func (p *Peer[ID]) AddTrack(track webrtc.TrackLocal) error {
	if err := p.connection.AddTrack(track); err != nil {
		p.logger.WithError(err).Error("failed to add track")
		return ErrCantAddTrack
	}

	return nil
}

// Creates an SDP offer and applies it as the local description.
func (p *Peer[ID]) CreateOffer() (*webrtc.SessionDescription, error) {
	offer, err := p.connection.CreateOffer()
	if err != nil {
		p.logger.WithError(err).Error("failed to create offer")
		return nil, ErrCantCreateOffer
	}

	return p.applyLocalDescription(offer)
}

// Applies the sdp offer received from the remote peer and generates an SDP answer.
func (p *Peer[ID]) ProcessSDPOffer(sdpOffer string) (*webrtc.SessionDescription, error) {
	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeOffer,
		SDP:  sdpOffer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		return nil, ErrCantSetRemoteDescription
	}

	answer, err := p.connection.CreateAnswer()
	if err != nil {
		p.logger.WithError(err).Error("failed to create answer")
		return nil, ErrCantCreateAnswer
	}

	return p.applyLocalDescription(answer)
}

// Processes the SDP answer received from the remote peer.
func (p *Peer[ID]) ProcessSDPAnswer(sdpAnswer string) error {
	err := p.connection.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.SDPTypeAnswer,
		SDP:  sdpAnswer,
	})
	if err != nil {
		p.logger.WithError(err).Error("failed to set remote description")
		return ErrCantSetRemoteDescription
	}

	return nil
}

// Processes a remote ICE candidate. The remote description must be set.
func (p *Peer[ID]) ProcessNewRemoteCandidate(candidate webrtc.ICECandidateInit) error {
	if err := p.connection.AddICECandidate(candidate); err != nil {
		p.logger.WithError(err).Error("failed to add ICE candidate")
		return ErrCantAddICECandidate
	}

	return nil
}

func (p *Peer[ID]) HasRemoteDescription() bool {
	return p.connection.RemoteDescription() != nil
}

func (p *Peer[ID]) applyLocalDescription(description webrtc.SessionDescription) (*webrtc.SessionDescription, error) {
	if err := p.connection.SetLocalDescription(description); err != nil {
		p.logger.WithError(err).Error("failed to set local description")
		return nil, ErrCantSetLocalDescription
	}

	local := p.connection.LocalDescription()
	if local == nil {
		p.logger.Error("could not generate a local description")
		return nil, ErrCantCreateLocalDescription
	}

	return local, nil
}
