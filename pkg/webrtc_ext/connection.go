package webrtc_ext

import (
	"github.com/pion/interceptor"
	"github.com/pion/rtcp"
	"github.com/pion/rtp"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

// Connection is the subset of a WebRTC peer connection a call link needs.
// Callbacks are invoked on goroutines owned by the connection.
type Connection interface {
	AddTrack(track webrtc.TrackLocal) error
	CreateOffer() (webrtc.SessionDescription, error)
	CreateAnswer() (webrtc.SessionDescription, error)
	SetLocalDescription(description webrtc.SessionDescription) error
	SetRemoteDescription(description webrtc.SessionDescription) error
	LocalDescription() *webrtc.SessionDescription
	RemoteDescription() *webrtc.SessionDescription
	AddICECandidate(candidate webrtc.ICECandidateInit) error
	// The handler receives nil once candidate gathering is complete.
	OnICECandidate(handler func(*webrtc.ICECandidateInit))
	OnConnectionStateChange(handler func(webrtc.PeerConnectionState))
	OnTrack(handler func(RemoteTrack))
	Close() error
}

// RemoteTrack is an inbound media track.
type RemoteTrack interface {
	ID() string
	StreamID() string
	Kind() webrtc.RTPCodecType
	Codec() webrtc.RTPCodecParameters
	ReadRTP() (*rtp.Packet, interceptor.Attributes, error)
	// Negotiated id of an RTP header extension, if any.
	HeaderExtensionID(uri string) (uint8, bool)
}

type pionRemoteTrack struct {
	*webrtc.TrackRemote
	receiver *webrtc.RTPReceiver
}

func (t pionRemoteTrack) HeaderExtensionID(uri string) (uint8, bool) {
	for _, extension := range t.receiver.GetParameters().HeaderExtensions {
		if extension.URI == uri {
			return uint8(extension.ID), true
		}
	}

	return 0, false
}

type pionConnection struct {
	peerConnection *webrtc.PeerConnection
	logger         *logrus.Entry
}

func (c *pionConnection) AddTrack(track webrtc.TrackLocal) error {
	sender, err := c.peerConnection.AddTrack(track)
	if err != nil {
		return err
	}

	// Incoming RTCP must be read for the interceptors (NACK, reports) to work.
	go c.readRTCP(sender, track.ID())

	return nil
}

// Logs the loss reported by the remote receiver until the sender stops.
func (c *pionConnection) readRTCP(sender *webrtc.RTPSender, trackID string) {
	for {
		packets, _, err := sender.ReadRTCP()
		if err != nil {
			return
		}

		for _, packet := range packets {
			report, ok := packet.(*rtcp.ReceiverReport)
			if !ok {
				continue
			}

			for _, reception := range report.Reports {
				c.logger.WithFields(logrus.Fields{
					"track_id":      trackID,
					"fraction_lost": float64(reception.FractionLost) / 256,
					"total_lost":    reception.TotalLost,
					"jitter":        reception.Jitter,
				}).Debug("receiver report")
			}
		}
	}
}

func (c *pionConnection) CreateOffer() (webrtc.SessionDescription, error) {
	return c.peerConnection.CreateOffer(nil)
}

func (c *pionConnection) CreateAnswer() (webrtc.SessionDescription, error) {
	return c.peerConnection.CreateAnswer(nil)
}

func (c *pionConnection) SetLocalDescription(description webrtc.SessionDescription) error {
	return c.peerConnection.SetLocalDescription(description)
}

func (c *pionConnection) SetRemoteDescription(description webrtc.SessionDescription) error {
	return c.peerConnection.SetRemoteDescription(description)
}

func (c *pionConnection) LocalDescription() *webrtc.SessionDescription {
	return c.peerConnection.LocalDescription()
}

func (c *pionConnection) RemoteDescription() *webrtc.SessionDescription {
	return c.peerConnection.RemoteDescription()
}

func (c *pionConnection) AddICECandidate(candidate webrtc.ICECandidateInit) error {
	return c.peerConnection.AddICECandidate(candidate)
}

func (c *pionConnection) OnICECandidate(handler func(*webrtc.ICECandidateInit)) {
	c.peerConnection.OnICECandidate(func(candidate *webrtc.ICECandidate) {
		if candidate == nil {
			handler(nil)
			return
		}

		init := candidate.ToJSON()
		handler(&init)
	})
}

func (c *pionConnection) OnConnectionStateChange(handler func(webrtc.PeerConnectionState)) {
	c.peerConnection.OnConnectionStateChange(handler)
}

func (c *pionConnection) OnTrack(handler func(RemoteTrack)) {
	c.peerConnection.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		handler(pionRemoteTrack{track, receiver})
	})
}

func (c *pionConnection) Close() error {
	return c.peerConnection.Close()
}
