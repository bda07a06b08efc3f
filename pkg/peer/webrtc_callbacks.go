package peer

import (
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/webrtc/v4"
)

// A callback that is called each time a new remote track is received.
func (p *Peer[ID]) onRtpTrackReceived(remoteTrack webrtc_ext.RemoteTrack) {
	info := webrtc_ext.TrackInfoFromTrack(remoteTrack)
	if info.Kind != webrtc.RTPCodecTypeAudio {
		p.logger.WithField("track_id", info.TrackID).Warn("ignoring non-audio remote track")
		return
	}

	tracked := &trackedRemoteTrack{RemoteTrack: remoteTrack, onEnd: func(err error) {
		if err != nil {
			p.logger.WithError(err).Warn("remote track failed")
		} else {
			p.logger.Info("remote track closed")
		}

		_ = p.sink.Send(RemoteTrackEnded{Info: info, Err: err})
	}}

	p.logger.WithField("track_id", info.TrackID).Info("remote track available")
	_ = p.sink.Send(RemoteTrackAvailable{Info: info, Track: tracked})
}

// A callback that is called once we receive an ICE candidate for this peer connection.
func (p *Peer[ID]) onICECandidateGathered(candidate *webrtc.ICECandidateInit) {
	if candidate == nil {
		p.logger.Debug("ICE candidate gathering finished")
		_ = p.sink.Send(ICEGatheringComplete{})
		return
	}

	p.logger.WithField("candidate", candidate.Candidate).Debug("ICE candidate gathered")
	_ = p.sink.Send(ICECandidateGathered{Candidate: *candidate})
}

func (p *Peer[ID]) onConnectionStateChanged(state webrtc.PeerConnectionState) {
	p.logger.Infof("connection state changed: %v", state)
	_ = p.sink.Send(StateChanged{State: state})
}
