package peer

import (
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/webrtc/v4"
)

// Messages posted by a peer to its sink.
type MessageContent = interface{}

type ICECandidateGathered struct {
	Candidate webrtc.ICECandidateInit
}

type ICEGatheringComplete struct{}

type StateChanged struct {
	State webrtc.PeerConnectionState
}

type RemoteTrackAvailable struct {
	Info  webrtc_ext.TrackInfo
	Track webrtc_ext.RemoteTrack
}

// Sent once when reading a remote track fails. Err is nil on a clean end.
type RemoteTrackEnded struct {
	Info webrtc_ext.TrackInfo
	Err  error
}
