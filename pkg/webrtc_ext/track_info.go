package webrtc_ext

import (
	"strings"

	"github.com/pion/webrtc/v4"
)

// Static description of a remote track.
type TrackInfo struct {
	TrackID  string
	StreamID string
	Kind     webrtc.RTPCodecType
	Codec    webrtc.RTPCodecCapability
}

func TrackInfoFromTrack(track RemoteTrack) TrackInfo {
	return TrackInfo{
		TrackID:  track.ID(),
		StreamID: track.StreamID(),
		Kind:     track.Kind(),
		Codec:    track.Codec().RTPCodecCapability,
	}
}

func (t TrackInfo) IsOpus() bool {
	return t.Kind == webrtc.RTPCodecTypeAudio && strings.EqualFold(t.Codec.MimeType, webrtc.MimeTypeOpus)
}
