package webrtctest

import (
	"io"
	"sync"

	"github.com/pion/interceptor"
	"github.com/pion/rtp"
	"github.com/pion/sdp/v3"
	"github.com/pion/webrtc/v4"
)

const AudioLevelExtensionID = 1

// RemoteTrack is a fake inbound Opus track fed with Push.
type RemoteTrack struct {
	id       string
	streamID string
	packets  chan *rtp.Packet
	ended    chan struct{}
	endOnce  sync.Once
}

func NewRemoteTrack(id, streamID string) *RemoteTrack {
	return &RemoteTrack{
		id:       id,
		streamID: streamID,
		packets:  make(chan *rtp.Packet, 64),
		ended:    make(chan struct{}),
	}
}

func (t *RemoteTrack) ID() string {
	return t.id
}

func (t *RemoteTrack) StreamID() string {
	return t.streamID
}

func (t *RemoteTrack) Kind() webrtc.RTPCodecType {
	return webrtc.RTPCodecTypeAudio
}

func (t *RemoteTrack) Codec() webrtc.RTPCodecParameters {
	return webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypeOpus,
			ClockRate: 48000,
			Channels:  2,
		},
		PayloadType: 111,
	}
}

func (t *RemoteTrack) ReadRTP() (*rtp.Packet, interceptor.Attributes, error) {
	select {
	case packet := <-t.packets:
		return packet, nil, nil
	case <-t.ended:
		return nil, nil, io.EOF
	}
}

// The audio level extension is always negotiated with id 1.
func (t *RemoteTrack) HeaderExtensionID(uri string) (uint8, bool) {
	if uri == sdp.AudioLevelURI {
		return AudioLevelExtensionID, true
	}

	return 0, false
}

// Push queues a packet for ReadRTP. Returns false once the track has ended.
func (t *RemoteTrack) Push(packet *rtp.Packet) bool {
	select {
	case <-t.ended:
		return false
	default:
	}

	select {
	case t.packets <- packet:
		return true
	case <-t.ended:
		return false
	}
}

// End makes ReadRTP return io.EOF.
func (t *RemoteTrack) End() {
	t.endOnce.Do(func() { close(t.ended) })
}
