//go:build cgo

package speaking

import (
	"fmt"
	"sync"

	"github.com/hraban/opus"
	"github.com/inkboard/huddle/pkg/webrtc_ext"
	"github.com/pion/rtp"
)

const (
	decoderSampleRate = 48000
	// 120 ms, the longest Opus frame.
	maxFrameSamples = decoderSampleRate / 1000 * 120
)

// opusSource decodes the remote Opus stream into an analyser.
type opusSource struct {
	*Analyser

	mutex   sync.Mutex
	decoder *opus.Decoder
	pcm     []int16
}

func newTrackSource(context *Context, track webrtc_ext.RemoteTrack) (trackSource, error) {
	if !webrtc_ext.TrackInfoFromTrack(track).IsOpus() {
		return newLevelSource(context, track)
	}

	analyser, err := context.NewAnalyser()
	if err != nil {
		return nil, err
	}

	// Downmixed to mono by the decoder.
	decoder, err := opus.NewDecoder(decoderSampleRate, 1)
	if err != nil {
		return nil, fmt.Errorf("failed to create opus decoder: %w", err)
	}

	return &opusSource{
		Analyser: analyser,
		decoder:  decoder,
		pcm:      make([]int16, maxFrameSamples),
	}, nil
}

func (s *opusSource) WritePacket(packet *rtp.Packet) error {
	if len(packet.Payload) == 0 {
		return nil
	}

	s.mutex.Lock()
	defer s.mutex.Unlock()

	n, err := s.decoder.Decode(packet.Payload, s.pcm)
	if err != nil {
		return err
	}

	s.Write(s.pcm[:n])
	return nil
}
