package media

import (
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
	"github.com/sirupsen/logrus"
)

// One Opus frame of silence (comfort noise, 20 ms).
var silenceFrame = []byte{0xF8, 0xFF, 0xFE}

const FrameDuration = 20 * time.Millisecond

// FrameSource yields encoded Opus frames with their duration.
type FrameSource interface {
	ReadFrame() ([]byte, time.Duration, error)
	Close() error
}

type sampleWriter interface {
	WriteSample(sample pionmedia.Sample) error
}

// LocalStream is the captured local audio: a single Opus track that keeps
// being sent while muted, with silence in place of the captured frames.
type LocalStream struct {
	track  *webrtc.TrackLocalStaticSample
	writer sampleWriter
	source FrameSource
	logger *logrus.Entry

	muted     atomic.Bool
	done      chan struct{}
	closeOnce sync.Once
}

// NewLocalStream starts sending the frames of `source`. The stream starts muted.
func NewLocalStream(source FrameSource, logger *logrus.Entry) (*LocalStream, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 2},
		"audio",
		"huddle-"+uuid.NewString(),
	)
	if err != nil {
		return nil, err
	}

	return newLocalStream(track, track, source, logger), nil
}

func newLocalStream(
	track *webrtc.TrackLocalStaticSample,
	writer sampleWriter,
	source FrameSource,
	logger *logrus.Entry,
) *LocalStream {
	stream := &LocalStream{
		track:  track,
		writer: writer,
		source: source,
		logger: logger,
		done:   make(chan struct{}),
	}
	stream.muted.Store(true)

	go stream.pump()
	return stream
}

// Track is the one local audio track of the stream.
func (s *LocalStream) Track() webrtc.TrackLocal {
	return s.track
}

// Tracks lists the local tracks; muting never changes it.
func (s *LocalStream) Tracks() []webrtc.TrackLocal {
	return []webrtc.TrackLocal{s.track}
}

func (s *LocalStream) SetMuted(muted bool) {
	s.muted.Store(muted)
}

func (s *LocalStream) Muted() bool {
	return s.muted.Load()
}

// Close stops the capture. The track stays attached to its senders but no
// longer gets samples.
func (s *LocalStream) Close() {
	s.closeOnce.Do(func() {
		if err := s.source.Close(); err != nil {
			s.logger.WithError(err).Warn("failed to close capture")
		}
	})
	<-s.done
}

// Done is closed when the stream stops sending.
func (s *LocalStream) Done() <-chan struct{} {
	return s.done
}

func (s *LocalStream) pump() {
	defer close(s.done)

	for {
		frame, duration, err := s.source.ReadFrame()
		if err != nil {
			if !errors.Is(err, io.EOF) {
				s.logger.WithError(err).Warn("capture ended")
			}
			return
		}

		if s.muted.Load() {
			frame = silenceFrame
		}

		if duration <= 0 {
			duration = FrameDuration
		}

		if err := s.writer.WriteSample(pionmedia.Sample{Data: frame, Duration: duration}); err != nil {
			s.logger.WithError(err).Debug("failed to write sample")
		}
	}
}
