//go:build linux && cgo

package media

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/mediadevices"
	"github.com/pion/mediadevices/pkg/codec/opus"
	_ "github.com/pion/mediadevices/pkg/driver/microphone"
	"github.com/pion/mediadevices/pkg/prop"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"
)

const opusClockRate = 48000

// DeviceCapturer captures the default microphone with pion/mediadevices.
type DeviceCapturer struct {
	config Config
	logger *logrus.Entry
}

func NewDeviceCapturer(config Config, logger *logrus.Entry) *DeviceCapturer {
	return &DeviceCapturer{config: config, logger: logger}
}

type captured struct {
	stream *LocalStream
	err    error
}

func (c *DeviceCapturer) Capture(ctx context.Context, constraints Constraints) (*LocalStream, error) {
	// The microphone driver exposes no processing controls; the request is
	// only recorded.
	c.logger.WithFields(logrus.Fields{
		"echo_cancellation": constraints.EchoCancellation,
		"noise_suppression": constraints.NoiseSuppression,
		"auto_gain":         constraints.AutoGainControl,
	}).Debug("capturing microphone")

	result := make(chan captured, 1)
	go func() {
		stream, err := c.capture()
		result <- captured{stream, err}
	}()

	select {
	case r := <-result:
		return r.stream, r.err
	case <-ctx.Done():
		// The device may still be granted later; release it then.
		go func() {
			if r := <-result; r.stream != nil {
				r.stream.Close()
			}
		}()
		return nil, ctx.Err()
	}
}

func (c *DeviceCapturer) capture() (*LocalStream, error) {
	opusParams, err := opus.NewParams()
	if err != nil {
		return nil, fmt.Errorf("failed to configure opus: %w", err)
	}

	if c.config.Bitrate > 0 {
		opusParams.BitRate = c.config.Bitrate
	}

	stream, err := mediadevices.GetUserMedia(mediadevices.MediaStreamConstraints{
		Audio: func(constraints *mediadevices.MediaTrackConstraints) {
			constraints.ChannelCount = prop.Int(1)
		},
		Codec: mediadevices.NewCodecSelector(mediadevices.WithAudioEncoders(&opusParams)),
	})
	if err != nil {
		return nil, err
	}

	tracks := stream.GetAudioTracks()
	if len(tracks) == 0 {
		return nil, ErrNoAudioTrack
	}

	for _, unused := range tracks[1:] {
		unused.Close()
	}

	track := tracks[0]
	track.OnEnded(func(err error) {
		if err != nil {
			c.logger.WithError(err).Warn("microphone track ended")
		}
	})

	reader, err := track.NewEncodedReader(webrtc.MimeTypeOpus)
	if err != nil {
		track.Close()
		return nil, fmt.Errorf("failed to encode microphone: %w", err)
	}

	return NewLocalStream(&deviceSource{track: track, reader: reader}, c.logger)
}

type deviceSource struct {
	track  mediadevices.Track
	reader mediadevices.EncodedReadCloser
}

func (s *deviceSource) ReadFrame() ([]byte, time.Duration, error) {
	buffer, release, err := s.reader.Read()
	if err != nil {
		return nil, 0, err
	}
	defer release()

	frame := make([]byte, len(buffer.Data))
	copy(frame, buffer.Data)

	return frame, time.Duration(buffer.Samples) * time.Second / opusClockRate, nil
}

func (s *deviceSource) Close() error {
	readerErr := s.reader.Close()
	if err := s.track.Close(); err != nil {
		return err
	}

	return readerErr
}
