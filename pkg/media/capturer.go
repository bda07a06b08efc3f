// Package media captures the local microphone as one Opus track with mute
// control.
package media

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
)

var (
	ErrCaptureUnsupported = errors.New("audio capture is not supported on this platform")
	ErrNoAudioTrack       = errors.New("no audio track was captured")
	ErrUnknownCapturer    = errors.New("unknown capturer kind")
)

const (
	KindDevice  = "device"
	KindSilence = "silence"
)

// Processing requested from the capture device.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// The constraints of a voice call.
func VoiceConstraints() Constraints {
	return Constraints{EchoCancellation: true, NoiseSuppression: true, AutoGainControl: true}
}

// Capturer acquires the local audio input. Capture may block until the device
// is granted; it gives up when the context is cancelled.
type Capturer interface {
	Capture(ctx context.Context, constraints Constraints) (*LocalStream, error)
}

// Configuration of the local capture.
type Config struct {
	// `device` captures the default microphone, `silence` generates silence.
	Kind string `yaml:"kind"`
	// Target bitrate of the Opus encoder, in bits per second.
	Bitrate int `yaml:"bitrate"`
}

func (c Config) Validate() error {
	switch c.Kind {
	case "", KindDevice, KindSilence:
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrUnknownCapturer, c.Kind)
	}
}

func NewCapturer(config Config, logger *logrus.Entry) (Capturer, error) {
	switch config.Kind {
	case "", KindDevice:
		return NewDeviceCapturer(config, logger), nil
	case KindSilence:
		return NewSilenceCapturer(logger), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCapturer, config.Kind)
	}
}
