//go:build !linux || !cgo

package media

import (
	"context"

	"github.com/sirupsen/logrus"
)

// DeviceCapturer has no microphone driver outside of Linux cgo builds.
type DeviceCapturer struct {
	logger *logrus.Entry
}

func NewDeviceCapturer(_ Config, logger *logrus.Entry) *DeviceCapturer {
	return &DeviceCapturer{logger: logger}
}

func (c *DeviceCapturer) Capture(context.Context, Constraints) (*LocalStream, error) {
	return nil, ErrCaptureUnsupported
}
