package media

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// SilenceCapturer produces a stream of silence at the real frame rate. It is
// used by headless participants that only listen.
type SilenceCapturer struct {
	logger *logrus.Entry
}

func NewSilenceCapturer(logger *logrus.Entry) *SilenceCapturer {
	return &SilenceCapturer{logger: logger}
}

func (c *SilenceCapturer) Capture(ctx context.Context, _ Constraints) (*LocalStream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	return NewLocalStream(newSilenceSource(), c.logger)
}

type silenceSource struct {
	ticker    *time.Ticker
	closed    chan struct{}
	closeOnce sync.Once
}

func newSilenceSource() *silenceSource {
	return &silenceSource{
		ticker: time.NewTicker(FrameDuration),
		closed: make(chan struct{}),
	}
}

func (s *silenceSource) ReadFrame() ([]byte, time.Duration, error) {
	select {
	case <-s.ticker.C:
		return silenceFrame, FrameDuration, nil
	case <-s.closed:
		return nil, 0, io.EOF
	}
}

func (s *silenceSource) Close() error {
	s.closeOnce.Do(func() {
		s.ticker.Stop()
		close(s.closed)
	})

	return nil
}
