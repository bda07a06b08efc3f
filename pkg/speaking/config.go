package speaking

import (
	"errors"
	"time"
)

const (
	DefaultThreshold = 30
	DefaultInterval  = 100 * time.Millisecond
	DefaultFFTSize   = 256
)

var ErrInvalidFFTSize = errors.New("fft size must be a power of two between 32 and 32768")

// Configuration of the active speaker detection.
type Config struct {
	// Mean energy on the 0..255 scale above which a peer is speaking.
	Threshold float64 `yaml:"threshold"`
	// Milliseconds between two evaluations of every detector.
	IntervalMs int `yaml:"intervalMs"`
	// Number of samples of one analysis frame.
	FFTSize int `yaml:"fftSize"`
}

func DefaultConfig() Config {
	return Config{
		Threshold:  DefaultThreshold,
		IntervalMs: int(DefaultInterval / time.Millisecond),
		FFTSize:    DefaultFFTSize,
	}
}

// WithDefaults fills the zero values.
func (c Config) WithDefaults() Config {
	defaults := DefaultConfig()

	if c.Threshold <= 0 {
		c.Threshold = defaults.Threshold
	}
	if c.IntervalMs <= 0 {
		c.IntervalMs = defaults.IntervalMs
	}
	if c.FFTSize == 0 {
		c.FFTSize = defaults.FFTSize
	}

	return c
}

func (c Config) Interval() time.Duration {
	return time.Duration(c.IntervalMs) * time.Millisecond
}

func (c Config) Validate() error {
	size := c.WithDefaults().FFTSize
	if size < 32 || size > 32768 || size&(size-1) != 0 {
		return ErrInvalidFFTSize
	}

	return nil
}
