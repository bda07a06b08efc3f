package speaking

import (
	"errors"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

var ErrContextClosed = errors.New("audio context is closed")

// Context is the audio processing context shared by every analyser of a
// session. The FFT plan and the window coefficients are built on first use.
type Context struct {
	size int

	mutex  sync.Mutex
	fft    *fourier.FFT
	window []float64
	closed bool
}

func NewContext(fftSize int) *Context {
	if fftSize == 0 {
		fftSize = DefaultFFTSize
	}

	return &Context{size: fftSize}
}

func (c *Context) FFTSize() int {
	return c.size
}

// Number of frequency bins of every analyser.
func (c *Context) BinCount() int {
	return c.size / 2
}

// NewAnalyser creates an analyser running on this context.
func (c *Context) NewAnalyser() (*Analyser, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	return newAnalyser(c), nil
}

// Close releases the FFT plan. Using the context afterwards fails with
// ErrContextClosed. Closing twice is a no-op.
func (c *Context) Close() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	c.closed = true
	c.fft = nil
	c.window = nil
}

func (c *Context) Closed() bool {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	return c.closed
}

// Windows `frame` in place and returns its spectrum, reusing `dst`.
func (c *Context) transform(frame []float64, dst []complex128) ([]complex128, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if c.closed {
		return nil, ErrContextClosed
	}

	if c.fft == nil {
		c.fft = fourier.NewFFT(c.size)

		c.window = make([]float64, c.size)
		for i := range c.window {
			c.window[i] = 1
		}
		window.Blackman(c.window)
	}

	for i := range frame {
		frame[i] *= c.window[i]
	}

	// The plan keeps internal work buffers, hence the lock.
	return c.fft.Coefficients(dst, frame), nil
}
