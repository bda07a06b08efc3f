package speaking

import (
	"math"
	"math/cmplx"
	"sync"
	"time"
)

const (
	minDecibels = -100.0
	maxDecibels = -30.0
	// Weight of the previous spectrum when averaging over time.
	smoothing = 0.8
	// Samples older than this are treated as silence.
	staleAfter = 500 * time.Millisecond
)

// Analyser computes the byte frequency data of the last `FFTSize` samples of a
// mono PCM stream. Write may be called from any goroutine.
type Analyser struct {
	context *Context
	now     func() time.Time

	mutex     sync.Mutex
	samples   []float64
	lastWrite time.Time

	smoothed     []float64
	frame        []float64
	coefficients []complex128
}

func newAnalyser(context *Context) *Analyser {
	return &Analyser{
		context:      context,
		now:          time.Now,
		samples:      make([]float64, context.FFTSize()),
		smoothed:     make([]float64, context.BinCount()),
		frame:        make([]float64, context.FFTSize()),
		coefficients: make([]complex128, context.FFTSize()/2+1),
	}
}

// Write appends 16-bit PCM samples.
func (a *Analyser) Write(pcm []int16) {
	if len(pcm) == 0 {
		return
	}

	a.mutex.Lock()
	defer a.mutex.Unlock()

	size := len(a.samples)
	if len(pcm) >= size {
		pcm = pcm[len(pcm)-size:]
	} else {
		copy(a.samples, a.samples[len(pcm):])
	}

	tail := a.samples[size-len(pcm):]
	for i, sample := range pcm {
		tail[i] = float64(sample) / 32768
	}

	a.lastWrite = a.now()
}

// ByteFrequencyData returns the current spectrum, one byte per bin, appended
// to `dst[:0]`.
func (a *Analyser) ByteFrequencyData(dst []uint8) ([]uint8, error) {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	if a.lastWrite.IsZero() || a.now().Sub(a.lastWrite) > staleAfter {
		for i := range a.samples {
			a.samples[i] = 0
		}
	}

	copy(a.frame, a.samples)

	coefficients, err := a.context.transform(a.frame, a.coefficients)
	if err != nil {
		return nil, err
	}
	a.coefficients = coefficients

	scale := 1 / float64(len(a.frame))
	dst = dst[:0]
	for bin := range a.smoothed {
		magnitude := cmplx.Abs(coefficients[bin]) * scale
		a.smoothed[bin] = smoothing*a.smoothed[bin] + (1-smoothing)*magnitude
		dst = append(dst, decibelsToByte(20*math.Log10(a.smoothed[bin])))
	}

	return dst, nil
}

// Energy is the mean of the byte frequency data.
func (a *Analyser) Energy() (float64, error) {
	data, err := a.ByteFrequencyData(nil)
	if err != nil {
		return 0, err
	}

	return mean(data), nil
}

func mean(data []uint8) float64 {
	if len(data) == 0 {
		return 0
	}

	var sum int
	for _, value := range data {
		sum += int(value)
	}

	return float64(sum) / float64(len(data))
}

// Maps decibels linearly onto 0..255 over [minDecibels, maxDecibels].
func decibelsToByte(db float64) uint8 {
	if math.IsNaN(db) || db <= minDecibels {
		return 0
	}

	if db >= maxDecibels {
		return 255
	}

	return uint8(255 * (db - minDecibels) / (maxDecibels - minDecibels))
}
