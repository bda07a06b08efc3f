package speaking

import (
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noise(random *rand.Rand, count int, amplitude float64) []int16 {
	pcm := make([]int16, count)
	for i := range pcm {
		pcm[i] = int16((random.Float64()*2 - 1) * amplitude * 32767)
	}

	return pcm
}

func TestDecibelsToByte(t *testing.T) {
	cases := []struct {
		db       float64
		expected uint8
	}{
		{-200, 0},
		{-100, 0},
		{-65, 127},
		{-30, 255},
		{0, 255},
	}

	for _, c := range cases {
		assert.Equal(t, c.expected, decibelsToByte(c.db), "%v dB", c.db)
	}
}

func TestAnalyser_SilenceHasNoEnergy(t *testing.T) {
	analyser, err := NewContext(DefaultFFTSize).NewAnalyser()
	require.NoError(t, err)

	analyser.Write(make([]int16, 960))

	data, err := analyser.ByteFrequencyData(nil)
	require.NoError(t, err)
	assert.Len(t, data, DefaultFFTSize/2)

	energy, err := analyser.Energy()
	require.NoError(t, err)
	assert.Zero(t, energy)
}

func TestAnalyser_NoiseAboveThreshold(t *testing.T) {
	analyser, err := NewContext(DefaultFFTSize).NewAnalyser()
	require.NoError(t, err)

	random := rand.New(rand.NewSource(1))

	var energy float64
	for i := 0; i < 10; i++ {
		analyser.Write(noise(random, 960, 0.5))

		energy, err = analyser.Energy()
		require.NoError(t, err)
	}

	assert.Greater(t, energy, float64(DefaultThreshold))
}

func TestAnalyser_QuietNoiseBelowThreshold(t *testing.T) {
	analyser, err := NewContext(DefaultFFTSize).NewAnalyser()
	require.NoError(t, err)

	random := rand.New(rand.NewSource(1))

	var energy float64
	for i := 0; i < 10; i++ {
		analyser.Write(noise(random, 960, 0.0003))

		energy, err = analyser.Energy()
		require.NoError(t, err)
	}

	assert.Less(t, energy, float64(DefaultThreshold))
}

func TestAnalyser_StaleSamplesAreSilence(t *testing.T) {
	analyser, err := NewContext(DefaultFFTSize).NewAnalyser()
	require.NoError(t, err)

	now := time.Now()
	analyser.now = func() time.Time { return now }

	analyser.Write(noise(rand.New(rand.NewSource(1)), 960, 0.5))
	now = now.Add(time.Second)

	// Smoothing decays the previous spectrum, so a few frames are needed.
	var energy float64
	for i := 0; i < 50; i++ {
		energy, err = analyser.Energy()
		require.NoError(t, err)
	}

	assert.Zero(t, energy)
}

func TestContext_Closed(t *testing.T) {
	context := NewContext(0)
	assert.Equal(t, DefaultFFTSize, context.FFTSize())

	analyser, err := context.NewAnalyser()
	require.NoError(t, err)

	context.Close()
	context.Close()

	_, err = analyser.Energy()
	assert.ErrorIs(t, err, ErrContextClosed)

	_, err = context.NewAnalyser()
	assert.ErrorIs(t, err, ErrContextClosed)
}

func TestConfig_Validate(t *testing.T) {
	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, Config{FFTSize: 512}.Validate())
	assert.ErrorIs(t, Config{FFTSize: 300}.Validate(), ErrInvalidFFTSize)
	assert.ErrorIs(t, Config{FFTSize: 16}.Validate(), ErrInvalidFFTSize)

	config := Config{}.WithDefaults()
	assert.Equal(t, DefaultInterval, config.Interval())
	assert.Equal(t, float64(DefaultThreshold), config.Threshold)
}
