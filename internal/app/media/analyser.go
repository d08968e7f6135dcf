package media

import (
	"math"
	"math/cmplx"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/gonum/dsp/window"
)

const (
	DefaultFFTSize = 256

	minDecibels = -100.0
	maxDecibels = -30.0
	// smoothing is the per-bin exponential averaging constant between reads.
	smoothing = 0.8
)

// Analyser estimates the frequency-domain energy of an audio stream. PCM is
// written into a ring of FFTSize samples; Level windows the ring, transforms
// it and returns the mean bin magnitude scaled from [minDecibels,maxDecibels]
// to [0,1].
type Analyser struct {
	mu       sync.Mutex
	size     int
	fft      *fourier.FFT
	ring     []float64
	pos      int
	frame    []float64
	coeff    []complex128
	smoothed []float64
}

func NewAnalyser(size int) *Analyser {
	if size < 32 || size&(size-1) != 0 {
		size = DefaultFFTSize
	}
	return &Analyser{
		size:     size,
		fft:      fourier.NewFFT(size),
		ring:     make([]float64, size),
		frame:    make([]float64, size),
		smoothed: make([]float64, size/2),
	}
}

// WritePCM appends signed 16-bit samples.
func (a *Analyser) WritePCM(samples []int16) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = float64(s) / 32768
		a.pos = (a.pos + 1) % a.size
	}
}

// WriteFloat appends samples in [-1,1].
func (a *Analyser) WriteFloat(samples []float64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, s := range samples {
		a.ring[a.pos] = s
		a.pos = (a.pos + 1) % a.size
	}
}

func (a *Analyser) Level() float64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	for i := 0; i < a.size; i++ {
		a.frame[i] = a.ring[(a.pos+i)%a.size]
	}
	window.Blackman(a.frame)
	a.coeff = a.fft.Coefficients(a.coeff, a.frame)

	var sum float64
	bins := len(a.smoothed)
	for k := 0; k < bins; k++ {
		mag := cmplx.Abs(a.coeff[k]) / float64(a.size)
		a.smoothed[k] = smoothing*a.smoothed[k] + (1-smoothing)*mag
		sum += scaleDecibels(a.smoothed[k])
	}
	return sum / float64(bins)
}

// Reset clears buffered samples and smoothing state.
func (a *Analyser) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	clear(a.ring)
	clear(a.smoothed)
	a.pos = 0
}

func scaleDecibels(mag float64) float64 {
	if mag <= 0 {
		return 0
	}
	db := 20 * math.Log10(mag)
	return clamp01((db - minDecibels) / (maxDecibels - minDecibels))
}
