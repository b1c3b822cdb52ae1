package vad

import (
	"math"
	"sync"
)

// windowSamples is the size of the waveform window RMS is computed over.
// At 16kHz mono this covers the most recent ~128ms of audio.
const windowSamples = 2048

// Sampler converts the most recent stretch of raw PCM into a normalized
// loudness reading. The window buffer is fixed and reused; Push and Measure
// never allocate.
type Sampler struct {
	mu     sync.Mutex
	window [windowSamples]int16
	pos    int
	filled int
}

func NewSampler() *Sampler {
	return &Sampler{}
}

// Push folds a chunk of little-endian 16-bit PCM into the window. Partial
// trailing bytes are ignored.
func (s *Sampler) Push(chunk []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i := 0; i+1 < len(chunk); i += 2 {
		sample := int16(chunk[i]) | int16(chunk[i+1])<<8
		s.window[s.pos] = sample
		s.pos = (s.pos + 1) % windowSamples
		if s.filled < windowSamples {
			s.filled++
		}
	}
}

// Measure returns the root-mean-square of the current window, normalized so
// digital silence yields 0 and full-scale audio approaches 1. Returns 0 when
// no audio has been pushed.
func (s *Sampler) Measure() float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.filled == 0 {
		return 0
	}

	var sum float64
	for i := 0; i < s.filled; i++ {
		normalized := float64(s.window[i]) / 32768
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(s.filled))
}

// Reset clears the window, e.g. when the capture stream is replaced.
func (s *Sampler) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pos = 0
	s.filled = 0
}
