package vad

import (
	"time"

	"chartscribe/internal/domain"
)

// Classifier turns per-tick volume samples into a stable speaking signal.
// A strict run of SpeechConfirmationFrames consecutive frames above threshold
// is required before speech is confirmed; a single quiet frame resets the run.
type Classifier struct {
	speechFrames int
	lastSpokeAt  time.Time
}

func NewClassifier(now time.Time) *Classifier {
	return &Classifier{lastSpokeAt: now}
}

// Frame is the classification of one sampling tick.
type Frame struct {
	Adjusted  float64
	Speaking  bool
	Confirmed bool
}

// Observe classifies one volume sample. Gain and threshold come from the
// injected tuning so user adjustments take effect on the next tick.
func (c *Classifier) Observe(sample float64, tuning domain.Tuning, now time.Time) Frame {
	gain := tuning.MicrophoneGain
	if gain <= 0 {
		gain = 1
	}
	threshold := tuning.VolumeThreshold
	if threshold <= 0 {
		threshold = 0.01
	}

	adjusted := sample * gain
	speaking := adjusted > threshold

	if speaking {
		c.speechFrames++
	} else {
		c.speechFrames = 0
	}

	confirmed := speaking && c.speechFrames >= SpeechConfirmationFrames
	if confirmed {
		c.lastSpokeAt = now
	}

	return Frame{Adjusted: adjusted, Speaking: speaking, Confirmed: confirmed}
}

// SilenceFor reports how long it has been since speech was last confirmed.
func (c *Classifier) SilenceFor(now time.Time) time.Duration {
	return now.Sub(c.lastSpokeAt)
}

// Reset clears detection state, treating now as the last time speech was
// heard. Used on start and on resume from pause.
func (c *Classifier) Reset(now time.Time) {
	c.speechFrames = 0
	c.lastSpokeAt = now
}
