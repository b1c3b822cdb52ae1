package vad

import (
	"testing"
	"time"

	"chartscribe/internal/domain"
)

var testTuning = domain.Tuning{MicrophoneGain: 2, VolumeThreshold: 0.1}

func TestClassifierRequiresConsecutiveFrames(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	c := NewClassifier(now)

	for i := 0; i < SpeechConfirmationFrames-1; i++ {
		frame := c.Observe(0.2, testTuning, now)
		if !frame.Speaking {
			t.Fatalf("frame %d: expected speaking", i)
		}
		if frame.Confirmed {
			t.Fatalf("frame %d: confirmed before the required run", i)
		}
	}

	frame := c.Observe(0.2, testTuning, now)
	if !frame.Confirmed {
		t.Fatalf("expected confirmation on frame %d", SpeechConfirmationFrames)
	}
}

func TestClassifierSingleQuietFrameResetsRun(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	c := NewClassifier(now)

	c.Observe(0.2, testTuning, now)
	c.Observe(0.2, testTuning, now)
	c.Observe(0, testTuning, now) // transient dip

	// The run starts over; two more loud frames are not enough.
	c.Observe(0.2, testTuning, now)
	frame := c.Observe(0.2, testTuning, now)
	if frame.Confirmed {
		t.Fatalf("confirmed despite interrupted run")
	}
}

func TestClassifierGainApplied(t *testing.T) {
	t.Parallel()

	now := time.Unix(0, 0)
	c := NewClassifier(now)

	// 0.04 raw is below threshold, but 0.04 * gain 5 = 0.2 is above.
	frame := c.Observe(0.04, domain.Tuning{MicrophoneGain: 5, VolumeThreshold: 0.1}, now)
	if !frame.Speaking {
		t.Fatalf("expected gain-boosted sample to count as speech")
	}
	if frame.Adjusted != 0.2 {
		t.Fatalf("unexpected adjusted level: %f", frame.Adjusted)
	}
}

func TestClassifierSilenceTracking(t *testing.T) {
	t.Parallel()

	start := time.Unix(100, 0)
	c := NewClassifier(start)

	// Confirm speech at t+1s.
	spoke := start.Add(time.Second)
	for i := 0; i < SpeechConfirmationFrames; i++ {
		c.Observe(0.2, testTuning, spoke)
	}

	// Quiet frames arrive while the speaker pauses; they break the run
	// without moving the marker.
	later := spoke.Add(4 * time.Second)
	c.Observe(0, testTuning, spoke.Add(time.Second))
	c.Observe(0, testTuning, spoke.Add(2*time.Second))
	if got := c.SilenceFor(later); got != 4*time.Second {
		t.Fatalf("expected 4s of silence, got %v", got)
	}

	// A single loud frame after the pause is unconfirmed and does not move
	// the marker either.
	c.Observe(0.2, testTuning, later)
	if got := c.SilenceFor(later); got != 4*time.Second {
		t.Fatalf("single loud frame moved the silence marker: %v", got)
	}
}

func TestClassifierReset(t *testing.T) {
	t.Parallel()

	start := time.Unix(0, 0)
	c := NewClassifier(start)
	c.Observe(0.2, testTuning, start)
	c.Observe(0.2, testTuning, start)

	resumed := start.Add(time.Minute)
	c.Reset(resumed)

	if got := c.SilenceFor(resumed); got != 0 {
		t.Fatalf("expected zero silence after reset, got %v", got)
	}
	frame := c.Observe(0.2, testTuning, resumed)
	frame = c.Observe(0.2, testTuning, resumed)
	if frame.Confirmed {
		t.Fatalf("frame run survived reset")
	}
}
