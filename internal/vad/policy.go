package vad

import "time"

// Boundary timing constants.
const (
	// TickInterval is the fixed sampling cadence of the detection loop.
	TickInterval = 100 * time.Millisecond

	// SilenceThreshold is the default speaker-paused cutoff for a segment.
	SilenceThreshold = 3 * time.Second

	// SmartBoundaryThreshold is the segment age after which a micro-pause is
	// enough to close it, rather than waiting for the full silence threshold.
	SmartBoundaryThreshold = 25 * time.Second

	// WordBoundaryPause is the micro-pause length treated as a word boundary
	// once a segment is past SmartBoundaryThreshold.
	WordBoundaryPause = 1 * time.Second

	// ForceStopDuration is the absolute segment ceiling regardless of speech
	// activity, bounding memory use and transcription latency.
	ForceStopDuration = 35 * time.Second

	// SpeechConfirmationFrames is the strict consecutive-frame run needed to
	// confirm speech and suppress single-frame noise transients.
	SpeechConfirmationFrames = 3

	// NoInputWarningAfter is the silence stretch that raises the
	// no-audio-detected warning while recording.
	NoInputWarningAfter = 10 * time.Second
)

// Decision is the boundary policy's verdict for one tick.
type Decision int

const (
	DecisionKeep Decision = iota
	DecisionOpenSegment
	DecisionSeal
)

// SealReason explains why a segment was closed.
type SealReason string

const (
	SealForceStop     SealReason = "force_stop"
	SealSmartBoundary SealReason = "smart_boundary"
	SealSilence       SealReason = "silence"
	SealNone          SealReason = ""
)

// PolicyInput is the per-tick state the boundary rules are evaluated against.
type PolicyInput struct {
	SegmentOpen       bool
	RecordingDuration time.Duration
	SilenceDuration   time.Duration
	SpeechConfirmed   bool
}

// Evaluate applies the boundary rules for one tick. Rule order matters: the
// force-stop ceiling wins over the smart boundary, which wins over the
// standard silence cutoff.
func Evaluate(in PolicyInput) (Decision, SealReason) {
	if in.SegmentOpen {
		if in.RecordingDuration > ForceStopDuration {
			return DecisionSeal, SealForceStop
		}
		if in.RecordingDuration > SmartBoundaryThreshold && in.SilenceDuration > WordBoundaryPause {
			return DecisionSeal, SealSmartBoundary
		}
		if in.SilenceDuration > SilenceThreshold {
			return DecisionSeal, SealSilence
		}
		return DecisionKeep, SealNone
	}

	if in.SpeechConfirmed {
		return DecisionOpenSegment, SealNone
	}
	return DecisionKeep, SealNone
}
