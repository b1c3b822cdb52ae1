package vad

import (
	"testing"
	"time"
)

func TestEvaluate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name     string
		in       PolicyInput
		decision Decision
		reason   SealReason
	}{
		{
			name:     "idle without speech keeps waiting",
			in:       PolicyInput{},
			decision: DecisionKeep,
		},
		{
			name:     "confirmed speech opens a segment",
			in:       PolicyInput{SpeechConfirmed: true},
			decision: DecisionOpenSegment,
		},
		{
			name: "open segment with ongoing speech is kept",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: 10 * time.Second,
				SpeechConfirmed:   true,
			},
			decision: DecisionKeep,
		},
		{
			name: "silence past threshold seals",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: 5 * time.Second,
				SilenceDuration:   SilenceThreshold + time.Millisecond,
			},
			decision: DecisionSeal,
			reason:   SealSilence,
		},
		{
			name: "short pause in a young segment does not seal",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: 5 * time.Second,
				SilenceDuration:   2 * time.Second,
			},
			decision: DecisionKeep,
		},
		{
			name: "mature segment seals on a word boundary pause",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: SmartBoundaryThreshold + time.Second,
				SilenceDuration:   WordBoundaryPause + time.Millisecond,
			},
			decision: DecisionSeal,
			reason:   SealSmartBoundary,
		},
		{
			name: "mature segment with continuous speech is kept",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: SmartBoundaryThreshold + 5*time.Second,
				SilenceDuration:   500 * time.Millisecond,
				SpeechConfirmed:   true,
			},
			decision: DecisionKeep,
		},
		{
			name: "ceiling seals even during active speech",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: ForceStopDuration + time.Millisecond,
				SpeechConfirmed:   true,
			},
			decision: DecisionSeal,
			reason:   SealForceStop,
		},
		{
			name: "ceiling wins over the silence rules",
			in: PolicyInput{
				SegmentOpen:       true,
				RecordingDuration: ForceStopDuration + time.Second,
				SilenceDuration:   SilenceThreshold + time.Second,
			},
			decision: DecisionSeal,
			reason:   SealForceStop,
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			decision, reason := Evaluate(tc.in)
			if decision != tc.decision {
				t.Fatalf("unexpected decision: got %v want %v", decision, tc.decision)
			}
			if decision == DecisionSeal && reason != tc.reason {
				t.Fatalf("unexpected seal reason: got %q want %q", reason, tc.reason)
			}
		})
	}
}
