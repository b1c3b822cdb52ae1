package usecase

import (
	"context"
	"time"

	"chartscribe/internal/ports"
	"chartscribe/internal/segment"
	"chartscribe/internal/vad"
)

// activeSession bundles the per-recording resources owned by the controller:
// the live capture stream, the detection state, and the loop/pump lifecycles.
type activeSession struct {
	stream     ports.AudioSession
	sampler    *vad.Sampler
	classifier *vad.Classifier
	recorder   *segment.Recorder

	// cancel releases the capture context owned by this session; called on
	// teardown, never by outside callers.
	cancel context.CancelFunc

	// stopTick is closed to halt the tick loop synchronously; tickDone is
	// closed by the loop goroutine once no further ticks can fire.
	stopTick chan struct{}
	tickDone chan struct{}
	pumpDone chan struct{}

	recordingStart time.Time
	segmentsOpened int
}
