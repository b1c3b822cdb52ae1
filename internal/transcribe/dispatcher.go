package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"chartscribe/internal/domain"
	"chartscribe/internal/ports"
)

// MinSegmentBytes is the floor below which a sealed blob is treated as noise
// or silence and skipped rather than uploaded. Forwarding mode ignores the
// floor: a remote stop may legitimately produce tiny blobs that must still
// reach the companion's upload path.
const MinSegmentBytes = 1000

// DispatcherConfig controls segment hand-off behavior.
type DispatcherConfig struct {
	QueueDepth int
	Workers    int
	// Forwarding switches the dispatcher to companion-relay mode.
	Forwarding bool
}

// Dispatcher takes sealed segments, obtains text for each, and merges results
// into the session transcript in completion order. Capture never waits on it:
// the tick loop enqueues and moves on, and upload failures surface as session
// errors without stopping the recording.
type Dispatcher struct {
	transcriber ports.Transcriber
	forwarder   ports.SegmentForwarder
	events      ports.EventSink
	transcript  *Transcript
	log         *slog.Logger
	cfg         DispatcherConfig

	queue    chan domain.SealedSegment
	inFlight atomic.Int64
	accepted atomic.Int64
	appended atomic.Int64

	onResult  func()
	normalize func(string) string

	startOnce sync.Once
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewDispatcher(
	transcriber ports.Transcriber,
	forwarder ports.SegmentForwarder,
	events ports.EventSink,
	transcript *Transcript,
	log *slog.Logger,
	cfg DispatcherConfig,
) *Dispatcher {
	if cfg.QueueDepth <= 0 {
		cfg.QueueDepth = 16
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if log == nil {
		log = slog.Default()
	}
	return &Dispatcher{
		transcriber: transcriber,
		forwarder:   forwarder,
		events:      events,
		transcript:  transcript,
		log:         log,
		cfg:         cfg,
		queue:       make(chan domain.SealedSegment, cfg.QueueDepth),
	}
}

// OnResult registers a hook invoked after each segment result is merged.
// Used by the health supervisor to track sync liveness.
func (d *Dispatcher) OnResult(fn func()) {
	d.onResult = fn
}

// SetNormalizer installs a rewrite pass applied to each segment's text before
// it is merged into the transcript.
func (d *Dispatcher) SetNormalizer(fn func(string) string) {
	d.normalize = fn
}

// Start launches the upload workers. Safe to call once per dispatcher.
func (d *Dispatcher) Start(ctx context.Context) {
	d.startOnce.Do(func() {
		for i := 0; i < d.cfg.Workers; i++ {
			d.wg.Add(1)
			go d.worker(ctx)
		}
	})
}

// Close stops accepting segments and waits for in-flight work to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}

// Enqueue hands a sealed segment to the upload workers without blocking the
// caller. Blobs under the size floor are skipped silently (desktop mode).
// If the queue is full the segment is dropped and surfaced as an error.
func (d *Dispatcher) Enqueue(seg domain.SealedSegment) {
	if !d.cfg.Forwarding && len(seg.Audio) <= MinSegmentBytes {
		d.log.Debug("skipping sub-floor segment",
			"segment", seg.ID, "bytes", len(seg.Audio))
		return
	}

	select {
	case d.queue <- seg:
		d.accepted.Add(1)
	default:
		d.log.Warn("segment queue full, dropping segment", "segment", seg.ID)
		d.events.SessionError(domain.ErrorCodeSegment,
			fmt.Sprintf("segment %s dropped: dispatch queue full", seg.ID))
	}
}

// InFlight reports whether any segment is currently being transcribed.
func (d *Dispatcher) InFlight() bool {
	return d.inFlight.Load() > 0
}

// Accepted returns how many segments have been handed to workers.
func (d *Dispatcher) Accepted() int {
	return int(d.accepted.Load())
}

// Completed returns how many segments produced transcript text.
func (d *Dispatcher) Completed() int {
	return int(d.appended.Load())
}

// ResetCounters clears the per-session completion counters.
func (d *Dispatcher) ResetCounters() {
	d.accepted.Store(0)
	d.appended.Store(0)
}

func (d *Dispatcher) worker(ctx context.Context) {
	defer d.wg.Done()

	for seg := range d.queue {
		d.process(ctx, seg)
	}
}

func (d *Dispatcher) process(ctx context.Context, seg domain.SealedSegment) {
	d.inFlight.Add(1)
	defer d.inFlight.Add(-1)

	if d.cfg.Forwarding && d.forwarder != nil {
		if err := d.forwarder.Forward(ctx, seg); err != nil {
			d.log.Error("segment forwarding failed", "segment", seg.ID, "error", err)
			d.events.SessionError(domain.ErrorCodeForwarding,
				fmt.Sprintf("failed to forward segment: %v", err))
		}
		return
	}

	result, err := d.transcriber.Transcribe(ctx, seg)
	if err != nil {
		// Failure is isolated to this segment; capture continues and the
		// text is dropped without retry.
		d.log.Error("transcription failed", "segment", seg.ID, "error", err)
		d.events.SessionError(domain.ErrorCodeTranscription,
			fmt.Sprintf("transcription failed: %v", err))
		return
	}

	merged := domain.TranscriptSegment{
		SegmentID:  seg.ID,
		Confidence: result.Confidence,
		Utterances: result.Utterances,
		WordTokens: result.Words,
		Paragraphs: result.Paragraphs,
	}
	if result.DiarizedTranscript != "" {
		merged.Text = result.DiarizedTranscript
		merged.Diarized = true
	} else {
		merged.Text = result.Transcript
	}
	if d.normalize != nil {
		merged.Text = d.normalize(merged.Text)
	}

	if !d.transcript.Append(merged) {
		return
	}
	d.appended.Add(1)

	d.events.TranscriptUpdated(d.transcript.String(), merged)
	if d.onResult != nil {
		d.onResult()
	}
}
