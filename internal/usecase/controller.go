package usecase

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"chartscribe/internal/audio"
	"chartscribe/internal/domain"
	"chartscribe/internal/ports"
	"chartscribe/internal/segment"
	"chartscribe/internal/transcribe"
	"chartscribe/internal/vad"
)

var ErrNotRecording = errors.New("no recording in progress")

// Config controls recording session behavior.
type Config struct {
	Audio ports.AudioConfig
	// Tuning supplies the user-adjustable gain/threshold; it is consulted on
	// every tick so external adjustments take effect immediately.
	Tuning func() domain.Tuning
	// StartImmediate opens a segment as soon as recording starts, without
	// waiting for speech confirmation, so a remote stop always has audio to
	// flush.
	StartImmediate bool
	// PumpChunkSize is the capture read size in bytes.
	PumpChunkSize int
}

// Controller is the public recording state machine. It owns the microphone
// stream and audio graph for the lifetime of a session, drives the boundary
// policy on a fixed tick, and hands sealed segments to the dispatcher.
type Controller struct {
	capture    ports.AudioCapture
	dispatcher *transcribe.Dispatcher
	transcript *transcribe.Transcript
	events     ports.EventSink
	log        *slog.Logger
	cfg        Config
	clock      func() time.Time

	mu   sync.Mutex
	sess *activeSession

	// starting blocks concurrent StartRecording calls for the span of device
	// acquisition, which runs outside the mutex.
	starting bool

	isRecording    bool
	isPaused       bool
	lastError      string
	volumeLevel    float64
	noInputWarning bool
	recordingStart *time.Time
	recordingEnd   *time.Time
}

func NewController(
	capture ports.AudioCapture,
	dispatcher *transcribe.Dispatcher,
	transcript *transcribe.Transcript,
	events ports.EventSink,
	log *slog.Logger,
	cfg Config,
) *Controller {
	if cfg.Tuning == nil {
		cfg.Tuning = func() domain.Tuning {
			return domain.Tuning{MicrophoneGain: 7, VolumeThreshold: 0.1}
		}
	}
	if cfg.PumpChunkSize < 256 {
		cfg.PumpChunkSize = 4096
	}
	if log == nil {
		log = slog.Default()
	}
	return &Controller{
		capture:    capture,
		dispatcher: dispatcher,
		transcript: transcript,
		events:     events,
		log:        log,
		cfg:        cfg,
		clock:      time.Now,
	}
}

// StartRecording acquires the microphone and begins the detection loop.
// Acquisition failures surface as a session error string, never a panic; the
// tick loop is not started when acquisition fails. The capture stream runs on
// a context owned by the session, not the caller's: a cancelled request
// context must not tear down a recording in progress.
func (c *Controller) StartRecording(ctx context.Context) error {
	c.mu.Lock()
	if c.isRecording || c.starting {
		c.mu.Unlock()
		return nil
	}
	c.starting = true
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		c.starting = false
		c.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return err
	}

	sessCtx, cancel := context.WithCancel(context.Background())
	stream, err := c.capture.Start(sessCtx, c.cfg.Audio)
	if err != nil {
		cancel()
		detail := acquisitionErrorMessage(err)
		c.setError(detail)
		c.events.SessionError(domain.ErrorCodeMicrophone, detail)
		return fmt.Errorf("microphone acquisition failed: %w", err)
	}

	now := c.clock()
	sess := &activeSession{
		stream:         stream,
		sampler:        vad.NewSampler(),
		classifier:     vad.NewClassifier(now),
		recorder:       segment.NewRecorder(c.log),
		cancel:         cancel,
		stopTick:       make(chan struct{}),
		tickDone:       make(chan struct{}),
		pumpDone:       make(chan struct{}),
		recordingStart: now,
	}

	c.mu.Lock()
	c.sess = sess
	c.isRecording = true
	c.isPaused = false
	c.lastError = ""
	c.noInputWarning = false
	c.recordingStart = &now
	c.recordingEnd = nil
	c.mu.Unlock()

	c.dispatcher.ResetCounters()

	go c.pump(sess)
	go c.runTicks(sess, sess.stopTick, sess.tickDone)

	if c.cfg.StartImmediate {
		if sess.recorder.Open(now) {
			c.noteSegmentOpened(sess)
		}
	}

	c.log.Info("recording started")
	c.emitSession()
	return nil
}

// StopRecording halts the detection loop, seals any trailing segment so no
// captured speech is dropped, and tears down the audio graph.
func (c *Controller) StopRecording() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || !c.isRecording {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.isRecording = false
	c.isPaused = false
	now := c.clock()
	c.recordingEnd = &now
	c.sess = nil
	c.mu.Unlock()

	// The tick loop must be fully stopped before sealing; no tick may fire
	// against a half-torn-down session.
	c.stopTickLoop(sess)
	c.sealOpenSegment(sess, vad.SealNone)
	c.teardown(sess)

	c.log.Info("recording stopped")
	c.emitSession()
	return nil
}

// PauseRecording suspends the detection loop without releasing the
// microphone. An open segment is sealed first: no partial segment survives a
// pause.
func (c *Controller) PauseRecording() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || !c.isRecording || c.isPaused {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.isPaused = true
	c.mu.Unlock()

	c.stopTickLoop(sess)
	c.sealOpenSegment(sess, vad.SealNone)

	c.log.Info("recording paused")
	c.emitSession()
	return nil
}

// ResumeRecording restarts the detection loop with fresh detection state.
func (c *Controller) ResumeRecording() error {
	c.mu.Lock()
	sess := c.sess
	if sess == nil || !c.isRecording || !c.isPaused {
		c.mu.Unlock()
		return ErrNotRecording
	}
	c.isPaused = false

	sess.classifier.Reset(c.clock())
	sess.stopTick = make(chan struct{})
	sess.tickDone = make(chan struct{})
	stop, done := sess.stopTick, sess.tickDone
	c.mu.Unlock()

	go c.runTicks(sess, stop, done)

	c.log.Info("recording resumed")
	c.emitSession()
	return nil
}

// ClearTranscript resets the cumulative transcript and completion counters
// without affecting device acquisition.
func (c *Controller) ClearTranscript() {
	c.transcript.Clear()
	c.dispatcher.ResetCounters()

	c.mu.Lock()
	c.lastError = ""
	c.mu.Unlock()

	c.emitSession()
}

// Cleanup releases all audio resources. Idempotent: safe to call multiple
// times and regardless of session state.
func (c *Controller) Cleanup() {
	c.mu.Lock()
	sess := c.sess
	c.sess = nil
	c.isRecording = false
	c.isPaused = false
	c.mu.Unlock()

	if sess == nil {
		return
	}

	c.stopTickLoop(sess)
	c.sealOpenSegment(sess, vad.SealNone)
	c.teardown(sess)
	c.log.Info("audio resources released")
}

// Snapshot returns the UI-facing session view. Derived fields are computed on
// read, never cached.
func (c *Controller) Snapshot() domain.SessionSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	state := domain.SessionStateIdle
	if c.isRecording {
		state = domain.SessionStateRecording
		if c.isPaused {
			state = domain.SessionStatePaused
		}
	}

	total := 0
	if c.sess != nil {
		total = c.sess.segmentsOpened
	}

	return domain.SessionSnapshot{
		State:           state,
		IsRecording:     c.isRecording,
		IsPaused:        c.isPaused,
		IsTranscribing:  c.dispatcher.InFlight(),
		Error:           c.lastError,
		VolumeLevel:     c.volumeLevel,
		NoInputWarning:  c.noInputWarning,
		ChunksCompleted: c.dispatcher.Completed(),
		TotalChunks:     total,
		RecordingStart:  c.recordingStart,
		RecordingEnd:    c.recordingEnd,
	}
}

// IsRecording reports the session's recording flag.
func (c *Controller) IsRecording() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isRecording
}

// Transcript returns the full plain transcript accumulated so far.
func (c *Controller) Transcript() string {
	return c.transcript.String()
}

// runTicks drives the boundary policy at the fixed sampling cadence until
// stopped. The tick body is synchronous CPU work; all upload work is handed
// off through the dispatcher queue.
func (c *Controller) runTicks(sess *activeSession, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(vad.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			c.tick(sess, c.clock())
		}
	}
}

// tick is the per-interval decision function: sample, classify, evaluate
// boundary rules, and open or seal segments. It never blocks and never
// awaits; sealing only enqueues.
func (c *Controller) tick(sess *activeSession, now time.Time) {
	c.mu.Lock()
	if !c.isRecording || c.isPaused {
		c.mu.Unlock()
		return
	}
	tuning := c.cfg.Tuning()
	c.mu.Unlock()

	volume := sess.sampler.Measure()
	frame := sess.classifier.Observe(volume, tuning, now)

	c.mu.Lock()
	c.volumeLevel = frame.Adjusted
	clearWarning := frame.Confirmed && c.noInputWarning
	if clearWarning {
		c.noInputWarning = false
	}
	c.mu.Unlock()

	c.events.VolumeLevel(frame.Adjusted)
	if clearWarning {
		c.events.NoInputWarning(false)
	}

	silence := sess.classifier.SilenceFor(now)

	var recordingDuration time.Duration
	if startedAt, open := sess.recorder.StartedAt(); open {
		recordingDuration = now.Sub(startedAt)
	}

	decision, reason := vad.Evaluate(vad.PolicyInput{
		SegmentOpen:       sess.recorder.Active(),
		RecordingDuration: recordingDuration,
		SilenceDuration:   silence,
		SpeechConfirmed:   frame.Confirmed,
	})

	switch decision {
	case vad.DecisionSeal:
		c.sealOpenSegment(sess, reason)
	case vad.DecisionOpenSegment:
		if sess.recorder.Open(now) {
			c.noteSegmentOpened(sess)
		}
	}

	// No-input warning is raised once per qualifying silence stretch and
	// cleared the moment speech is reconfirmed.
	if silence > vad.NoInputWarningAfter {
		c.mu.Lock()
		raise := !c.noInputWarning
		if raise {
			c.noInputWarning = true
		}
		c.mu.Unlock()
		if raise {
			c.log.Warn("no audio detected", "silence", silence.Round(time.Second))
			c.events.NoInputWarning(true)
		}
	}
}

// pump copies PCM from the capture stream into the sampler window and, while
// a segment is open, into the segment buffer. Single producer: within one
// segment, chunk order is preserved.
func (c *Controller) pump(sess *activeSession) {
	defer close(sess.pumpDone)

	buf := make([]byte, c.cfg.PumpChunkSize)
	for {
		n, err := sess.stream.Read(buf)
		if n > 0 {
			sess.sampler.Push(buf[:n])
			sess.recorder.Append(buf[:n])
		}
		if err != nil {
			if c.IsRecording() && !errors.Is(err, io.EOF) && !errors.Is(err, context.Canceled) {
				c.events.SessionError(domain.ErrorCodeAudioStream,
					fmt.Sprintf("audio capture error: %v", err))
			}
			return
		}
	}
}

func (c *Controller) noteSegmentOpened(sess *activeSession) {
	c.mu.Lock()
	sess.segmentsOpened++
	c.mu.Unlock()
	c.log.Debug("segment opened", "sequence", sess.segmentsOpened)
}

func (c *Controller) sealOpenSegment(sess *activeSession, reason vad.SealReason) {
	seg, ok := sess.recorder.Seal(c.clock())
	if !ok {
		return
	}
	c.log.Debug("segment sealed",
		"segment", seg.ID,
		"bytes", len(seg.Audio),
		"duration", seg.Duration().Round(time.Millisecond),
		"reason", string(reason))
	c.dispatcher.Enqueue(seg)
}

// stopTickLoop synchronously halts the tick loop: once it returns, no further
// ticks can fire.
func (c *Controller) stopTickLoop(sess *activeSession) {
	c.mu.Lock()
	stop, done := sess.stopTick, sess.tickDone
	c.mu.Unlock()

	select {
	case <-stop:
	default:
		close(stop)
	}
	<-done
}

func (c *Controller) teardown(sess *activeSession) {
	if err := sess.stream.Stop(); err != nil {
		c.log.Warn("audio stream did not stop cleanly", "error", err)
	}
	<-sess.pumpDone
	sess.cancel()
	sess.sampler.Reset()
}

func (c *Controller) setError(detail string) {
	c.mu.Lock()
	c.lastError = detail
	c.mu.Unlock()
}

func (c *Controller) emitSession() {
	c.events.SessionChanged(c.Snapshot())
}

func acquisitionErrorMessage(err error) string {
	switch {
	case errors.Is(err, audio.ErrPermissionDenied):
		return "Microphone access denied: grant microphone permissions and try again"
	case errors.Is(err, audio.ErrNoInputDevice):
		return "No microphone found: connect an input device and try again"
	default:
		return fmt.Sprintf("Microphone not available: %v", err)
	}
}
