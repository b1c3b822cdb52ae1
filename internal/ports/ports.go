package ports

import (
	"context"
	"io"

	"chartscribe/internal/domain"
)

// AudioConfig describes how the microphone should be captured.
type AudioConfig struct {
	SampleRate       int
	Channels         int
	Device           string
	EchoCancellation bool
	NoiseSuppression bool
}

// AudioSession is a live capture session delivering raw PCM audio.
type AudioSession interface {
	io.ReadCloser
	Stop() error
}

// AudioCapture acquires microphone capture sessions.
type AudioCapture interface {
	Start(ctx context.Context, cfg AudioConfig) (AudioSession, error)
}

// InputDevice describes one enumerable audio input.
type InputDevice struct {
	ID        int
	Name      string
	IsDefault bool
}

// DeviceProber enumerates input devices without holding a capture stream open.
type DeviceProber interface {
	ListInputDevices(ctx context.Context) ([]InputDevice, error)
}

// TranscriptionResult is what the backend returns for one sealed segment.
type TranscriptionResult struct {
	Transcript         string
	DiarizedTranscript string
	Utterances         []string
	Confidence         float64
	Words              []string
	Paragraphs         []string
}

// Transcriber uploads one sealed audio segment and returns its text.
type Transcriber interface {
	Transcribe(ctx context.Context, seg domain.SealedSegment) (TranscriptionResult, error)
	// Probe is a lightweight reachability check for the health supervisor.
	Probe(ctx context.Context) error
}

// SegmentForwarder hands a sealed segment to a companion device's own upload
// path instead of calling the backend directly.
type SegmentForwarder interface {
	Forward(ctx context.Context, seg domain.SealedSegment) error
}

// CompanionStatus reports mobile companion link liveness.
type CompanionStatus interface {
	Connected() bool
	ConnectedDevices() int
}

// SessionProvider reports whether an active patient session context exists.
type SessionProvider interface {
	ActiveSessionID() string
}

// EventSink emits pipeline state and events to the UI surface.
type EventSink interface {
	SessionChanged(snapshot domain.SessionSnapshot)
	VolumeLevel(level float64)
	NoInputWarning(active bool)
	TranscriptUpdated(full string, segment domain.TranscriptSegment)
	SessionError(code domain.ErrorCode, detail string)
	HealthChanged(state domain.HealthState)
}
