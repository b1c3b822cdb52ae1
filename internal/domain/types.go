package domain

import "time"

// SessionState models the recording session lifecycle.
type SessionState string

const (
	SessionStateIdle      SessionState = "idle"
	SessionStateRecording SessionState = "recording"
	SessionStatePaused    SessionState = "paused"
)

// ErrorCode identifies non-fatal backend errors surfaced to the UI.
type ErrorCode string

const (
	ErrorCodeStartup       ErrorCode = "startup"
	ErrorCodeMicrophone    ErrorCode = "microphone"
	ErrorCodeAudioStream   ErrorCode = "audio_stream"
	ErrorCodeSegment       ErrorCode = "segment"
	ErrorCodeTranscription ErrorCode = "transcription"
	ErrorCodeForwarding    ErrorCode = "forwarding"
)

// SessionSnapshot is the UI-facing view of one recording session.
type SessionSnapshot struct {
	State           SessionState `json:"state"`
	IsRecording     bool         `json:"isRecording"`
	IsPaused        bool         `json:"isPaused"`
	IsTranscribing  bool         `json:"isTranscribing"`
	Error           string       `json:"error,omitempty"`
	VolumeLevel     float64      `json:"volumeLevel"`
	NoInputWarning  bool         `json:"noInputWarning"`
	ChunksCompleted int          `json:"chunksCompleted"`
	TotalChunks     int          `json:"totalChunks"`
	RecordingStart  *time.Time   `json:"recordingStart,omitempty"`
	RecordingEnd    *time.Time   `json:"recordingEnd,omitempty"`
}

// Tuning is the user-adjustable detection configuration, re-read every tick.
type Tuning struct {
	MicrophoneGain  float64 `json:"microphoneGain"`
	VolumeThreshold float64 `json:"volumeThreshold"`
}

// SealedSegment is one bounded span of captured audio awaiting transcription.
type SealedSegment struct {
	ID        string
	Sequence  int
	StartedAt time.Time
	SealedAt  time.Time
	Audio     []byte
}

// Duration reports how long the segment was open.
func (s SealedSegment) Duration() time.Duration {
	return s.SealedAt.Sub(s.StartedAt)
}

// TranscriptSegment is one backend result merged into the session transcript.
// Words is a derived count; WordTokens and Paragraphs carry the backend's own
// breakdown when it supplies one.
type TranscriptSegment struct {
	SegmentID  string   `json:"segmentId"`
	Text       string   `json:"text"`
	Diarized   bool     `json:"diarized"`
	Confidence float64  `json:"confidence,omitempty"`
	Words      int      `json:"words"`
	Utterances []string `json:"utterances,omitempty"`
	WordTokens []string `json:"wordTokens,omitempty"`
	Paragraphs []string `json:"paragraphs,omitempty"`
}

// IssueKind classifies a health check finding.
type IssueKind string

const (
	IssueMobileDisconnected IssueKind = "mobile-disconnected"
	IssueMicPermission      IssueKind = "mic-permission"
	IssueAudioCapture       IssueKind = "audio-capture"
	IssueSyncFailure        IssueKind = "sync-failure"
	IssueTranscriptionAPI   IssueKind = "transcription-api"
	IssueNoActiveSession    IssueKind = "no-active-session"
)

// Blocking reports whether an issue of this kind prevents recording from starting.
func (k IssueKind) Blocking() bool {
	switch k {
	case IssueMobileDisconnected, IssueMicPermission, IssueTranscriptionAPI, IssueNoActiveSession:
		return true
	}
	return false
}

// Issue is one health check finding with an optional remediation hint.
type Issue struct {
	Kind       IssueKind `json:"kind"`
	Message    string    `json:"message"`
	Actionable bool      `json:"actionable"`
	Action     string    `json:"action,omitempty"`
}

// HealthStatus is the aggregate readiness verdict.
type HealthStatus string

const (
	HealthSetupRequired HealthStatus = "setup-required"
	HealthTesting       HealthStatus = "testing"
	HealthReady         HealthStatus = "ready"
	HealthRecording     HealthStatus = "recording"
	HealthError         HealthStatus = "error"
)

// HealthState is the diagnostic snapshot recomputed on each health check run.
type HealthState struct {
	Status            HealthStatus `json:"status"`
	Issues            []Issue      `json:"issues"`
	LastSync          *time.Time   `json:"lastSync,omitempty"`
	TranscriptionRate int          `json:"transcriptionRate"`
	IsHealthy         bool         `json:"isHealthy"`
	LastHealthCheck   *time.Time   `json:"lastHealthCheck,omitempty"`
}
