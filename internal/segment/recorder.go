package segment

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"chartscribe/internal/domain"
)

// Recorder owns the capture-side buffer for the current audio segment.
// At most one segment may be open at any time; Open enforces that invariant
// by refusing (and logging) rather than erroring.
type Recorder struct {
	mu        sync.Mutex
	active    bool
	buf       []byte
	startedAt time.Time
	sequence  int
	log       *slog.Logger
}

func NewRecorder(log *slog.Logger) *Recorder {
	if log == nil {
		log = slog.Default()
	}
	return &Recorder{log: log}
}

// Open starts a new segment. Returns false if one is already open.
func (r *Recorder) Open(now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.active {
		r.log.Debug("segment already open, ignoring open request")
		return false
	}

	r.active = true
	r.startedAt = now
	r.buf = r.buf[:0]
	return true
}

// Append adds captured audio to the open segment. Chunks arriving while no
// segment is open are dropped; only the single capture pump calls this, so
// append order within a segment is preserved.
func (r *Recorder) Append(chunk []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active || len(chunk) == 0 {
		return
	}
	r.buf = append(r.buf, chunk...)
}

// Seal closes the open segment and returns it as an immutable blob tagged
// with its capture start time. Returns ok=false if no segment was open.
func (r *Recorder) Seal(now time.Time) (domain.SealedSegment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.active {
		return domain.SealedSegment{}, false
	}

	r.active = false
	r.sequence++

	audio := make([]byte, len(r.buf))
	copy(audio, r.buf)
	r.buf = r.buf[:0]

	return domain.SealedSegment{
		ID:        uuid.NewString(),
		Sequence:  r.sequence,
		StartedAt: r.startedAt,
		SealedAt:  now,
		Audio:     audio,
	}, true
}

// Active reports whether a segment is currently open.
func (r *Recorder) Active() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// StartedAt returns the open segment's capture start time, or zero if idle.
func (r *Recorder) StartedAt() (time.Time, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.active {
		return time.Time{}, false
	}
	return r.startedAt, true
}

// Sequence returns how many segments have been sealed so far.
func (r *Recorder) Sequence() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sequence
}

// Reset discards any open segment and clears the sequence counter.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = false
	r.buf = r.buf[:0]
	r.sequence = 0
}
