package transcribe

import (
	"strings"
	"sync"

	"chartscribe/internal/domain"
)

// Transcript is the cumulative text for one recording session. Mutated only
// by appending dispatcher results in segment-completion order; appended text
// is never retroactively edited.
type Transcript struct {
	mu       sync.Mutex
	segments []domain.TranscriptSegment
	diarized []string
}

func NewTranscript() *Transcript {
	return &Transcript{}
}

// Append merges one completed segment's text. Empty text is ignored.
func (t *Transcript) Append(seg domain.TranscriptSegment) bool {
	text := strings.TrimSpace(seg.Text)
	if text == "" {
		return false
	}
	seg.Text = text
	seg.Words = len(strings.Fields(text))

	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = append(t.segments, seg)
	if seg.Diarized {
		t.diarized = append(t.diarized, text)
	}
	return true
}

// String returns the full plain transcript.
func (t *Transcript) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()

	parts := make([]string, 0, len(t.segments))
	for _, seg := range t.segments {
		parts = append(parts, seg.Text)
	}
	return strings.Join(parts, " ")
}

// Diarized returns only the speaker-annotated portions of the transcript.
func (t *Transcript) Diarized() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.Join(t.diarized, " ")
}

// Segments returns a copy of the appended segments in completion order.
func (t *Transcript) Segments() []domain.TranscriptSegment {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.TranscriptSegment, len(t.segments))
	copy(out, t.segments)
	return out
}

// WordCount reports the total number of words appended so far.
func (t *Transcript) WordCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, seg := range t.segments {
		total += seg.Words
	}
	return total
}

// Clear resets the transcript without touching device state.
func (t *Transcript) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.segments = nil
	t.diarized = nil
}
