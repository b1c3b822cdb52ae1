package segment

import (
	"bytes"
	"testing"
	"time"
)

func TestRecorderAtMostOneOpenSegment(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	now := time.Unix(0, 0)

	if !r.Open(now) {
		t.Fatalf("first open refused")
	}
	if r.Open(now.Add(time.Second)) {
		t.Fatalf("second open succeeded while a segment was active")
	}

	if _, ok := r.Seal(now.Add(2 * time.Second)); !ok {
		t.Fatalf("seal failed")
	}
	if !r.Open(now.Add(3 * time.Second)) {
		t.Fatalf("open after seal refused")
	}
}

func TestRecorderDropsAudioWhileClosed(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	now := time.Unix(0, 0)

	r.Append([]byte("dropped"))
	r.Open(now)
	r.Append([]byte("kept"))

	seg, ok := r.Seal(now.Add(time.Second))
	if !ok {
		t.Fatalf("seal failed")
	}
	if !bytes.Equal(seg.Audio, []byte("kept")) {
		t.Fatalf("unexpected audio: %q", seg.Audio)
	}
}

func TestRecorderSealedAudioIsImmutable(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	now := time.Unix(0, 0)

	r.Open(now)
	r.Append([]byte("abc"))
	seg, _ := r.Seal(now.Add(time.Second))

	// Writing into a new segment must not alias the sealed blob.
	r.Open(now.Add(2 * time.Second))
	r.Append([]byte("xyz"))

	if !bytes.Equal(seg.Audio, []byte("abc")) {
		t.Fatalf("sealed audio mutated: %q", seg.Audio)
	}
}

func TestRecorderSealWithoutOpen(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	if _, ok := r.Seal(time.Unix(0, 0)); ok {
		t.Fatalf("sealed a segment that was never opened")
	}
}

func TestRecorderSequenceAndTimestamps(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	opened := time.Unix(50, 0)
	sealed := opened.Add(7 * time.Second)

	r.Open(opened)
	r.Append([]byte("a"))

	if startedAt, ok := r.StartedAt(); !ok || !startedAt.Equal(opened) {
		t.Fatalf("unexpected StartedAt: %v %v", startedAt, ok)
	}

	seg, _ := r.Seal(sealed)
	if seg.Sequence != 1 {
		t.Fatalf("unexpected sequence: %d", seg.Sequence)
	}
	if seg.ID == "" {
		t.Fatalf("expected a segment id")
	}
	if seg.Duration() != 7*time.Second {
		t.Fatalf("unexpected duration: %v", seg.Duration())
	}

	r.Open(sealed)
	seg2, _ := r.Seal(sealed.Add(time.Second))
	if seg2.Sequence != 2 {
		t.Fatalf("sequence did not advance: %d", seg2.Sequence)
	}
	if seg2.ID == seg.ID {
		t.Fatalf("segment ids must be unique")
	}
}

func TestRecorderReset(t *testing.T) {
	t.Parallel()

	r := NewRecorder(nil)
	now := time.Unix(0, 0)

	r.Open(now)
	r.Append([]byte("abc"))
	r.Reset()

	if r.Active() {
		t.Fatalf("still active after reset")
	}
	if _, ok := r.Seal(now); ok {
		t.Fatalf("sealed after reset")
	}
	if r.Sequence() != 0 {
		t.Fatalf("sequence survived reset")
	}
}
