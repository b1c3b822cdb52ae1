package transcribe

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"chartscribe/internal/domain"
	"chartscribe/internal/ports"
)

type fakeTranscriber struct {
	mu      sync.Mutex
	calls   int
	results map[string]ports.TranscriptionResult
	errs    map[string]error
}

func (f *fakeTranscriber) Transcribe(_ context.Context, seg domain.SealedSegment) (ports.TranscriptionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if err, ok := f.errs[seg.ID]; ok {
		return ports.TranscriptionResult{}, err
	}
	return f.results[seg.ID], nil
}

func (f *fakeTranscriber) Probe(context.Context) error { return nil }

func (f *fakeTranscriber) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeForwarder struct {
	mu       sync.Mutex
	forwards []domain.SealedSegment
	err      error
}

func (f *fakeForwarder) Forward(_ context.Context, seg domain.SealedSegment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.forwards = append(f.forwards, seg)
	return nil
}

func (f *fakeForwarder) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.forwards)
}

type sinkError struct {
	code   domain.ErrorCode
	detail string
}

type fakeEventSink struct {
	mu          sync.Mutex
	errs        []sinkError
	transcripts []string
}

func (f *fakeEventSink) SessionChanged(domain.SessionSnapshot) {}
func (f *fakeEventSink) VolumeLevel(float64)                   {}
func (f *fakeEventSink) NoInputWarning(bool)                   {}
func (f *fakeEventSink) HealthChanged(domain.HealthState)      {}

func (f *fakeEventSink) TranscriptUpdated(full string, _ domain.TranscriptSegment) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.transcripts = append(f.transcripts, full)
}

func (f *fakeEventSink) SessionError(code domain.ErrorCode, detail string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.errs = append(f.errs, sinkError{code: code, detail: detail})
}

func (f *fakeEventSink) sessionErrors() []sinkError {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sinkError(nil), f.errs...)
}

func sealed(id string, size int) domain.SealedSegment {
	return domain.SealedSegment{
		ID:        id,
		Sequence:  1,
		StartedAt: time.Unix(0, 0),
		SealedAt:  time.Unix(5, 0),
		Audio:     make([]byte, size),
	}
}

func TestDispatcherMergesResults(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{results: map[string]ports.TranscriptionResult{
		"seg-1": {Transcript: "hello there", Confidence: 0.9},
	}}
	events := &fakeEventSink{}
	transcript := NewTranscript()
	synced := 0

	d := NewDispatcher(transcriber, nil, events, transcript, nil, DispatcherConfig{})
	d.OnResult(func() { synced++ })
	d.Start(context.Background())
	d.Enqueue(sealed("seg-1", 2000))
	d.Close()

	if got := transcript.String(); got != "hello there" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	if d.Completed() != 1 {
		t.Fatalf("unexpected completed count: %d", d.Completed())
	}
	if synced != 1 {
		t.Fatalf("result hook fired %d times", synced)
	}
	if len(events.transcripts) != 1 {
		t.Fatalf("expected one transcript event, got %d", len(events.transcripts))
	}
}

func TestDispatcherCarriesBackendBreakdown(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{results: map[string]ports.TranscriptionResult{
		"seg-1": {
			Transcript: "vitals stable overnight",
			Words:      []string{"vitals", "stable", "overnight"},
			Paragraphs: []string{"vitals stable overnight"},
			Utterances: []string{"Speaker 0: vitals stable overnight"},
		},
	}}
	transcript := NewTranscript()

	d := NewDispatcher(transcriber, nil, &fakeEventSink{}, transcript, nil, DispatcherConfig{})
	d.Start(context.Background())
	d.Enqueue(sealed("seg-1", 2000))
	d.Close()

	segments := transcript.Segments()
	if len(segments) != 1 {
		t.Fatalf("expected one segment, got %d", len(segments))
	}
	seg := segments[0]
	if len(seg.WordTokens) != 3 || seg.WordTokens[2] != "overnight" {
		t.Fatalf("word tokens not carried: %v", seg.WordTokens)
	}
	if len(seg.Paragraphs) != 1 || seg.Paragraphs[0] != "vitals stable overnight" {
		t.Fatalf("paragraphs not carried: %v", seg.Paragraphs)
	}
	if len(seg.Utterances) != 1 {
		t.Fatalf("utterances not carried: %v", seg.Utterances)
	}
}

func TestDispatcherPrefersDiarizedTranscript(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{results: map[string]ports.TranscriptionResult{
		"seg-1": {Transcript: "plain", DiarizedTranscript: "Speaker 0: plain"},
	}}
	transcript := NewTranscript()

	d := NewDispatcher(transcriber, nil, &fakeEventSink{}, transcript, nil, DispatcherConfig{})
	d.Start(context.Background())
	d.Enqueue(sealed("seg-1", 2000))
	d.Close()

	segments := transcript.Segments()
	if len(segments) != 1 || !segments[0].Diarized {
		t.Fatalf("expected one diarized segment, got %+v", segments)
	}
	if segments[0].Text != "Speaker 0: plain" {
		t.Fatalf("unexpected text: %q", segments[0].Text)
	}
}

func TestDispatcherFailureIsIsolated(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{
		results: map[string]ports.TranscriptionResult{
			"good": {Transcript: "kept"},
		},
		errs: map[string]error{"bad": errors.New("backend exploded")},
	}
	events := &fakeEventSink{}
	transcript := NewTranscript()

	d := NewDispatcher(transcriber, nil, events, transcript, nil, DispatcherConfig{Workers: 1})
	d.Start(context.Background())
	d.Enqueue(sealed("bad", 2000))
	d.Enqueue(sealed("good", 2000))
	d.Close()

	// The failed segment's text is dropped; the next one still lands.
	if got := transcript.String(); got != "kept" {
		t.Fatalf("unexpected transcript: %q", got)
	}
	errs := events.sessionErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeTranscription {
		t.Fatalf("unexpected session errors: %+v", errs)
	}
	if !strings.Contains(errs[0].detail, "backend exploded") {
		t.Fatalf("error detail missing cause: %q", errs[0].detail)
	}
}

func TestDispatcherSkipsSubFloorSegments(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{}
	d := NewDispatcher(transcriber, nil, &fakeEventSink{}, NewTranscript(), nil, DispatcherConfig{})
	d.Start(context.Background())
	d.Enqueue(sealed("tiny", MinSegmentBytes))
	d.Close()

	if transcriber.callCount() != 0 {
		t.Fatalf("sub-floor segment was uploaded")
	}
}

func TestDispatcherForwardingBypassesFloor(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{}
	forwarder := &fakeForwarder{}

	d := NewDispatcher(transcriber, forwarder, &fakeEventSink{}, NewTranscript(), nil,
		DispatcherConfig{Forwarding: true})
	d.Start(context.Background())
	d.Enqueue(sealed("tiny", 10))
	d.Close()

	if forwarder.count() != 1 {
		t.Fatalf("expected tiny segment to be forwarded, got %d", forwarder.count())
	}
	if transcriber.callCount() != 0 {
		t.Fatalf("forwarding mode must not upload directly")
	}
}

func TestDispatcherForwardingFailureSurfaces(t *testing.T) {
	t.Parallel()

	forwarder := &fakeForwarder{err: errors.New("no device")}
	events := &fakeEventSink{}

	d := NewDispatcher(&fakeTranscriber{}, forwarder, events, NewTranscript(), nil,
		DispatcherConfig{Forwarding: true})
	d.Start(context.Background())
	d.Enqueue(sealed("seg", 10))
	d.Close()

	errs := events.sessionErrors()
	if len(errs) != 1 || errs[0].code != domain.ErrorCodeForwarding {
		t.Fatalf("unexpected session errors: %+v", errs)
	}
}

func TestDispatcherNormalizerApplied(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{results: map[string]ports.TranscriptionResult{
		"seg-1": {Transcript: "b p stable"},
	}}
	transcript := NewTranscript()

	d := NewDispatcher(transcriber, nil, &fakeEventSink{}, transcript, nil, DispatcherConfig{})
	d.SetNormalizer(func(text string) string {
		return strings.ReplaceAll(text, "b p", "blood pressure")
	})
	d.Start(context.Background())
	d.Enqueue(sealed("seg-1", 2000))
	d.Close()

	if got := transcript.String(); got != "blood pressure stable" {
		t.Fatalf("normalizer not applied: %q", got)
	}
}

func TestDispatcherResetCounters(t *testing.T) {
	t.Parallel()

	transcriber := &fakeTranscriber{results: map[string]ports.TranscriptionResult{
		"seg-1": {Transcript: "text"},
	}}

	d := NewDispatcher(transcriber, nil, &fakeEventSink{}, NewTranscript(), nil, DispatcherConfig{})
	d.Start(context.Background())
	d.Enqueue(sealed("seg-1", 2000))
	d.Close()

	if d.Accepted() != 1 || d.Completed() != 1 {
		t.Fatalf("unexpected counters: accepted=%d completed=%d", d.Accepted(), d.Completed())
	}

	d.ResetCounters()
	if d.Accepted() != 0 || d.Completed() != 0 {
		t.Fatalf("counters survived reset")
	}
}
