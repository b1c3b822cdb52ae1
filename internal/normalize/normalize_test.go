package normalize

import (
	"os"
	"path/filepath"
	"testing"
)

func writeRules(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.txt")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write rules failed: %v", err)
	}
	return path
}

func TestRewriterLiteralRule(t *testing.T) {
	t.Parallel()

	r, err := Load(writeRules(t, "b p => blood pressure"), 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := r.Apply("B P is stable"); got != "blood pressure is stable" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRewriterRegexRule(t *testing.T) {
	t.Parallel()

	r, err := Load(writeRules(t, `s/\bpt\b/patient/g`), 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := r.Apply("pt reports pt improved"); got != "patient reports patient improved" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRewriterNonGlobalReplacesFirstOnly(t *testing.T) {
	t.Parallel()

	r, err := Load(writeRules(t, "s/one/two/"), 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	if got := r.Apply("one and one"); got != "two and one" {
		t.Fatalf("unexpected output: %q", got)
	}
}

func TestRewriterNonGlobalDoesNotCreepAcrossPasses(t *testing.T) {
	t.Parallel()

	// The literal rule keeps the rewrite loop running for a second pass; the
	// non-global rule must still fire only once per invocation.
	rules := "s/one/two/\nhr => heart rate"
	r, err := Load(writeRules(t, rules), 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	got := r.Apply("one hr and one hr")
	if want := "two heart rate and one heart rate"; got != want {
		t.Fatalf("unexpected output: %q, want %q", got, want)
	}

	// A fresh invocation gets a fresh once-per-rule budget.
	if got := r.Apply("one and one"); got != "two and one" {
		t.Fatalf("unexpected output on reuse: %q", got)
	}
}

func TestRewriterSkipsCommentsAndBlankLines(t *testing.T) {
	t.Parallel()

	rules := "# expansion rules\n\nhr => heart rate\n"
	r, err := Load(writeRules(t, rules), 0)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}
	if r.Len() != 1 {
		t.Fatalf("unexpected rule count: %d", r.Len())
	}
}

func TestRewriterPassLimitBoundsLoops(t *testing.T) {
	t.Parallel()

	// Each pass grows the text; the pass limit must stop it.
	r, err := Load(writeRules(t, "s/x/xx/g"), 3)
	if err != nil {
		t.Fatalf("load failed: %v", err)
	}

	got := r.Apply("x")
	if len(got) != 8 {
		t.Fatalf("expected 3 doubling passes, got %q", got)
	}
}

func TestRewriterMissingFileIsNoop(t *testing.T) {
	t.Parallel()

	r, err := Load(filepath.Join(t.TempDir(), "absent.txt"), 0)
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if got := r.Apply("unchanged"); got != "unchanged" {
		t.Fatalf("unexpected rewrite: %q", got)
	}
}

func TestRewriterEmptyPathIsNoop(t *testing.T) {
	t.Parallel()

	r, err := Load("", 0)
	if err != nil {
		t.Fatalf("empty path should not error: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("unexpected rules: %d", r.Len())
	}
}

func TestRewriterRejectsInvalidRules(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name  string
		rules string
	}{
		{name: "unsupported format", rules: "just some words"},
		{name: "empty literal source", rules: " => replacement"},
		{name: "unterminated regex", rules: "s/abc"},
		{name: "unknown flag", rules: "s/a/b/q"},
		{name: "bad pattern", rules: `s/([a-/b/`},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			if _, err := Load(writeRules(t, tc.rules), 0); err == nil {
				t.Fatalf("expected parse error for %q", tc.rules)
			}
		})
	}
}
