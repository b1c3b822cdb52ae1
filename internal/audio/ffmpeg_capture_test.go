package audio

import (
	"context"
	"errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"chartscribe/internal/ports"
)

func writeScript(t *testing.T, name string, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(contents), 0o700); err != nil {
		t.Fatalf("failed to write script: %v", err)
	}
	return path
}

func TestFFmpegCaptureStartReadAndStop(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "capture.sh", "#!/usr/bin/env bash\nprintf 'hello'\nsleep 2\n")
	capture := NewFFmpegCapture(script, "pulse")

	session, err := capture.Start(context.Background(), ports.AudioConfig{})
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	buf := make([]byte, 8)
	n, readErr := session.Read(buf)
	if n <= 0 {
		t.Fatalf("expected audio bytes, got n=%d err=%v", n, readErr)
	}
	if !strings.Contains(string(buf[:n]), "hello") {
		t.Fatalf("unexpected bytes: %q", string(buf[:n]))
	}

	if err := session.Stop(); err != nil {
		t.Fatalf("stop failed: %v", err)
	}
}

func TestFFmpegCaptureStartEarlyExit(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "fail.sh", "#!/usr/bin/env bash\necho 'boom' 1>&2\nexit 1\n")
	capture := NewFFmpegCapture(script, "pulse")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := capture.Start(ctx, ports.AudioConfig{})
	if err == nil {
		t.Fatalf("expected early exit error")
	}
	if !strings.Contains(err.Error(), "exited before capture started") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestFFmpegCapturePermissionDenied(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "denied.sh",
		"#!/usr/bin/env bash\necho 'Permission denied opening device' 1>&2\nexit 1\n")
	capture := NewFFmpegCapture(script, "pulse")

	_, err := capture.Start(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, ErrPermissionDenied) {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
}

func TestFFmpegCaptureMissingDevice(t *testing.T) {
	t.Parallel()

	script := writeScript(t, "missing.sh",
		"#!/usr/bin/env bash\necho 'no such audio device' 1>&2\nexit 1\n")
	capture := NewFFmpegCapture(script, "pulse")

	_, err := capture.Start(context.Background(), ports.AudioConfig{})
	if !errors.Is(err, ErrNoInputDevice) {
		t.Fatalf("expected ErrNoInputDevice, got %v", err)
	}
}

func TestCaptureFilters(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name string
		cfg  ports.AudioConfig
		want string
	}{
		{name: "none", cfg: ports.AudioConfig{}, want: ""},
		{
			name: "echo cancellation only",
			cfg:  ports.AudioConfig{EchoCancellation: true},
			want: "highpass=f=200",
		},
		{
			name: "noise suppression only",
			cfg:  ports.AudioConfig{NoiseSuppression: true},
			want: "afftdn=nf=-25",
		},
		{
			name: "both",
			cfg:  ports.AudioConfig{EchoCancellation: true, NoiseSuppression: true},
			want: "highpass=f=200,afftdn=nf=-25",
		},
	}

	for _, tc := range cases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if got := captureFilters(tc.cfg); got != tc.want {
				t.Fatalf("unexpected filters: %q", got)
			}
		})
	}
}

func TestNormalizeStopErrExitErrorIsIgnored(t *testing.T) {
	t.Parallel()

	err := exec.Command("bash", "-lc", "exit 1").Run()
	if err == nil {
		t.Fatalf("expected command to fail")
	}
	if got := normalizeStopErr(err); got != nil {
		t.Fatalf("expected nil for exit error, got %v", got)
	}
}
