package audio

import "errors"

// Acquisition failure classes the controller maps to user-legible messages.
var (
	ErrPermissionDenied = errors.New("microphone permission denied")
	ErrNoInputDevice    = errors.New("no audio input device found")
)
