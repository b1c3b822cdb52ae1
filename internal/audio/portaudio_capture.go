package audio

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/gordonklaus/portaudio"

	"chartscribe/internal/ports"
)

const framesPerBuffer = 1024

// PortAudioCapture acquires microphone sessions through PortAudio and doubles
// as the health supervisor's device prober. Probing only enumerates devices;
// it never holds a capture stream open.
type PortAudioCapture struct {
	initOnce sync.Once
	initErr  error
}

func NewPortAudioCapture() *PortAudioCapture {
	return &PortAudioCapture{}
}

func (c *PortAudioCapture) ensureInitialized() error {
	c.initOnce.Do(func() {
		if err := portaudio.Initialize(); err != nil {
			c.initErr = fmt.Errorf("failed to initialize audio subsystem: %w", err)
		}
	})
	return c.initErr
}

// Start opens a capture session on the configured device (or the system
// default). Failure modes are surfaced as distinct error classes so the
// controller can render the right remediation.
func (c *PortAudioCapture) Start(ctx context.Context, cfg ports.AudioConfig) (ports.AudioSession, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.Channels <= 0 {
		cfg.Channels = 1
	}

	device, err := c.resolveDevice(cfg.Device)
	if err != nil {
		return nil, err
	}

	session := &portAudioSession{
		frames: make(chan []byte, 32),
		done:   make(chan struct{}),
	}

	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   device,
			Channels: cfg.Channels,
			Latency:  device.DefaultHighInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: framesPerBuffer,
	}

	stream, err := portaudio.OpenStream(params, session.callback)
	if err != nil {
		return nil, classifyOpenError(err)
	}
	session.stream = stream

	if err := stream.Start(); err != nil {
		_ = stream.Close()
		return nil, classifyOpenError(err)
	}

	go func() {
		<-ctx.Done()
		_ = session.Stop()
	}()

	return session, nil
}

// ListInputDevices enumerates audio inputs for diagnostics.
func (c *PortAudioCapture) ListInputDevices(_ context.Context) ([]ports.InputDevice, error) {
	if err := c.ensureInitialized(); err != nil {
		return nil, err
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}

	defaultInput, err := portaudio.DefaultInputDevice()
	if err != nil {
		defaultInput = nil
	}

	var result []ports.InputDevice
	for i, dev := range devices {
		if dev.MaxInputChannels <= 0 {
			continue
		}
		result = append(result, ports.InputDevice{
			ID:        i,
			Name:      dev.Name,
			IsDefault: defaultInput != nil && dev.Name == defaultInput.Name,
		})
	}
	return result, nil
}

func (c *PortAudioCapture) resolveDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" || name == "default" {
		device, err := portaudio.DefaultInputDevice()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrNoInputDevice, err)
		}
		if device.MaxInputChannels <= 0 {
			return nil, ErrNoInputDevice
		}
		return device, nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("failed to enumerate audio devices: %w", err)
	}
	for _, dev := range devices {
		if dev.Name == name && dev.MaxInputChannels > 0 {
			return dev, nil
		}
	}
	return nil, fmt.Errorf("%w: device %q not found", ErrNoInputDevice, name)
}

func classifyOpenError(err error) error {
	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "permission") || strings.Contains(msg, "access") {
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return fmt.Errorf("failed to open capture stream: %w", err)
}

type portAudioSession struct {
	stream *portaudio.Stream

	frames chan []byte
	done   chan struct{}

	leftover []byte

	stopOnce sync.Once
	stopErr  error
}

// callback runs on PortAudio's audio thread; it must never block, so full
// buffers shed the oldest frame instead of stalling capture.
func (s *portAudioSession) callback(in []int16) {
	select {
	case <-s.done:
		return
	default:
	}

	chunk := make([]byte, len(in)*2)
	for i, sample := range in {
		chunk[i*2] = byte(sample)
		chunk[i*2+1] = byte(sample >> 8)
	}

	select {
	case s.frames <- chunk:
	default:
		select {
		case <-s.frames:
		default:
		}
		select {
		case s.frames <- chunk:
		default:
		}
	}
}

func (s *portAudioSession) Read(p []byte) (int, error) {
	if len(s.leftover) > 0 {
		n := copy(p, s.leftover)
		s.leftover = s.leftover[n:]
		return n, nil
	}

	select {
	case chunk, ok := <-s.frames:
		if !ok {
			return 0, io.EOF
		}
		n := copy(p, chunk)
		if n < len(chunk) {
			s.leftover = chunk[n:]
		}
		return n, nil
	case <-s.done:
		return 0, io.EOF
	}
}

func (s *portAudioSession) Close() error {
	return s.Stop()
}

func (s *portAudioSession) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)
		if err := s.stream.Stop(); err != nil {
			s.stopErr = fmt.Errorf("failed to stop capture stream: %w", err)
		}
		if err := s.stream.Close(); err != nil && s.stopErr == nil {
			s.stopErr = fmt.Errorf("failed to close capture stream: %w", err)
		}
	})
	return s.stopErr
}
