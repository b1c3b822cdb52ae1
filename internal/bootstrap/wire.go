package bootstrap

import (
	"context"
	"log/slog"
	"time"

	"chartscribe/internal/audio"
	"chartscribe/internal/companion"
	"chartscribe/internal/config"
	"chartscribe/internal/events"
	"chartscribe/internal/health"
	"chartscribe/internal/normalize"
	"chartscribe/internal/ports"
	"chartscribe/internal/transcribe"
	"chartscribe/internal/usecase"
)

// Services is the assembled runtime graph.
type Services struct {
	Controller *usecase.Controller
	Dispatcher *transcribe.Dispatcher
	Transcript *transcribe.Transcript
	Supervisor *health.Supervisor
	Companion  *companion.Link
	Events     *events.Broadcaster
	Sessions   *usecase.SessionRegistry
	Devices    ports.DeviceProber
	Config     *config.Config
}

// Build wires all backend dependencies for the current runtime.
func Build(cfg *config.Config, log *slog.Logger) (*Services, error) {
	if log == nil {
		log = slog.Default()
	}

	sink := events.NewBroadcaster(log)
	link := companion.NewLink(log)
	sessions := usecase.NewSessionRegistry()

	client := transcribe.NewClient(transcribe.ClientConfig{
		BaseURL:      cfg.Transcription.BaseURL,
		APIKey:       cfg.Transcription.APIKey,
		UserID:       cfg.Transcription.UserID,
		UserTier:     cfg.Transcription.UserTier,
		ProbeTimeout: time.Duration(cfg.Transcription.ProbeTimeout) * time.Second,
	})

	transcript := transcribe.NewTranscript()
	dispatcher := transcribe.NewDispatcher(client, link, sink, transcript, log, transcribe.DispatcherConfig{
		QueueDepth: cfg.Transcription.QueueDepth,
		Workers:    cfg.Transcription.Workers,
		Forwarding: cfg.Session.Forwarding,
	})

	rewriter, err := normalize.Load(cfg.Normalize.RulesPath, cfg.Normalize.PassLimit)
	if err != nil {
		return nil, err
	}
	if rewriter.Len() > 0 {
		dispatcher.SetNormalizer(rewriter.Apply)
	}

	capture, prober := buildCapture(cfg)

	controller := usecase.NewController(capture, dispatcher, transcript, sink, log, usecase.Config{
		Audio: ports.AudioConfig{
			SampleRate:       cfg.Audio.SampleRate,
			Channels:         cfg.Audio.Channels,
			Device:           cfg.Audio.Device,
			EchoCancellation: cfg.Audio.EchoCancellation,
			NoiseSuppression: cfg.Audio.NoiseSuppression,
		},
		Tuning:         cfg.DetectionTuning,
		StartImmediate: cfg.Session.StartImmediate,
	})

	supervisor := health.NewSupervisor(
		link,
		prober,
		client,
		sessions,
		controller.IsRecording,
		transcript.WordCount,
		sink,
		log,
		health.Options{},
	)

	dispatcher.OnResult(supervisor.NoteSync)
	link.OnSync = supervisor.NoteSync
	link.OnChange = func() { supervisor.NoteCompanionChange(context.Background()) }
	sessions.OnChange = func() { supervisor.NoteCompanionChange(context.Background()) }

	return &Services{
		Controller: controller,
		Dispatcher: dispatcher,
		Transcript: transcript,
		Supervisor: supervisor,
		Companion:  link,
		Events:     sink,
		Sessions:   sessions,
		Devices:    prober,
		Config:     cfg,
	}, nil
}

// buildCapture selects the configured capture backend. Device probing is only
// available through the portaudio host; the ffmpeg backend records via an
// external process and cannot enumerate inputs.
func buildCapture(cfg *config.Config) (ports.AudioCapture, ports.DeviceProber) {
	if cfg.Audio.Driver == "ffmpeg" {
		return audio.NewFFmpegCapture("ffmpeg", ""), audio.NewPortAudioCapture()
	}
	pa := audio.NewPortAudioCapture()
	return pa, pa
}
