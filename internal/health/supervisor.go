package health

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"

	"chartscribe/internal/domain"
	"chartscribe/internal/ports"
)

// APIProber is the slice of the transcription client the supervisor needs.
type APIProber interface {
	Probe(ctx context.Context) error
}

// Options tune the supervisor's cadence and thresholds.
type Options struct {
	// IdleInterval is the comprehensive-check cadence while not recording.
	IdleInterval time.Duration
	// RecordingInterval is the light sync-only check cadence while recording.
	RecordingInterval time.Duration
	// SyncTimeout is the staleness bound on the last observed sync.
	SyncTimeout time.Duration
	// APICacheTTL bounds how often the backend reachability probe runs.
	APICacheTTL time.Duration
	// RetryDelay and MaxRetries govern auto-retry of failed comprehensive checks.
	RetryDelay time.Duration
	MaxRetries int
}

func (o *Options) applyDefaults() {
	if o.IdleInterval <= 0 {
		o.IdleInterval = 30 * time.Second
	}
	if o.RecordingInterval <= 0 {
		o.RecordingInterval = 5 * time.Second
	}
	if o.SyncTimeout <= 0 {
		o.SyncTimeout = 10 * time.Second
	}
	if o.APICacheTTL <= 0 {
		o.APICacheTTL = 5 * time.Minute
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = time.Second
	}
	if o.MaxRetries <= 0 {
		o.MaxRetries = 2
	}
}

// Supervisor is the independent diagnostic state machine gating the record
// button. It probes device, companion, and backend health on a fixed cadence
// and aggregates findings into a single readiness verdict. It is read-only
// with respect to the recording controller.
type Supervisor struct {
	companion ports.CompanionStatus
	devices   ports.DeviceProber
	api       APIProber
	sessions  ports.SessionProvider
	recording func() bool
	wordCount func() int
	events    ports.EventSink
	log       *slog.Logger
	opts      Options
	clock     func() time.Time

	mu        sync.Mutex
	state     domain.HealthState
	checking  bool
	rateStart *time.Time

	apiCheckedAt time.Time
	apiReachable bool
}

func NewSupervisor(
	companion ports.CompanionStatus,
	devices ports.DeviceProber,
	api APIProber,
	sessions ports.SessionProvider,
	recording func() bool,
	wordCount func() int,
	events ports.EventSink,
	log *slog.Logger,
	opts Options,
) *Supervisor {
	opts.applyDefaults()
	if log == nil {
		log = slog.Default()
	}
	if recording == nil {
		recording = func() bool { return false }
	}
	if wordCount == nil {
		wordCount = func() int { return 0 }
	}
	return &Supervisor{
		companion: companion,
		devices:   devices,
		api:       api,
		sessions:  sessions,
		recording: recording,
		wordCount: wordCount,
		events:    events,
		log:       log,
		opts:      opts,
		clock:     time.Now,
		state: domain.HealthState{
			Status: domain.HealthSetupRequired,
			Issues: []domain.Issue{},
		},
	}
}

// Run drives periodic checks until the context is cancelled: comprehensive
// checks while idle, light sync-staleness checks while recording.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		interval := s.opts.IdleInterval
		if s.recording() {
			interval = s.opts.RecordingInterval
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(interval):
		}

		if s.recording() {
			s.runLightCheck()
		} else {
			s.RunHealthCheck(ctx)
		}
	}
}

// RunHealthCheck performs the comprehensive check. It always resolves to a
// boolean verdict and never panics or returns an error; probe failures become
// Issue entries.
func (s *Supervisor) RunHealthCheck(ctx context.Context) bool {
	s.mu.Lock()
	if s.checking {
		s.mu.Unlock()
		return false
	}
	s.checking = true
	s.state.Status = domain.HealthTesting
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		s.checking = false
		s.mu.Unlock()
	}()

	// Each probe runs independently; a failure in one never aborts the others.
	var (
		wg            sync.WaitGroup
		mobileIssues  []domain.Issue
		micIssues     []domain.Issue
		apiIssues     []domain.Issue
		sessionIssues []domain.Issue
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		mobileIssues = s.checkCompanion()
	}()
	go func() {
		defer wg.Done()
		micIssues = s.checkMicrophone(ctx)
	}()
	go func() {
		defer wg.Done()
		apiIssues = s.checkTranscriptionAPI(ctx)
	}()
	wg.Wait()

	if s.sessions != nil && s.sessions.ActiveSessionID() == "" {
		sessionIssues = append(sessionIssues, domain.Issue{
			Kind:       domain.IssueNoActiveSession,
			Message:    "No patient session selected",
			Actionable: true,
			Action:     "Create or select a patient session",
		})
	}

	issues := make([]domain.Issue, 0,
		len(mobileIssues)+len(micIssues)+len(apiIssues)+len(sessionIssues))
	issues = append(issues, mobileIssues...)
	issues = append(issues, micIssues...)
	issues = append(issues, apiIssues...)
	issues = append(issues, sessionIssues...)
	issues = append(issues, s.checkSyncStaleness()...)

	healthy := s.aggregate(issues)
	s.emit()
	return healthy
}

// RunHealthCheckWithRetry wraps the comprehensive check with bounded retry;
// used for user-initiated triggers and external events.
func (s *Supervisor) RunHealthCheckWithRetry(ctx context.Context) bool {
	for attempt := 0; ; attempt++ {
		if s.RunHealthCheck(ctx) {
			return true
		}
		if attempt >= s.opts.MaxRetries {
			return false
		}
		select {
		case <-ctx.Done():
			return false
		case <-time.After(s.opts.RetryDelay):
		}
	}
}

// NoteSync records that fresh transcript output was observed. Called by the
// dispatcher on each merged result.
func (s *Supervisor) NoteSync() {
	now := s.clock()
	s.mu.Lock()
	s.state.LastSync = &now
	s.mu.Unlock()
}

// NoteCompanionChange re-runs the comprehensive check when the mobile
// companion connects or disconnects.
func (s *Supervisor) NoteCompanionChange(ctx context.Context) {
	go s.RunHealthCheckWithRetry(ctx)
}

// State returns the current diagnostic snapshot with the recording overlay
// applied on read.
func (s *Supervisor) State() domain.HealthState {
	s.mu.Lock()
	state := s.state
	state.Issues = append([]domain.Issue(nil), s.state.Issues...)
	s.mu.Unlock()

	if s.recording() {
		state.Status = domain.HealthRecording
	}
	return state
}

// CanStartRecording is derived on read, never stored: ready, healthy, and an
// active session context exists.
func (s *Supervisor) CanStartRecording() bool {
	state := s.State()
	return state.Status == domain.HealthReady &&
		state.IsHealthy &&
		s.sessions != nil && s.sessions.ActiveSessionID() != ""
}

// runLightCheck refreshes only sync staleness and transcription rate; no
// device or network probes while a recording is in progress. Sync-derived
// issues are replaced on every pass so a recovered sync clears them.
func (s *Supervisor) runLightCheck() {
	syncIssues := s.checkSyncStaleness()

	s.mu.Lock()
	s.refreshRateLocked()
	kept := lo.Filter(s.state.Issues, func(i domain.Issue, _ int) bool {
		return i.Kind != domain.IssueSyncFailure
	})
	issues := append(kept, syncIssues...)
	blocking := lo.SomeBy(issues, func(i domain.Issue) bool {
		return i.Kind.Blocking()
	})
	s.state.Issues = issues
	s.state.IsHealthy = len(syncIssues) == 0 && !blocking
	s.mu.Unlock()

	s.emit()
}

func (s *Supervisor) checkCompanion() []domain.Issue {
	if s.companion == nil {
		return nil
	}
	if s.companion.Connected() && s.companion.ConnectedDevices() > 0 {
		return nil
	}
	return []domain.Issue{{
		Kind:       domain.IssueMobileDisconnected,
		Message:    "Mobile device not connected",
		Actionable: true,
		Action:     "Connect mobile device using the pairing code",
	}}
}

func (s *Supervisor) checkMicrophone(ctx context.Context) []domain.Issue {
	if s.devices == nil {
		return nil
	}

	devices, err := s.devices.ListInputDevices(ctx)
	if err != nil {
		return []domain.Issue{{
			Kind:       domain.IssueMicPermission,
			Message:    "Microphone access denied",
			Actionable: true,
			Action:     "Grant microphone permissions",
		}}
	}
	if len(devices) == 0 {
		return []domain.Issue{{
			Kind:    domain.IssueMicPermission,
			Message: "No microphone devices found",
		}}
	}
	return nil
}

func (s *Supervisor) checkTranscriptionAPI(ctx context.Context) []domain.Issue {
	if s.api == nil {
		return nil
	}

	now := s.clock()
	s.mu.Lock()
	cached := !s.apiCheckedAt.IsZero() && now.Sub(s.apiCheckedAt) < s.opts.APICacheTTL
	reachable := s.apiReachable
	s.mu.Unlock()

	if !cached {
		err := s.api.Probe(ctx)
		reachable = err == nil
		if err != nil {
			s.log.Warn("transcription backend unreachable", "error", err)
		}
		// Only successful probes are cached; a failure is re-probed on the
		// next check so recovery is visible immediately.
		s.mu.Lock()
		if reachable {
			s.apiCheckedAt = now
		} else {
			s.apiCheckedAt = time.Time{}
		}
		s.apiReachable = reachable
		s.mu.Unlock()
	}

	if reachable {
		return nil
	}
	return []domain.Issue{{
		Kind:    domain.IssueTranscriptionAPI,
		Message: "Cannot reach transcription service",
	}}
}

func (s *Supervisor) checkSyncStaleness() []domain.Issue {
	s.mu.Lock()
	lastSync := s.state.LastSync
	s.mu.Unlock()

	if lastSync == nil {
		return nil
	}
	stale := s.clock().Sub(*lastSync)
	if stale <= s.opts.SyncTimeout {
		return nil
	}
	return []domain.Issue{{
		Kind:       domain.IssueSyncFailure,
		Message:    fmt.Sprintf("No sync for %ds", int(stale.Seconds())),
		Actionable: true,
		Action:     "Check mobile device connection",
	}}
}

// aggregate folds issues into the overall verdict. Blocking issues force
// setup-required; anything else degrades to error; the recording overlay
// always wins while a session is live.
func (s *Supervisor) aggregate(issues []domain.Issue) bool {
	blocking := lo.SomeBy(issues, func(i domain.Issue) bool {
		return i.Kind.Blocking()
	})

	status := domain.HealthReady
	switch {
	case s.recording():
		status = domain.HealthRecording
	case blocking:
		status = domain.HealthSetupRequired
	case len(issues) > 0:
		status = domain.HealthError
	}

	now := s.clock()
	s.mu.Lock()
	s.state.Status = status
	s.state.Issues = issues
	s.state.IsHealthy = !blocking
	s.state.LastHealthCheck = &now
	s.refreshRateLocked()
	s.mu.Unlock()

	return !blocking
}

// refreshRateLocked recomputes words/minute; tracked only while recording.
func (s *Supervisor) refreshRateLocked() {
	if !s.recording() {
		s.rateStart = nil
		s.state.TranscriptionRate = 0
		return
	}

	now := s.clock()
	if s.rateStart == nil {
		s.rateStart = &now
		s.state.TranscriptionRate = 0
		return
	}

	minutes := now.Sub(*s.rateStart).Minutes()
	if minutes <= 0 {
		s.state.TranscriptionRate = 0
		return
	}
	s.state.TranscriptionRate = int(float64(s.wordCount())/minutes + 0.5)
}

func (s *Supervisor) emit() {
	if s.events != nil {
		s.events.HealthChanged(s.State())
	}
}
