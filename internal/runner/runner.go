// File: internal/runner/runner.go
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/browser"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// authenticationModuleName is the module whose successful completion flips
// the runner's own authentication flag for everything that follows.
const authenticationModuleName = "Authentication"

// Collaborator capabilities the runner drives but does not implement. Each is
// optional; a nil collaborator disables its feature. All failures from these
// are logged, never escalated: they document the run, they are not the run.

// RunStore persists finished run records.
type RunStore interface {
	SaveRun(ctx context.Context, rec *schemas.RunRecord) error
	Close()
}

// TrafficCapture is the local proxy the browser is pointed at. SetModule
// tags subsequent entries with the currently executing module.
type TrafficCapture interface {
	Start() error
	Addr() string
	SetModule(name string)
	Entries() []schemas.TrafficEntry
	Close() error
}

// LogWatcher tails the application server log during the run.
type LogWatcher interface {
	Start(ctx context.Context) error
	Recent(n int) []string
	Close() error
}

// ReportDispatcher writes the run record in every configured format.
type ReportDispatcher interface {
	Dispatch(ctx context.Context, rec *schemas.RunRecord) error
}

// StatusNotifier publishes the run outcome to an external system.
type StatusNotifier interface {
	Publish(ctx context.Context, rec *schemas.RunRecord) error
}

// Triager produces a short diagnosis for a halted run.
type Triager interface {
	Diagnose(ctx context.Context, rec *schemas.RunRecord) (string, error)
}

// Runner owns the one browser session of the run and drives the selected
// modules through it, strictly sequentially, in manifest precedence order.
type Runner struct {
	cfg      *config.Config
	registry *Registry
	logger   *zap.Logger

	runID    string
	recorder *Recorder
	shared   *schemas.SharedData

	auth     schemas.AuthService
	store    RunStore
	capture  TrafficCapture
	appLog   LogWatcher
	reports  ReportDispatcher
	notifier StatusNotifier
	triager  Triager
	git      *schemas.VCSInfo

	manifest *config.Manifest
	plan     []schemas.ModuleDescriptor
	outcomes []schemas.ModuleOutcome

	browserMgr *browser.Manager
	page       schemas.PageSession

	// isAuthenticated is the runner's own flag, flipped once the module named
	// Authentication completes. A plain boolean handed to later modules, not
	// live auth introspection.
	isAuthenticated bool

	started time.Time
	steps   *stepLogger
}

// Option customizes a Runner at construction time.
type Option func(*Runner)

// WithAuthService sets the authentication façade handed to modules.
func WithAuthService(svc schemas.AuthService) Option {
	return func(r *Runner) { r.auth = svc }
}

// WithStore enables run-history persistence.
func WithStore(s RunStore) Option {
	return func(r *Runner) { r.store = s }
}

// WithCapture enables the traffic-capture proxy.
func WithCapture(c TrafficCapture) Option {
	return func(r *Runner) { r.capture = c }
}

// WithLogWatcher enables app-log excerpts on failure.
func WithLogWatcher(w LogWatcher) Option {
	return func(r *Runner) { r.appLog = w }
}

// WithReports sets the report dispatcher.
func WithReports(d ReportDispatcher) Option {
	return func(r *Runner) { r.reports = d }
}

// WithNotifier enables outcome publication.
func WithNotifier(n StatusNotifier) Option {
	return func(r *Runner) { r.notifier = n }
}

// WithTriager enables failure triage on halted runs.
func WithTriager(t Triager) Option {
	return func(r *Runner) { r.triager = t }
}

// WithVCSInfo pins the run to a commit.
func WithVCSInfo(info *schemas.VCSInfo) Option {
	return func(r *Runner) { r.git = info }
}

// WithPage injects a pre-built page session and skips launching a browser.
// Used by tests to drive the runner against a mock.
func WithPage(page schemas.PageSession) Option {
	return func(r *Runner) { r.page = page }
}

// New creates a runner. Nothing external is touched until LoadConfiguration.
func New(cfg *config.Config, registry *Registry, logger *zap.Logger, opts ...Option) *Runner {
	runID := uuid.New().String()
	r := &Runner{
		cfg:      cfg,
		registry: registry,
		logger:   logger.Named("runner").With(zap.String("run_id", runID)),
		runID:    runID,
		shared:   schemas.NewSharedData(),
	}
	r.recorder = NewRecorder(runID, cfg.Suite.ScreenshotDir, r.logger)
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunID returns the unique identifier of this run.
func (r *Runner) RunID() string { return r.runID }

// LoadConfiguration reads and validates the manifest, applies the selected
// execution profile and verifies every selected module resolves in the
// registry. Any failure here is fatal before a browser ever opens.
func (r *Runner) LoadConfiguration() error {
	m, err := config.LoadManifest(r.cfg.Suite.Manifest, r.cfg.Suite.DefaultModuleTimeout)
	if err != nil {
		return err
	}
	r.manifest = m

	plan, err := m.Select(r.cfg.Suite.Profile)
	if err != nil {
		return err
	}

	for _, desc := range plan {
		if _, err := r.registry.Resolve(desc.Name); err != nil {
			return fmt.Errorf("manifest names an unregistered module: %w", err)
		}
	}

	r.plan = plan
	r.logger.Info("Test plan loaded.",
		zap.String("manifest", r.cfg.Suite.Manifest),
		zap.String("profile", r.cfg.Suite.Profile),
		zap.Int("modules", len(plan)))
	return nil
}

// PlannedModule is one entry of the dry-run plan.
type PlannedModule struct {
	Name     string
	Timeout  time.Duration
	Required bool
}

// Plan returns the ordered module plan and the estimated worst-case duration
// (the sum of module timeout budgets). No browser is opened.
func (r *Runner) Plan() ([]PlannedModule, time.Duration) {
	planned := make([]PlannedModule, 0, len(r.plan))
	var estimate time.Duration
	for _, desc := range r.plan {
		planned = append(planned, PlannedModule{
			Name:     desc.Name,
			Timeout:  desc.Timeout,
			Required: desc.Required,
		})
		estimate += desc.Timeout
	}
	return planned, estimate
}

// InitializeBrowserSession opens the one allocator, browser context and page
// the entire run shares. When traffic capture is enabled, the proxy is
// started first and the browser launched pointing at it.
func (r *Runner) InitializeBrowserSession(ctx context.Context) error {
	if r.page != nil {
		// A session was injected; nothing to launch.
		r.recorder.AttachPage(r.page)
		return nil
	}

	proxyAddr := ""
	if r.capture != nil {
		if err := r.capture.Start(); err != nil {
			r.logger.Warn("Traffic capture unavailable; continuing without it.", zap.Error(err))
			r.capture = nil
		} else {
			proxyAddr = r.capture.Addr()
		}
	}

	r.browserMgr = browser.NewManager(r.cfg, r.logger)
	page, err := r.browserMgr.Start(ctx, proxyAddr)
	if err != nil {
		return fmt.Errorf("browser session initialization failed: %w", err)
	}
	r.page = page
	r.recorder.AttachPage(page)
	return nil
}

// ExecuteAllModules runs the selected modules in exact precedence array
// order. A module error, including a timeout, halts the run immediately.
func (r *Runner) ExecuteAllModules(ctx context.Context) error {
	creds := schemas.Credentials{
		Username: r.cfg.App.Username,
		Password: r.cfg.App.Password,
	}

	for _, desc := range r.plan {
		mod, err := r.registry.Resolve(desc.Name)
		if err != nil {
			// LoadConfiguration verified the plan; reaching this is a bug.
			return &FatalRunError{Module: desc.Name, Err: err}
		}

		if r.capture != nil {
			r.capture.SetModule(desc.Name)
		}

		r.steps = newStepLogger(r.logger, desc.Name)
		rc := &schemas.RunContext{
			Module:          desc.Name,
			Page:            r.page,
			Log:             r.steps,
			Recorder:        r.recorder,
			Shared:          r.shared,
			IsAuthenticated: r.isAuthenticated,
			Auth:            r.auth,
			Credentials:     creds,
			BaseURL:         r.cfg.App.BaseURL,
		}

		r.logger.Info("Module starting.",
			zap.String("module", desc.Name),
			zap.Duration("timeout", desc.Timeout))

		before := r.recorder.Stats()
		start := time.Now()

		modCtx, cancel := context.WithTimeout(ctx, desc.Timeout)
		execErr := mod.Execute(modCtx, rc)
		if execErr == nil && len(desc.Checks) > 0 {
			r.runChecks(modCtx, desc, rc)
		}
		cancel()

		after := r.recorder.Stats()
		outcome := schemas.ModuleOutcome{
			Name:      desc.Name,
			Completed: execErr == nil,
			Passed:    after.Passed - before.Passed,
			Failed:    after.Failed - before.Failed,
			Duration:  time.Since(start),
		}
		r.outcomes = append(r.outcomes, outcome)

		if execErr != nil {
			if errors.Is(execErr, context.DeadlineExceeded) && ctx.Err() == nil {
				execErr = fmt.Errorf("timed out after %s: %w", desc.Timeout, execErr)
			}
			r.logger.Error("Module failed; halting run.",
				zap.String("module", desc.Name),
				zap.Error(execErr))
			return &FatalRunError{Module: desc.Name, Err: execErr}
		}

		if desc.Name == authenticationModuleName {
			r.isAuthenticated = true
		}
		r.logger.Info("Module completed.",
			zap.String("module", desc.Name),
			zap.Int("passed", outcome.Passed),
			zap.Int("failed", outcome.Failed),
			zap.Duration("duration", outcome.Duration))
	}
	return nil
}

// runChecks evaluates the module's manifest-declared assertions in the page.
// A falsy or failing check records a FAILED case; checks are never fatal.
func (r *Runner) runChecks(ctx context.Context, desc schemas.ModuleDescriptor, rc *schemas.RunContext) {
	for _, check := range desc.Checks {
		testName := "check: " + check.Name

		var truthy bool
		script := fmt.Sprintf("Boolean((%s))", check.Script)
		if err := r.page.Evaluate(ctx, script, &truthy); err != nil {
			rc.Fail(testName, map[string]any{"error": err.Error()})
			continue
		}
		if !truthy {
			rc.Fail(testName, map[string]any{"script": check.Script})
			continue
		}
		rc.Pass(testName, nil)
	}
}

// GetStats aggregates the recorded results.
func (r *Runner) GetStats() schemas.RunStats {
	return r.recorder.Stats()
}

// Cleanup releases everything the run opened. It runs deferred; errors are
// logged and never returned so they cannot mask the run's real error.
func (r *Runner) Cleanup() {
	if r.page != nil {
		if err := r.page.Close(); err != nil {
			r.logger.Warn("Page close failed during cleanup.", zap.Error(err))
		}
	}
	if r.browserMgr != nil {
		if err := r.browserMgr.Close(); err != nil {
			r.logger.Warn("Browser close failed during cleanup.", zap.Error(err))
		}
	}
	if r.capture != nil {
		if err := r.capture.Close(); err != nil {
			r.logger.Warn("Capture proxy close failed during cleanup.", zap.Error(err))
		}
	}
	if r.appLog != nil {
		if err := r.appLog.Close(); err != nil {
			r.logger.Warn("App log watcher close failed during cleanup.", zap.Error(err))
		}
	}
	if r.store != nil {
		r.store.Close()
	}
}

// Run executes the whole lifecycle: plan, browser, modules, record assembly,
// reports, persistence, notification and triage. It returns the assembled run
// record and the halting error, if any.
func (r *Runner) Run(ctx context.Context) (*schemas.RunRecord, error) {
	r.started = time.Now()

	if r.plan == nil {
		if err := r.LoadConfiguration(); err != nil {
			return nil, err
		}
	}

	if r.appLog != nil {
		if err := r.appLog.Start(ctx); err != nil {
			r.logger.Warn("App log watcher unavailable; continuing without it.", zap.Error(err))
			r.appLog = nil
		}
	}

	if err := r.InitializeBrowserSession(ctx); err != nil {
		return nil, err
	}
	defer r.Cleanup()

	runErr := r.ExecuteAllModules(ctx)
	rec := r.assembleRecord(runErr)

	if runErr != nil && r.triager != nil {
		r.triage(ctx, rec)
	}

	if r.reports != nil {
		if err := r.reports.Dispatch(ctx, rec); err != nil {
			r.logger.Warn("Report writing failed.", zap.Error(err))
		}
	}
	if r.store != nil {
		if err := r.store.SaveRun(ctx, rec); err != nil {
			r.logger.Warn("Run history persistence failed.", zap.Error(err))
		}
	}
	if r.notifier != nil {
		if err := r.notifier.Publish(ctx, rec); err != nil {
			r.logger.Warn("Outcome notification failed.", zap.Error(err))
		}
	}

	return rec, runErr
}

// assembleRecord builds the self-contained record of this run.
func (r *Runner) assembleRecord(runErr error) *schemas.RunRecord {
	rec := &schemas.RunRecord{
		RunID:      r.runID,
		Profile:    r.cfg.Suite.Profile,
		StartedAt:  r.started,
		FinishedAt: time.Now(),
		Stats:      r.recorder.Stats(),
		Modules:    r.outcomes,
		Results:    r.recorder.Results(),
		Git:        r.git,
	}

	var fatal *FatalRunError
	if errors.As(runErr, &fatal) {
		rec.HaltedModule = fatal.Module
		rec.HaltReason = fatal.Err.Error()
		if r.steps != nil {
			rec.LastSteps = r.steps.Recent()
		}
	} else if runErr != nil {
		rec.HaltReason = runErr.Error()
	}

	if r.capture != nil {
		rec.Traffic = r.capture.Entries()
	}
	if runErr != nil && r.appLog != nil {
		rec.AppLog = r.appLog.Recent(r.cfg.AppLog.Lines)
	}
	return rec
}

// triage asks the diagnosis service for a note about the halted run and
// attaches it to the record. Bounded by its own timeout; never fatal.
func (r *Runner) triage(ctx context.Context, rec *schemas.RunRecord) {
	timeout := r.cfg.Triage.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	triageCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	note, err := r.triager.Diagnose(triageCtx, rec)
	if err != nil {
		r.logger.Warn("Failure triage unavailable.", zap.Error(err))
		return
	}
	rec.TriageNote = note
}
