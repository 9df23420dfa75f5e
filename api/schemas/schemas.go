// File: api/schemas/schemas.go
package schemas

import (
	"strings"
	"time"
)

// -- Result Model --

// Status is the outcome of a single logical test case.
type Status string

const (
	StatusPassed Status = "PASSED"
	StatusFailed Status = "FAILED"
)

// ExecutionResult is one test case's immutable outcome. Results are appended
// to the run's log by the recorder and never mutated afterwards; the summary
// and the process exit code are derived from them at the end of the run.
type ExecutionResult struct {
	StepNumber int            `json:"stepNumber"`
	Module     string         `json:"module"`
	TestName   string         `json:"testName"`
	Status     Status         `json:"status"`
	Timestamp  time.Time      `json:"timestamp"`
	Details    map[string]any `json:"details,omitempty"`
	// ScreenshotPath is set only for failed cases or when a capture was
	// explicitly requested. An empty path on a failure means the capture
	// itself failed; that never fails the case it was documenting.
	ScreenshotPath string `json:"screenshotPath,omitempty"`
}

// RunStats aggregates the result log into the numbers the CLI prints and the
// exit code is computed from.
type RunStats struct {
	Total       int           `json:"total"`
	Passed      int           `json:"passed"`
	Failed      int           `json:"failed"`
	SuccessRate float64       `json:"successRate"`
	Duration    time.Duration `json:"duration"`
}

// ModuleOutcome summarizes one module phase of a run, in execution order.
type ModuleOutcome struct {
	Name      string        `json:"name"`
	Completed bool          `json:"completed"`
	Passed    int           `json:"passed"`
	Failed    int           `json:"failed"`
	Duration  time.Duration `json:"duration"`
}

// VCSInfo pins a run to the commit of the checkout it ran from.
type VCSInfo struct {
	Commit string `json:"commit"`
	Branch string `json:"branch"`
	Dirty  bool   `json:"dirty"`
}

// TrafficEntry is one request observed by the capture proxy while a module
// was executing.
type TrafficEntry struct {
	Module   string        `json:"module"`
	Method   string        `json:"method"`
	URL      string        `json:"url"`
	Status   int           `json:"status"`
	Duration time.Duration `json:"duration"`
}

// RunRecord is the complete, self-contained record of one suite run. It is
// what the report writers serialize, the history store persists and the
// commit-status notifier summarizes.
type RunRecord struct {
	RunID        string            `json:"runId"`
	Profile      string            `json:"profile"`
	StartedAt    time.Time         `json:"startedAt"`
	FinishedAt   time.Time         `json:"finishedAt"`
	Stats        RunStats          `json:"stats"`
	Modules      []ModuleOutcome   `json:"modules"`
	Results      []ExecutionResult `json:"results"`
	HaltedModule string            `json:"haltedModule,omitempty"`
	HaltReason   string            `json:"haltReason,omitempty"`
	// LastSteps are the halting module's final narrated steps, oldest first.
	LastSteps []string `json:"lastSteps,omitempty"`
	Git          *VCSInfo          `json:"git,omitempty"`
	Traffic      []TrafficEntry    `json:"traffic,omitempty"`
	AppLog       []string          `json:"appLog,omitempty"`
	TriageNote   string            `json:"triageNote,omitempty"`
}

// -- Browser State --

// Cookie is the wire representation of a browser cookie, stable across the
// persisted snapshot format. Expires is epoch seconds, 0 for session cookies,
// matching the DevTools Protocol convention.
type Cookie struct {
	Name     string  `json:"name"`
	Value    string  `json:"value"`
	Domain   string  `json:"domain"`
	Path     string  `json:"path"`
	Expires  float64 `json:"expires"`
	HTTPOnly bool    `json:"httpOnly"`
	Secure   bool    `json:"secure"`
	SameSite string  `json:"sameSite,omitempty"`
}

// User is the identity MGrant stores in sessionStorage once a login
// completes. Only the fields the suite asserts on are modeled.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Name  string `json:"name"`
	Role  string `json:"role"`
}

// Credentials are the login inputs for the application under test.
type Credentials struct {
	Username string
	Password string
}

// PageDigest is a compact description of the current page, extracted from its
// HTML. It is attached to failure details and triage prompts so a reader can
// tell what the browser was looking at without opening the screenshot.
type PageDigest struct {
	Title    string   `json:"title"`
	Headings []string `json:"headings,omitempty"`
	Alerts   []string `json:"alerts,omitempty"`
}

// -- Module Metadata --

// CustomCheck is a named JavaScript assertion declared in the manifest and
// evaluated in the page after its module's body completes. The expression
// must evaluate to a truthy value for the check to pass.
type CustomCheck struct {
	Name   string `yaml:"name" json:"name"`
	Script string `yaml:"script" json:"script"`
}

// ModuleDescriptor is one test module's manifest metadata. Descriptors are
// loaded once at run start and immutable afterwards. Priority is descriptive
// only; execution order comes solely from the manifest's precedence array.
type ModuleDescriptor struct {
	Name         string        `yaml:"-" json:"name"`
	Source       string        `yaml:"source" json:"source,omitempty"`
	Priority     int           `yaml:"priority" json:"priority"`
	Dependencies []string      `yaml:"dependencies" json:"dependencies,omitempty"`
	Timeout      time.Duration `yaml:"timeout" json:"timeout"`
	Required     bool          `yaml:"required" json:"required"`
	Tags         []string      `yaml:"tags" json:"tags,omitempty"`
	Description  string        `yaml:"description" json:"description,omitempty"`
	Checks       []CustomCheck `yaml:"checks" json:"checks,omitempty"`
}

// -- Cross-Module State --

// SharedData is the free-form bag modules use to pass state to modules that
// execute later in the same session, e.g. which organisation was selected.
// Last writer wins. It is deliberately unsynchronized: module execution is
// strictly sequential, and a runner that parallelizes modules must introduce
// its own synchronization or be rejected.
type SharedData struct {
	values map[string]any
}

// NewSharedData returns an empty bag.
func NewSharedData() *SharedData {
	return &SharedData{values: make(map[string]any)}
}

// Set stores a value under key, replacing any previous value.
func (s *SharedData) Set(key string, value any) {
	s.values[key] = value
}

// Get returns the value for key and whether it was present.
func (s *SharedData) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// GetString returns the string value for key, or "" when the key is absent
// or holds a non-string.
func (s *SharedData) GetString(key string) string {
	if v, ok := s.values[key]; ok {
		if str, ok := v.(string); ok {
			return str
		}
	}
	return ""
}

// Len reports the number of stored keys.
func (s *SharedData) Len() int { return len(s.values) }

// -- Module Invocation Context --

// RunContext is everything a module invocation receives from the runner: the
// shared page session, a step logger, the result sink, the cross-module data
// bag, the runner's current authentication flag and the auth service handle.
// The runner constructs a fresh RunContext per module; modules must not
// retain it past their Execute call.
type RunContext struct {
	// Module is the executing module's registered name. The recorder stamps
	// it onto every result so grouping never has to guess from test names.
	Module          string
	Page            PageSession
	Log             StepLogger
	Recorder        ResultSink
	Shared          *SharedData
	IsAuthenticated bool
	Auth            AuthService
	Credentials     Credentials
	BaseURL         string
}

// URL resolves an application path against the configured base address.
func (rc *RunContext) URL(path string) string {
	if path == "" {
		return rc.BaseURL
	}
	return strings.TrimSuffix(rc.BaseURL, "/") + "/" + strings.TrimPrefix(path, "/")
}

// Pass records a passed test case for this module.
func (rc *RunContext) Pass(testName string, details map[string]any) ExecutionResult {
	return rc.Recorder.Record(rc.Module, testName, StatusPassed, details, false)
}

// Fail records a failed test case for this module. The recorder attempts a
// screenshot; the module decides whether to continue or abort afterwards.
func (rc *RunContext) Fail(testName string, details map[string]any) ExecutionResult {
	return rc.Recorder.Record(rc.Module, testName, StatusFailed, details, false)
}
