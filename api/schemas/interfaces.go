// File: api/schemas/interfaces.go
package schemas

import (
	"context"
	"time"
)

// -- Page Automation Capability --

// StorageKind selects one of the two Web Storage areas.
type StorageKind string

const (
	StorageLocal   StorageKind = "localStorage"
	StorageSession StorageKind = "sessionStorage"
)

// PageSession is the page automation capability the orchestration core is
// written against. Exactly one implementation-backed session exists per run;
// it is shared by every module so that in-page state (auth tokens, selected
// records) survives across module boundaries. The concrete implementation
// lives in internal/browser; tests substitute a mock.
type PageSession interface {
	Navigate(ctx context.Context, url string) error                                    // Loads a URL and waits for the document to be ready.
	WaitVisible(ctx context.Context, selector string, timeout time.Duration) error     // Blocks until the element is visible or the timeout lapses.
	Click(ctx context.Context, selector string) error                                  // Scrolls to and clicks the first matching element.
	Fill(ctx context.Context, selector, value string) error                            // Clears the field and types the value.
	Text(ctx context.Context, selector string) (string, error)                         // Returns the element's trimmed text content.
	Evaluate(ctx context.Context, script string, out any) error                        // Runs a script in page context; out may be nil.
	Screenshot(ctx context.Context) ([]byte, error)                                    // Captures a full-page PNG.
	HTML(ctx context.Context) (string, error)                                          // Returns the serialized document.
	Cookies(ctx context.Context) ([]Cookie, error)                                     // Reads all cookies visible to the session.
	SetCookies(ctx context.Context, cookies []Cookie) error                            // Installs cookies into the browser.
	ClearCookies(ctx context.Context) error                                            // Drops all browser cookies.
	ReadStorage(ctx context.Context, kind StorageKind) (map[string]string, error)      // Dumps one storage area.
	WriteStorage(ctx context.Context, kind StorageKind, items map[string]string) error // Writes entries into one storage area.
	ClearStorage(ctx context.Context) error                                            // Empties both storage areas.
	Reload(ctx context.Context) error                                                  // Reloads the current document.
	CurrentURL(ctx context.Context) (string, error)                                    // Reports the page's current address.
	Close() error                                                                      // Tears the session down; safe to call twice.
}

// -- Test Module Contract --

// TestModule is implemented by every compiled-in test module. Execute runs
// the module's test cases against the shared session, reporting each case
// through the RunContext's recorder. A non-nil return is an unrecoverable
// module failure and halts the run; recoverable case failures are recorded
// as FAILED results instead, and the module carries on at its own
// discretion.
type TestModule interface {
	Name() string
	Execute(ctx context.Context, rc *RunContext) error
}

// -- Runner Collaborators --

// StepLogger narrates a module's progress. Steps are informational; they
// never affect results or the exit code.
type StepLogger interface {
	Step(msg string)
	Stepf(format string, args ...any)
}

// ResultSink accepts test case outcomes. Recording is side-effect logging
// and never returns an error: a failed screenshot or a full disk must not
// turn into an additional test failure. Implementations capture failure
// screenshots on their own clock so that an already-expired module context
// cannot starve the evidence collection.
type ResultSink interface {
	Record(module, testName string, status Status, details map[string]any, captureScreenshot bool) ExecutionResult
}

// AuthService is the authentication façade handed to modules. Booleans, not
// errors: "not authenticated" is a normal state the caller decides how to
// treat. The Authentication module treats a false EnsureAuthenticated as
// fatal; later modules use it defensively before touching protected pages.
type AuthService interface {
	EnsureAuthenticated(ctx context.Context, page PageSession, creds Credentials) bool
	IsAuthenticated(ctx context.Context, page PageSession) bool
	PerformLogin(ctx context.Context, page PageSession, creds Credentials) bool
}
