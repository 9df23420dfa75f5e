// File: internal/runner/recorder.go
package runner

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// screenshotTimeout bounds a failure capture. The recorder runs captures on
// its own clock: a module whose context already expired still gets its
// evidence collected.
const screenshotTimeout = 10 * time.Second

// Recorder is the run's append-only result log. Recording never returns an
// error; a full disk or a dead page must not turn into an extra test failure.
type Recorder struct {
	runID         string
	screenshotDir string
	page          schemas.PageSession
	logger        *zap.Logger

	mu      sync.Mutex
	results []schemas.ExecutionResult
	started time.Time
}

var _ schemas.ResultSink = (*Recorder)(nil)

// NewRecorder creates a recorder for one run. page may be nil (dry runs,
// config-only paths); screenshots are then skipped.
func NewRecorder(runID, screenshotDir string, logger *zap.Logger) *Recorder {
	return &Recorder{
		runID:         runID,
		screenshotDir: screenshotDir,
		logger:        logger.Named("recorder"),
		started:       time.Now(),
	}
}

// AttachPage hands the recorder the live page session used for failure
// screenshots. Called once by the runner after the browser opens.
func (r *Recorder) AttachPage(page schemas.PageSession) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.page = page
}

// Record appends a test case outcome. A screenshot is attempted when the case
// failed or when explicitly requested; capture failures are logged and leave
// ScreenshotPath empty.
func (r *Recorder) Record(module, testName string, status schemas.Status, details map[string]any, captureScreenshot bool) schemas.ExecutionResult {
	r.mu.Lock()
	step := len(r.results) + 1
	page := r.page
	r.mu.Unlock()

	result := schemas.ExecutionResult{
		StepNumber: step,
		Module:     module,
		TestName:   testName,
		Status:     status,
		Timestamp:  time.Now(),
		Details:    details,
	}

	if status == schemas.StatusFailed || captureScreenshot {
		result.ScreenshotPath = r.capture(page, step, testName)
	}

	if status == schemas.StatusFailed {
		r.logger.Warn("Test case failed.",
			zap.String("module", module),
			zap.String("test", testName),
			zap.Int("step", step))
	} else {
		r.logger.Debug("Test case passed.",
			zap.String("module", module),
			zap.String("test", testName),
			zap.Int("step", step))
	}

	r.mu.Lock()
	r.results = append(r.results, result)
	r.mu.Unlock()
	return result
}

// capture takes and writes a full-page screenshot, returning its path or ""
// when anything along the way fails.
func (r *Recorder) capture(page schemas.PageSession, step int, testName string) string {
	if page == nil {
		return ""
	}

	ctx, cancel := context.WithTimeout(context.Background(), screenshotTimeout)
	defer cancel()

	png, err := page.Screenshot(ctx)
	if err != nil {
		r.logger.Warn("Screenshot capture failed.", zap.String("test", testName), zap.Error(err))
		return ""
	}

	dir := filepath.Join(r.screenshotDir, r.runID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		r.logger.Warn("Cannot create screenshot directory.", zap.String("dir", dir), zap.Error(err))
		return ""
	}

	path := filepath.Join(dir, fmt.Sprintf("%03d-%s.png", step, slugify(testName)))
	if err := os.WriteFile(path, png, 0o644); err != nil {
		r.logger.Warn("Cannot write screenshot.", zap.String("path", path), zap.Error(err))
		return ""
	}
	return path
}

// slugify turns a test name into a safe file-name fragment.
func slugify(name string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('-')
		}
	}
	return strings.Trim(b.String(), "-")
}

// Results returns a copy of the result log in record order.
func (r *Recorder) Results() []schemas.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]schemas.ExecutionResult, len(r.results))
	copy(out, r.results)
	return out
}

// GroupByModule buckets results by their explicit module identifier.
func (r *Recorder) GroupByModule() map[string][]schemas.ExecutionResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	grouped := make(map[string][]schemas.ExecutionResult)
	for _, res := range r.results {
		grouped[res.Module] = append(grouped[res.Module], res)
	}
	return grouped
}

// Stats aggregates the result log.
func (r *Recorder) Stats() schemas.RunStats {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats := schemas.RunStats{
		Total:    len(r.results),
		Duration: time.Since(r.started),
	}
	for _, res := range r.results {
		if res.Status == schemas.StatusPassed {
			stats.Passed++
		} else {
			stats.Failed++
		}
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Passed) / float64(stats.Total) * 100
	}
	return stats
}
