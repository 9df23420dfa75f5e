// File: internal/runner/steplogger.go
package runner

import (
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// stepLogger narrates one module's progress through the run logger. Steps are
// informational only; they never touch results or the exit code. The recent
// ring feeds failure context into triage prompts.
type stepLogger struct {
	logger *zap.Logger

	mu     sync.Mutex
	recent []string
}

const stepHistorySize = 20

var _ schemas.StepLogger = (*stepLogger)(nil)

func newStepLogger(logger *zap.Logger, module string) *stepLogger {
	return &stepLogger{logger: logger.Named("step").With(zap.String("module", module))}
}

func (s *stepLogger) Step(msg string) {
	s.logger.Info(msg)
	s.mu.Lock()
	s.recent = append(s.recent, msg)
	if len(s.recent) > stepHistorySize {
		s.recent = s.recent[len(s.recent)-stepHistorySize:]
	}
	s.mu.Unlock()
}

func (s *stepLogger) Stepf(format string, args ...any) {
	s.Step(fmt.Sprintf(format, args...))
}

// Recent returns the last recorded steps, oldest first.
func (s *stepLogger) Recent() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.recent))
	copy(out, s.recent)
	return out
}
