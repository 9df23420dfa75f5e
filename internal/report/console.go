// File: internal/report/console.go
package report

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// ConsoleWriter prints the human-readable run summary. It is always
// configured; the summary is the suite's primary interface to a person
// watching a terminal or a CI log.
type ConsoleWriter struct {
	out io.Writer
}

func NewConsoleWriter(out io.Writer) *ConsoleWriter {
	return &ConsoleWriter{out: out}
}

func (w *ConsoleWriter) Name() string { return "console" }

func (w *ConsoleWriter) Write(rec *schemas.RunRecord) error {
	var b strings.Builder

	b.WriteString("\n")
	b.WriteString(strings.Repeat("=", 64) + "\n")
	fmt.Fprintf(&b, "  MGrant E2E  run %s  profile %q\n", shortID(rec.RunID), rec.Profile)
	b.WriteString(strings.Repeat("=", 64) + "\n")

	order, grouped := groupResults(rec)
	for _, module := range order {
		results := grouped[module]
		passed := 0
		for _, res := range results {
			if res.Status == schemas.StatusPassed {
				passed++
			}
		}
		fmt.Fprintf(&b, "\n  %s (%d/%d passed)\n", module, passed, len(results))
		for _, res := range results {
			marker := "PASS"
			if res.Status == schemas.StatusFailed {
				marker = "FAIL"
			}
			fmt.Fprintf(&b, "    [%s] %s\n", marker, res.TestName)
			if res.Status == schemas.StatusFailed && res.ScreenshotPath != "" {
				fmt.Fprintf(&b, "           screenshot: %s\n", res.ScreenshotPath)
			}
		}
	}

	if rec.HaltedModule != "" {
		fmt.Fprintf(&b, "\n  RUN HALTED in module %q: %s\n", rec.HaltedModule, rec.HaltReason)
	}
	if rec.TriageNote != "" {
		fmt.Fprintf(&b, "\n  Triage: %s\n", rec.TriageNote)
	}

	b.WriteString("\n" + strings.Repeat("-", 64) + "\n")
	fmt.Fprintf(&b, "  Total: %d   Passed: %d   Failed: %d   (%.1f%%)   in %s\n",
		rec.Stats.Total, rec.Stats.Passed, rec.Stats.Failed,
		rec.Stats.SuccessRate, rec.Stats.Duration.Round(100*time.Millisecond))
	b.WriteString(strings.Repeat("-", 64) + "\n")

	_, err := io.WriteString(w.out, b.String())
	return err
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
