// File: internal/report/junit.go
package report

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/beevik/etree"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// JUnitWriter emits <output_dir>/junit.xml: one testsuite per module, one
// testcase per recorded result, in the shape CI systems ingest.
type JUnitWriter struct {
	dir string
}

func NewJUnitWriter(dir string) *JUnitWriter {
	return &JUnitWriter{dir: dir}
}

func (w *JUnitWriter) Name() string { return "junit" }

func (w *JUnitWriter) Write(rec *schemas.RunRecord) error {
	doc := etree.NewDocument()
	doc.CreateProcInst("xml", `version="1.0" encoding="UTF-8"`)

	suites := doc.CreateElement("testsuites")
	suites.CreateAttr("name", "mgrant-e2e")
	suites.CreateAttr("tests", fmt.Sprintf("%d", rec.Stats.Total))
	suites.CreateAttr("failures", fmt.Sprintf("%d", rec.Stats.Failed))
	suites.CreateAttr("time", fmt.Sprintf("%.3f", rec.Stats.Duration.Seconds()))
	suites.CreateAttr("timestamp", rec.StartedAt.Format(time.RFC3339))

	order, grouped := groupResults(rec)
	for _, module := range order {
		results := grouped[module]

		suite := suites.CreateElement("testsuite")
		suite.CreateAttr("name", module)
		suite.CreateAttr("tests", fmt.Sprintf("%d", len(results)))

		failures := 0
		for _, res := range results {
			tc := suite.CreateElement("testcase")
			tc.CreateAttr("name", res.TestName)
			tc.CreateAttr("classname", module)

			if res.Status == schemas.StatusFailed {
				failures++
				failure := tc.CreateElement("failure")
				failure.CreateAttr("message", failureMessage(res))
				if res.ScreenshotPath != "" {
					failure.SetText("screenshot: " + res.ScreenshotPath)
				}
			}
		}
		suite.CreateAttr("failures", fmt.Sprintf("%d", failures))
	}

	if rec.HaltedModule != "" {
		halted := suites.CreateElement("testsuite")
		halted.CreateAttr("name", "run")
		halted.CreateAttr("tests", "1")
		halted.CreateAttr("failures", "1")
		tc := halted.CreateElement("testcase")
		tc.CreateAttr("name", "run completed")
		tc.CreateAttr("classname", "run")
		failure := tc.CreateElement("failure")
		failure.CreateAttr("message", fmt.Sprintf("halted in %s: %s", rec.HaltedModule, rec.HaltReason))
	}

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("creating report directory: %w", err)
	}
	doc.Indent(2)
	path := filepath.Join(w.dir, "junit.xml")
	if err := doc.WriteToFile(path); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func failureMessage(res schemas.ExecutionResult) string {
	if errText, ok := res.Details["error"].(string); ok && errText != "" {
		return errText
	}
	return "assertion failed"
}
