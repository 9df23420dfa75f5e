// File: internal/report/report_test.go
package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/beevik/etree"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

func sampleRecord() *schemas.RunRecord {
	started := time.Date(2026, 8, 24, 9, 0, 0, 0, time.UTC)
	return &schemas.RunRecord{
		RunID:      "0d9f1b3a-0000-0000-0000-000000000000",
		Profile:    "full",
		StartedAt:  started,
		FinishedAt: started.Add(90 * time.Second),
		Stats: schemas.RunStats{
			Total: 3, Passed: 2, Failed: 1,
			SuccessRate: 66.7, Duration: 90 * time.Second,
		},
		Results: []schemas.ExecutionResult{
			{StepNumber: 1, Module: "Authentication", TestName: "Authenticated session established", Status: schemas.StatusPassed},
			{StepNumber: 2, Module: "Grants", TestName: "Grants page loads", Status: schemas.StatusPassed},
			{StepNumber: 3, Module: "Grants", TestName: "Grant detail renders", Status: schemas.StatusFailed,
				Details:        map[string]any{"error": "detail pane never appeared"},
				ScreenshotPath: "screenshots/run/003-grant-detail-renders.png"},
		},
		HaltedModule: "Grants",
		HaltReason:   "grant detail never rendered",
	}
}

func TestConsoleWriter(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, NewConsoleWriter(&buf).Write(sampleRecord()))

	out := buf.String()
	assert.Contains(t, out, "Authentication (1/1 passed)")
	assert.Contains(t, out, "Grants (1/2 passed)")
	assert.Contains(t, out, "[FAIL] Grant detail renders")
	assert.Contains(t, out, `RUN HALTED in module "Grants"`)
	assert.Contains(t, out, "Total: 3   Passed: 2   Failed: 1")
}

func TestJSONWriterRoundTrip(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewJSONWriter(dir).Write(sampleRecord()))

	data, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)

	var rec schemas.RunRecord
	require.NoError(t, json.Unmarshal(data, &rec))
	assert.Equal(t, "Grants", rec.HaltedModule)
	assert.Len(t, rec.Results, 3)
}

func TestJUnitWriterNestsCasesUnderModuleSuites(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, NewJUnitWriter(dir).Write(sampleRecord()))

	doc := etree.NewDocument()
	require.NoError(t, doc.ReadFromFile(filepath.Join(dir, "junit.xml")))

	suites := doc.SelectElement("testsuites")
	require.NotNil(t, suites)
	assert.Equal(t, "3", suites.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", suites.SelectAttrValue("failures", ""))

	var names []string
	for _, suite := range suites.SelectElements("testsuite") {
		names = append(names, suite.SelectAttrValue("name", ""))
	}
	assert.Equal(t, []string{"Authentication", "Grants", "run"}, names)

	grants := suites.SelectElements("testsuite")[1]
	assert.Equal(t, "2", grants.SelectAttrValue("tests", ""))
	assert.Equal(t, "1", grants.SelectAttrValue("failures", ""))

	cases := grants.SelectElements("testcase")
	require.Len(t, cases, 2)
	failure := cases[1].SelectElement("failure")
	require.NotNil(t, failure)
	assert.Equal(t, "detail pane never appeared", failure.SelectAttrValue("message", ""))
}

func TestDispatcherFansOut(t *testing.T) {
	dir := t.TempDir()
	d, err := NewDispatcher(config.ReportConfig{
		Formats:   []string{"json", "junit"},
		OutputDir: dir,
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	require.NoError(t, d.Dispatch(context.Background(), sampleRecord()))
	assert.FileExists(t, filepath.Join(dir, "report.json"))
	assert.FileExists(t, filepath.Join(dir, "junit.xml"))
}

func TestDispatcherRejectsUnknownFormat(t *testing.T) {
	_, err := NewDispatcher(config.ReportConfig{Formats: []string{"pdf"}}, zaptest.NewLogger(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"pdf"`)
}
