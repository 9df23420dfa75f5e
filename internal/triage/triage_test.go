// File: internal/triage/triage_test.go
package triage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"google.golang.org/genai"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

func haltedRecord() *schemas.RunRecord {
	return &schemas.RunRecord{
		HaltedModule: "Grants",
		HaltReason:   "grant table never rendered",
		Stats:        schemas.RunStats{Total: 4, Passed: 3, Failed: 1},
		Results: []schemas.ExecutionResult{
			{Module: "Grants", TestName: "Grants page loads", Status: schemas.StatusFailed,
				Details: map[string]any{"error": "waiting for [data-testid=\"grant-table\"] timed out"}},
		},
		LastSteps: []string{"Opening grants for \"Wildlife Trust\""},
		AppLog:    []string{"ERROR grants-api: connection pool exhausted"},
	}
}

func newTestService(t *testing.T, handler http.Handler) *Service {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:      "test-key",
		Backend:     genai.BackendGeminiAPI,
		HTTPOptions: genai.HTTPOptions{BaseURL: srv.URL},
	})
	require.NoError(t, err)

	return &Service{
		cfg:    config.TriageConfig{Model: "gemini-2.5-flash"},
		client: client,
		logger: zaptest.NewLogger(t),
	}
}

func TestDiagnose(t *testing.T) {
	var gotBody string
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"The grants API pool is exhausted; check backend connections."}]}}]}`))
	}))

	note, err := s.Diagnose(context.Background(), haltedRecord())
	require.NoError(t, err)
	assert.Equal(t, "The grants API pool is exhausted; check backend connections.", note)

	// The prompt carries the failure context.
	assert.Contains(t, gotBody, "grant table never rendered")
	assert.Contains(t, gotBody, "connection pool exhausted")
}

func TestDiagnoseRejectsCompletedRun(t *testing.T) {
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Fatal("no API call expected for a completed run")
	}))

	_, err := s.Diagnose(context.Background(), &schemas.RunRecord{})
	require.Error(t, err)
}

func TestDiagnoseEmptyResponse(t *testing.T) {
	s := newTestService(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"candidates":[{"content":{"parts":[{"text":"  "}]}}]}`))
	}))

	_, err := s.Diagnose(context.Background(), haltedRecord())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty diagnosis")
}

func TestBuildPromptSections(t *testing.T) {
	prompt := buildPrompt(haltedRecord())
	for _, fragment := range []string{
		`Run halted in module "Grants"`,
		"Failed cases:",
		"Last steps before the halt:",
		"Recent application log lines:",
	} {
		assert.True(t, strings.Contains(prompt, fragment), "missing %q", fragment)
	}
}
