// File: internal/triage/triage.go

// Package triage asks Gemini for a one-paragraph diagnosis of a halted run.
// The note is attached to the run record as a reading aid; triage being
// absent, slow or wrong never changes the run's outcome.
package triage

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

const systemPrompt = `You are triaging a failed browser end-to-end test run
against the MGrant grants-management web application. Given the failure
context, reply with a single short paragraph: the most likely root cause and
the first thing an engineer should check. No preamble, no markdown.`

// Service produces failure diagnoses through the Gemini API.
type Service struct {
	cfg    config.TriageConfig
	client *genai.Client
	logger *zap.Logger
}

// NewService builds the triage client.
func NewService(ctx context.Context, cfg config.TriageConfig, logger *zap.Logger) (*Service, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("creating triage client: %w", err)
	}
	return &Service{
		cfg:    cfg,
		client: client,
		logger: logger.Named("triage"),
	}, nil
}

// Diagnose sends the failure context and returns the model's note.
func (s *Service) Diagnose(ctx context.Context, rec *schemas.RunRecord) (string, error) {
	if rec.HaltedModule == "" {
		return "", fmt.Errorf("run was not halted; nothing to triage")
	}

	prompt := buildPrompt(rec)
	resp, err := s.client.Models.GenerateContent(ctx, s.cfg.Model, genai.Text(prompt), &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemPrompt, genai.RoleUser),
		Temperature:       genai.Ptr[float32](0.2),
	})
	if err != nil {
		return "", fmt.Errorf("triage generation failed: %w", err)
	}

	note := strings.TrimSpace(resp.Text())
	if note == "" {
		return "", fmt.Errorf("triage returned an empty diagnosis")
	}
	s.logger.Info("Triage note produced.", zap.String("module", rec.HaltedModule))
	return note, nil
}

// buildPrompt condenses the run record into the failure context the model
// sees: the halt, the failed cases, the module's last steps and the most
// recent app-log lines.
func buildPrompt(rec *schemas.RunRecord) string {
	var b strings.Builder

	fmt.Fprintf(&b, "Run halted in module %q: %s\n", rec.HaltedModule, rec.HaltReason)
	fmt.Fprintf(&b, "Totals: %d passed, %d failed of %d.\n", rec.Stats.Passed, rec.Stats.Failed, rec.Stats.Total)

	var failed []schemas.ExecutionResult
	for _, res := range rec.Results {
		if res.Status == schemas.StatusFailed {
			failed = append(failed, res)
		}
	}
	if len(failed) > 0 {
		b.WriteString("\nFailed cases:\n")
		for _, res := range failed {
			fmt.Fprintf(&b, "- [%s] %s", res.Module, res.TestName)
			if errText, ok := res.Details["error"].(string); ok && errText != "" {
				fmt.Fprintf(&b, " (%s)", errText)
			}
			b.WriteString("\n")
		}
	}

	if len(rec.LastSteps) > 0 {
		b.WriteString("\nLast steps before the halt:\n")
		for _, step := range rec.LastSteps {
			fmt.Fprintf(&b, "- %s\n", step)
		}
	}

	if len(rec.AppLog) > 0 {
		b.WriteString("\nRecent application log lines:\n")
		for _, line := range rec.AppLog {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}
	return b.String()
}
