// File: internal/modules/applications.go
package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// knownStatuses are the application workflow states MGrant renders in the
// status column. Anything else in that column is a regression.
var knownStatuses = map[string]bool{
	"Draft":     true,
	"Submitted": true,
	"In Review": true,
	"Approved":  true,
	"Rejected":  true,
}

// Applications walks the application inbox, filtered down to the grant the
// previous module opened when one is available.
type Applications struct{}

var _ schemas.TestModule = (*Applications)(nil)

func (m *Applications) Name() string { return "Applications" }

func (m *Applications) Execute(ctx context.Context, rc *schemas.RunContext) error {
	rc.Log.Step("Opening the applications inbox")
	if err := rc.Page.Navigate(ctx, rc.URL("/applications")); err != nil {
		rc.Fail("Applications page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("applications page unreachable: %w", err)
	}
	if err := rc.Page.WaitVisible(ctx, `[data-testid="application-table"]`, 15*time.Second); err != nil {
		rc.Fail("Applications page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("application table never rendered: %w", err)
	}
	rc.Pass("Applications page loads", nil)

	if grant := rc.Shared.GetString(SharedGrantKey); grant != "" {
		rc.Log.Stepf("Filtering applications by grant %q", grant)
		if err := rc.Page.Fill(ctx, `[data-testid="application-filter"] input`, grant); err != nil {
			rc.Fail("Applications filter accepts input", map[string]any{"error": err.Error()})
		} else {
			rc.Pass("Applications filter accepts input", map[string]any{"grant": grant})
		}
	}

	rc.Log.Step("Validating application status values")
	var statuses []string
	script := `Array.from(document.querySelectorAll('[data-testid="application-table"] [data-testid="application-status"]')).map(e => e.textContent.trim())`
	if err := rc.Page.Evaluate(ctx, script, &statuses); err != nil {
		rc.Fail("Application statuses readable", map[string]any{"error": err.Error()})
		return nil
	}

	unknown := make([]string, 0)
	for _, status := range statuses {
		if !knownStatuses[status] {
			unknown = append(unknown, status)
		}
	}
	if len(unknown) > 0 {
		rc.Fail("Application statuses are all known workflow states", map[string]any{"unknown": unknown})
		return nil
	}
	rc.Pass("Application statuses are all known workflow states", map[string]any{"count": len(statuses)})
	return nil
}
