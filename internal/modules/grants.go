// File: internal/modules/grants.go
package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// SharedGrantKey is where this module publishes the grant it opened.
const SharedGrantKey = "grant.title"

// Grants exercises the grant programme listing for the organisation selected
// earlier in the run.
type Grants struct{}

var _ schemas.TestModule = (*Grants)(nil)

func (m *Grants) Name() string { return "Grants" }

func (m *Grants) Execute(ctx context.Context, rc *schemas.RunContext) error {
	org := rc.Shared.GetString(SharedOrganisationKey)
	if org == "" {
		return fmt.Errorf("no organisation was selected earlier in the run")
	}

	rc.Log.Stepf("Opening grants for %q", org)
	if err := rc.Page.Navigate(ctx, rc.URL("/grants")); err != nil {
		rc.Fail("Grants page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("grants page unreachable: %w", err)
	}
	if err := rc.Page.WaitVisible(ctx, `[data-testid="grant-table"]`, 15*time.Second); err != nil {
		rc.Fail("Grants page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("grant table never rendered: %w", err)
	}
	rc.Pass("Grants page loads", nil)

	rc.Log.Step("Counting visible grant programmes")
	var count int
	if err := rc.Page.Evaluate(ctx, `document.querySelectorAll('[data-testid="grant-table"] tbody tr').length`, &count); err != nil {
		rc.Fail("Grant rows countable", map[string]any{"error": err.Error()})
		return nil
	}
	if count == 0 {
		rc.Fail("Organisation has grant programmes", map[string]any{"organisation": org})
		// An empty listing is a data problem, not a broken page; the rest of
		// the suite still has nothing to open.
		return nil
	}
	rc.Pass("Organisation has grant programmes", map[string]any{"count": count})

	rc.Log.Step("Opening the first grant programme")
	firstRow := `[data-testid="grant-table"] tbody tr:first-child`
	title, err := rc.Page.Text(ctx, firstRow+` [data-testid="grant-title"]`)
	if err != nil || title == "" {
		rc.Fail("Grant title readable", map[string]any{"error": errText(err)})
		return nil
	}
	if err := rc.Page.Click(ctx, firstRow); err != nil {
		rc.Fail("Grant opens from the listing", map[string]any{"grant": title, "error": err.Error()})
		return nil
	}
	if err := rc.Page.WaitVisible(ctx, `[data-testid="grant-detail"]`, 15*time.Second); err != nil {
		rc.Fail("Grant detail renders", map[string]any{"grant": title, "error": err.Error()})
		return nil
	}
	rc.Pass("Grant detail renders", map[string]any{"grant": title})

	rc.Shared.Set(SharedGrantKey, title)
	return nil
}
