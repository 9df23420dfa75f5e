// File: internal/modules/organisation.go
package modules

import (
	"context"
	"fmt"
	"time"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// SharedOrganisationKey is where this module publishes the organisation it
// selected, for every module that runs after it.
const SharedOrganisationKey = "organisation.name"

// Organisation drives the organisation picker: the first real decision a
// signed-in MGrant user makes, and the context all grant data hangs off.
type Organisation struct{}

var _ schemas.TestModule = (*Organisation)(nil)

func (m *Organisation) Name() string { return "Organisation" }

func (m *Organisation) Execute(ctx context.Context, rc *schemas.RunContext) error {
	rc.Log.Step("Opening the organisations page")
	if err := rc.Page.Navigate(ctx, rc.URL("/organisations")); err != nil {
		rc.Fail("Organisations page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("organisations page unreachable: %w", err)
	}
	if err := rc.Page.WaitVisible(ctx, `[data-testid="organisation-list"]`, 15*time.Second); err != nil {
		rc.Fail("Organisations page loads", map[string]any{"error": err.Error()})
		return fmt.Errorf("organisation list never rendered: %w", err)
	}
	rc.Pass("Organisations page loads", nil)

	rc.Log.Step("Selecting the first organisation")
	firstRow := `[data-testid="organisation-list"] [data-testid="organisation-row"]:first-child`
	orgName, err := rc.Page.Text(ctx, firstRow+` .organisation-name`)
	if err != nil || orgName == "" {
		rc.Fail("An organisation is available", map[string]any{"error": errText(err)})
		return fmt.Errorf("no organisation to select")
	}
	if err := rc.Page.Click(ctx, firstRow); err != nil {
		rc.Fail("Organisation is selectable", map[string]any{"organisation": orgName, "error": err.Error()})
		return fmt.Errorf("selecting organisation %q: %w", orgName, err)
	}
	rc.Pass("Organisation is selectable", map[string]any{"organisation": orgName})

	rc.Log.Stepf("Verifying the detail view for %q", orgName)
	if err := rc.Page.WaitVisible(ctx, `[data-testid="organisation-header"]`, 15*time.Second); err != nil {
		rc.Fail("Organisation detail renders", map[string]any{"error": err.Error()})
		return nil
	}
	header, err := rc.Page.Text(ctx, `[data-testid="organisation-header"] h1`)
	if err != nil || header != orgName {
		rc.Fail("Organisation detail shows the selected name", map[string]any{
			"expected": orgName,
			"actual":   header,
		})
	} else {
		rc.Pass("Organisation detail shows the selected name", nil)
	}

	// Publish the selection for Grants and Applications.
	rc.Shared.Set(SharedOrganisationKey, orgName)
	return nil
}

func errText(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
