// File: internal/modules/authentication.go
package modules

import (
	"context"
	"errors"
	"time"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// ErrAuthenticationFailed halts the run: nothing downstream works against an
// unauthenticated session.
var ErrAuthenticationFailed = errors.New("could not establish an authenticated session")

// Authentication establishes the session every later module depends on. It
// runs first in every profile and its failure is always fatal.
type Authentication struct{}

var _ schemas.TestModule = (*Authentication)(nil)

func (m *Authentication) Name() string { return "Authentication" }

func (m *Authentication) Execute(ctx context.Context, rc *schemas.RunContext) error {
	rc.Log.Step("Ensuring an authenticated session")
	if !rc.Auth.EnsureAuthenticated(ctx, rc.Page, rc.Credentials) {
		rc.Fail("Authenticated session established", map[string]any{
			"username": rc.Credentials.Username,
		})
		return ErrAuthenticationFailed
	}
	rc.Pass("Authenticated session established", nil)

	rc.Log.Step("Verifying the dashboard renders for the signed-in user")
	if err := rc.Page.WaitVisible(ctx, `[data-testid="user-menu"]`, 10*time.Second); err != nil {
		rc.Fail("User menu visible on dashboard", map[string]any{"error": err.Error()})
		return nil
	}
	rc.Pass("User menu visible on dashboard", nil)

	// The stored identity must match the credentials we signed in with.
	storage, err := rc.Page.ReadStorage(ctx, schemas.StorageSession)
	if err != nil {
		rc.Fail("Session identity present", map[string]any{"error": err.Error()})
		return nil
	}
	if storage["authToken"] == "" || storage["user"] == "" {
		rc.Fail("Session identity present", map[string]any{
			"has_token": storage["authToken"] != "",
			"has_user":  storage["user"] != "",
		})
		return nil
	}
	rc.Pass("Session identity present", nil)
	return nil
}
