// File: internal/runner/runner_test.go
package runner

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
	"github.com/mgrantlabs/mgrant-e2e/internal/mocks"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func writeManifest(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "testplan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func testConfig(t *testing.T, manifest string) *config.Config {
	t.Helper()
	cfg := config.NewDefaultConfig()
	cfg.Suite.Manifest = manifest
	cfg.Suite.ScreenshotDir = t.TempDir()
	cfg.App.Username = "qa@mgrant.example"
	cfg.App.Password = "hunter2"
	return cfg
}

func passingModule(name string) *mocks.MockTestModule {
	mod := &mocks.MockTestModule{ModuleName: name}
	mod.On("Execute", mock.Anything, mock.Anything).Return(nil)
	return mod
}

func TestModulesExecuteInPrecedenceArrayOrder(t *testing.T) {
	// Priorities deliberately contradict the array order; the array must win.
	manifest := writeManifest(t, `
test_precedence:
  - Authentication
  - Organisation
  - Grants
modules:
  Authentication:
    priority: 99
  Organisation:
    priority: 1
  Grants:
    priority: 50
`)
	cfg := testConfig(t, manifest)

	var order []string
	newTracked := func(name string) *mocks.MockTestModule {
		mod := &mocks.MockTestModule{ModuleName: name}
		mod.On("Execute", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
			order = append(order, name)
		}).Return(nil)
		return mod
	}

	reg := NewRegistry(
		WithModule(newTracked("Grants")),
		WithModule(newTracked("Authentication")),
		WithModule(newTracked("Organisation")),
	)
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(&mocks.MockPageSession{}))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))

	require.NoError(t, r.ExecuteAllModules(context.Background()))
	assert.Equal(t, []string{"Authentication", "Organisation", "Grants"}, order)
}

func TestRunHaltsOnModuleError(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Authentication
  - Organisation
  - Never
`)
	cfg := testConfig(t, manifest)

	auth := &mocks.MockTestModule{ModuleName: "Authentication"}
	auth.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		rc := args.Get(1).(*schemas.RunContext)
		rc.Pass("login succeeds", nil)
	}).Return(nil)

	boom := errors.New("organisation page never rendered")
	org := &mocks.MockTestModule{ModuleName: "Organisation"}
	org.On("Execute", mock.Anything, mock.Anything).Return(boom)

	never := &mocks.MockTestModule{ModuleName: "Never"}

	reg := NewRegistry(WithModule(auth), WithModule(org), WithModule(never))
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(&mocks.MockPageSession{}))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))

	err := r.ExecuteAllModules(context.Background())

	var fatal *FatalRunError
	require.ErrorAs(t, err, &fatal)
	assert.Equal(t, "Organisation", fatal.Module)
	assert.ErrorIs(t, err, boom)

	// The passed phase survives the halt; the module after it never ran.
	stats := r.GetStats()
	assert.Equal(t, 1, stats.Passed)
	never.AssertNotCalled(t, "Execute", mock.Anything, mock.Anything)

	rec := r.assembleRecord(err)
	assert.Equal(t, "Organisation", rec.HaltedModule)
	require.Len(t, rec.Modules, 2)
	assert.True(t, rec.Modules[0].Completed)
	assert.False(t, rec.Modules[1].Completed)
}

func TestAuthenticationFlipsRunnerFlag(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Authentication
  - Grants
`)
	cfg := testConfig(t, manifest)

	var seenByAuth, seenByGrants bool
	auth := &mocks.MockTestModule{ModuleName: "Authentication"}
	auth.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		seenByAuth = args.Get(1).(*schemas.RunContext).IsAuthenticated
	}).Return(nil)

	grants := &mocks.MockTestModule{ModuleName: "Grants"}
	grants.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		seenByGrants = args.Get(1).(*schemas.RunContext).IsAuthenticated
	}).Return(nil)

	reg := NewRegistry(WithModule(auth), WithModule(grants))
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(&mocks.MockPageSession{}))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))
	require.NoError(t, r.ExecuteAllModules(context.Background()))

	assert.False(t, seenByAuth)
	assert.True(t, seenByGrants)
}

func TestModuleTimeoutHaltsRun(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Slow
modules:
  Slow:
    timeout: 50ms
`)
	cfg := testConfig(t, manifest)

	slow := &mocks.MockTestModule{ModuleName: "Slow"}
	slow.On("Execute", mock.Anything, mock.Anything).Run(func(args mock.Arguments) {
		<-args.Get(0).(context.Context).Done()
	}).Return(context.DeadlineExceeded)

	reg := NewRegistry(WithModule(slow))
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(&mocks.MockPageSession{}))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))

	err := r.ExecuteAllModules(context.Background())
	var fatal *FatalRunError
	require.ErrorAs(t, err, &fatal)
	assert.Contains(t, err.Error(), "timed out after 50ms")
}

func TestCustomChecksRecordResults(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Grants
modules:
  Grants:
    checks:
      - name: table rendered
        script: document.querySelectorAll('tr').length > 0
      - name: no error banner
        script: document.querySelector('[role=alert]') === null
`)
	cfg := testConfig(t, manifest)

	page := &mocks.MockPageSession{}
	page.On("Evaluate", mock.Anything, mock.MatchedBy(func(s string) bool {
		return len(s) > 0
	}), mock.Anything).Run(func(args mock.Arguments) {
		out := args.Get(2).(*bool)
		// First check passes, second fails.
		*out = args.String(1) == "Boolean((document.querySelectorAll('tr').length > 0))"
	}).Return(nil)
	page.On("Screenshot", mock.Anything).Return([]byte("png"), nil)

	reg := NewRegistry(WithModule(passingModule("Grants")))
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(page))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))

	// A failed check is recorded, never fatal.
	require.NoError(t, r.ExecuteAllModules(context.Background()))

	results := r.recorder.Results()
	require.Len(t, results, 2)
	assert.Equal(t, "check: table rendered", results[0].TestName)
	assert.Equal(t, schemas.StatusPassed, results[0].Status)
	assert.Equal(t, "check: no error banner", results[1].TestName)
	assert.Equal(t, schemas.StatusFailed, results[1].Status)
}

func TestPlanSumsTimeoutBudgets(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Authentication
  - Grants
modules:
  Authentication:
    timeout: 1m
  Grants:
    timeout: 2m
`)
	cfg := testConfig(t, manifest)

	reg := NewRegistry(WithModule(passingModule("Authentication")), WithModule(passingModule("Grants")))
	r := New(cfg, reg, zaptest.NewLogger(t))
	require.NoError(t, r.LoadConfiguration())

	planned, estimate := r.Plan()
	require.Len(t, planned, 2)
	assert.Equal(t, "Authentication", planned[0].Name)
	assert.Equal(t, time.Minute, planned[0].Timeout)
	assert.Equal(t, 3*time.Minute, estimate)
}

func TestLoadConfigurationRejectsUnregisteredModule(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Ghost
`)
	cfg := testConfig(t, manifest)

	r := New(cfg, NewRegistry(), zaptest.NewLogger(t))
	err := r.LoadConfiguration()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Ghost")
}

func TestLoadConfigurationAppliesProfile(t *testing.T) {
	manifest := writeManifest(t, `
test_precedence:
  - Authentication
  - Organisation
  - Grants
profiles:
  smoke:
    - Authentication
`)
	cfg := testConfig(t, manifest)
	cfg.Suite.Profile = "smoke"

	var order []string
	auth := &mocks.MockTestModule{ModuleName: "Authentication"}
	auth.On("Execute", mock.Anything, mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "Authentication")
	}).Return(nil)

	reg := NewRegistry(WithModule(auth), WithModule(passingModule("Organisation")), WithModule(passingModule("Grants")))
	r := New(cfg, reg, zaptest.NewLogger(t), WithPage(&mocks.MockPageSession{}))
	require.NoError(t, r.LoadConfiguration())
	require.NoError(t, r.InitializeBrowserSession(context.Background()))
	require.NoError(t, r.ExecuteAllModules(context.Background()))

	assert.Equal(t, []string{"Authentication"}, order)
}

func TestRegistryNamesSorted(t *testing.T) {
	reg := NewRegistry(
		WithModule(passingModule("Organisation")),
		WithModule(passingModule("Authentication")),
	)
	assert.Equal(t, []string{"Authentication", "Organisation"}, reg.Names())

	_, err := reg.Resolve("Nope")
	require.Error(t, err)
}
