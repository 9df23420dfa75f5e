// File: internal/auth/manager_test.go
package auth

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
	"go.uber.org/zap/zaptest"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
	"github.com/mgrantlabs/mgrant-e2e/internal/mocks"
)

const (
	testBaseURL   = "http://localhost:3000"
	testLogin     = testBaseURL + "/login"
	testDashboard = testBaseURL + "/dashboard"
)

func newTestManager(t *testing.T) (*Manager, string) {
	t.Helper()
	stateFile := filepath.Join(t.TempDir(), "state", "auth-state.json")
	m := NewManager(
		config.AppConfig{
			BaseURL:       testBaseURL,
			LoginPath:     "/login",
			ProtectedPath: "/dashboard",
		},
		config.AuthConfig{
			StateFile:     stateFile,
			MaxAge:        time.Hour,
			LoginTimeout:  2 * time.Second,
			VerifyTimeout: 2 * time.Second,
		},
		nil,
		zaptest.NewLogger(t),
	)
	return m, stateFile
}

func authedStorage() map[string]string {
	return map[string]string{
		TokenKey: "opaque-session-token",
		UserKey:  `{"id":"u-17","email":"qa@mgrant.io"}`,
	}
}

// expectSnapshotCapture wires the page calls SaveAuthState performs.
func expectSnapshotCapture(page *mocks.MockPageSession) {
	page.On("Cookies", mock.Anything).Return([]schemas.Cookie{
		{Name: "mgrant_sid", Value: "abc", Domain: "localhost", Path: "/"},
	}, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageLocal).Return(map[string]string{"theme": "dark"}, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(authedStorage(), nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
}

func TestSaveAuthState(t *testing.T) {
	m, stateFile := newTestManager(t)
	page := &mocks.MockPageSession{}
	expectSnapshotCapture(page)

	state, err := m.SaveAuthState(context.Background(), page)
	require.NoError(t, err)

	assert.True(t, state.IsAuthenticated)
	assert.Equal(t, SourceLive, state.Source)
	require.NotNil(t, state.User)
	assert.Equal(t, "qa@mgrant.io", state.User.Email)

	// The snapshot is on disk, private, and re-loadable.
	info, err := os.Stat(stateFile)
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	data, err := os.ReadFile(stateFile)
	require.NoError(t, err)
	restored, err := Deserialize(data)
	require.NoError(t, err)
	assert.Equal(t, "opaque-session-token", restored.Token())

	// No stray temp files left behind.
	entries, err := os.ReadDir(filepath.Dir(stateFile))
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSaveAuthStatePageFailure(t *testing.T) {
	m, stateFile := newTestManager(t)
	page := &mocks.MockPageSession{}
	page.On("Cookies", mock.Anything).Return(nil, errors.New("target crashed"))

	_, err := m.SaveAuthState(context.Background(), page)
	var saveErr *SaveAuthFailedError
	require.ErrorAs(t, err, &saveErr)

	// Nothing was written.
	_, statErr := os.Stat(stateFile)
	assert.True(t, os.IsNotExist(statErr))
}

func TestLoadAuthStateAbsentFile(t *testing.T) {
	m, _ := newTestManager(t)
	page := &mocks.MockPageSession{}

	// Absent snapshot is a normal state: false, no error, no page traffic.
	assert.False(t, m.LoadAuthState(context.Background(), page))
	page.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestLoadAuthStateCorruptFile(t *testing.T) {
	m, stateFile := newTestManager(t)
	require.NoError(t, os.MkdirAll(filepath.Dir(stateFile), 0o700))
	require.NoError(t, os.WriteFile(stateFile, []byte("definitely not json"), 0o600))

	page := &mocks.MockPageSession{}
	assert.False(t, m.LoadAuthState(context.Background(), page))
	assert.False(t, m.State().IsAuthenticated)
}

func TestLoadAuthStateExpiredSnapshot(t *testing.T) {
	m, stateFile := newTestManager(t)

	old := NewState()
	old.IsAuthenticated = true
	old.SessionStorage = authedStorage()
	old.Timestamp = time.Now().Add(-48 * time.Hour)
	data, err := old.Serialize()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(stateFile), 0o700))
	require.NoError(t, os.WriteFile(stateFile, data, 0o600))

	page := &mocks.MockPageSession{}
	assert.False(t, m.LoadAuthState(context.Background(), page))
	page.AssertNotCalled(t, "Navigate", mock.Anything, mock.Anything)
}

func TestLoadAuthStateInjectionOrder(t *testing.T) {
	m, stateFile := newTestManager(t)

	snap := NewState()
	snap.IsAuthenticated = true
	snap.SessionStorage = authedStorage()
	snap.LocalStorage = map[string]string{"theme": "dark"}
	snap.Cookies = []schemas.Cookie{{Name: "mgrant_sid", Value: "abc"}}
	snap.Timestamp = time.Now()
	data, err := snap.Serialize()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(stateFile), 0o700))
	require.NoError(t, os.WriteFile(stateFile, data, 0o600))

	var order []string
	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testBaseURL).Run(func(mock.Arguments) {
		order = append(order, "navigate")
	}).Return(nil)
	page.On("WriteStorage", mock.Anything, schemas.StorageSession, mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "sessionStorage")
	}).Return(nil)
	page.On("WriteStorage", mock.Anything, schemas.StorageLocal, mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "localStorage")
	}).Return(nil)
	page.On("SetCookies", mock.Anything, snap.Cookies).Run(func(mock.Arguments) {
		order = append(order, "cookies")
	}).Return(nil)
	page.On("Reload", mock.Anything).Run(func(mock.Arguments) {
		order = append(order, "reload")
	}).Return(nil)

	assert.True(t, m.LoadAuthState(context.Background(), page))
	// sessionStorage is the source of truth and goes in first; the reload
	// makes the app re-read everything.
	assert.Equal(t, []string{"navigate", "sessionStorage", "localStorage", "cookies", "reload"}, order)
	assert.Equal(t, SourceFile, m.State().Source)
}

func TestEnsureAuthenticatedSkipsLoginWithValidCache(t *testing.T) {
	m, stateFile := newTestManager(t)

	snap := NewState()
	snap.IsAuthenticated = true
	snap.SessionStorage = authedStorage()
	snap.Timestamp = time.Now()
	data, err := snap.Serialize()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(filepath.Dir(stateFile), 0o700))
	require.NoError(t, os.WriteFile(stateFile, data, 0o600))

	page := &mocks.MockPageSession{}
	// LoadAuthState restore sequence.
	page.On("Navigate", mock.Anything, testBaseURL).Return(nil)
	page.On("WriteStorage", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	page.On("Reload", mock.Anything).Return(nil)
	// IsAuthenticated: protected route, no login redirect, token present.
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(authedStorage(), nil)
	// Verification race: the storage poll wins; the UI marker may lose.
	page.On("WaitVisible", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not visible")).Maybe()

	ok := m.EnsureAuthenticated(context.Background(), page, schemas.Credentials{Username: "qa@mgrant.io", Password: "pw"})
	require.True(t, ok)

	// The central optimization: a valid cache means no login traffic at all.
	page.AssertNotCalled(t, "Fill", mock.Anything, mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "Click", mock.Anything, mock.Anything)
	page.AssertNotCalled(t, "ClearStorage", mock.Anything)
}

func TestPerformLoginCredentialFailure(t *testing.T) {
	m, _ := newTestManager(t)

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	page.On("ClearStorage", mock.Anything).Return(nil)
	page.On("ClearCookies", mock.Anything).Return(nil)
	page.On("WaitVisible", mock.Anything, loginEmailSelector, mock.Anything).Return(nil)
	page.On("Fill", mock.Anything, mock.Anything, mock.Anything).Return(nil)
	page.On("Click", mock.Anything, loginSubmitSelector).Return(nil)
	// The app never mints a token: credentials rejected.
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(map[string]string{}, nil)

	// Poison the cached state to prove the failure clears it.
	m.state.IsAuthenticated = true

	ok := m.PerformLogin(context.Background(), page, schemas.Credentials{Username: "qa@mgrant.io", Password: "wrong"})
	assert.False(t, ok)
	assert.False(t, m.State().IsAuthenticated)
	assert.Empty(t, m.State().SessionStorage)
}

func TestPerformLoginFormMissing(t *testing.T) {
	m, _ := newTestManager(t)

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	page.On("ClearStorage", mock.Anything).Return(nil)
	page.On("ClearCookies", mock.Anything).Return(nil)
	page.On("WaitVisible", mock.Anything, loginEmailSelector, mock.Anything).Return(errors.New("timeout"))

	ok := m.PerformLogin(context.Background(), page, schemas.Credentials{})
	assert.False(t, ok)
	page.AssertNotCalled(t, "Fill", mock.Anything, mock.Anything, mock.Anything)
}

func TestEnsureAuthenticatedFallsBackToLogin(t *testing.T) {
	// Scenario: no snapshot on disk, so EnsureAuthenticated must go through
	// a full live login, after which the session verifies as authenticated.
	m, _ := newTestManager(t)

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, mock.Anything).Return(nil)
	page.On("ClearStorage", mock.Anything).Return(nil)
	page.On("ClearCookies", mock.Anything).Return(nil)
	page.On("WaitVisible", mock.Anything, loginEmailSelector, mock.Anything).Return(nil)
	page.On("Fill", mock.Anything, loginEmailSelector, "qa@mgrant.io").Return(nil)
	page.On("Fill", mock.Anything, loginPasswordSelector, "pw").Return(nil)
	page.On("Click", mock.Anything, loginSubmitSelector).Return(nil)
	// Token appears immediately after submit; identity present too.
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(authedStorage(), nil)
	page.On("WaitVisible", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not visible")).Maybe()
	// SaveAuthState capture.
	page.On("Cookies", mock.Anything).Return([]schemas.Cookie{}, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageLocal).Return(map[string]string{}, nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)

	ok := m.EnsureAuthenticated(context.Background(), page, schemas.Credentials{Username: "qa@mgrant.io", Password: "pw"})
	require.True(t, ok)
	assert.True(t, m.State().IsAuthenticated)

	// The login path was exercised.
	page.AssertCalled(t, "Click", mock.Anything, loginSubmitSelector)

	// And the live session now verifies.
	assert.True(t, m.IsAuthenticated(context.Background(), page))
}

func TestIsAuthenticatedRedirectToLogin(t *testing.T) {
	m, _ := newTestManager(t)
	m.state.IsAuthenticated = true

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testLogin+"?redirect=%2Fdashboard", nil)

	assert.False(t, m.IsAuthenticated(context.Background(), page))
	// Expiry detection resets the cached state.
	assert.False(t, m.State().IsAuthenticated)
	page.AssertNotCalled(t, "ReadStorage", mock.Anything, mock.Anything)
}

func TestIsAuthenticatedMissingTokenShortCircuits(t *testing.T) {
	m, _ := newTestManager(t)

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(map[string]string{}, nil)

	assert.False(t, m.IsAuthenticated(context.Background(), page))
	// Without a token the UI signal race is never entered.
	page.AssertNotCalled(t, "WaitVisible", mock.Anything, mock.Anything, mock.Anything)
}

// -- Probe-backed verification --

type stubProbe struct {
	ok  bool
	err error
}

func (s *stubProbe) CheckAuthenticated(ctx context.Context, protectedURL, loginPath string, cookies []schemas.Cookie) (bool, error) {
	return s.ok, s.err
}

func TestVerificationRaceProbeWins(t *testing.T) {
	m, _ := newTestManager(t)
	m.probe = &stubProbe{ok: true}

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
	// Token present but no user entry: the storage poll never succeeds.
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(map[string]string{TokenKey: "tok"}, nil)
	page.On("WaitVisible", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not visible")).Maybe()
	page.On("Cookies", mock.Anything).Return([]schemas.Cookie{{Name: "mgrant_sid", Value: "abc"}}, nil)

	assert.True(t, m.IsAuthenticated(context.Background(), page))
}

func TestVerificationRaceUIMarkerWins(t *testing.T) {
	m, _ := newTestManager(t)

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(map[string]string{TokenKey: "tok"}, nil)
	// First marker visible immediately.
	page.On("WaitVisible", mock.Anything, protectedMarkers[0], mock.Anything).Return(nil)
	page.On("WaitVisible", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not visible")).Maybe()

	assert.True(t, m.IsAuthenticated(context.Background(), page))
}

func TestVerificationRaceAllFail(t *testing.T) {
	m, _ := newTestManager(t)
	m.authCfg.VerifyTimeout = 700 * time.Millisecond

	page := &mocks.MockPageSession{}
	page.On("Navigate", mock.Anything, testDashboard).Return(nil)
	page.On("CurrentURL", mock.Anything).Return(testDashboard, nil)
	page.On("ReadStorage", mock.Anything, schemas.StorageSession).Return(map[string]string{TokenKey: "tok"}, nil)
	page.On("WaitVisible", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("not visible"))

	start := time.Now()
	assert.False(t, m.IsAuthenticated(context.Background(), page))
	assert.Less(t, time.Since(start), 5*time.Second, "race must respect the verify timeout")
}
