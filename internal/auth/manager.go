// File: internal/auth/manager.go
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// MGrant selectors the auth flow touches. These are the application-specific
// edges of the suite; everything else in this package works through the page
// session interface.
const (
	loginEmailSelector    = `input[name="email"]`
	loginPasswordSelector = `input[name="password"]`
	loginSubmitSelector   = `button[type="submit"]`
)

// protectedMarkers are UI elements that only render on protected pages. Any
// one becoming visible is accepted as proof of an authenticated session.
var protectedMarkers = []string{
	`[data-testid="user-menu"]`,
	`nav[aria-label="Main"]`,
	`.dashboard-header`,
}

// Probe checks authentication out-of-band over HTTP, using cookies captured
// from the browser. Implemented by internal/network; nil disables the signal.
type Probe interface {
	CheckAuthenticated(ctx context.Context, protectedURL, loginPath string, cookies []schemas.Cookie) (bool, error)
}

// errVerified is the sentinel a verification signal returns on success so the
// errgroup cancels its siblings; first signal to succeed wins the race.
var errVerified = errors.New("session verified")

// Manager orchestrates login, session persistence and live verification. It
// exclusively owns the cached State; one Manager exists per run.
type Manager struct {
	appCfg  config.AppConfig
	authCfg config.AuthConfig
	probe   Probe
	logger  *zap.Logger

	state *State
}

var _ schemas.AuthService = (*Manager)(nil)

// NewManager creates an auth manager with an empty state.
func NewManager(appCfg config.AppConfig, authCfg config.AuthConfig, probe Probe, logger *zap.Logger) *Manager {
	return &Manager{
		appCfg:  appCfg,
		authCfg: authCfg,
		probe:   probe,
		logger:  logger.Named("auth"),
		state:   NewState(),
	}
}

// State exposes the current snapshot for inspection. The returned pointer is
// owned by the Manager; callers must not mutate it.
func (m *Manager) State() *State { return m.state }

func (m *Manager) url(path string) string {
	base := m.appCfg.BaseURL
	if path == "" {
		return base
	}
	if base != "" && base[len(base)-1] == '/' {
		base = base[:len(base)-1]
	}
	if path[0] != '/' {
		path = "/" + path
	}
	return base + path
}

// SaveAuthState captures cookies and both storage areas from the live page,
// builds a snapshot and persists it atomically. Page failures propagate as
// *SaveAuthFailedError; a partial snapshot is never left on disk.
func (m *Manager) SaveAuthState(ctx context.Context, page schemas.PageSession) (*State, error) {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return nil, &SaveAuthFailedError{Stage: "cookie capture", Err: err}
	}
	local, err := page.ReadStorage(ctx, schemas.StorageLocal)
	if err != nil {
		return nil, &SaveAuthFailedError{Stage: "localStorage capture", Err: err}
	}
	session, err := page.ReadStorage(ctx, schemas.StorageSession)
	if err != nil {
		return nil, &SaveAuthFailedError{Stage: "sessionStorage capture", Err: err}
	}
	currentURL, err := page.CurrentURL(ctx)
	if err != nil {
		return nil, &SaveAuthFailedError{Stage: "url capture", Err: err}
	}

	state := NewState()
	state.Cookies = cookies
	state.LocalStorage = local
	state.SessionStorage = session
	state.URL = currentURL
	state.Timestamp = time.Now()
	state.IsAuthenticated = state.Token() != ""
	state.Source = SourceLive
	state.resolveUser()

	if err := m.persist(state); err != nil {
		return nil, err
	}

	m.state = state
	m.logger.Info("Auth state saved.",
		zap.String("file", m.authCfg.StateFile),
		zap.Int("cookies", len(cookies)),
		zap.Bool("authenticated", state.IsAuthenticated))
	return state, nil
}

// persist writes the snapshot with a temp-file-then-rename so a crash mid
// write can never leave a truncated snapshot for the next run to trip over.
func (m *Manager) persist(state *State) error {
	data, err := state.Serialize()
	if err != nil {
		return &SaveAuthFailedError{Stage: "serialization", Err: err}
	}

	dir := filepath.Dir(m.authCfg.StateFile)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return &SaveAuthFailedError{Stage: "directory creation", Err: err}
	}

	tmp, err := os.CreateTemp(dir, ".auth-state-*.json")
	if err != nil {
		return &SaveAuthFailedError{Stage: "temp file creation", Err: err}
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return &SaveAuthFailedError{Stage: "write", Err: err}
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return &SaveAuthFailedError{Stage: "write", Err: err}
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		os.Remove(tmpName)
		return &SaveAuthFailedError{Stage: "chmod", Err: err}
	}
	if err := os.Rename(tmpName, m.authCfg.StateFile); err != nil {
		os.Remove(tmpName)
		return &SaveAuthFailedError{Stage: "rename", Err: err}
	}
	return nil
}

// LoadAuthState restores a persisted snapshot into the live page: navigate to
// the base URL, inject sessionStorage first (the source of truth), then
// localStorage, then cookies, then reload so the app re-reads storage.
// Returns false for any absent, stale, corrupt or uninjectable snapshot —
// never an error, because "no session" is a normal state.
func (m *Manager) LoadAuthState(ctx context.Context, page schemas.PageSession) bool {
	data, err := os.ReadFile(m.authCfg.StateFile)
	if err != nil {
		if !os.IsNotExist(err) {
			m.logger.Warn("Could not read auth snapshot.", zap.Error(err))
		}
		return false
	}

	state, err := Deserialize(data)
	if err != nil {
		m.logger.Warn("Discarding corrupt auth snapshot.", zap.Error(err))
		m.state = m.state.Reset("corrupt snapshot", m.logger)
		return false
	}

	if m.authCfg.MaxAge > 0 && time.Since(state.Timestamp) > m.authCfg.MaxAge {
		m.logger.Info("Auth snapshot is too old, ignoring.",
			zap.Time("captured", state.Timestamp),
			zap.Duration("max_age", m.authCfg.MaxAge))
		m.state = m.state.Reset("snapshot expired", m.logger)
		return false
	}

	if !state.Validate(m.logger) {
		m.state = m.state.Reset("snapshot failed validation", m.logger)
		return false
	}

	if err := m.inject(ctx, page, state); err != nil {
		m.logger.Warn("Could not restore auth snapshot into the page.", zap.Error(err))
		m.state = m.state.Reset("snapshot injection failed", m.logger)
		return false
	}

	m.state = state
	m.logger.Info("Auth state restored from snapshot.",
		zap.Time("captured", state.Timestamp),
		zap.Int("cookies", len(state.Cookies)))
	return true
}

func (m *Manager) inject(ctx context.Context, page schemas.PageSession, state *State) error {
	if err := page.Navigate(ctx, m.appCfg.BaseURL); err != nil {
		return fmt.Errorf("navigating to base url: %w", err)
	}
	if err := page.WriteStorage(ctx, schemas.StorageSession, state.SessionStorage); err != nil {
		return fmt.Errorf("injecting sessionStorage: %w", err)
	}
	if err := page.WriteStorage(ctx, schemas.StorageLocal, state.LocalStorage); err != nil {
		return fmt.Errorf("injecting localStorage: %w", err)
	}
	if len(state.Cookies) > 0 {
		if err := page.SetCookies(ctx, state.Cookies); err != nil {
			return fmt.Errorf("injecting cookies: %w", err)
		}
	}
	if err := page.Reload(ctx); err != nil {
		return fmt.Errorf("reloading after injection: %w", err)
	}
	return nil
}

// PerformLogin submits credentials through the login form, waits for the app
// to mint a token, then verifies access to a protected route. Exactly one
// attempt; failure resets the cached state so a stale "authenticated" can
// never survive a rejected login.
func (m *Manager) PerformLogin(ctx context.Context, page schemas.PageSession, creds schemas.Credentials) bool {
	m.logger.Info("Performing live login.", zap.String("user", creds.Username))

	// Start clean so leftovers from a previous session cannot fake success.
	if err := page.Navigate(ctx, m.appCfg.BaseURL); err != nil {
		m.logger.Error("Login failed: cannot reach application.", zap.Error(err))
		return m.loginFailed("application unreachable")
	}
	if err := page.ClearStorage(ctx); err != nil {
		m.logger.Warn("Could not clear storage before login.", zap.Error(err))
	}
	if err := page.ClearCookies(ctx); err != nil {
		m.logger.Warn("Could not clear cookies before login.", zap.Error(err))
	}

	if err := page.Navigate(ctx, m.url(m.appCfg.LoginPath)); err != nil {
		m.logger.Error("Login failed: cannot open login page.", zap.Error(err))
		return m.loginFailed("login page unreachable")
	}

	actionTimeout := 10 * time.Second
	if err := page.WaitVisible(ctx, loginEmailSelector, actionTimeout); err != nil {
		m.logger.Error("Login failed: login form not found.", zap.Error(err))
		return m.loginFailed("login form not found")
	}
	if err := page.Fill(ctx, loginEmailSelector, creds.Username); err != nil {
		m.logger.Error("Login failed: cannot fill email.", zap.Error(err))
		return m.loginFailed("email field not fillable")
	}
	if err := page.Fill(ctx, loginPasswordSelector, creds.Password); err != nil {
		m.logger.Error("Login failed: cannot fill password.", zap.Error(err))
		return m.loginFailed("password field not fillable")
	}
	if err := page.Click(ctx, loginSubmitSelector); err != nil {
		m.logger.Error("Login failed: cannot submit form.", zap.Error(err))
		return m.loginFailed("submit not clickable")
	}

	loginTimeout := m.authCfg.LoginTimeout
	if loginTimeout <= 0 {
		loginTimeout = 30 * time.Second
	}
	if !m.waitForToken(ctx, page, loginTimeout) {
		m.logger.Error("Login failed: no auth token appeared.",
			zap.Duration("waited", loginTimeout))
		return m.loginFailed("credentials rejected or token never appeared")
	}

	if err := page.Navigate(ctx, m.url(m.appCfg.ProtectedPath)); err != nil {
		m.logger.Error("Login failed: cannot open protected route.", zap.Error(err))
		return m.loginFailed("protected route unreachable")
	}
	if !m.verifyProtectedAccess(ctx, page) {
		m.logger.Error("Login failed: protected route never confirmed the session.")
		return m.loginFailed("protected route verification failed")
	}

	if _, err := m.SaveAuthState(ctx, page); err != nil {
		// The session is live even if caching it failed; the next run just
		// pays for a fresh login.
		m.logger.Warn("Login succeeded but the session could not be cached.", zap.Error(err))
		m.state = NewState()
		m.state.IsAuthenticated = true
		m.state.Source = SourceLive
	}

	m.logger.Info("Login successful.")
	return true
}

func (m *Manager) loginFailed(reason string) bool {
	m.state = m.state.Reset(reason, m.logger)
	return false
}

// waitForToken polls sessionStorage until the app mints an auth token or the
// bound elapses.
func (m *Manager) waitForToken(ctx context.Context, page schemas.PageSession, bound time.Duration) bool {
	waitCtx, cancel := context.WithTimeout(ctx, bound)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		items, err := page.ReadStorage(waitCtx, schemas.StorageSession)
		if err == nil && items[TokenKey] != "" {
			return true
		}
		select {
		case <-waitCtx.Done():
			return false
		case <-ticker.C:
		}
	}
}

// IsAuthenticated checks the live session against a protected route. The
// token check runs first and its absence short-circuits to false — it is the
// cheaper and more reliable signal. With a token present, any recognizable
// protected-page UI marker is trusted as authenticated even when the token
// check alone is ambiguous.
func (m *Manager) IsAuthenticated(ctx context.Context, page schemas.PageSession) bool {
	if err := page.Navigate(ctx, m.url(m.appCfg.ProtectedPath)); err != nil {
		m.logger.Warn("Cannot reach protected route for auth check.", zap.Error(err))
		return false
	}

	// Redirect-to-login is the app's own way of saying the session is dead.
	if current, err := page.CurrentURL(ctx); err == nil && m.looksLikeLogin(current) {
		m.logger.Info("Redirected to login; session expired.")
		m.state = m.state.Reset("redirect to login observed", m.logger)
		return false
	}

	items, err := page.ReadStorage(ctx, schemas.StorageSession)
	if err != nil || items[TokenKey] == "" {
		m.logger.Debug("Auth check failed: no token in sessionStorage.")
		return false
	}

	return m.verifyProtectedAccess(ctx, page)
}

func (m *Manager) looksLikeLogin(url string) bool {
	return m.appCfg.LoginPath != "" && strings.Contains(url, m.appCfg.LoginPath)
}

// verifyProtectedAccess races independent "are we logged in" signals within
// the verify timeout: an in-page storage poll, the protected-page UI markers
// and an out-of-band HTTP probe with the captured cookies. The first signal
// to succeed wins and cancels the rest; all failing within the bound means
// not authenticated.
func (m *Manager) verifyProtectedAccess(ctx context.Context, page schemas.PageSession) bool {
	verifyTimeout := m.authCfg.VerifyTimeout
	if verifyTimeout <= 0 {
		verifyTimeout = 15 * time.Second
	}
	raceCtx, cancel := context.WithTimeout(ctx, verifyTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(raceCtx)

	g.Go(func() error { return m.signalStoragePoll(gctx, page) })
	g.Go(func() error { return m.signalUIMarker(gctx, page) })
	if m.probe != nil {
		g.Go(func() error { return m.signalHTTPProbe(gctx, page) })
	}

	err := g.Wait()
	if errors.Is(err, errVerified) {
		return true
	}
	if err != nil && !errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, context.Canceled) {
		m.logger.Debug("Verification race ended without success.", zap.Error(err))
	}
	return false
}

func (m *Manager) signalStoragePoll(ctx context.Context, page schemas.PageSession) error {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		items, err := page.ReadStorage(ctx, schemas.StorageSession)
		if err == nil && items[TokenKey] != "" && items[UserKey] != "" {
			return errVerified
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (m *Manager) signalUIMarker(ctx context.Context, page schemas.PageSession) error {
	for {
		for _, marker := range protectedMarkers {
			if err := page.WaitVisible(ctx, marker, 2*time.Second); err == nil {
				return errVerified
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
}

func (m *Manager) signalHTTPProbe(ctx context.Context, page schemas.PageSession) error {
	cookies, err := page.Cookies(ctx)
	if err != nil {
		return ctx.Err()
	}
	ok, err := m.probe.CheckAuthenticated(ctx, m.url(m.appCfg.ProtectedPath), m.appCfg.LoginPath, cookies)
	if err != nil {
		return ctx.Err()
	}
	if ok {
		return errVerified
	}
	// A definitive negative from the probe is not proof the browser session
	// is dead (cookie-only probes miss storage-based auth); just bow out and
	// let the in-page signals decide.
	<-ctx.Done()
	return ctx.Err()
}

// EnsureAuthenticated is the cache-first entry point: restore the persisted
// snapshot and verify it against the live app, and only fall back to a
// network login when either step fails. Skipping repeated logins is the whole
// point of the auth cache.
func (m *Manager) EnsureAuthenticated(ctx context.Context, page schemas.PageSession, creds schemas.Credentials) bool {
	if m.LoadAuthState(ctx, page) && m.IsAuthenticated(ctx, page) {
		m.logger.Info("Reusing cached session; login skipped.")
		return true
	}
	return m.PerformLogin(ctx, page, creds)
}
