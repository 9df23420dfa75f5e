// File: internal/browser/session.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Session is the chromedp-backed implementation of schemas.PageSession: one
// tab, shared by every module in the run.
type Session struct {
	id     string
	ctx    context.Context
	cfg    *config.Config
	logger *zap.Logger

	// limiter paces page actions when slow_mo is configured, so headed runs
	// are watchable and debounced app handlers get a chance to fire.
	limiter *rate.Limiter

	mu       sync.Mutex
	isClosed bool
}

var _ schemas.PageSession = (*Session)(nil)

func newSession(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Session, error) {
	sessionID := uuid.New().String()

	s := &Session{
		id:     sessionID,
		ctx:    ctx,
		cfg:    cfg,
		logger: logger.With(zap.String("session_id", sessionID)),
	}
	if cfg.Browser.SlowMo > 0 {
		s.limiter = rate.NewLimiter(rate.Every(cfg.Browser.SlowMo), 1)
	}
	return s, nil
}

// ID returns the unique identifier for the session.
func (s *Session) ID() string { return s.id }

// CombineContext derives a context from the session context (which carries
// the CDP target) that is additionally canceled when the operational context
// ends. chromedp requires the target values, so deriving from opCtx directly
// would disconnect the action from the browser.
func CombineContext(sessionCtx, opCtx context.Context) (context.Context, context.CancelFunc) {
	combined, cancel := context.WithCancel(sessionCtx)
	go func() {
		select {
		case <-opCtx.Done():
			cancel()
		case <-combined.Done():
		}
	}()
	return combined, cancel
}

// runActions executes chromedp actions respecting both the session lifetime
// and the caller's context, after the pacing gate.
func (s *Session) runActions(ctx context.Context, actions ...chromedp.Action) error {
	if s.limiter != nil {
		if err := s.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	runCtx, cancel := CombineContext(s.ctx, ctx)
	defer cancel()
	return chromedp.Run(runCtx, actions...)
}

// actionTimeout applies the configured per-action bound.
func (s *Session) actionTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	timeout := s.cfg.Network.ActionTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return context.WithTimeout(ctx, timeout)
}

// Navigate loads the URL and waits for the page to settle.
func (s *Session) Navigate(ctx context.Context, url string) error {
	s.logger.Debug("Navigating.", zap.String("url", url))

	navTimeout := s.cfg.Network.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Navigate(url)); err != nil {
		if navCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
			return fmt.Errorf("navigation to %s timed out after %s: %w", url, navTimeout, err)
		}
		return fmt.Errorf("navigation to %s failed: %w", url, err)
	}

	return s.stabilize(ctx)
}

// stabilize waits for the DOM to be ready plus the configured post-load
// quiet period. Failures here are logged, not fatal: an app that renders
// without a body-ready event is the module's problem to detect.
func (s *Session) stabilize(ctx context.Context) error {
	stabCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := s.runActions(stabCtx, chromedp.WaitReady("body", chromedp.ByQuery)); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		s.logger.Debug("WaitReady failed during stabilization.", zap.Error(err))
	}

	if wait := s.cfg.Network.PostLoadWait; wait > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil
}

// WaitVisible blocks until the selector is visible or the timeout lapses.
func (s *Session) WaitVisible(ctx context.Context, selector string, timeout time.Duration) error {
	if timeout <= 0 {
		timeout = s.cfg.Network.ActionTimeout
	}
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := s.runActions(waitCtx, chromedp.WaitVisible(selector, chromedp.ByQuery)); err != nil {
		return fmt.Errorf("element %q not visible within %s: %w", selector, timeout, err)
	}
	return nil
}

// Click scrolls to and clicks the first element matching the selector.
func (s *Session) Click(ctx context.Context, selector string) error {
	s.logger.Debug("Clicking.", zap.String("selector", selector))

	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	err := s.runActions(opCtx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Click(selector, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("click failed for selector %q: %w", selector, err)
	}
	return nil
}

// Fill clears the field and types the value.
func (s *Session) Fill(ctx context.Context, selector, value string) error {
	s.logger.Debug("Filling.", zap.String("selector", selector), zap.Int("value_length", len(value)))

	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	err := s.runActions(opCtx, chromedp.Tasks{
		chromedp.ScrollIntoView(selector, chromedp.ByQuery),
		chromedp.WaitVisible(selector, chromedp.ByQuery),
		chromedp.Clear(selector, chromedp.ByQuery),
		chromedp.SendKeys(selector, value, chromedp.ByQuery),
	})
	if err != nil {
		return fmt.Errorf("fill failed for selector %q: %w", selector, err)
	}
	return nil
}

// Text returns the element's trimmed text content.
func (s *Session) Text(ctx context.Context, selector string) (string, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	var out string
	if err := s.runActions(opCtx, chromedp.Text(selector, &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("reading text of %q: %w", selector, err)
	}
	return strings.TrimSpace(out), nil
}

// Evaluate runs a script in page context; out may be nil to discard the
// result.
func (s *Session) Evaluate(ctx context.Context, script string, out any) error {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	if err := s.runActions(opCtx, chromedp.Evaluate(script, out)); err != nil {
		return fmt.Errorf("script evaluation failed: %w", err)
	}
	return nil
}

// Screenshot captures a full-page PNG.
func (s *Session) Screenshot(ctx context.Context) ([]byte, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	var buf []byte
	if err := s.runActions(opCtx, chromedp.FullScreenshot(&buf, 90)); err != nil {
		return nil, fmt.Errorf("screenshot capture failed: %w", err)
	}
	return buf, nil
}

// HTML returns the serialized document.
func (s *Session) HTML(ctx context.Context) (string, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	var out string
	if err := s.runActions(opCtx, chromedp.OuterHTML("html", &out, chromedp.ByQuery)); err != nil {
		return "", fmt.Errorf("document capture failed: %w", err)
	}
	return out, nil
}

// Cookies reads all cookies visible to the session.
func (s *Session) Cookies(ctx context.Context) ([]schemas.Cookie, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	var cookies []schemas.Cookie
	err := s.runActions(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		raw, err := network.GetCookies().Do(c)
		if err != nil {
			return err
		}
		cookies = make([]schemas.Cookie, 0, len(raw))
		for _, ck := range raw {
			cookies = append(cookies, schemas.Cookie{
				Name:     ck.Name,
				Value:    ck.Value,
				Domain:   ck.Domain,
				Path:     ck.Path,
				Expires:  ck.Expires,
				HTTPOnly: ck.HTTPOnly,
				Secure:   ck.Secure,
				SameSite: string(ck.SameSite),
			})
		}
		return nil
	}))
	if err != nil {
		return nil, fmt.Errorf("reading cookies: %w", err)
	}
	return cookies, nil
}

// SetCookies installs cookies into the browser.
func (s *Session) SetCookies(ctx context.Context, cookies []schemas.Cookie) error {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	err := s.runActions(opCtx, chromedp.ActionFunc(func(c context.Context) error {
		for _, ck := range cookies {
			p := network.SetCookie(ck.Name, ck.Value).
				WithDomain(ck.Domain).
				WithPath(ck.Path).
				WithHTTPOnly(ck.HTTPOnly).
				WithSecure(ck.Secure)
			if ck.Expires > 0 {
				expires := cdp.TimeSinceEpoch(time.Unix(int64(ck.Expires), 0))
				p = p.WithExpires(&expires)
			}
			if ck.SameSite != "" {
				p = p.WithSameSite(network.CookieSameSite(ck.SameSite))
			}
			if err := p.Do(c); err != nil {
				return fmt.Errorf("setting cookie %q: %w", ck.Name, err)
			}
		}
		return nil
	}))
	if err != nil {
		return fmt.Errorf("installing cookies: %w", err)
	}
	return nil
}

// ClearCookies drops all browser cookies.
func (s *Session) ClearCookies(ctx context.Context) error {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	if err := s.runActions(opCtx, network.ClearBrowserCookies()); err != nil {
		return fmt.Errorf("clearing cookies: %w", err)
	}
	return nil
}

// jsDumpStorage returns an IIFE that snapshots one storage area as an object.
func jsDumpStorage(kind schemas.StorageKind) string {
	return fmt.Sprintf(`(function() {
        let items = {};
        try {
            const s = window.%s;
            if (s) {
                for (let i = 0; i < s.length; i++) {
                    const k = s.key(i);
                    if (k !== null) { items[k] = s.getItem(k); }
                }
            }
        } catch (e) { /* SecurityError or storage disabled */ }
        return items;
    })()`, kind)
}

// ReadStorage dumps one web storage area.
func (s *Session) ReadStorage(ctx context.Context, kind schemas.StorageKind) (map[string]string, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	items := make(map[string]string)
	if err := s.runActions(opCtx, chromedp.Evaluate(jsDumpStorage(kind), &items)); err != nil {
		return nil, fmt.Errorf("reading %s: %w", kind, err)
	}
	return items, nil
}

// WriteStorage writes entries into one storage area.
func (s *Session) WriteStorage(ctx context.Context, kind schemas.StorageKind, items map[string]string) error {
	if len(items) == 0 {
		return nil
	}

	payload, err := json.Marshal(items)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", kind, err)
	}

	script := fmt.Sprintf(`(function() {
        const items = %s;
        for (const k of Object.keys(items)) {
            window.%s.setItem(k, items[k]);
        }
    })()`, payload, kind)

	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	if err := s.runActions(opCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("writing %s: %w", kind, err)
	}
	return nil
}

// ClearStorage empties both storage areas.
func (s *Session) ClearStorage(ctx context.Context) error {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	script := `(function() {
        try { window.localStorage.clear(); } catch (e) {}
        try { window.sessionStorage.clear(); } catch (e) {}
    })()`
	if err := s.runActions(opCtx, chromedp.Evaluate(script, nil)); err != nil {
		return fmt.Errorf("clearing storage: %w", err)
	}
	return nil
}

// Reload reloads the current document and waits for it to settle.
func (s *Session) Reload(ctx context.Context) error {
	navTimeout := s.cfg.Network.NavigationTimeout
	if navTimeout <= 0 {
		navTimeout = 45 * time.Second
	}
	navCtx, cancel := context.WithTimeout(ctx, navTimeout)
	defer cancel()

	if err := s.runActions(navCtx, chromedp.Reload()); err != nil {
		return fmt.Errorf("reload failed: %w", err)
	}
	return s.stabilize(ctx)
}

// CurrentURL reports the page's current address.
func (s *Session) CurrentURL(ctx context.Context) (string, error) {
	opCtx, cancel := s.actionTimeout(ctx)
	defer cancel()

	var url string
	if err := s.runActions(opCtx, chromedp.Location(&url)); err != nil {
		return "", fmt.Errorf("reading location: %w", err)
	}
	return url, nil
}

// Close marks the session closed. The browser process itself is owned by the
// Manager; closing the session only prevents further use.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isClosed {
		return nil
	}
	s.isClosed = true
	s.logger.Debug("Session closed.")
	return nil
}
