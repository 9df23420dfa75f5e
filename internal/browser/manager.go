// File: internal/browser/manager.go
package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// Manager owns the Chrome process and the single page the whole run drives.
// Exactly one session exists per run: that continuity is what lets auth state
// and in-page selections survive across module boundaries.
type Manager struct {
	cfg    *config.Config
	logger *zap.Logger

	allocCancel   context.CancelFunc
	browserCancel context.CancelFunc

	mu       sync.Mutex
	isClosed bool
}

// NewManager creates a browser manager. Chrome is not launched until Start.
func NewManager(cfg *config.Config, logger *zap.Logger) *Manager {
	return &Manager{
		cfg:    cfg,
		logger: logger.Named("browser"),
	}
}

// execOptions translates the browser config into chromedp allocator options.
// proxyAddr, when non-empty, routes all browser traffic through the capture
// proxy.
func execOptions(cfg *config.Config, proxyAddr string) []chromedp.ExecAllocatorOption {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		// Required on hardened/containerized systems.
		chromedp.NoSandbox,
		chromedp.Flag("disable-dev-shm-usage", true),
	)

	if cfg.Browser.Headless {
		opts = append(opts, chromedp.Headless)
	}
	if cfg.Browser.DisableGPU {
		opts = append(opts, chromedp.DisableGPU)
	}
	if cfg.Browser.DisableCache {
		opts = append(opts, chromedp.Flag("disable-application-cache", true))
	}
	if cfg.Browser.IgnoreTLSErrors {
		opts = append(opts, chromedp.Flag("ignore-certificate-errors", true))
	}
	if proxyAddr != "" {
		opts = append(opts, chromedp.ProxyServer(proxyAddr))
	}
	if w, h := cfg.Browser.Viewport["width"], cfg.Browser.Viewport["height"]; w > 0 && h > 0 {
		opts = append(opts, chromedp.WindowSize(w, h))
	}

	// Extra flags from the config file's args slice.
	for _, arg := range cfg.Browser.Args {
		arg = strings.TrimPrefix(arg, "--")
		if key, value, found := strings.Cut(arg, "="); found {
			opts = append(opts, chromedp.Flag(key, value))
		} else {
			opts = append(opts, chromedp.Flag(arg, true))
		}
	}
	return opts
}

// Start launches Chrome and opens the run's one and only page session.
// proxyAddr optionally points the browser at the local capture proxy.
func (m *Manager) Start(ctx context.Context, proxyAddr string) (*Session, error) {
	m.logger.Info("Launching browser.",
		zap.Bool("headless", m.cfg.Browser.Headless),
		zap.String("proxy", proxyAddr))

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, execOptions(m.cfg, proxyAddr)...)
	m.allocCancel = allocCancel

	browserCtx, browserCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			m.logger.Sugar().Debugf(format, args...)
		}),
	)
	m.browserCancel = browserCancel

	// Attach to the target so failures surface here, not on the first action.
	if err := chromedp.Run(browserCtx); err != nil {
		browserCancel()
		allocCancel()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	if len(m.cfg.Network.Headers) > 0 {
		headers := make(network.Headers, len(m.cfg.Network.Headers))
		for k, v := range m.cfg.Network.Headers {
			headers[k] = v
		}
		if err := chromedp.Run(browserCtx, network.SetExtraHTTPHeaders(headers)); err != nil {
			browserCancel()
			allocCancel()
			return nil, fmt.Errorf("failed to apply extra headers: %w", err)
		}
	}

	session, err := newSession(browserCtx, m.cfg, m.logger)
	if err != nil {
		browserCancel()
		allocCancel()
		return nil, err
	}

	m.logger.Info("Browser session ready.", zap.String("session_id", session.ID()))
	return session, nil
}

// Close tears down the browser process. Idempotent.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.isClosed {
		return nil
	}
	m.isClosed = true

	m.logger.Debug("Shutting down browser.")
	if m.browserCancel != nil {
		m.browserCancel()
	}
	if m.allocCancel != nil {
		m.allocCancel()
	}
	return nil
}
