// File: internal/capture/capture.go

// Package capture runs a local forward proxy the browser is pointed at, so
// the run record carries the app traffic each module generated. HTTPS is
// tunneled through untouched; the plain-HTTP view is enough to see which API
// calls a failing module made.
package capture

import (
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/elazarl/goproxy"
	"go.uber.org/zap"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
	"github.com/mgrantlabs/mgrant-e2e/internal/config"
)

// Proxy is the capture proxy. Entries are tagged with the module executing
// at the time the request was observed.
type Proxy struct {
	cfg    config.CaptureConfig
	logger *zap.Logger

	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	module  string
	entries []schemas.TrafficEntry
}

// NewProxy creates a capture proxy. The listener opens in Start.
func NewProxy(cfg config.CaptureConfig, logger *zap.Logger) *Proxy {
	return &Proxy{
		cfg:    cfg,
		logger: logger.Named("capture"),
	}
}

// Start binds the listener and serves the proxy in the background.
func (p *Proxy) Start() error {
	handler := goproxy.NewProxyHttpServer()
	handler.Logger = zap.NewStdLog(p.logger)

	handler.OnRequest().DoFunc(func(req *http.Request, ctx *goproxy.ProxyCtx) (*http.Request, *http.Response) {
		ctx.UserData = time.Now()
		return req, nil
	})
	handler.OnResponse().DoFunc(func(resp *http.Response, ctx *goproxy.ProxyCtx) *http.Response {
		p.record(ctx, resp)
		return resp
	})

	ln, err := net.Listen("tcp", p.cfg.Addr)
	if err != nil {
		return fmt.Errorf("capture proxy cannot listen on %q: %w", p.cfg.Addr, err)
	}
	p.listener = ln
	p.server = &http.Server{Handler: handler}

	go func() {
		if err := p.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			p.logger.Warn("Capture proxy stopped.", zap.Error(err))
		}
	}()

	p.logger.Info("Capture proxy listening.", zap.String("addr", p.Addr()))
	return nil
}

// Addr returns the bound address, valid after Start.
func (p *Proxy) Addr() string {
	if p.listener == nil {
		return ""
	}
	return p.listener.Addr().String()
}

// SetModule tags subsequent entries with the currently executing module.
func (p *Proxy) SetModule(name string) {
	p.mu.Lock()
	p.module = name
	p.mu.Unlock()
}

func (p *Proxy) record(ctx *goproxy.ProxyCtx, resp *http.Response) {
	if ctx.Req == nil {
		return
	}

	var elapsed time.Duration
	if started, ok := ctx.UserData.(time.Time); ok {
		elapsed = time.Since(started)
	}
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}

	p.mu.Lock()
	p.entries = append(p.entries, schemas.TrafficEntry{
		Module:   p.module,
		Method:   ctx.Req.Method,
		URL:      ctx.Req.URL.String(),
		Status:   status,
		Duration: elapsed,
	})
	p.mu.Unlock()
}

// Entries returns a copy of everything observed so far.
func (p *Proxy) Entries() []schemas.TrafficEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]schemas.TrafficEntry, len(p.entries))
	copy(out, p.entries)
	return out
}

// Close shuts the proxy down. Safe to call without Start.
func (p *Proxy) Close() error {
	if p.server == nil {
		return nil
	}
	return p.server.Close()
}
