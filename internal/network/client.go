// File: internal/network/client.go
package network

import (
	"compress/gzip"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"github.com/andybalholm/brotli"
	"go.uber.org/zap"
	"golang.org/x/net/http2"
	"golang.org/x/net/publicsuffix"

	"github.com/mgrantlabs/mgrant-e2e/api/schemas"
)

// Default timeouts for the probe client. The probe hits the one application
// under test, so the pool stays small.
const (
	defaultDialTimeout           = 5 * time.Second
	defaultKeepAliveInterval     = 15 * time.Second
	defaultTLSHandshakeTimeout   = 5 * time.Second
	defaultResponseHeaderTimeout = 10 * time.Second
	defaultRequestTimeout        = 15 * time.Second
)

// ClientConfig holds the settings for the probe HTTP client.
type ClientConfig struct {
	IgnoreTLSErrors bool
	RequestTimeout  time.Duration
	Headers         map[string]string
	Logger          *zap.Logger
}

// Client probes the application over plain HTTP, independently of the
// browser. It keeps its own publicsuffix-aware cookie jar so cookies captured
// from the browser scope correctly, and it follows redirects while recording
// where it ended up — redirect-to-login is an authentication signal.
type Client struct {
	http    *http.Client
	headers map[string]string
	logger  *zap.Logger
}

// NewClient builds the probe client with an HTTP/2-capable transport.
func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaultRequestTimeout
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, fmt.Errorf("creating cookie jar: %w", err)
	}

	dialer := &net.Dialer{
		Timeout:   defaultDialTimeout,
		KeepAlive: defaultKeepAliveInterval,
	}

	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		TLSHandshakeTimeout:   defaultTLSHandshakeTimeout,
		ResponseHeaderTimeout: defaultResponseHeaderTimeout,
		MaxIdleConns:          10,
		MaxIdleConnsPerHost:   5,
		IdleConnTimeout:       30 * time.Second,
		// We decode gzip/br ourselves so the Accept-Encoding header can
		// advertise both.
		DisableCompression: true,
	}
	if cfg.IgnoreTLSErrors {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	if err := http2.ConfigureTransport(transport); err != nil {
		return nil, fmt.Errorf("enabling http2: %w", err)
	}

	return &Client{
		http: &http.Client{
			Transport: transport,
			Jar:       jar,
			Timeout:   cfg.RequestTimeout,
		},
		headers: cfg.Headers,
		logger:  logger.Named("probe"),
	}, nil
}

// seedCookies installs browser-captured cookies into the jar for rawURL's
// host.
func (c *Client) seedCookies(rawURL string, cookies []schemas.Cookie) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("parsing probe url: %w", err)
	}
	httpCookies := make([]*http.Cookie, 0, len(cookies))
	for _, ck := range cookies {
		hc := &http.Cookie{
			Name:     ck.Name,
			Value:    ck.Value,
			Path:     ck.Path,
			Domain:   strings.TrimPrefix(ck.Domain, "."),
			HttpOnly: ck.HTTPOnly,
			Secure:   ck.Secure,
		}
		if ck.Expires > 0 {
			hc.Expires = time.Unix(int64(ck.Expires), 0)
		}
		httpCookies = append(httpCookies, hc)
	}
	c.http.Jar.SetCookies(u, httpCookies)
	return nil
}

// Get fetches rawURL, following redirects, and returns the status, the final
// URL after redirects and the decoded body.
func (c *Client) Get(ctx context.Context, rawURL string) (status int, finalURL string, body []byte, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("building probe request: %w", err)
	}
	req.Header.Set("Accept-Encoding", "gzip, br")
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, "", nil, fmt.Errorf("probe request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err = decodeBody(resp)
	if err != nil {
		return resp.StatusCode, resp.Request.URL.String(), nil, err
	}
	return resp.StatusCode, resp.Request.URL.String(), body, nil
}

// decodeBody inflates the response according to its Content-Encoding.
func decodeBody(resp *http.Response) ([]byte, error) {
	var reader io.Reader = resp.Body
	switch strings.ToLower(resp.Header.Get("Content-Encoding")) {
	case "gzip":
		gz, err := gzip.NewReader(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("opening gzip body: %w", err)
		}
		defer gz.Close()
		reader = gz
	case "br":
		reader = brotli.NewReader(resp.Body)
	}

	body, err := io.ReadAll(io.LimitReader(reader, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading probe body: %w", err)
	}
	return body, nil
}

// CheckAuthenticated reports whether the protected URL is reachable with the
// given browser cookies: HTTP 200 and a final URL that is not the login
// route. This is the out-of-band signal in the auth verification race.
func (c *Client) CheckAuthenticated(ctx context.Context, protectedURL, loginPath string, cookies []schemas.Cookie) (bool, error) {
	if err := c.seedCookies(protectedURL, cookies); err != nil {
		return false, err
	}

	status, finalURL, _, err := c.Get(ctx, protectedURL)
	if err != nil {
		return false, err
	}

	if status != http.StatusOK {
		c.logger.Debug("Probe got non-200 from protected route.", zap.Int("status", status))
		return false, nil
	}
	if loginPath != "" && strings.Contains(finalURL, loginPath) {
		c.logger.Debug("Probe was redirected to login.", zap.String("final_url", finalURL))
		return false, nil
	}
	return true, nil
}
