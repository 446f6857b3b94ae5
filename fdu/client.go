// Package fdu implements the core client for Fudan University's web
// portals: UIS single sign-on plus session plumbing shared by the
// service-specific sub-packages (grades, jwfw, ecard, daily, xk).
package fdu

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/fduhole/fdusdk/internal/metrics"
	"github.com/fduhole/fdusdk/internal/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/net/publicsuffix"
	"golang.org/x/time/rate"
)

const (
	// The portals reject unfamiliar user agents, so the client presents a
	// desktop browser.
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML like Gecko) Chrome/91.0.4472.114 Safari/537.36"

	defaultTimeout = 30 * time.Second
)

// BaseURLs holds the entry points of the campus systems. Tests point these
// at a local mock server.
type BaseURLs struct {
	UIS   string // single sign-on (authserver)
	JWFW  string // academic affairs system
	My    string // my.fudan information portal
	ECard string // campus card services
	Zlapp string // daily check-in app
	XK    string // course election system
}

// DefaultBaseURLs returns the production portal endpoints.
func DefaultBaseURLs() BaseURLs {
	return BaseURLs{
		UIS:   "https://uis.fudan.edu.cn/authserver",
		JWFW:  "https://jwfw.fudan.edu.cn",
		My:    "https://my.fudan.edu.cn",
		ECard: "https://ecard.fudan.edu.cn",
		Zlapp: "https://zlapp.fudan.edu.cn",
		XK:    "https://xk.fudan.edu.cn",
	}
}

// Page is the outcome of a portal round trip after redirects.
type Page struct {
	Status int
	URL    *url.URL // final URL, after any redirects
	Body   string
}

// Client is an authenticated HTTP session against the campus portals.
// It is safe for concurrent use.
type Client struct {
	http    *http.Client
	bases   BaseURLs
	limiter *rate.Limiter
	breaker *CircuitBreaker

	mu       sync.RWMutex
	uid      string
	pwd      string
	loggedIn bool
}

// Option configures a Client.
type Option func(*Client)

// WithBaseURLs overrides the portal endpoints.
func WithBaseURLs(b BaseURLs) Option {
	return func(c *Client) { c.bases = b }
}

// WithTimeout overrides the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.http.Timeout = d }
}

// WithCookieJar replaces the cookie jar, e.g. with a persisting one.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.http.Jar = jar }
}

// WithRateLimit paces portal requests. The course election system bans
// sessions that request faster than roughly one call per 1.5 seconds.
func WithRateLimit(r rate.Limit, burst int) Option {
	return func(c *Client) { c.limiter = rate.NewLimiter(r, burst) }
}

// WithCircuitBreaker replaces the default breaker settings.
func WithCircuitBreaker(threshold int, resetTimeout time.Duration) Option {
	return func(c *Client) { c.breaker = NewCircuitBreaker("portal", threshold, resetTimeout) }
}

// WithTracing wraps the transport with OpenTelemetry instrumentation.
func WithTracing() Option {
	return func(c *Client) {
		c.http.Transport = otelhttp.NewTransport(c.http.Transport)
	}
}

// New creates a portal client with a fresh cookie jar.
func New(opts ...Option) *Client {
	jar, _ := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	c := &Client{
		http: &http.Client{
			Jar:       jar,
			Timeout:   defaultTimeout,
			Transport: newHeaderTransport(http.DefaultTransport),
		},
		bases:   DefaultBaseURLs(),
		limiter: rate.NewLimiter(rate.Limit(2), 2),
		breaker: NewCircuitBreaker("portal", 5, 30*time.Second),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Bases returns the configured portal endpoints.
func (c *Client) Bases() BaseURLs {
	return c.bases
}

// UID returns the user id of the last login attempt.
func (c *Client) UID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.uid
}

// LoggedIn reports whether the last login on this session succeeded.
func (c *Client) LoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// EnsureLoggedIn returns ErrNotLoggedIn when no login succeeded yet.
func (c *Client) EnsureLoggedIn() error {
	if !c.LoggedIn() {
		return ErrNotLoggedIn
	}
	return nil
}

// headerTransport applies the browser-like default headers to every request.
type headerTransport struct {
	next http.RoundTripper
}

func newHeaderTransport(next http.RoundTripper) http.RoundTripper {
	if next == nil {
		next = http.DefaultTransport
	}
	return &headerTransport{next: next}
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	r := req.Clone(req.Context())
	setIfEmpty := func(key, value string) {
		if r.Header.Get(key) == "" {
			r.Header.Set(key, value)
		}
	}
	setIfEmpty("User-Agent", defaultUserAgent)
	setIfEmpty("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,image/apng,*/*;q=0.8,application/signed-exchange;v=b3;q=0.9")
	setIfEmpty("Accept-Language", "zh-CN,zh;q=0.9,en-US;q=0.8,en;q=0.7")
	setIfEmpty("Cache-Control", "no-cache")
	setIfEmpty("DNT", "1")
	return t.next.RoundTrip(r)
}

// GetPage performs a rate-limited GET and returns the final page.
func (c *Client) GetPage(ctx context.Context, portal, operation, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewPortalError(ErrBadResponse, portal, operation).WithCause(err)
	}
	return c.do(portal, operation, c.http, req)
}

// GetPageNoRedirect is GetPage without redirect following; callers that need
// to observe a 302 (logout) use this.
func (c *Client) GetPageNoRedirect(ctx context.Context, portal, operation, rawURL string) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, NewPortalError(ErrBadResponse, portal, operation).WithCause(err)
	}
	noRedirect := *c.http
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	return c.do(portal, operation, &noRedirect, req)
}

// PostFormPage performs a rate-limited form POST and returns the final page.
func (c *Client) PostFormPage(ctx context.Context, portal, operation, rawURL string, form url.Values) (*Page, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, rawURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, NewPortalError(ErrBadResponse, portal, operation).WithCause(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(portal, operation, c.http, req)
}

func (c *Client) do(portal, operation string, hc *http.Client, req *http.Request) (*Page, error) {
	ctx, span := telemetry.Tracer("fdusdk.portal").Start(req.Context(), portal+"."+operation,
		trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()
	req = req.WithContext(ctx)

	if err := c.limiter.Wait(ctx); err != nil {
		err = NewPortalError(ErrTimeout, portal, operation).WithCause(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	start := time.Now()
	var page *Page
	err := c.breaker.Execute(func() error {
		res, err := hc.Do(req)
		if err != nil {
			return transportError(portal, operation, err)
		}
		defer res.Body.Close() //nolint:errcheck

		body, err := io.ReadAll(res.Body)
		if err != nil {
			return NewPortalError(ErrBadResponse, portal, operation).WithStatus(res.StatusCode).WithCause(err)
		}

		finalURL := req.URL
		if res.Request != nil && res.Request.URL != nil {
			finalURL = res.Request.URL
		}
		page = &Page{Status: res.StatusCode, URL: finalURL, Body: string(body)}

		if res.StatusCode >= 500 {
			return NewPortalError(ErrUpstreamUnavailable, portal, operation).
				WithStatus(res.StatusCode).WithBody(string(body))
		}
		return nil
	})
	metrics.ObservePortalRequest(portal, operation, time.Since(start), err)

	status := 0
	if page != nil {
		status = page.Status
	}
	span.SetAttributes(telemetry.PortalAttributes(portal, operation, status)...)
	if err != nil {
		span.SetAttributes(telemetry.ErrorAttributes(err, errorClass(err))...)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return page, err
	}
	return page, nil
}

func transportError(portal, operation string, err error) error {
	sentinel := ErrUpstreamUnavailable
	var ue *url.Error
	if (errors.As(err, &ue) && ue.Timeout()) || errors.Is(err, context.DeadlineExceeded) {
		sentinel = ErrTimeout
	}
	return NewPortalError(sentinel, portal, operation).WithCause(err)
}
