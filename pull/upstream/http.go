package upstream

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"golang.org/x/time/rate"

	"earthfs/kinderr"
	"earthfs/uri"
)

// HTTPClient is the default Client, speaking three endpoints: POST
// /efs/auth, GET /efs/query, GET /efs/file/<algo>/<hash>.
//
// Credentials are sent as an application/x-www-form-urlencoded POST body,
// and the session token is whatever cookie the peer's Set-Cookie header
// returns, replayed verbatim as a Cookie header on every later request
// until a 403 forces re-auth.
var _ Client = (*HTTPClient)(nil)

type HTTPClient struct {
	base       *url.URL
	httpClient *http.Client
	username   string
	password   string
	limiter    *rate.Limiter

	mu     sync.Mutex
	cookie string
}

// NewHTTPClient builds a client against baseURL (e.g. "https://peer.example").
// reconnectsPerSecond bounds how often Auth/Query are allowed to run,
// protecting a flaky peer from a tight reconnect loop on top of the pull
// job's own fixed retry delay.
func NewHTTPClient(baseURL, username, password string, reconnectsPerSecond float64) (*HTTPClient, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, kinderr.New(kinderr.Fatal, "upstream.NewHTTPClient", err)
	}
	return &HTTPClient{
		base:       base,
		httpClient: http.DefaultClient,
		username:   username,
		password:   password,
		limiter:    rate.NewLimiter(rate.Limit(reconnectsPerSecond), 1),
	}, nil
}

func (c *HTTPClient) endpoint(p string) string {
	return strings.TrimRight(c.base.String(), "/") + p
}

// Auth posts credentials to /efs/auth and stores whatever session cookie
// the peer returns.
func (c *HTTPClient) Auth(ctx context.Context) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return kinderr.New(kinderr.Transient, "upstream.Auth", err)
	}

	form := url.Values{"username": {c.username}, "password": {c.password}}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint("/efs/auth"), strings.NewReader(form.Encode()))
	if err != nil {
		return kinderr.New(kinderr.Fatal, "upstream.Auth", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return kinderr.New(kinderr.Transient, "upstream.Auth", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return kinderr.New(kinderr.Transient, "upstream.Auth", fmt.Errorf("status %d", resp.StatusCode))
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return kinderr.New(kinderr.Fatal, "upstream.Auth", fmt.Errorf("no session cookie returned"))
	}

	c.mu.Lock()
	c.cookie = cookies[0].String()
	c.mu.Unlock()
	return nil
}

// SetCookie seeds the session with a cookie saved from an earlier run, so a
// restored pull job can reconnect without an immediate re-auth round-trip.
// A 403 still forces a fresh Auth as usual.
func (c *HTTPClient) SetCookie(cookie string) {
	c.mu.Lock()
	c.cookie = cookie
	c.mu.Unlock()
}

func (c *HTTPClient) sessionCookie(ctx context.Context) (string, error) {
	c.mu.Lock()
	cookie := c.cookie
	c.mu.Unlock()
	if cookie != "" {
		return cookie, nil
	}
	if err := c.Auth(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	cookie = c.cookie
	c.mu.Unlock()
	return cookie, nil
}

func classifyStatus(op string, resp *http.Response) error {
	switch {
	case resp.StatusCode == http.StatusForbidden:
		return kinderr.New(kinderr.AuthRequired, op, fmt.Errorf("status 403"))
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return kinderr.New(kinderr.Transient, op, fmt.Errorf("status %d", resp.StatusCode))
	default:
		return nil
	}
}

// Query opens GET /efs/query?count=all, a line-delimited stream of content
// URIs; the pull readers consume the body this returns one line at a time.
func (c *HTTPClient) Query(ctx context.Context) (io.ReadCloser, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, kinderr.New(kinderr.Transient, "upstream.Query", err)
	}
	cookie, err := c.sessionCookie(ctx)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/efs/query?count=all"), nil)
	if err != nil {
		return nil, kinderr.New(kinderr.Fatal, "upstream.Query", err)
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, kinderr.New(kinderr.Transient, "upstream.Query", err)
	}
	if err := classifyStatus("upstream.Query", resp); err != nil {
		resp.Body.Close()
		return nil, err
	}
	return resp.Body, nil
}

// Fetch retrieves GET /efs/file/<algo>/<hash>.
func (c *HTTPClient) Fetch(ctx context.Context, u uri.ContentURI) (FetchResult, error) {
	cookie, err := c.sessionCookie(ctx)
	if err != nil {
		return FetchResult{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint(fmt.Sprintf("/efs/file/%s/%s", u.Algo, u.Hash)), nil)
	if err != nil {
		return FetchResult{}, kinderr.New(kinderr.Fatal, "upstream.Fetch", err)
	}
	req.Header.Set("Cookie", cookie)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return FetchResult{}, kinderr.New(kinderr.Transient, "upstream.Fetch", err)
	}
	if err := classifyStatus("upstream.Fetch", resp); err != nil {
		resp.Body.Close()
		return FetchResult{}, err
	}
	return FetchResult{Body: resp.Body, ContentType: resp.Header.Get("Content-Type"), ContentLength: resp.ContentLength}, nil
}
