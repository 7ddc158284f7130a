// Package panel is a client for the subscription panel HTTP API: login,
// per-client traffic lookup, inbound listing and client provisioning.
package panel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nexguard/nexbot/internal/metrics"
	"github.com/rs/zerolog/log"
)

var (
	// ErrNotFound is returned when the panel has no client with the requested name.
	ErrNotFound = errors.New("panel: not found")
	// ErrUnauthorized is returned when the panel rejects the credentials, or
	// still rejects a request after one re-login.
	ErrUnauthorized = errors.New("panel: unauthorized")
)

const gigabyte = 1024 * 1024 * 1024

// CredentialStore persists the session cookie across restarts.
type CredentialStore interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, credential string) error
}

// ClientOpts configures a Client.
type ClientOpts struct {
	BaseURL     string
	Username    string
	Password    string
	Timeout     time.Duration
	Credentials CredentialStore   // optional
	HTTPClient  *http.Client      // optional; redirects are never followed
	Metrics     *metrics.Recorder // optional
	Now         func() time.Time  // optional, for tests
	NewID       func() string     // optional, for tests
}

// Client talks to the panel. It caches one session cookie and re-logs in
// at most once per request when the panel answers 401 or 403.
type Client struct {
	baseURL  string
	username string
	password string
	http     *http.Client
	creds    CredentialStore
	metrics  *metrics.Recorder
	now      func() time.Time
	newID    func() string

	mu     sync.Mutex
	cookie string
	loaded bool
}

// NewClient validates opts and returns a Client. No request is made.
func NewClient(opts ClientOpts) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, fmt.Errorf("panel: base URL is required")
	}
	hc := opts.HTTPClient
	if hc == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		hc = &http.Client{Timeout: timeout}
	}
	// Login answers with a redirect; the cookie must be read from it.
	noRedirect := *hc
	noRedirect.CheckRedirect = func(*http.Request, []*http.Request) error {
		return http.ErrUseLastResponse
	}
	c := &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		username: opts.Username,
		password: opts.Password,
		http:     &noRedirect,
		creds:    opts.Credentials,
		metrics:  opts.Metrics,
		now:      opts.Now,
		newID:    opts.NewID,
	}
	if c.now == nil {
		c.now = time.Now
	}
	if c.newID == nil {
		c.newID = uuid.NewString
	}
	return c, nil
}

// envelope is the panel's response wrapper.
type envelope struct {
	Success bool            `json:"success"`
	Msg     string          `json:"msg"`
	Obj     json.RawMessage `json:"obj"`
}

// Login acquires a fresh session cookie, replacing the cached one, and
// persists it when a CredentialStore is configured.
func (c *Client) Login(ctx context.Context) error {
	body, err := json.Marshal(map[string]string{
		"username": c.username,
		"password": c.password,
	})
	if err != nil {
		return fmt.Errorf("panel: login: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/login", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("panel: login: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Upstream("panel", time.Since(start), err)
		return fmt.Errorf("panel: login: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		c.metrics.Upstream("panel", time.Since(start), ErrUnauthorized)
		return fmt.Errorf("panel: login: %w", ErrUnauthorized)
	}
	var env envelope
	if data, _ := io.ReadAll(resp.Body); len(data) > 0 {
		if json.Unmarshal(data, &env) == nil && !env.Success && env.Msg != "" {
			c.metrics.Upstream("panel", time.Since(start), ErrUnauthorized)
			return fmt.Errorf("panel: login: %s: %w", env.Msg, ErrUnauthorized)
		}
	}
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		err := fmt.Errorf("panel: login: no session cookie in response (status %d)", resp.StatusCode)
		c.metrics.Upstream("panel", time.Since(start), err)
		return err
	}
	c.metrics.Upstream("panel", time.Since(start), nil)

	cookie := cookies[0].Name + "=" + cookies[0].Value
	c.mu.Lock()
	c.cookie = cookie
	c.loaded = true
	c.mu.Unlock()

	if c.creds != nil {
		if err := c.creds.Save(ctx, cookie); err != nil {
			log.Warn().Err(err).Msg("panel: persist session cookie")
		}
	}
	log.Info().Msg("panel: logged in")
	return nil
}

// session returns the cached cookie, loading it from the CredentialStore or
// logging in when nothing is cached.
func (c *Client) session(ctx context.Context) (string, error) {
	c.mu.Lock()
	if c.cookie != "" {
		cookie := c.cookie
		c.mu.Unlock()
		return cookie, nil
	}
	tryStore := !c.loaded && c.creds != nil
	c.loaded = true
	c.mu.Unlock()

	if tryStore {
		cookie, err := c.creds.Load(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("panel: load cached session cookie")
		}
		if cookie != "" {
			c.mu.Lock()
			c.cookie = cookie
			c.mu.Unlock()
			return cookie, nil
		}
	}
	if err := c.Login(ctx); err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cookie, nil
}

// do sends an authenticated request and decodes the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body []byte) (*envelope, error) {
	cookie, err := c.session(ctx)
	if err != nil {
		return nil, err
	}
	resp, err := c.send(ctx, method, path, body, cookie)
	if err != nil {
		return nil, err
	}
	if isAuthFailure(resp.StatusCode) {
		resp.Body.Close()
		log.Info().Str("path", path).Int("status", resp.StatusCode).Msg("panel: session rejected, logging in again")
		if err := c.Login(ctx); err != nil {
			return nil, err
		}
		c.mu.Lock()
		cookie = c.cookie
		c.mu.Unlock()
		resp, err = c.send(ctx, method, path, body, cookie)
		if err != nil {
			return nil, err
		}
		if isAuthFailure(resp.StatusCode) {
			resp.Body.Close()
			return nil, fmt.Errorf("panel: %s %s: %w", method, path, ErrUnauthorized)
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("panel: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("panel: %s %s: decode: %w", method, path, err)
	}
	return &env, nil
}

func (c *Client) send(ctx context.Context, method, path string, body []byte, cookie string) (*http.Response, error) {
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, rdr)
	if err != nil {
		return nil, fmt.Errorf("panel: %s %s: %w", method, path, err)
	}
	req.Header.Set("Cookie", cookie)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.metrics.Upstream("panel", time.Since(start), err)
		return nil, fmt.Errorf("panel: %s %s: %w", method, path, err)
	}
	var failed error
	if resp.StatusCode >= 400 {
		failed = fmt.Errorf("status %d", resp.StatusCode)
	}
	c.metrics.Upstream("panel", time.Since(start), failed)
	return resp, nil
}

func isAuthFailure(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
