// Package client implements the student-facing side of the registration
// forms API: browsing open forms, loading a form together with any
// previous submission, and submitting answers. It mirrors the service's
// validation rules through the shared forms package, so bad input is
// caught before a request is made.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"sync"
)

var (
	// ErrUnauthorized is returned when the service rejects our token.
	// The client also flips its logged-out flag.
	ErrUnauthorized = errors.New("not authenticated")

	ErrNotFound = errors.New("not found")
)

// APIError carries a non-2xx response, with the server's detail message
// when one was provided.
type APIError struct {
	Status int
	Detail string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("%d: %s", e.Status, e.Detail)
	}
	return http.StatusText(e.Status)
}

// TokenSource provides the bearer token attached to every request.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource for a token obtained elsewhere.
type StaticToken string

func (t StaticToken) Token() string { return string(t) }

type Client struct {
	base   *url.URL
	http   *http.Client
	tokens TokenSource

	mu          sync.Mutex
	loggedOut   bool
	onLoggedOut func()
}

type Option func(*Client)

// WithHTTPClient replaces the underlying transport. A cookie jar is
// added if the given client has none, since the service also expects
// cookie credentials.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLoggedOutHandler registers a hook invoked once when a request
// comes back 401, so callers can force a new sign-in.
func WithLoggedOutHandler(fn func()) Option {
	return func(c *Client) { c.onLoggedOut = fn }
}

func New(baseURL string, tokens TokenSource, opts ...Option) (*Client, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, err
	}

	c := &Client{
		base:   base,
		http:   &http.Client{},
		tokens: tokens,
	}
	for _, opt := range opts {
		opt(c)
	}

	if c.http.Jar == nil {
		jar, err := cookiejar.New(nil)
		if err != nil {
			return nil, err
		}
		c.http.Jar = jar
	}

	return c, nil
}

// LoggedOut reports whether a previous request was rejected with 401.
func (c *Client) LoggedOut() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loggedOut
}

func (c *Client) markLoggedOut() {
	c.mu.Lock()
	wasLoggedOut := c.loggedOut
	c.loggedOut = true
	c.mu.Unlock()

	if !wasLoggedOut && c.onLoggedOut != nil {
		c.onLoggedOut()
	}
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, "", out)
}

// do sends one authenticated request. The content type defaults to JSON
// unless the body is a multipart payload with its own.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, body io.Reader, contentType string, out any) error {
	u := c.base.JoinPath(path)
	if query != nil {
		u.RawQuery = query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return err
	}
	if token := c.tokens.Token(); token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	if contentType == "" && body != nil {
		contentType = "application/json"
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.markLoggedOut()
		return ErrUnauthorized
	case resp.StatusCode == http.StatusNotFound:
		return ErrNotFound
	case resp.StatusCode >= 300:
		return readAPIError(resp)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func readAPIError(resp *http.Response) error {
	apiErr := &APIError{Status: resp.StatusCode}

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return apiErr
	}

	detail := struct {
		Detail string `json:"detail"`
	}{}
	if json.Unmarshal(raw, &detail) == nil && detail.Detail != "" {
		apiErr.Detail = detail.Detail
	} else {
		apiErr.Detail = strings.TrimSpace(string(raw))
	}
	return apiErr
}

func (c *Client) post(ctx context.Context, path string, body *bytes.Buffer, contentType string, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, contentType, out)
}

func (c *Client) put(ctx context.Context, path string, body *bytes.Buffer, contentType string, out any) error {
	return c.do(ctx, http.MethodPut, path, nil, body, contentType, out)
}
