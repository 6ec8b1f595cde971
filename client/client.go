package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is the authenticated request pipeline. Each call goes through
//
//	send -> 401? -> refresh (single-flight) -> resend once
//
// and any other outcome surfaces as an *APIError. A Client is safe for
// concurrent use.
type Client struct {
	baseURL     string
	apiPrefix   string
	refreshPath string
	timeout     time.Duration
	session     *Session
	httpClient  *http.Client
	logger      *slog.Logger
	newID       func() string
	refresher   *refresher
}

// ClientOption configures a Client
type ClientOption func(*Client)

// WithHTTPClient sets a custom base HTTP client (for TLS config, proxies, etc.)
func WithHTTPClient(client *http.Client) ClientOption {
	return func(c *Client) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithTransport sets a custom base transport
func WithTransport(transport http.RoundTripper) ClientOption {
	return func(c *Client) {
		c.httpClient = &http.Client{Transport: transport}
	}
}

// WithTimeout sets the per-request timeout. Defaults to 30 seconds.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithAPIPrefix sets the versioned path prefix. Defaults to "/api/v1".
func WithAPIPrefix(prefix string) ClientOption {
	return func(c *Client) {
		c.apiPrefix = "/" + strings.Trim(prefix, "/")
		if c.apiPrefix == "/" {
			c.apiPrefix = ""
		}
	}
}

// WithRefreshPath sets the token refresh endpoint, relative to the API prefix
func WithRefreshPath(path string) ClientOption {
	return func(c *Client) {
		c.refreshPath = path
	}
}

// WithLogger sets the logger
func WithLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithRequestIDFunc replaces the correlation id generator
func WithRequestIDFunc(fn func() string) ClientOption {
	return func(c *Client) {
		if fn != nil {
			c.newID = fn
		}
	}
}

// NewClient creates a pipeline for the backend at baseURL using session for credentials.
func NewClient(baseURL string, session *Session, opts ...ClientOption) *Client {
	// Normalize server URL
	baseURL = strings.TrimSpace(baseURL)
	u, err := url.Parse(baseURL)
	if err == nil && u.Scheme != "" && u.Host != "" {
		baseURL = fmt.Sprintf("%s://%s%s", u.Scheme, u.Host, strings.TrimSuffix(u.Path, "/"))
	}
	if session == nil {
		session = NewSession(nil)
	}

	c := &Client{
		baseURL:     strings.TrimSuffix(baseURL, "/"),
		apiPrefix:   DefaultAPIPrefix,
		refreshPath: DefaultRefreshPath,
		timeout:     DefaultTimeout,
		session:     session,
		httpClient:  &http.Client{},
		logger:      slog.Default(),
		newID:       NewRequestID,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.refresher = &refresher{client: c}
	return c
}

// NewClientFromConfig creates a client from environment configuration
func NewClientFromConfig(cfg *Config, session *Session, opts ...ClientOption) *Client {
	cfg.EnsureDefaults()
	opts = append([]ClientOption{WithTimeout(cfg.Timeout)}, opts...)
	return NewClient(cfg.BaseURL(), session, opts...)
}

// Session returns the session this client reads credentials from
func (c *Client) Session() *Session {
	return c.session
}

// BaseURL returns the resolved base URL including the API prefix
func (c *Client) BaseURL() string {
	return c.baseURL + c.apiPrefix
}

// Timeout returns the per-request timeout
func (c *Client) Timeout() time.Duration {
	return c.timeout
}

func (c *Client) newRequestID() string {
	return c.newID()
}

// Do runs req through the pipeline and decodes a JSON success body into out.
// out may be nil. For 204 and empty bodies out is left untouched.
func (c *Client) Do(ctx context.Context, req *Request, out any) error {
	resp, info, err := c.execute(ctx, req)
	if err != nil {
		return err
	}

	if resp.status == http.StatusUnauthorized && !req.SkipAuth && info.authorized {
		c.logger.Debug("access token rejected, refreshing", "path", req.Path, "request_id", info.requestID)
		ok, err := c.refresher.refresh(ctx, info.generation)
		if err != nil {
			return newCancelledError(firstNonEmpty(resp.echoedID, info.requestID), err)
		}
		if !ok {
			c.logger.Warn("session expired", "path", req.Path)
			c.session.Expire()
			return newSessionExpiredError(firstNonEmpty(resp.echoedID, info.requestID))
		}
		// one retry, with a fresh timeout; a second 401 is a plain failure
		resp, _, err = c.execute(ctx, req)
		if err != nil {
			return err
		}
	}

	return c.handle(resp, out)
}

// handle maps a final response to a result
func (c *Client) handle(resp *response, out any) error {
	if resp.status >= 200 && resp.status < 300 {
		if resp.status == http.StatusNoContent || len(bytes.TrimSpace(resp.body)) == 0 || out == nil {
			return nil
		}
		if err := json.Unmarshal(resp.body, out); err != nil {
			return &APIError{
				Message:    "invalid response from server",
				StatusCode: resp.status,
				RequestID:  firstNonEmpty(resp.echoedID, resp.requestID),
				Err:        err,
			}
		}
		return nil
	}

	apiErr := newHTTPError(resp)
	if resp.status == http.StatusPaymentRequired && subscriptionCode(apiErr.Body) {
		c.session.Events().Emit(SignalSubscriptionRequired, apiErr.Body)
	}
	return apiErr
}

// Get issues a GET
func (c *Client) Get(ctx context.Context, path string, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodGet, Path: path}, out)
}

// Post issues a POST with a JSON body
func (c *Client) Post(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPost, Path: path, Body: body}, out)
}

// Put issues a PUT with a JSON body
func (c *Client) Put(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPut, Path: path, Body: body}, out)
}

// Patch issues a PATCH with a JSON body
func (c *Client) Patch(ctx context.Context, path string, body, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodPatch, Path: path, Body: body}, out)
}

// Delete issues a DELETE
func (c *Client) Delete(ctx context.Context, path string, out any) error {
	return c.Do(ctx, &Request{Method: http.MethodDelete, Path: path}, out)
}
