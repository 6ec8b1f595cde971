package client

import (
	"context"
	"io"
	"net/http"
)

// AuthTransport wraps an http.RoundTripper to add the session's bearer token and
// a correlation id, and to renew the session once on 401. Requests with a body
// are only retried when they carry GetBody. Each attempt gets its own timeout;
// a response body stays readable until it is closed.
type AuthTransport struct {
	Base   http.RoundTripper
	Client *Client
}

// RoundTrip implements http.RoundTripper
func (t *AuthTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	pair, gen := t.Client.session.Credentials()
	resp, err := t.attempt(t.prepare(req, pair.AccessToken))
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusUnauthorized || pair.AccessToken == "" {
		return resp, nil
	}
	if req.Body != nil && req.GetBody == nil {
		return resp, nil
	}

	ok, err := t.Client.RefreshIfStale(req.Context(), gen)
	if err != nil {
		resp.Body.Close()
		return nil, err
	}
	if !ok {
		t.Client.session.Expire()
		return resp, nil
	}

	retry := t.prepare(req, t.Client.session.AccessToken())
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return resp, nil
		}
		retry.Body = body
	}
	resp.Body.Close()
	return t.attempt(retry)
}

// attempt sends req under the client's per-request timeout. The timer is
// released when the response body is closed.
func (t *AuthTransport) attempt(req *http.Request) (*http.Response, error) {
	base := t.Base
	if base == nil {
		base = http.DefaultTransport
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.Client.timeout)
	resp, err := base.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	resp.Body = &cancelOnClose{ReadCloser: resp.Body, cancel: cancel}
	return resp, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

// prepare clones the request to avoid mutating the original
func (t *AuthTransport) prepare(req *http.Request, token string) *http.Request {
	r := req.Clone(req.Context())
	if r.Header.Get(RequestIDHeader) == "" {
		r.Header.Set(RequestIDHeader, t.Client.newRequestID())
	}
	if token != "" {
		r.Header.Set(authorizationHeader, bearerPrefix+token)
	}
	return r
}

// HTTPClient returns an *http.Client that authenticates through this pipeline.
// It is meant for raw downloads such as CSV exports; JSON calls should use Do.
// The timeout is applied per attempt by the transport, so a retry after a
// renewal starts a new one.
func (c *Client) HTTPClient() *http.Client {
	return &http.Client{
		Transport: &AuthTransport{Base: c.httpClient.Transport, Client: c},
	}
}
