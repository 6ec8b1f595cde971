package client

import (
	"bytes"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Request describes one call. The pipeline never modifies it.
type Request struct {
	Method string
	Path   string // relative to the API prefix, e.g. "/products?page=2"
	Body   any    // JSON-encoded when non-nil

	// SkipAuth omits the Authorization header and disables the refresh-and-retry
	// path. Used for login, registration, password reset and token refresh.
	SkipAuth bool

	// Header is merged over the default headers
	Header http.Header
}

// response is a fully read HTTP response
type response struct {
	status     int
	statusText string
	header     http.Header
	body       []byte
	requestID  string // id we sent
	echoedID   string // id the server echoed
}

// sent records what credentials a request went out with
type sent struct {
	authorized bool
	generation uint64
	requestID  string
}

var errRequestTimeout = errors.New("request timeout")

// NewRequestID returns a random UUID, or a timestamp plus random suffix when
// the random source is unavailable.
func NewRequestID() string {
	id, err := uuid.NewRandom()
	if err == nil {
		return id.String()
	}
	b := make([]byte, 6)
	if _, err := rand.Read(b); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return fmt.Sprintf("%d-%s", time.Now().UnixNano(), hex.EncodeToString(b))
}

// url joins the base URL, API prefix and path
func (c *Client) url(path string) string {
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + c.apiPrefix + path
}

// execute issues a single HTTP call under its own timeout. It never interprets
// the status code; failures are transport failures (0) or timeouts (408).
func (c *Client) execute(ctx context.Context, req *Request) (*response, sent, error) {
	info := sent{requestID: c.newRequestID()}

	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, info, &APIError{
				Message:    fmt.Sprintf("failed to encode request: %v", err),
				StatusCode: StatusTransportError,
				RequestID:  info.requestID,
				Err:        err,
			}
		}
		body = bytes.NewReader(data)
	}

	tctx, cancel := context.WithTimeoutCause(ctx, c.timeout, errRequestTimeout)
	defer cancel()

	method := req.Method
	if method == "" {
		method = http.MethodGet
	}
	httpReq, err := http.NewRequestWithContext(tctx, method, c.url(req.Path), body)
	if err != nil {
		return nil, info, &APIError{
			Message:    fmt.Sprintf("invalid request: %v", err),
			StatusCode: StatusTransportError,
			RequestID:  info.requestID,
			Err:        err,
		}
	}

	httpReq.Header.Set("Content-Type", defaultContentType)
	httpReq.Header.Set("Accept", defaultContentType)
	httpReq.Header.Set(RequestIDHeader, info.requestID)
	if !req.SkipAuth {
		pair, gen := c.session.Credentials()
		info.generation = gen
		if pair.AccessToken != "" {
			httpReq.Header.Set(authorizationHeader, bearerPrefix+pair.AccessToken)
			info.authorized = true
		}
	}
	for k, vs := range req.Header {
		httpReq.Header.Del(k)
		for _, v := range vs {
			httpReq.Header.Add(k, v)
		}
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, info, c.transportError(tctx, info, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, info, c.transportError(tctx, info, err)
	}

	return &response{
		status:     resp.StatusCode,
		statusText: statusText(resp.Status, resp.StatusCode),
		header:     resp.Header,
		body:       data,
		requestID:  info.requestID,
		echoedID:   resp.Header.Get(RequestIDHeader),
	}, info, nil
}

func (c *Client) transportError(tctx context.Context, info sent, err error) *APIError {
	if errors.Is(context.Cause(tctx), errRequestTimeout) {
		return &APIError{
			Message:    fmt.Sprintf("request timed out after %s, please try again", c.timeout),
			StatusCode: StatusTimeout,
			RequestID:  info.requestID,
			Err:        err,
		}
	}
	return &APIError{
		Message:    "unable to reach the server, please check your connection",
		StatusCode: StatusTransportError,
		RequestID:  info.requestID,
		Err:        err,
	}
}
