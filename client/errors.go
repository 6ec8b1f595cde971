package client

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/tidwall/gjson"
)

// Status codes used for failures that never produced an HTTP response
const (
	StatusTransportError = 0
	StatusTimeout        = http.StatusRequestTimeout
)

// SubscriptionRequiredCode is the body code the backend sends with HTTP 402
// when the tenant's plan does not include the requested feature.
const SubscriptionRequiredCode = "SUBSCRIPTION_REQUIRED"

// MessageSessionExpired is the message of the terminal authentication error
const MessageSessionExpired = "session expired"

// APIError is the single error type returned by the pipeline.
type APIError struct {
	// Message is human readable and already carries the request id when the server echoed one
	Message string

	// StatusCode is 0 for transport failures, 408 for client timeouts, else the HTTP status
	StatusCode int

	// Body is the parsed JSON error body, if any
	Body any

	// RequestID is the correlation id of the failed call
	RequestID string

	// Err is the underlying transport error, if any
	Err error
}

func (e *APIError) Error() string {
	return e.Message
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// asAPIError returns err as an *APIError when it is one
func asAPIError(err error) (*APIError, bool) {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	return nil, false
}

// StatusCode returns the classified status of err, or -1 if err is not an *APIError
func StatusCode(err error) int {
	if apiErr, ok := asAPIError(err); ok {
		return apiErr.StatusCode
	}
	return -1
}

// IsTransportError returns true if no response reached the client
func IsTransportError(err error) bool {
	return StatusCode(err) == StatusTransportError
}

// IsTimeout returns true if the client-side deadline elapsed
func IsTimeout(err error) bool {
	return StatusCode(err) == StatusTimeout
}

// IsSessionExpired returns true for the terminal authentication failure
func IsSessionExpired(err error) bool {
	apiErr, ok := asAPIError(err)
	return ok && apiErr.StatusCode == http.StatusUnauthorized && apiErr.Message == MessageSessionExpired
}

// IsSubscriptionRequired returns true for a 402 carrying SUBSCRIPTION_REQUIRED
func IsSubscriptionRequired(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok || apiErr.StatusCode != http.StatusPaymentRequired {
		return false
	}
	return subscriptionCode(apiErr.Body)
}

func subscriptionCode(body any) bool {
	m, ok := body.(map[string]any)
	if !ok {
		return false
	}
	for _, k := range []string{"code", "error"} {
		if s, ok := m[k].(string); ok && s == SubscriptionRequiredCode {
			return true
		}
	}
	return false
}

func newSessionExpiredError(requestID string) *APIError {
	return &APIError{
		Message:    MessageSessionExpired,
		StatusCode: http.StatusUnauthorized,
		RequestID:  requestID,
	}
}

// newCancelledError reports a caller that gave up while its request waited on
// a token renewal. No response is involved, so it is classified as transport.
func newCancelledError(requestID string, err error) *APIError {
	return &APIError{
		Message:    "request cancelled",
		StatusCode: StatusTransportError,
		RequestID:  requestID,
		Err:        err,
	}
}

// newHTTPError builds the error for a non-2xx response
func newHTTPError(resp *response) *APIError {
	msg := extractErrorMessage(resp.body, resp.statusText)
	if resp.echoedID != "" {
		msg = fmt.Sprintf("%s (request id: %s)", msg, resp.echoedID)
	}
	return &APIError{
		Message:    msg,
		StatusCode: resp.status,
		Body:       parseBody(resp.body),
		RequestID:  firstNonEmpty(resp.echoedID, resp.requestID),
	}
}

// parseBody decodes a JSON body, returning nil when it is empty or not JSON
func parseBody(body []byte) any {
	if len(strings.TrimSpace(string(body))) == 0 || !gjson.ValidBytes(body) {
		return nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil
	}
	return v
}

// extractErrorMessage picks a human readable message from an error body:
// "detail", then "message", then the "errors" map flattened in document order,
// falling back to the status text.
func extractErrorMessage(body []byte, statusText string) string {
	if gjson.ValidBytes(body) {
		doc := gjson.ParseBytes(body)
		if doc.IsObject() {
			if d := doc.Get("detail"); d.Type == gjson.String && d.String() != "" {
				return d.String()
			}
			if m := doc.Get("message"); m.Type == gjson.String && m.String() != "" {
				return m.String()
			}
			if errs := doc.Get("errors"); errs.IsObject() {
				if msg := flattenFieldErrors(errs); msg != "" {
					return msg
				}
			}
		}
	}
	if statusText != "" {
		return statusText
	}
	return "request failed"
}

func flattenFieldErrors(errs gjson.Result) string {
	var parts []string
	errs.ForEach(func(field, value gjson.Result) bool {
		var text string
		switch {
		case value.IsArray():
			var msgs []string
			for _, v := range value.Array() {
				msgs = append(msgs, v.String())
			}
			text = strings.Join(msgs, ", ")
		default:
			text = value.String()
		}
		parts = append(parts, field.String()+": "+text)
		return true
	})
	return strings.Join(parts, "; ")
}

// statusText strips the code from an http.Response Status ("500 Internal Server Error")
func statusText(status string, code int) string {
	if _, text, ok := strings.Cut(status, " "); ok && text != "" {
		return text
	}
	if text := http.StatusText(code); text != "" {
		return text
	}
	return fmt.Sprintf("request failed with status %d", code)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
