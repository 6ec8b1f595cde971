package client

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestExtractErrorMessage(t *testing.T) {
	tests := []struct {
		name       string
		body       string
		statusText string
		want       string
	}{
		{name: "detail", body: `{"detail":"X"}`, statusText: "Bad Request", want: "X"},
		{name: "message", body: `{"message":"Y"}`, statusText: "Bad Request", want: "Y"},
		{name: "detail wins over message", body: `{"message":"Y","detail":"X"}`, want: "X"},
		{
			name: "field errors in document order",
			body: `{"errors":{"email":"required","name":"too short"}}`,
			want: "email: required; name: too short",
		},
		{
			name: "field errors with lists",
			body: `{"errors":{"password":["too short","needs a digit"]}}`,
			want: "password: too short, needs a digit",
		},
		{name: "empty object", body: `{}`, statusText: "Internal Server Error", want: "Internal Server Error"},
		{name: "not json", body: `<html>bad gateway</html>`, statusText: "Bad Gateway", want: "Bad Gateway"},
		{name: "empty detail falls through", body: `{"detail":"","message":"Y"}`, want: "Y"},
		{name: "nothing at all", body: ``, want: "request failed"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractErrorMessage([]byte(tt.body), tt.statusText); got != tt.want {
				t.Errorf("extractErrorMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStatusText(t *testing.T) {
	if got := statusText("500 Internal Server Error", 500); got != "Internal Server Error" {
		t.Errorf("statusText() = %q", got)
	}
	if got := statusText("", 404); got != "Not Found" {
		t.Errorf("statusText() = %q", got)
	}
	if got := statusText("", 599); got != "request failed with status 599" {
		t.Errorf("statusText() = %q", got)
	}
}

func TestNewHTTPError_AppendsEchoedRequestID(t *testing.T) {
	err := newHTTPError(&response{
		status:     http.StatusInternalServerError,
		statusText: "Internal Server Error",
		body:       []byte(`{}`),
		requestID:  "sent-id",
		echoedID:   "echoed-id",
	})

	if err.Message != "Internal Server Error (request id: echoed-id)" {
		t.Errorf("Message = %q", err.Message)
	}
	if err.RequestID != "echoed-id" {
		t.Errorf("RequestID = %q", err.RequestID)
	}
}

func TestErrorClassification(t *testing.T) {
	subscription := &APIError{
		StatusCode: http.StatusPaymentRequired,
		Body:       map[string]any{"code": SubscriptionRequiredCode},
	}
	otherPayment := &APIError{
		StatusCode: http.StatusPaymentRequired,
		Body:       map[string]any{"code": "CARD_DECLINED"},
	}
	wrapped := fmt.Errorf("loading products: %w", newSessionExpiredError("id"))

	tests := []struct {
		name         string
		err          error
		status       int
		transport    bool
		timeout      bool
		expired      bool
		subscription bool
	}{
		{name: "transport", err: &APIError{StatusCode: StatusTransportError}, status: 0, transport: true},
		{name: "timeout", err: &APIError{StatusCode: StatusTimeout}, status: 408, timeout: true},
		{name: "session expired wrapped", err: wrapped, status: 401, expired: true},
		{name: "plain 401", err: &APIError{StatusCode: 401, Message: "bad password"}, status: 401},
		{name: "subscription", err: subscription, status: 402, subscription: true},
		{name: "other 402", err: otherPayment, status: 402},
		{name: "foreign error", err: errors.New("boom"), status: -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := StatusCode(tt.err); got != tt.status {
				t.Errorf("StatusCode() = %d, want %d", got, tt.status)
			}
			if got := IsTransportError(tt.err); got != tt.transport {
				t.Errorf("IsTransportError() = %v", got)
			}
			if got := IsTimeout(tt.err); got != tt.timeout {
				t.Errorf("IsTimeout() = %v", got)
			}
			if got := IsSessionExpired(tt.err); got != tt.expired {
				t.Errorf("IsSessionExpired() = %v", got)
			}
			if got := IsSubscriptionRequired(tt.err); got != tt.subscription {
				t.Errorf("IsSubscriptionRequired() = %v", got)
			}
		})
	}
}

func TestAPIError_Unwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := &APIError{Message: "unable to reach the server", Err: cause}
	if !errors.Is(err, cause) {
		t.Error("APIError should unwrap to the transport error")
	}
}
