package grpc

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/panyam/storefront/client"
)

// refreshServer serves the token refresh endpoint and counts calls
func refreshServer(t *testing.T, ok bool) (*httptest.Server, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if !ok {
			w.WriteHeader(http.StatusUnauthorized)
			w.Write([]byte(`{"detail":"refresh token revoked"}`))
			return
		}
		json.NewEncoder(w).Encode(client.AuthResponse{AccessToken: "access-2", RefreshToken: "refresh-2"})
	}))
	t.Cleanup(server.Close)
	return server, &calls
}

func newTestClient(t *testing.T, baseURL string) *client.Client {
	t.Helper()
	session := client.NewSession(nil)
	require.NoError(t, session.SetCredentials(
		client.CredentialPair{AccessToken: "access-1", RefreshToken: "refresh-1"},
		&client.SessionAttributes{TenantID: "tenant-1"},
	))
	return client.NewClient(baseURL, session)
}

func authorization(ctx context.Context) string {
	md, _ := metadata.FromOutgoingContext(ctx)
	if v := md.Get(DefaultMetadataKeyAuthorization); len(v) > 0 {
		return v[0]
	}
	return ""
}

func TestUnaryClientInterceptor_AttachesMetadata(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	interceptor := UnaryClientInterceptor(c, nil)

	err := interceptor(context.Background(), "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			md, ok := metadata.FromOutgoingContext(ctx)
			require.True(t, ok)
			assert.Equal(t, []string{"Bearer access-1"}, md.Get(DefaultMetadataKeyAuthorization))
			assert.Equal(t, []string{"tenant-1"}, md.Get(DefaultMetadataKeyTenantID))
			assert.Len(t, md.Get(DefaultMetadataKeyRequestID), 1)
			_, hasDeadline := ctx.Deadline()
			assert.True(t, hasDeadline, "each attempt should carry the client timeout")
			return nil
		})
	assert.NoError(t, err)
}

func TestUnaryClientInterceptor_PublicMethod(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	interceptor := UnaryClientInterceptor(c, NewPublicMethodsConfig("/catalog.Public/List"))

	calls := 0
	err := interceptor(context.Background(), "/catalog.Public/List", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			calls++
			assert.Empty(t, authorization(ctx))
			return status.Error(codes.Unauthenticated, "nope")
		})

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, 1, calls, "public methods are never retried")
	assert.True(t, c.Session().IsAuthenticated())
}

func TestUnaryClientInterceptor_RefreshesAndRetries(t *testing.T) {
	server, refreshCalls := refreshServer(t, true)
	c := newTestClient(t, server.URL)
	interceptor := UnaryClientInterceptor(c, nil)

	var tokens []string
	err := interceptor(context.Background(), "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			tokens = append(tokens, authorization(ctx))
			if authorization(ctx) != "Bearer access-2" {
				return status.Error(codes.Unauthenticated, "token expired")
			}
			return nil
		})

	require.NoError(t, err)
	assert.Equal(t, []string{"Bearer access-1", "Bearer access-2"}, tokens)
	assert.EqualValues(t, 1, refreshCalls.Load())
}

func TestUnaryClientInterceptor_RetriesOnce(t *testing.T) {
	server, refreshCalls := refreshServer(t, true)
	c := newTestClient(t, server.URL)
	interceptor := UnaryClientInterceptor(c, nil)

	calls := 0
	err := interceptor(context.Background(), "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			calls++
			return status.Error(codes.Unauthenticated, "token expired")
		})

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, "token expired", status.Convert(err).Message())
	assert.Equal(t, 2, calls)
	assert.EqualValues(t, 1, refreshCalls.Load())
	assert.True(t, c.Session().IsAuthenticated())
}

func TestUnaryClientInterceptor_RefreshRejected(t *testing.T) {
	server, _ := refreshServer(t, false)
	c := newTestClient(t, server.URL)
	interceptor := UnaryClientInterceptor(c, nil)

	var expired atomic.Int32
	c.Session().Events().Subscribe(client.SignalAuthExpired, func(client.Event) { expired.Add(1) })

	err := interceptor(context.Background(), "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			return status.Error(codes.Unauthenticated, "token expired")
		})

	assert.Equal(t, codes.Unauthenticated, status.Code(err))
	assert.Equal(t, client.MessageSessionExpired, status.Convert(err).Message())
	assert.False(t, c.Session().IsAuthenticated())
	assert.EqualValues(t, 1, expired.Load())
}

func TestUnaryClientInterceptor_CallerGivesUpDuringRefresh(t *testing.T) {
	started := make(chan struct{})
	released := make(chan struct{})
	notify := sync.OnceFunc(func() { close(started) })
	release := sync.OnceFunc(func() { close(released) })
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		notify()
		<-released
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(client.AuthResponse{AccessToken: "access-2", RefreshToken: "refresh-2"})
	}))
	t.Cleanup(server.Close)
	t.Cleanup(release)

	c := newTestClient(t, server.URL)
	interceptor := UnaryClientInterceptor(c, nil)
	var expired atomic.Int32
	c.Session().Events().Subscribe(client.SignalAuthExpired, func(client.Event) { expired.Add(1) })

	sibling := make(chan bool, 1)
	go func() { sibling <- c.Refresh(context.Background()) }()
	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("refresh never started")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := interceptor(ctx, "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			return status.Error(codes.Unauthenticated, "token expired")
		})

	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))
	assert.True(t, c.Session().IsAuthenticated())
	assert.Zero(t, expired.Load())

	release()
	assert.True(t, <-sibling)
	assert.Equal(t, "access-2", c.Session().AccessToken())
	assert.Zero(t, expired.Load())
}

func TestUnaryClientInterceptor_OtherErrorsPassThrough(t *testing.T) {
	server, refreshCalls := refreshServer(t, true)
	c := newTestClient(t, server.URL)
	interceptor := UnaryClientInterceptor(c, nil)

	err := interceptor(context.Background(), "/stock.Sync/Push", nil, nil, nil,
		func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, opts ...grpc.CallOption) error {
			return status.Error(codes.PermissionDenied, "cashiers cannot adjust stock")
		})

	assert.Equal(t, codes.PermissionDenied, status.Code(err))
	assert.Zero(t, refreshCalls.Load())
}

func TestStreamClientInterceptor(t *testing.T) {
	c := newTestClient(t, "http://unused.invalid")
	interceptor := StreamClientInterceptor(c, nil)

	_, err := interceptor(context.Background(), &grpc.StreamDesc{}, nil, "/receipts.Printer/Print",
		func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, opts ...grpc.CallOption) (grpc.ClientStream, error) {
			assert.Equal(t, "Bearer access-1", authorization(ctx))
			return nil, nil
		})
	assert.NoError(t, err)
}

func TestToAPIError(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
	}{
		{name: "unauthenticated", err: status.Error(codes.Unauthenticated, "session expired"), status: http.StatusUnauthorized},
		{name: "not found", err: status.Error(codes.NotFound, "no such product"), status: http.StatusNotFound},
		{name: "deadline", err: status.Error(codes.DeadlineExceeded, "slow"), status: client.StatusTimeout},
		{name: "unavailable", err: status.Error(codes.Unavailable, "down"), status: client.StatusTransportError},
		{name: "subscription", err: status.Error(codes.FailedPrecondition, client.SubscriptionRequiredCode), status: http.StatusPaymentRequired},
		{name: "plain error", err: errors.New("boom"), status: client.StatusTransportError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ToAPIError(tt.err)
			assert.Equal(t, tt.status, client.StatusCode(err))
		})
	}

	assert.True(t, client.IsSessionExpired(ToAPIError(status.Error(codes.Unauthenticated, client.MessageSessionExpired))))
	assert.True(t, client.IsSubscriptionRequired(ToAPIError(status.Error(codes.FailedPrecondition, client.SubscriptionRequiredCode))))
	assert.NoError(t, ToAPIError(nil))
}

func TestSessionCredentials(t *testing.T) {
	session := client.NewSession(nil)
	creds := &SessionCredentials{Session: session}

	md, err := creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Empty(t, md)
	assert.True(t, creds.RequireTransportSecurity())

	session.SetCredentials(client.CredentialPair{AccessToken: "a", RefreshToken: "r"}, &client.SessionAttributes{TenantID: "t9"})
	md, err = creds.GetRequestMetadata(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer a", md[DefaultMetadataKeyAuthorization])
	assert.Equal(t, "t9", md[DefaultMetadataKeyTenantID])
}

func TestRequestIDFromContext(t *testing.T) {
	assert.Empty(t, RequestIDFromContext(context.Background()))

	ctx := metadata.NewIncomingContext(context.Background(), metadata.Pairs(DefaultMetadataKeyRequestID, "req-1"))
	assert.Equal(t, "req-1", RequestIDFromContext(ctx))

	out := RequestIDToOutgoingContext(context.Background(), "req-2")
	md, _ := metadata.FromOutgoingContext(out)
	assert.Equal(t, []string{"req-2"}, md.Get(DefaultMetadataKeyRequestID))
}
