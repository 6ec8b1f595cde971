package grpc

import (
	"context"
	"errors"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/panyam/storefront/client"
)

// InterceptorConfig configures the client interceptors.
type InterceptorConfig struct {
	// Config holds the metadata key configuration.
	*Config

	// PublicMethods is a set of method names that are called without a token
	// and never trigger a renewal. Keys are full method names like
	// "/package.Service/Method".
	PublicMethods map[string]bool
}

// DefaultInterceptorConfig returns a config that authenticates every method.
func DefaultInterceptorConfig() *InterceptorConfig {
	return &InterceptorConfig{
		Config:        DefaultConfig(),
		PublicMethods: make(map[string]bool),
	}
}

// NewPublicMethodsConfig creates a config with the specified public methods.
func NewPublicMethodsConfig(publicMethods ...string) *InterceptorConfig {
	config := DefaultInterceptorConfig()
	for _, method := range publicMethods {
		config.PublicMethods[method] = true
	}
	return config
}

func ensureConfig(config *InterceptorConfig) *InterceptorConfig {
	if config == nil {
		config = DefaultInterceptorConfig()
	}
	if config.Config == nil {
		config.Config = DefaultConfig()
	}
	if config.PublicMethods == nil {
		config.PublicMethods = make(map[string]bool)
	}
	config.Config.EnsureDefaults()
	return config
}

// UnaryClientInterceptor returns a gRPC unary client interceptor that sends the
// session's bearer token with every call. On codes.Unauthenticated it renews the
// session through c (joining any renewal already in flight) and retries once.
// If renewal is impossible the session is expired and the call fails with
// codes.Unauthenticated "session expired".
func UnaryClientInterceptor(c *client.Client, config *InterceptorConfig) grpc.UnaryClientInterceptor {
	config = ensureConfig(config)
	session := c.Session()

	return func(ctx context.Context, method string, req, reply any, cc *grpc.ClientConn, invoker grpc.UnaryInvoker, opts ...grpc.CallOption) error {
		if config.PublicMethods[method] {
			return invokeWithTimeout(ctx, c, func(ctx context.Context) error {
				return invoker(outgoing(ctx, config.Config, "", "", client.NewRequestID()), method, req, reply, cc, opts...)
			})
		}

		pair, gen := session.Credentials()
		err := invokeWithTimeout(ctx, c, func(ctx context.Context) error {
			return invoker(outgoing(ctx, config.Config, pair.AccessToken, tenantOf(session), client.NewRequestID()), method, req, reply, cc, opts...)
		})
		if status.Code(err) != codes.Unauthenticated || pair.AccessToken == "" {
			return err
		}

		ok, rerr := c.RefreshIfStale(ctx, gen)
		if rerr != nil {
			return status.FromContextError(rerr).Err()
		}
		if !ok {
			session.Expire()
			return status.Error(codes.Unauthenticated, client.MessageSessionExpired)
		}

		// one retry; a second Unauthenticated is returned as is
		return invokeWithTimeout(ctx, c, func(ctx context.Context) error {
			return invoker(outgoing(ctx, config.Config, session.AccessToken(), tenantOf(session), client.NewRequestID()), method, req, reply, cc, opts...)
		})
	}
}

// StreamClientInterceptor attaches the current token and a correlation id to
// new streams. Streams are not retried.
func StreamClientInterceptor(c *client.Client, config *InterceptorConfig) grpc.StreamClientInterceptor {
	config = ensureConfig(config)
	session := c.Session()

	return func(ctx context.Context, desc *grpc.StreamDesc, cc *grpc.ClientConn, method string, streamer grpc.Streamer, opts ...grpc.CallOption) (grpc.ClientStream, error) {
		token := ""
		if !config.PublicMethods[method] {
			token = session.AccessToken()
		}
		return streamer(outgoing(ctx, config.Config, token, tenantOf(session), client.NewRequestID()), desc, cc, method, opts...)
	}
}

// invokeWithTimeout bounds one attempt by the client's timeout unless the
// caller already set a deadline.
func invokeWithTimeout(ctx context.Context, c *client.Client, call func(context.Context) error) error {
	if _, ok := ctx.Deadline(); ok {
		return call(ctx)
	}
	tctx, cancel := context.WithTimeout(ctx, c.Timeout())
	defer cancel()
	return call(tctx)
}

func tenantOf(session *client.Session) string {
	if attrs := session.Attributes(); attrs != nil {
		return attrs.TenantID
	}
	return ""
}

// grpcStatusToHTTP maps gRPC codes onto the status codes the REST pipeline uses
var grpcStatusToHTTP = map[codes.Code]int{
	codes.OK:                 http.StatusOK,
	codes.InvalidArgument:    http.StatusBadRequest,
	codes.Unauthenticated:    http.StatusUnauthorized,
	codes.PermissionDenied:   http.StatusForbidden,
	codes.NotFound:           http.StatusNotFound,
	codes.AlreadyExists:      http.StatusConflict,
	codes.FailedPrecondition: http.StatusPreconditionFailed,
	codes.ResourceExhausted:  http.StatusTooManyRequests,
	codes.DeadlineExceeded:   client.StatusTimeout,
	codes.Unavailable:        client.StatusTransportError,
	codes.Unimplemented:      http.StatusNotImplemented,
	codes.Internal:           http.StatusInternalServerError,
}

// ToAPIError converts a gRPC error into the *client.APIError the rest of the
// application handles. A FailedPrecondition whose message is
// SUBSCRIPTION_REQUIRED becomes a 402. Nil stays nil.
func ToAPIError(err error) error {
	if err == nil {
		return nil
	}
	var apiErr *client.APIError
	if errors.As(err, &apiErr) {
		return apiErr
	}

	st, ok := status.FromError(err)
	if !ok {
		return &client.APIError{Message: err.Error(), StatusCode: client.StatusTransportError, Err: err}
	}

	code, ok := grpcStatusToHTTP[st.Code()]
	if !ok {
		code = http.StatusInternalServerError
	}
	apiErr = &client.APIError{Message: st.Message(), StatusCode: code, Err: err}
	if st.Code() == codes.FailedPrecondition && st.Message() == client.SubscriptionRequiredCode {
		apiErr.StatusCode = http.StatusPaymentRequired
		apiErr.Body = map[string]any{"code": client.SubscriptionRequiredCode}
	}
	return apiErr
}
