// Package grpc carries the storefront session into gRPC calls. Services that
// sit next to the REST API (stock sync, receipt printing) authenticate with the
// same bearer token and share the same renewal path.
package grpc

import (
	"context"

	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/metadata"

	"github.com/panyam/storefront/client"
)

// Default metadata keys.
const (
	// DefaultMetadataKeyAuthorization carries "Bearer <access token>"
	DefaultMetadataKeyAuthorization = "authorization"

	// DefaultMetadataKeyRequestID carries the per-call correlation id
	DefaultMetadataKeyRequestID = "x-request-id"

	// DefaultMetadataKeyTenantID carries the active tenant, when known
	DefaultMetadataKeyTenantID = "x-tenant-id"
)

// Config holds the metadata key configuration.
type Config struct {
	MetadataKeyAuthorization string
	MetadataKeyRequestID     string
	MetadataKeyTenantID      string
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		MetadataKeyAuthorization: DefaultMetadataKeyAuthorization,
		MetadataKeyRequestID:     DefaultMetadataKeyRequestID,
		MetadataKeyTenantID:      DefaultMetadataKeyTenantID,
	}
}

// EnsureDefaults fills in default values for any unset fields.
func (c *Config) EnsureDefaults() {
	if c.MetadataKeyAuthorization == "" {
		c.MetadataKeyAuthorization = DefaultMetadataKeyAuthorization
	}
	if c.MetadataKeyRequestID == "" {
		c.MetadataKeyRequestID = DefaultMetadataKeyRequestID
	}
	if c.MetadataKeyTenantID == "" {
		c.MetadataKeyTenantID = DefaultMetadataKeyTenantID
	}
}

// RequestIDToOutgoingContext adds a correlation id to outgoing metadata.
func RequestIDToOutgoingContext(ctx context.Context, requestID string) context.Context {
	return metadata.AppendToOutgoingContext(ctx, DefaultMetadataKeyRequestID, requestID)
}

// RequestIDFromContext returns the correlation id of an incoming call, or "".
func RequestIDFromContext(ctx context.Context) string {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return ""
	}
	if values := md.Get(DefaultMetadataKeyRequestID); len(values) > 0 {
		return values[0]
	}
	return ""
}

// outgoing returns ctx with the auth, tenant and request id metadata set.
// Existing values for those keys are replaced.
func outgoing(ctx context.Context, config *Config, accessToken, tenantID, requestID string) context.Context {
	md, _ := metadata.FromOutgoingContext(ctx)
	md = md.Copy()
	md.Set(config.MetadataKeyRequestID, requestID)
	if accessToken != "" {
		md.Set(config.MetadataKeyAuthorization, "Bearer "+accessToken)
	} else {
		md.Delete(config.MetadataKeyAuthorization)
	}
	if tenantID != "" {
		md.Set(config.MetadataKeyTenantID, tenantID)
	}
	return metadata.NewOutgoingContext(ctx, md)
}

// SessionCredentials implements credentials.PerRPCCredentials from a session.
// It only reads the current token; renewal is left to the interceptors.
type SessionCredentials struct {
	Session *client.Session

	// AllowInsecure permits sending the token over plaintext connections.
	// Only for local development and tests.
	AllowInsecure bool
}

var _ credentials.PerRPCCredentials = (*SessionCredentials)(nil)

func (s *SessionCredentials) GetRequestMetadata(ctx context.Context, uri ...string) (map[string]string, error) {
	token := s.Session.AccessToken()
	if token == "" {
		return map[string]string{}, nil
	}
	md := map[string]string{DefaultMetadataKeyAuthorization: "Bearer " + token}
	if attrs := s.Session.Attributes(); attrs != nil && attrs.TenantID != "" {
		md[DefaultMetadataKeyTenantID] = attrs.TenantID
	}
	return md, nil
}

func (s *SessionCredentials) RequireTransportSecurity() bool {
	return !s.AllowInsecure
}
