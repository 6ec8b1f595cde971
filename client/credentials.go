// Package client provides the authenticated HTTP request pipeline used by every
// storefront feature. It includes credential storage, request timeouts, transparent
// access token renewal and uniform error classification.
package client

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Keys under which the session is persisted. All of them are removed together.
const (
	KeyAccessToken   = "access_token"
	KeyRefreshToken  = "refresh_token"
	KeyAuthenticated = "is_authenticated"
	KeyUser          = "user"
	KeyTenantID      = "tenant_id"
	KeyRole          = "user_role"
	KeyPlan          = "plan_slug"
)

// SessionKeys lists every persisted key.
var SessionKeys = []string{
	KeyAccessToken,
	KeyRefreshToken,
	KeyAuthenticated,
	KeyUser,
	KeyTenantID,
	KeyRole,
	KeyPlan,
}

// ErrIncompleteCredentials is returned when only one half of a pair is supplied.
var ErrIncompleteCredentials = errors.New("access and refresh tokens must be set together")

// CredentialPair holds the access and refresh tokens. Both are set or both are empty.
type CredentialPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
}

// IsZero returns true if neither token is set
func (p CredentialPair) IsZero() bool {
	return p.AccessToken == "" && p.RefreshToken == ""
}

// IsComplete returns true if both tokens are set
func (p CredentialPair) IsComplete() bool {
	return p.AccessToken != "" && p.RefreshToken != ""
}

// SessionAttributes are the lightweight user details shown by the UI.
type SessionAttributes struct {
	DisplayName string `json:"display_name"`
	Email       string `json:"email"`
	TenantID    string `json:"tenant_id"`
	Role        string `json:"role"`
	PlanSlug    string `json:"plan_slug,omitempty"`
}

// Client-facing roles
const (
	RoleSuperAdmin = "super_admin"
	RoleOwner      = "owner"
	RoleAdmin      = "admin"
	RoleManager    = "manager"
	RoleCashier    = "cashier"
	RoleStaff      = "staff"
)

// serverRoles maps backend role names to the roles the client works with.
var serverRoles = map[string]string{
	"PLATFORM_ADMIN": RoleSuperAdmin,
	"SUPER_ADMIN":    RoleSuperAdmin,
	"OWNER":          RoleOwner,
	"TENANT_OWNER":   RoleOwner,
	"ADMIN":          RoleAdmin,
	"TENANT_ADMIN":   RoleAdmin,
	"MANAGER":        RoleManager,
	"CASHIER":        RoleCashier,
	"SELLER":         RoleCashier,
	"EMPLOYEE":       RoleStaff,
	"STAFF":          RoleStaff,
}

// NormalizeRole converts a backend role into a client role.
// Unknown roles are lower-cased and passed through.
func NormalizeRole(role string) string {
	r := strings.TrimSpace(role)
	r = strings.TrimPrefix(strings.ToUpper(r), "ROLE_")
	if mapped, ok := serverRoles[r]; ok {
		return mapped
	}
	return strings.ToLower(r)
}

// CredentialStore is a small key-value persistence layer for session values.
type CredentialStore interface {
	// Get returns the value for key, or "" if it is not set
	Get(key string) (string, error)

	// Set stores a value
	Set(key, value string) error

	// Remove deletes keys. Missing keys are not an error.
	Remove(keys ...string) error

	// Save persists any pending changes (for stores that batch writes)
	Save() error
}

// StoreError indicates a credential storage failure.
type StoreError struct {
	Operation string // "load", "save", "set", "remove"
	Key       string
	Cause     error
}

func (e *StoreError) Error() string {
	msg := e.Operation + " credentials"
	if e.Key != "" {
		msg += " (" + e.Key + ")"
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *StoreError) Unwrap() error {
	return e.Cause
}

// MemoryStore is a non-persistent CredentialStore.
type MemoryStore struct {
	mu     sync.RWMutex
	values map[string]string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{values: make(map[string]string)}
}

func (m *MemoryStore) Get(key string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.values[key], nil
}

func (m *MemoryStore) Set(key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.values[key] = value
	return nil
}

func (m *MemoryStore) Remove(keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.values, k)
	}
	return nil
}

func (m *MemoryStore) Save() error { return nil }

// Len returns the number of stored keys
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.values)
}

func (a *SessionAttributes) String() string {
	if a == nil {
		return "<anonymous>"
	}
	return fmt.Sprintf("%s <%s> tenant=%s role=%s plan=%s", a.DisplayName, a.Email, a.TenantID, a.Role, a.PlanSlug)
}
