// Package devserver is an in-memory storefront backend for local development
// and integration tests. It speaks the same token protocol as production:
// short-lived JWT access tokens, rotating refresh tokens with reuse detection,
// and JSON error bodies in the detail, message and errors shapes.
package devserver

import (
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/mux"
)

// Server is the development backend. It implements http.Handler.
type Server struct {
	router    *mux.Router
	logger    *slog.Logger
	secret    []byte
	issuer    string
	accessTTL time.Duration
	resetTTL  time.Duration
	latency   time.Duration

	epoch        atomic.Int64
	refreshCount atomic.Int64

	users    *userStore
	refresh  *refreshTokenStore
	products *productStore
}

// Option configures a Server
type Option func(*Server)

// WithSecret sets the HMAC key for access tokens
func WithSecret(secret string) Option {
	return func(s *Server) {
		if secret != "" {
			s.secret = []byte(secret)
		}
	}
}

// WithAccessTokenTTL sets the access token lifetime
func WithAccessTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.accessTTL = d
		}
	}
}

// WithRefreshTokenTTL sets the refresh token lifetime
func WithRefreshTokenTTL(d time.Duration) Option {
	return func(s *Server) {
		if d > 0 {
			s.refresh.ttl = d
		}
	}
}

// WithLatency delays every API response, for exercising client timeouts
func WithLatency(d time.Duration) Option {
	return func(s *Server) {
		s.latency = d
	}
}

// WithLogger sets the request logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates a development backend with no users
func New(opts ...Option) *Server {
	s := &Server{
		logger:    slog.Default(),
		issuer:    "storefront-devserver",
		accessTTL: DefaultAccessTokenTTL,
		resetTTL:  DefaultResetTokenTTL,
		users:     newUserStore(),
		refresh:   newRefreshTokenStore(DefaultRefreshTokenTTL),
		products:  newProductStore(),
	}
	if secret, err := GenerateSecureToken(); err == nil {
		s.secret = []byte(secret)
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestIDMiddleware, s.loggingMiddleware)

	api := r.PathPrefix("/api/v1").Subrouter()
	if s.latency > 0 {
		api.Use(s.latencyMiddleware)
	}

	public := api.PathPrefix("/auth").Subrouter()
	public.HandleFunc("/login", s.handleLogin).Methods(http.MethodPost)
	public.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	public.HandleFunc("/refresh", s.handleRefresh).Methods(http.MethodPost)
	public.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)
	public.HandleFunc("/forgot-password", s.handleForgotPassword).Methods(http.MethodPost)
	public.HandleFunc("/reset-password", s.handleResetPassword).Methods(http.MethodPost)

	protected := api.NewRoute().Subrouter()
	protected.Use(s.authMiddleware())
	protected.HandleFunc("/auth/me", s.handleMe).Methods(http.MethodGet)
	protected.HandleFunc("/tenant/plan", s.handleSetPlan).Methods(http.MethodPut, http.MethodPatch)
	protected.HandleFunc("/products", s.handleListProducts).Methods(http.MethodGet)
	protected.HandleFunc("/products", s.handleCreateProduct).Methods(http.MethodPost)
	protected.HandleFunc("/products/{id}", s.handleGetProduct).Methods(http.MethodGet)
	protected.HandleFunc("/products/{id}", s.handleUpdateProduct).Methods(http.MethodPut, http.MethodPatch)
	protected.HandleFunc("/products/{id}", s.handleDeleteProduct).Methods(http.MethodDelete)
	protected.HandleFunc("/reports/advanced", s.handleAdvancedReport).Methods(http.MethodGet)

	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser creates an account directly, bypassing registration validation
func (s *Server) AddUser(u User, password string) (*User, error) {
	return s.users.Create(u, password)
}

// InvalidateAccessTokens makes every access token issued so far fail with 401
// "Token expired". Refresh tokens stay valid.
func (s *Server) InvalidateAccessTokens() {
	s.epoch.Add(1)
}

// RefreshCount is the number of successful refresh exchanges
func (s *Server) RefreshCount() int {
	return int(s.refreshCount.Load())
}

// ActiveRefreshTokens is the number of usable refresh tokens of a user
func (s *Server) ActiveRefreshTokens(userID string) int {
	return s.refresh.Active(userID)
}

// LastResetToken returns the last password reset token issued for email.
// There is no mail delivery; the token is also logged.
func (s *Server) LastResetToken(email string) string {
	return s.users.LastResetToken(email)
}

// productStore keeps products per tenant
type productStore struct {
	mu       sync.RWMutex
	byTenant map[string]map[string]*Product
}

func newProductStore() *productStore {
	return &productStore{byTenant: make(map[string]map[string]*Product)}
}

func (s *productStore) List(tenantID string) []Product {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Product, 0, len(s.byTenant[tenantID]))
	for _, p := range s.byTenant[tenantID] {
		out = append(out, *p)
	}
	return out
}

func (s *productStore) Get(tenantID, id string) (Product, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byTenant[tenantID][id]
	if !ok {
		return Product{}, false
	}
	return *p, true
}

func (s *productStore) Put(tenantID string, p Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.byTenant[tenantID] == nil {
		s.byTenant[tenantID] = make(map[string]*Product)
	}
	s.byTenant[tenantID][p.ID] = &p
}

func (s *productStore) Delete(tenantID, id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.byTenant[tenantID][id]; !ok {
		return false
	}
	delete(s.byTenant[tenantID], id)
	return true
}
