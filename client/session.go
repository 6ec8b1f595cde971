package client

import (
	"encoding/json"
	"log/slog"
	"sync"
)

// Session owns the current credentials, the session attributes and the event bus.
// One Session is created at startup and shared by every Client that talks to the
// same backend. All mutation goes through its methods.
//
// The persisted store is written through; the in-memory snapshot is authoritative.
// If the store fails the session keeps working from memory and logs the failure.
type Session struct {
	mu         sync.RWMutex
	store      CredentialStore
	bus        *EventBus
	logger     *slog.Logger
	pair       CredentialPair
	attrs      *SessionAttributes
	generation uint64
	degraded   bool
}

// SessionOption configures a Session
type SessionOption func(*Session)

// WithSessionLogger sets the logger used for storage warnings
func WithSessionLogger(logger *slog.Logger) SessionOption {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEventBus shares an existing bus instead of creating a new one
func WithEventBus(bus *EventBus) SessionOption {
	return func(s *Session) {
		if bus != nil {
			s.bus = bus
		}
	}
}

// NewSession creates a session backed by store and loads any persisted credentials.
// A nil store means in-memory only.
func NewSession(store CredentialStore, opts ...SessionOption) *Session {
	if store == nil {
		store = NewMemoryStore()
	}
	s := &Session{
		store:  store,
		bus:    NewEventBus(),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.load()
	return s
}

// load reads persisted values. A half pair is discarded.
func (s *Session) load() {
	access, err1 := s.store.Get(KeyAccessToken)
	refresh, err2 := s.store.Get(KeyRefreshToken)
	if err1 != nil || err2 != nil {
		s.storeFailed("load", firstErr(err1, err2))
		return
	}

	pair := CredentialPair{AccessToken: access, RefreshToken: refresh}
	if !pair.IsComplete() {
		if !pair.IsZero() {
			s.logger.Warn("discarding incomplete stored credentials")
		}
		return
	}
	s.pair = pair
	s.generation = 1

	raw, err := s.store.Get(KeyUser)
	if err != nil {
		s.storeFailed("load", err)
		return
	}
	if raw != "" {
		var attrs SessionAttributes
		if err := json.Unmarshal([]byte(raw), &attrs); err != nil {
			s.logger.Warn("ignoring malformed stored session attributes", "err", err)
			return
		}
		s.attrs = &attrs
	}
}

// Events returns the session's event bus
func (s *Session) Events() *EventBus {
	return s.bus
}

// AccessToken returns the current access token or ""
func (s *Session) AccessToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.AccessToken
}

// RefreshToken returns the current refresh token or ""
func (s *Session) RefreshToken() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.RefreshToken
}

// Credentials returns the current pair and its generation. The generation
// increases on every successful SetCredentials or ClearCredentials.
func (s *Session) Credentials() (CredentialPair, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair, s.generation
}

// Generation returns the credential generation counter
func (s *Session) Generation() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.generation
}

// Attributes returns a copy of the session attributes, or nil when anonymous
func (s *Session) Attributes() *SessionAttributes {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.attrs == nil {
		return nil
	}
	a := *s.attrs
	return &a
}

// IsAuthenticated returns true if a credential pair is held
func (s *Session) IsAuthenticated() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.pair.IsComplete()
}

// Degraded returns true once the backing store has failed and the session
// is running from memory only.
func (s *Session) Degraded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.degraded
}

// SetCredentials stores a new pair. When attrs is non-nil they are stored with a
// normalized role and SignalAuthSet is emitted; SignalPlanUpdated follows if a
// previously known plan changed.
func (s *Session) SetCredentials(pair CredentialPair, attrs *SessionAttributes) error {
	_, err := s.setCredentials(pair, attrs, func() bool { return true })
	return err
}

// SetCredentialsIf stores pair like SetCredentials, but only while the
// generation is still generation. It returns false and leaves the session
// untouched when the credentials were replaced or cleared in the meantime.
func (s *Session) SetCredentialsIf(generation uint64, pair CredentialPair, attrs *SessionAttributes) (bool, error) {
	return s.setCredentials(pair, attrs, func() bool { return s.generation == generation })
}

// setCredentials stores pair when ok, evaluated under the write lock, holds
func (s *Session) setCredentials(pair CredentialPair, attrs *SessionAttributes, ok func() bool) (bool, error) {
	if !pair.IsComplete() {
		return false, ErrIncompleteCredentials
	}

	var next *SessionAttributes
	if attrs != nil {
		a := *attrs
		a.Role = NormalizeRole(a.Role)
		next = &a
	}

	s.mu.Lock()
	if !ok() {
		s.mu.Unlock()
		return false, nil
	}
	prevPlan, hadPlan := "", false
	if s.attrs != nil {
		prevPlan, hadPlan = s.attrs.PlanSlug, true
	}
	s.pair = pair
	if next != nil {
		s.attrs = next
	}
	s.generation++
	s.persistLocked(pair, next)
	s.mu.Unlock()

	if next != nil {
		s.bus.Emit(SignalAuthSet, nil)
		if hadPlan && prevPlan != next.PlanSlug {
			s.bus.Emit(SignalPlanUpdated, next.PlanSlug)
		}
	}
	return true, nil
}

// SetAttributes replaces the session attributes of an authenticated session
// without touching the credential pair. It emits SignalAuthSet, and
// SignalPlanUpdated when the plan changed.
func (s *Session) SetAttributes(attrs SessionAttributes) {
	attrs.Role = NormalizeRole(attrs.Role)

	s.mu.Lock()
	if !s.pair.IsComplete() {
		s.mu.Unlock()
		return
	}
	prevPlan, hadPlan := "", false
	if s.attrs != nil {
		prevPlan, hadPlan = s.attrs.PlanSlug, true
	}
	s.attrs = &attrs
	s.persistAttrsLocked(&attrs)
	s.saveLocked()
	s.mu.Unlock()

	s.bus.Emit(SignalAuthSet, nil)
	if hadPlan && prevPlan != attrs.PlanSlug {
		s.bus.Emit(SignalPlanUpdated, attrs.PlanSlug)
	}
}

// ClearCredentials removes the pair and all session attributes. Calling it on an
// empty session is a no-op.
func (s *Session) ClearCredentials() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clearLocked()
}

// Expire clears the session and emits SignalAuthExpired. Requests that fail
// together expire the session once.
func (s *Session) Expire() {
	s.mu.Lock()
	cleared := s.clearLocked()
	s.mu.Unlock()

	if cleared {
		s.bus.Emit(SignalAuthExpired, nil)
	}
}

// UpdatePlan records a plan change for the current tenant
func (s *Session) UpdatePlan(slug string) {
	s.mu.Lock()
	if s.attrs == nil || s.attrs.PlanSlug == slug {
		s.mu.Unlock()
		return
	}
	a := *s.attrs
	a.PlanSlug = slug
	s.attrs = &a
	s.persistAttrsLocked(&a)
	s.saveLocked()
	s.mu.Unlock()

	s.bus.Emit(SignalPlanUpdated, slug)
}

func (s *Session) clearLocked() bool {
	if s.pair.IsZero() && s.attrs == nil {
		return false
	}
	s.pair = CredentialPair{}
	s.attrs = nil
	s.generation++
	if err := s.store.Remove(SessionKeys...); err != nil {
		s.storeFailed("remove", err)
	}
	s.saveLocked()
	return true
}

func (s *Session) persistLocked(pair CredentialPair, attrs *SessionAttributes) {
	if err := s.store.Set(KeyAccessToken, pair.AccessToken); err != nil {
		s.storeFailed("set", err)
	}
	if err := s.store.Set(KeyRefreshToken, pair.RefreshToken); err != nil {
		s.storeFailed("set", err)
	}
	if err := s.store.Set(KeyAuthenticated, "true"); err != nil {
		s.storeFailed("set", err)
	}
	if attrs != nil {
		s.persistAttrsLocked(attrs)
	}
	s.saveLocked()
}

func (s *Session) persistAttrsLocked(attrs *SessionAttributes) {
	data, err := json.Marshal(attrs)
	if err != nil {
		s.logger.Warn("failed to encode session attributes", "err", err)
		return
	}
	values := []struct{ k, v string }{
		{KeyUser, string(data)},
		{KeyTenantID, attrs.TenantID},
		{KeyRole, attrs.Role},
		{KeyPlan, attrs.PlanSlug},
	}
	for _, kv := range values {
		if err := s.store.Set(kv.k, kv.v); err != nil {
			s.storeFailed("set", err)
		}
	}
}

func (s *Session) saveLocked() {
	if err := s.store.Save(); err != nil {
		s.storeFailed("save", err)
	}
}

func (s *Session) storeFailed(op string, err error) {
	if !s.degraded {
		s.logger.Warn("credential store unavailable, continuing in memory", "op", op, "err", err)
	}
	s.degraded = true
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
