package devserver

import (
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/panyam/storefront/client"
)

// Plans
const (
	PlanFree = "free"
	PlanPro  = "pro"
)

// Backend role names. Clients normalize them with client.NormalizeRole.
const (
	RoleTenantOwner = "TENANT_OWNER"
	RoleManager     = "MANAGER"
	RoleSeller      = "SELLER"
)

// MinPasswordLength is the shortest accepted password
const MinPasswordLength = 8

var (
	ErrUserExists         = errors.New("user already exists")
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// User is an account on the development backend
type User struct {
	ID           string
	Name         string
	Email        string
	TenantID     string
	BusinessName string
	Role         string
	Plan         string
	PasswordHash []byte
}

// Info returns the user as it appears in auth responses
func (u *User) Info() *client.UserInfo {
	return &client.UserInfo{
		ID:       u.ID,
		Name:     u.Name,
		Email:    u.Email,
		TenantID: u.TenantID,
		Role:     u.Role,
		Plan:     u.Plan,
	}
}

type resetToken struct {
	userID    string
	expiresAt time.Time
}

// userStore keeps accounts in memory, indexed by id and lower-cased email
type userStore struct {
	mu        sync.RWMutex
	byID      map[string]*User
	byEmail   map[string]*User
	resets    map[string]resetToken
	lastReset map[string]string
}

func newUserStore() *userStore {
	return &userStore{
		byID:      make(map[string]*User),
		byEmail:   make(map[string]*User),
		resets:    make(map[string]resetToken),
		lastReset: make(map[string]string),
	}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Create hashes password and stores a new user. Missing ids, tenants, roles
// and plans are filled in.
func (s *userStore) Create(u User, password string) (*User, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	u.Email = normalizeEmail(u.Email)
	if _, exists := s.byEmail[u.Email]; exists {
		return nil, ErrUserExists
	}
	if u.ID == "" {
		u.ID = uuid.NewString()
	}
	if u.TenantID == "" {
		u.TenantID = uuid.NewString()
	}
	if u.Role == "" {
		u.Role = RoleTenantOwner
	}
	if u.Plan == "" {
		u.Plan = PlanFree
	}
	u.PasswordHash = hash

	user := &u
	s.byID[user.ID] = user
	s.byEmail[user.Email] = user
	copied := *user
	return &copied, nil
}

// Authenticate checks an email/password pair
func (s *userStore) Authenticate(email, password string) (*User, error) {
	s.mu.RLock()
	user, ok := s.byEmail[normalizeEmail(email)]
	var copied User
	if ok {
		copied = *user
	}
	s.mu.RUnlock()
	if !ok {
		return nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword(copied.PasswordHash, []byte(password)); err != nil {
		return nil, ErrInvalidCredentials
	}
	return &copied, nil
}

// Get returns a copy of the user with the given id
func (s *userStore) Get(id string) (*User, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	user, ok := s.byID[id]
	if !ok {
		return nil, false
	}
	copied := *user
	return &copied, true
}

// SetPlan changes the plan of every user in a tenant
func (s *userStore) SetPlan(tenantID, plan string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, u := range s.byID {
		if u.TenantID == tenantID {
			u.Plan = plan
		}
	}
}

// CreateResetToken issues a reset token for email. Unknown emails yield "".
func (s *userStore) CreateResetToken(email string, ttl time.Duration) (string, error) {
	email = normalizeEmail(email)

	s.mu.Lock()
	defer s.mu.Unlock()
	user, ok := s.byEmail[email]
	if !ok {
		return "", nil
	}
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	s.resets[hashToken(token)] = resetToken{userID: user.ID, expiresAt: time.Now().Add(ttl)}
	s.lastReset[email] = token
	return token, nil
}

// ResetPassword consumes token and sets a new password. It returns the user
// id, or "" if the token is unknown or expired.
func (s *userStore) ResetPassword(token, password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key := hashToken(token)
	reset, ok := s.resets[key]
	delete(s.resets, key)
	if !ok || time.Now().After(reset.expiresAt) {
		return "", nil
	}
	user, ok := s.byID[reset.userID]
	if !ok {
		return "", nil
	}
	user.PasswordHash = hash
	return user.ID, nil
}

// LastResetToken returns the most recent reset token issued for email
func (s *userStore) LastResetToken(email string) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastReset[normalizeEmail(email)]
}
