package devserver

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Default token lifetimes
const (
	DefaultAccessTokenTTL  = 15 * time.Minute
	DefaultRefreshTokenTTL = 7 * 24 * time.Hour
	DefaultResetTokenTTL   = time.Hour
)

var (
	ErrTokenNotFound = errors.New("token not found")
	ErrTokenExpired  = errors.New("token expired")
	ErrTokenReused   = errors.New("token reuse detected")
)

// GenerateSecureToken generates a cryptographically secure random token
func GenerateSecureToken() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return hex.EncodeToString(b), nil
}

func hashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}

// accessClaims are the claims of an access token
type accessClaims struct {
	TenantID string `json:"tid"`
	Role     string `json:"role"`
	Type     string `json:"type"`
	Epoch    int64  `json:"epoch"`
	jwt.RegisteredClaims
}

// createAccessToken creates a signed JWT access token
func (s *Server) createAccessToken(u *User) (string, int64, error) {
	now := time.Now()
	claims := accessClaims{
		TenantID: u.TenantID,
		Role:     u.Role,
		Type:     "access",
		Epoch:    s.epoch.Load(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   u.ID,
			Issuer:    s.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.accessTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", 0, fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, int64(s.accessTTL.Seconds()), nil
}

// validateAccessToken returns the user id of a valid access token. Tokens
// signed before the last InvalidateAccessTokens are rejected as expired.
func (s *Server) validateAccessToken(tokenString string) (string, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		// Validate signing method
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return s.secret, nil
	}, jwt.WithIssuer(s.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return "", ErrTokenExpired
		}
		return "", err
	}
	if !token.Valid || claims.Type != "access" || claims.Subject == "" {
		return "", fmt.Errorf("invalid token")
	}
	if claims.Epoch != s.epoch.Load() {
		return "", ErrTokenExpired
	}
	return claims.Subject, nil
}

// refreshToken is a long-lived token. Only its hash is kept.
type refreshToken struct {
	TokenHash  string
	UserID     string
	Family     string
	Generation int
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Revoked    bool
	RevokedAt  *time.Time
}

func (t *refreshToken) IsExpired() bool {
	return time.Now().After(t.ExpiresAt)
}

// refreshTokenStore keeps refresh tokens in memory. Rotation revokes the old
// token; presenting a revoked token again is treated as theft and revokes the
// whole family.
type refreshTokenStore struct {
	mu     sync.Mutex
	ttl    time.Duration
	tokens map[string]*refreshToken
}

func newRefreshTokenStore(ttl time.Duration) *refreshTokenStore {
	return &refreshTokenStore{ttl: ttl, tokens: make(map[string]*refreshToken)}
}

// Create issues a token in a new family
func (s *refreshTokenStore) Create(userID string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	family, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	return s.issueLocked(userID, family[:16], 1)
}

func (s *refreshTokenStore) issueLocked(userID, family string, generation int) (string, error) {
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	now := time.Now()
	s.tokens[hashToken(token)] = &refreshToken{
		TokenHash:  hashToken(token),
		UserID:     userID,
		Family:     family,
		Generation: generation,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	return token, nil
}

// Rotate invalidates old and returns its successor in the same family
func (s *refreshTokenStore) Rotate(old string) (newToken string, userID string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[hashToken(old)]
	if !ok {
		return "", "", ErrTokenNotFound
	}

	// Check if already revoked (token reuse attack detection)
	if t.Revoked {
		s.revokeFamilyLocked(t.Family)
		return "", "", ErrTokenReused
	}
	if t.IsExpired() {
		return "", "", ErrTokenExpired
	}

	now := time.Now()
	t.Revoked = true
	t.RevokedAt = &now

	newToken, err = s.issueLocked(t.UserID, t.Family, t.Generation+1)
	if err != nil {
		return "", "", err
	}
	return newToken, t.UserID, nil
}

// Revoke marks a token as revoked. Unknown tokens are ignored.
func (s *refreshTokenStore) Revoke(token string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tokens[hashToken(token)]; ok && !t.Revoked {
		now := time.Now()
		t.Revoked = true
		t.RevokedAt = &now
	}
}

// RevokeUser revokes every token of a user
func (s *refreshTokenStore) RevokeUser(userID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
		}
	}
}

func (s *refreshTokenStore) revokeFamilyLocked(family string) {
	now := time.Now()
	for _, t := range s.tokens {
		if t.Family == family && !t.Revoked {
			t.Revoked = true
			t.RevokedAt = &now
		}
	}
}

// Active returns the number of usable tokens of a user
func (s *refreshTokenStore) Active(userID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, t := range s.tokens {
		if t.UserID == userID && !t.Revoked && !t.IsExpired() {
			n++
		}
	}
	return n
}
