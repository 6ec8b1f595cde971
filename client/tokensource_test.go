package client

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

func signedToken(t *testing.T, exp time.Time) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1",
		"exp": exp.Unix(),
	})
	s, err := token.SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("SignedString() error = %v", err)
	}
	return s
}

func TestTokenExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)

	if got := TokenExpiry(signedToken(t, exp)); !got.Equal(exp) {
		t.Errorf("TokenExpiry() = %v, want %v", got, exp)
	}
	if got := TokenExpiry("opaque-token"); !got.IsZero() {
		t.Errorf("TokenExpiry(opaque) = %v, want zero", got)
	}
}

func TestTokenSource_NotAuthenticated(t *testing.T) {
	c := NewClient("http://localhost:0", nil)

	_, err := c.TokenSource(context.Background()).Token()
	if !errors.Is(err, ErrNotAuthenticated) {
		t.Errorf("Token() error = %v, want ErrNotAuthenticated", err)
	}
}

func TestTokenSource_FreshToken(t *testing.T) {
	var refreshCalls atomic.Int32
	c, s := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
	}))
	access := signedToken(t, time.Now().Add(time.Hour))
	seedCredentials(t, s, access, "refresh-1")

	tok, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if tok.AccessToken != access || tok.TokenType != "Bearer" || tok.Expiry.IsZero() {
		t.Errorf("token = %+v", tok)
	}
	if refreshCalls.Load() != 0 {
		t.Error("fresh token must not be renewed")
	}
}

func TestTokenSource_RenewsNearExpiry(t *testing.T) {
	renewed := signedToken(t, time.Now().Add(time.Hour))
	var refreshCalls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		refreshCalls.Add(1)
		writeJSON(w, http.StatusOK, AuthResponse{AccessToken: renewed, RefreshToken: "refresh-2"})
	})
	c, s := newTestPipeline(t, mux)
	seedCredentials(t, s, signedToken(t, time.Now().Add(5*time.Second)), "refresh-1")

	tok, err := c.TokenSource(context.Background()).Token()
	if err != nil {
		t.Fatalf("Token() error = %v", err)
	}

	if tok.AccessToken != renewed {
		t.Error("token was not renewed")
	}
	if refreshCalls.Load() != 1 {
		t.Errorf("refresh calls = %d, want 1", refreshCalls.Load())
	}
}

func TestTokenSource_ExpiredAndRejected(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusUnauthorized, map[string]string{"detail": "Refresh token expired"})
	})
	c, s := newTestPipeline(t, mux)
	seedCredentials(t, s, signedToken(t, time.Now().Add(-time.Minute)), "refresh-1")

	_, err := c.TokenSource(context.Background()).Token()
	if !IsSessionExpired(err) {
		t.Errorf("Token() error = %v, want session expired", err)
	}
}

func TestTokenSource_WithOAuth2Client(t *testing.T) {
	access := signedToken(t, time.Now().Add(time.Hour))
	c, s := newTestPipeline(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+access {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte("sku,qty\n"))
	}))
	seedCredentials(t, s, access, "refresh-1")

	ctx := context.Background()
	httpClient := oauth2.NewClient(ctx, c.TokenSource(ctx))
	resp, err := httpClient.Get(c.BaseURL() + "/reports/stock.csv")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("status = %d", resp.StatusCode)
	}
}
