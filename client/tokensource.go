package client

import (
	"context"
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/oauth2"
)

// RefreshThreshold is how long before expiry the token source renews proactively
const RefreshThreshold = 30 * time.Second

// ErrNotAuthenticated is returned by the token source when the session holds no credentials
var ErrNotAuthenticated = errors.New("not authenticated")

// TokenExpiry reads the exp claim of a JWT access token without verifying it.
// Opaque tokens and tokens without exp return the zero time.
func TokenExpiry(accessToken string) time.Time {
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(accessToken, claims); err != nil {
		return time.Time{}
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}
	}
	return exp.Time
}

type sessionTokenSource struct {
	ctx    context.Context
	client *Client
}

// TokenSource exposes the session as an oauth2.TokenSource, so libraries built
// on golang.org/x/oauth2 share the same credentials and renewal. Tokens close to
// expiry are renewed through the single-flight coordinator.
func (c *Client) TokenSource(ctx context.Context) oauth2.TokenSource {
	return &sessionTokenSource{ctx: ctx, client: c}
}

func (ts *sessionTokenSource) Token() (*oauth2.Token, error) {
	pair, gen := ts.client.session.Credentials()
	if !pair.IsComplete() {
		return nil, ErrNotAuthenticated
	}

	expiry := TokenExpiry(pair.AccessToken)
	if !expiry.IsZero() && time.Until(expiry) < RefreshThreshold {
		ok, err := ts.client.RefreshIfStale(ts.ctx, gen)
		if err != nil {
			return nil, err
		}
		if !ok {
			if time.Now().After(expiry) {
				return nil, newSessionExpiredError("")
			}
		} else {
			pair, _ = ts.client.session.Credentials()
			expiry = TokenExpiry(pair.AccessToken)
		}
	}

	return &oauth2.Token{
		AccessToken:  pair.AccessToken,
		TokenType:    "Bearer",
		RefreshToken: pair.RefreshToken,
		Expiry:       expiry,
	}, nil
}
