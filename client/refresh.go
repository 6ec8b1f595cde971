package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/singleflight"
)

// ErrNoRefreshToken is returned when a renewal is attempted without a refresh token
var ErrNoRefreshToken = errors.New("no refresh token")

// RefreshRequest is the body sent to the refresh endpoint
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// errCredentialsChanged is returned by an exchange whose response arrived after
// the credentials it started from were replaced or cleared.
var errCredentialsChanged = errors.New("credentials changed during refresh")

// refresher exchanges the refresh token for a new pair. At most one exchange
// is in flight; concurrent callers wait for and share its outcome.
type refresher struct {
	client *Client
	group  singleflight.Group
}

// refresh renews the session unless a sibling already did so since the caller's
// request went out with generation seen. It reports false with a nil error when
// renewal is impossible or was rejected. A non-nil error means ctx ended while
// waiting; the shared exchange carries on for the other callers. refresh never
// clears credentials.
func (r *refresher) refresh(ctx context.Context, seen uint64) (bool, error) {
	session := r.client.session
	if session.RefreshToken() == "" {
		return false, nil
	}
	if r.renewedSince(seen) {
		return true, nil
	}

	ch := r.group.DoChan("refresh", func() (any, error) {
		if r.renewedSince(seen) {
			return nil, nil
		}
		// the exchange must not die with the caller that happened to start it
		return nil, r.exchange(context.WithoutCancel(ctx))
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			r.client.logger.Debug("token refresh failed", "err", res.Err, "shared", res.Shared)
			// a login that landed during the exchange is as good as a renewal
			return r.renewedSince(seen), nil
		}
		return true, nil
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// renewedSince reports whether the credentials changed after generation seen
// and a full pair is present.
func (r *refresher) renewedSince(seen uint64) bool {
	pair, gen := r.client.session.Credentials()
	return gen != seen && pair.IsComplete()
}

// exchange performs the network call and stores the result, provided the
// session still holds the pair the exchange started from.
func (r *refresher) exchange(ctx context.Context) error {
	session := r.client.session
	current, gen := session.Credentials()
	oldRefresh := current.RefreshToken
	if oldRefresh == "" {
		return ErrNoRefreshToken
	}

	resp, _, err := r.client.execute(ctx, &Request{
		Method:   http.MethodPost,
		Path:     r.client.refreshPath,
		Body:     RefreshRequest{RefreshToken: oldRefresh},
		SkipAuth: true,
	})
	if err != nil {
		return err
	}
	if resp.status < 200 || resp.status >= 300 {
		return newHTTPError(resp)
	}

	var auth AuthResponse
	if err := json.Unmarshal(resp.body, &auth); err != nil {
		return fmt.Errorf("invalid refresh response: %w", err)
	}
	if auth.AccessToken == "" {
		return fmt.Errorf("invalid refresh response: missing access token")
	}

	pair := CredentialPair{AccessToken: auth.AccessToken, RefreshToken: auth.RefreshToken}
	if pair.RefreshToken == "" {
		pair.RefreshToken = oldRefresh
	}
	stored, err := session.SetCredentialsIf(gen, pair, auth.User.Attributes())
	if err != nil {
		return err
	}
	if !stored {
		r.client.logger.Debug("discarding refresh response", "generation", gen)
		return errCredentialsChanged
	}
	r.client.logger.Debug("access token refreshed", "generation", session.Generation())
	return nil
}

// Refresh renews the credentials now, joining any exchange already in flight.
// It returns false when renewal is impossible, was rejected, or ctx ended
// first; credentials are left untouched in every case.
func (c *Client) Refresh(ctx context.Context) bool {
	ok, _ := c.refresher.refresh(ctx, c.session.Generation())
	return ok
}

// RefreshIfStale renews the credentials unless they already changed since
// generation, which is the value Session.Credentials returned when the failed
// request was prepared. A false result with a nil error means the session can
// no longer be renewed and should be expired. A non-nil error is ctx's error:
// the caller gave up waiting and the session must be left alone.
func (c *Client) RefreshIfStale(ctx context.Context, generation uint64) (bool, error) {
	return c.refresher.refresh(ctx, generation)
}
