package api

import (
	"context"
	"fmt"
	"time"

	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/internal/retry"
	"github.com/p-blackswan/poesy/internal/session"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password,omitempty"`
	Code     string `json:"code,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Login exchanges email and password for a token pair and stores it.
func (c *Client) Login(ctx context.Context, email, password string) (session.TokenPair, error) {
	return c.signIn(ctx, PathLogin, credentials{Email: email, Password: password})
}

// Verify exchanges an emailed verification code for a token pair and stores it.
func (c *Client) Verify(ctx context.Context, email, code string) (session.TokenPair, error) {
	return c.signIn(ctx, PathVerify, credentials{Email: email, Code: code})
}

func (c *Client) signIn(ctx context.Context, path string, creds credentials) (session.TokenPair, error) {
	pair, err := Post(ctx, c, path, creds, session.DecodeTokenPair, SkipAuth())
	if err != nil {
		return session.TokenPair{}, err
	}
	if err := c.session.Save(ctx, pair); err != nil {
		return session.TokenPair{}, fmt.Errorf("saving session: %w", err)
	}
	c.logger.Info().
		Str("email", creds.Email).
		Time("expires", pair.Expiry()).
		Msg("signed in")
	return pair, nil
}

// Refresh trades the stored refresh token for a new pair. Concurrent callers
// share one request. On failure the stored pair is left as it was.
//
// The shared request does not inherit the starting caller's cancellation; it
// is bounded by the refresh timeout instead, so a pair the server already
// rotated is still stored. A cancelled caller stops waiting and returns its
// context error.
func (c *Client) Refresh(ctx context.Context) error {
	ch := c.refreshes.DoChan("refresh", func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.refreshTimeout)
		defer cancel()
		return nil, c.refresh(rctx)
	})
	select {
	case res := <-ch:
		if res.Shared {
			c.metrics.RecordRefresh("shared")
		}
		return res.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Client) refresh(ctx context.Context) error {
	current, ok := c.session.Tokens(ctx)
	if !ok || current.RefreshToken == "" {
		return perrors.ErrMissingRefreshToken
	}

	done := c.session.BeginRefresh()
	defer done()

	pair, err := Post(ctx, c, PathRefresh, refreshRequest{RefreshToken: current.RefreshToken}, session.DecodeTokenPair, SkipAuth())
	if err != nil {
		c.metrics.RecordRefresh("error")
		return fmt.Errorf("refreshing token: %w", err)
	}
	if err := c.session.Save(ctx, pair); err != nil {
		c.metrics.RecordRefresh("error")
		return fmt.Errorf("saving session: %w", err)
	}
	c.metrics.RecordRefresh("ok")
	c.logger.Debug().
		Str("access_token", session.Redact(pair.AccessToken)).
		Time("expires", pair.Expiry()).
		Msg("token refreshed")
	return nil
}

// AutoRefreshedToken returns an access token for the current session,
// refreshing first when it is near expiry. A failed refresh is logged and the
// stored token is returned as is; the server decides whether it is still good.
func (c *Client) AutoRefreshedToken(ctx context.Context) (string, error) {
	pair, ok := c.session.Tokens(ctx)
	if !ok {
		return "", perrors.ErrUnauthenticated
	}
	if c.session.NeedsRefresh(pair) {
		if err := c.Refresh(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("token refresh failed")
		}
		pair, ok = c.session.Tokens(ctx)
		if !ok {
			return "", perrors.ErrUnauthenticated
		}
	}
	return pair.AccessToken, nil
}

// Logout signs out locally and then tells the server to revoke the refresh
// token. The local pair is always cleared first. The notification runs under
// the logout timeout with retries; its failure is logged and not returned.
// Only a failure to clear the local store is returned.
func (c *Client) Logout(ctx context.Context) error {
	pair, ok := c.session.Tokens(ctx)
	if err := c.session.Clear(ctx); err != nil {
		return fmt.Errorf("clearing session: %w", err)
	}
	c.logger.Info().Msg("signed out")
	if !ok || pair.RefreshToken == "" {
		return nil
	}
	c.notifyLogout(ctx, pair.RefreshToken)
	return nil
}

func (c *Client) notifyLogout(ctx context.Context, refreshToken string) {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.logoutTimeout)
	defer cancel()

	cfg := c.retry
	cfg.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.logger.Debug().Err(err).Int("attempt", attempt).Dur("delay", delay).Msg("retrying logout notification")
	}
	err := retry.Do(nctx, cfg, func(ctx context.Context) error {
		_, err := Post[struct{}](ctx, c, PathLogout, refreshRequest{RefreshToken: refreshToken}, Discard, SkipAuth())
		return err
	})
	if err != nil {
		c.logger.Warn().Err(err).Str("kind", perrors.Kind(err)).Msg("logout notification failed")
	}
}
