package devserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/p-blackswan/poesy/internal/health"
)

var errInvalidToken = errors.New("invalid token")

type accessClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// tokenPair mirrors the client's TokenPair body.
type tokenPair struct {
	AccessToken  string `json:"accessToken"`
	ExpireTime   int64  `json:"expireTime"`
	RefreshToken string `json:"refreshToken"`
}

type refreshEntry struct {
	email   string
	expires time.Time
}

// tokens issues HS256 access tokens and opaque single-use refresh tokens.
type tokens struct {
	secret     []byte
	ttl        time.Duration
	refreshTTL time.Duration
	now        func() time.Time

	mu      sync.Mutex
	refresh map[string]refreshEntry
}

func newTokens(secret string, ttl, refreshTTL time.Duration, now func() time.Time) *tokens {
	return &tokens{
		secret:     []byte(secret),
		ttl:        ttl,
		refreshTTL: refreshTTL,
		now:        now,
		refresh:    make(map[string]refreshEntry),
	}
}

func (t *tokens) issue(email string) (tokenPair, error) {
	now := t.now()
	exp := jwt.NewNumericDate(now.Add(t.ttl))
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   email,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: exp,
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return tokenPair{}, fmt.Errorf("signing access token: %w", err)
	}

	refresh := uuid.NewString()
	t.mu.Lock()
	t.refresh[refresh] = refreshEntry{email: email, expires: now.Add(t.refreshTTL)}
	t.mu.Unlock()

	return tokenPair{AccessToken: signed, ExpireTime: exp.UnixMilli(), RefreshToken: refresh}, nil
}

// rotate consumes refreshToken and issues a new pair for its owner.
func (t *tokens) rotate(refreshToken string) (tokenPair, string, error) {
	t.mu.Lock()
	entry, ok := t.refresh[refreshToken]
	delete(t.refresh, refreshToken)
	t.mu.Unlock()

	if !ok || t.now().After(entry.expires) {
		return tokenPair{}, "", errInvalidToken
	}
	pair, err := t.issue(entry.email)
	return pair, entry.email, err
}

// revoke drops refreshToken and reports whether it was live.
func (t *tokens) revoke(refreshToken string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.refresh[refreshToken]
	delete(t.refresh, refreshToken)
	return ok
}

func (t *tokens) parse(raw string) (*accessClaims, error) {
	claims := &accessClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(tok *jwt.Token) (interface{}, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(t.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("token expired: %w", errInvalidToken)
		}
		return nil, fmt.Errorf("%w: %v", errInvalidToken, err)
	}
	if !token.Valid || claims.Email == "" {
		return nil, errInvalidToken
	}
	return claims, nil
}

// check signs and parses a throwaway token.
func (t *tokens) check(context.Context) health.Result {
	now := t.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, accessClaims{
		Email: "health@poesy.invalid",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
		},
	})
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return health.Result{Status: health.StatusDown, Detail: err.Error()}
	}
	if _, err := t.parse(signed); err != nil {
		return health.Result{Status: health.StatusDown, Detail: err.Error()}
	}
	return health.Result{Status: health.StatusOK}
}

// bearer extracts the token from an Authorization header.
func bearer(header string) (string, bool) {
	token, ok := strings.CutPrefix(header, "Bearer ")
	if !ok || strings.TrimSpace(token) == "" {
		return "", false
	}
	return strings.TrimSpace(token), true
}

// requireUser rejects requests without a valid access token and stores the
// caller's email in Locals("email").
func (s *Server) requireUser() fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw, ok := bearer(c.Get(fiber.HeaderAuthorization))
		if !ok {
			return fail(c, fiber.StatusUnauthorized, "missing bearer token")
		}
		claims, err := s.tokens.parse(raw)
		if err != nil {
			s.logger.Debug().Err(err).Str("path", c.Path()).Msg("rejected access token")
			return fail(c, fiber.StatusUnauthorized, err.Error())
		}
		c.Locals("email", claims.Email)
		return c.Next()
	}
}

// optionalUser returns the caller's email when a valid token is present.
func (s *Server) optionalUser(c *fiber.Ctx) (string, bool) {
	raw, ok := bearer(c.Get(fiber.HeaderAuthorization))
	if !ok {
		return "", false
	}
	claims, err := s.tokens.parse(raw)
	if err != nil {
		return "", false
	}
	return claims.Email, true
}

func callerEmail(c *fiber.Ctx) string {
	email, _ := c.Locals("email").(string)
	return email
}
