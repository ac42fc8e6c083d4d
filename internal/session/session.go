// Package session holds the signed-in user's token pair and derives its refresh state.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/p-blackswan/poesy/pkg/kvstore"
	"github.com/p-blackswan/poesy/pkg/shape"
	"github.com/p-blackswan/poesy/pkg/typedstore"
)

// StorageKey is the store slot holding the JSON-encoded TokenPair.
const StorageKey = "poesy.token-pair"

// DefaultRefreshWindow is how long before expiry a token counts as near expiry.
const DefaultRefreshWindow = 60 * time.Second

// TokenPair is the credential bundle returned by login, verify and refresh.
type TokenPair struct {
	AccessToken string `json:"accessToken"`
	// ExpireTime is the access token expiry in epoch milliseconds.
	ExpireTime   int64  `json:"expireTime"`
	RefreshToken string `json:"refreshToken"`
}

// UnmarshalJSON accepts any JSON number for expireTime, including fractional
// milliseconds.
func (p *TokenPair) UnmarshalJSON(data []byte) error {
	var raw struct {
		AccessToken  string      `json:"accessToken"`
		ExpireTime   json.Number `json:"expireTime"`
		RefreshToken string      `json:"refreshToken"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	var ms int64
	if raw.ExpireTime != "" {
		var err error
		if ms, err = shape.EpochMillis(raw.ExpireTime); err != nil {
			return fmt.Errorf("expireTime: %w", err)
		}
	}
	*p = TokenPair{AccessToken: raw.AccessToken, ExpireTime: ms, RefreshToken: raw.RefreshToken}
	return nil
}

// Expiry returns ExpireTime as a time.Time.
func (p TokenPair) Expiry() time.Time { return time.UnixMilli(p.ExpireTime) }

// TokenPairShape accepts objects carrying both tokens and a numeric expiry.
var TokenPairShape = shape.Object(
	shape.Field("accessToken", shape.String),
	shape.Field("expireTime", shape.Number),
	shape.Field("refreshToken", shape.String),
)

// DecodeTokenPair validates and decodes a TokenPair.
var DecodeTokenPair = shape.Decode[TokenPair](TokenPairShape)

// State is the refresh state of the stored token pair.
type State int

const (
	Absent State = iota
	Valid
	NearExpiry
	Refreshing
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Valid:
		return "valid"
	case NearExpiry:
		return "near-expiry"
	case Refreshing:
		return "refreshing"
	default:
		return "unknown"
	}
}

// Option configures a Session.
type Option func(*Session)

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Session) { s.now = now }
}

// WithRefreshWindow overrides DefaultRefreshWindow.
func WithRefreshWindow(d time.Duration) Option {
	return func(s *Session) {
		if d > 0 {
			s.window = d
		}
	}
}

// Session is the explicit session context shared by every client built on one store.
type Session struct {
	cell       *typedstore.Cell[TokenPair]
	now        func() time.Time
	window     time.Duration
	refreshing atomic.Int32
}

// New creates a Session backed by store.
func New(store kvstore.Store, opts ...Option) *Session {
	s := &Session{
		cell:   typedstore.New(store, StorageKey, DecodeTokenPair),
		now:    time.Now,
		window: DefaultRefreshWindow,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tokens returns the stored pair, or false when signed out or the slot is unusable.
func (s *Session) Tokens(ctx context.Context) (TokenPair, bool) {
	return s.cell.Read(ctx)
}

// Save replaces the stored pair.
func (s *Session) Save(ctx context.Context, p TokenPair) error {
	return s.cell.Write(ctx, p)
}

// Clear removes the stored pair.
func (s *Session) Clear(ctx context.Context) error {
	return s.cell.Clear(ctx)
}

// Now returns the session clock's current time.
func (s *Session) Now() time.Time { return s.now() }

// RefreshWindow returns the configured near-expiry window.
func (s *Session) RefreshWindow() time.Duration { return s.window }

// NeedsRefresh reports whether p expires at or before now plus the refresh window.
func (s *Session) NeedsRefresh(p TokenPair) bool {
	return p.ExpireTime <= s.now().Add(s.window).UnixMilli()
}

// State derives the current state from the stored pair and any in-flight refresh.
func (s *Session) State(ctx context.Context) State {
	p, ok := s.Tokens(ctx)
	switch {
	case !ok:
		return Absent
	case s.refreshing.Load() > 0:
		return Refreshing
	case s.NeedsRefresh(p):
		return NearExpiry
	default:
		return Valid
	}
}

// BeginRefresh marks a refresh in flight until the returned func is called.
func (s *Session) BeginRefresh() (done func()) {
	s.refreshing.Add(1)
	var once atomic.Bool
	return func() {
		if once.CompareAndSwap(false, true) {
			s.refreshing.Add(-1)
		}
	}
}

// Subject returns the sub or email claim of the access token without verifying it.
// It is for display only.
func (s *Session) Subject(ctx context.Context) (string, bool) {
	p, ok := s.Tokens(ctx)
	if !ok {
		return "", false
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(p.AccessToken, claims); err != nil {
		return "", false
	}
	for _, name := range []string{"email", "sub"} {
		if v, ok := claims[name].(string); ok && v != "" {
			return v, true
		}
	}
	return "", false
}

// Redact shortens a token for logging.
func Redact(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:4] + "****"
}
