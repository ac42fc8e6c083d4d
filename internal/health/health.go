// Package health runs named readiness checks for the CLI doctor command and
// the dev server probes.
package health

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/poesy/internal/session"
	"github.com/p-blackswan/poesy/pkg/kvstore"
)

// Status represents the health status of a dependency.
type Status string

const (
	StatusOK       Status = "ok"
	StatusDegraded Status = "degraded"
	StatusDown     Status = "down"
)

// Result is the outcome of one check.
type Result struct {
	Status Status `json:"status"`
	Detail string `json:"detail,omitempty"`
}

// CheckFunc checks one dependency.
type CheckFunc func(ctx context.Context) Result

// DefaultCheckTimeout bounds each check run by RunAll.
const DefaultCheckTimeout = 5 * time.Second

// Checker manages health checks for all dependencies.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]CheckFunc
	cache   map[string]Result
	timeout time.Duration
	logger  zerolog.Logger
}

// NewChecker creates a new health checker.
func NewChecker(logger zerolog.Logger) *Checker {
	return &Checker{
		checks:  make(map[string]CheckFunc),
		cache:   make(map[string]Result),
		timeout: DefaultCheckTimeout,
		logger:  logger.With().Str("component", "health").Logger(),
	}
}

// SetTimeout changes the per-check timeout.
func (c *Checker) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// Register adds a named health check.
func (c *Checker) Register(name string, fn CheckFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = fn
}

// Names returns the registered check names in order.
func (c *Checker) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	names := make([]string, 0, len(c.checks))
	for name := range c.checks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RunAll executes all health checks concurrently and caches results.
func (c *Checker) RunAll(ctx context.Context) map[string]Result {
	c.mu.RLock()
	checks := make(map[string]CheckFunc, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	results := make(map[string]Result, len(checks))
	var wg sync.WaitGroup
	var mu sync.Mutex

	for name, fn := range checks {
		wg.Add(1)
		go func(n string, f CheckFunc) {
			defer wg.Done()
			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()
			r := f(checkCtx)
			if r.Status != StatusOK {
				c.logger.Debug().Str("check", n).Str("status", string(r.Status)).Str("detail", r.Detail).Msg("check not ok")
			}
			mu.Lock()
			results[n] = r
			mu.Unlock()
		}(name, fn)
	}

	wg.Wait()

	c.mu.Lock()
	c.cache = results
	c.mu.Unlock()

	return results
}

// Last returns the results of the most recent RunAll.
func (c *Checker) Last() map[string]Result {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]Result, len(c.cache))
	for k, v := range c.cache {
		out[k] = v
	}
	return out
}

// Ready reports whether no result is down.
func Ready(results map[string]Result) bool {
	for _, r := range results {
		if r.Status == StatusDown {
			return false
		}
	}
	return true
}

// IsReady runs every check and reports whether none is down.
func (c *Checker) IsReady(ctx context.Context) bool {
	return Ready(c.RunAll(ctx))
}

// Liveness handles GET /healthz.
func Liveness(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"status": "ok"})
}

// Readiness handles GET /readyz.
func (c *Checker) Readiness(ctx *fiber.Ctx) error {
	results := c.RunAll(ctx.UserContext())
	if !Ready(results) {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status": "not_ready",
			"checks": results,
		})
	}
	return ctx.JSON(fiber.Map{"status": "ready", "checks": results})
}

// StoreCheck writes, reads back and deletes a probe key.
func StoreCheck(store kvstore.Store) CheckFunc {
	return func(ctx context.Context) Result {
		key := "poesy.health." + uuid.NewString()
		want := time.Now().UTC().Format(time.RFC3339Nano)
		if err := store.Set(ctx, key, want); err != nil {
			return Result{Status: StatusDown, Detail: fmt.Sprintf("write: %v", err)}
		}
		defer store.Delete(context.WithoutCancel(ctx), key)

		got, err := store.Get(ctx, key)
		if err != nil {
			return Result{Status: StatusDown, Detail: fmt.Sprintf("read: %v", err)}
		}
		if got != want {
			return Result{Status: StatusDegraded, Detail: "read back a different value"}
		}
		return Result{Status: StatusOK}
	}
}

// HTTPDoer is the subset of *http.Client used by EndpointCheck.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// EndpointCheck issues GET url. Transport failures are down; non-2xx
// statuses are degraded since the backend answered.
func EndpointCheck(client HTTPDoer, url string) CheckFunc {
	return func(ctx context.Context) Result {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return Result{Status: StatusDown, Detail: err.Error()}
		}
		start := time.Now()
		resp, err := client.Do(req)
		if err != nil {
			return Result{Status: StatusDown, Detail: err.Error()}
		}
		resp.Body.Close()
		latency := time.Since(start).Round(time.Millisecond)
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return Result{Status: StatusDegraded, Detail: fmt.Sprintf("HTTP %d in %s", resp.StatusCode, latency)}
		}
		return Result{Status: StatusOK, Detail: latency.String()}
	}
}

// SessionCheck reports the local session state. Signed out and near expiry
// are degraded, never down.
func SessionCheck(sess *session.Session) CheckFunc {
	return func(ctx context.Context) Result {
		state := sess.State(ctx)
		switch state {
		case session.Valid:
			pair, _ := sess.Tokens(ctx)
			return Result{Status: StatusOK, Detail: "expires " + pair.Expiry().Format(time.RFC3339)}
		case session.Absent:
			return Result{Status: StatusDegraded, Detail: "signed out"}
		default:
			return Result{Status: StatusDegraded, Detail: state.String()}
		}
	}
}
