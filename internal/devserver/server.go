// Package devserver is an in-memory Poesy backend for local development and
// integration tests. It serves the same JSON endpoints as the real service.
package devserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/rs/zerolog"

	"github.com/p-blackswan/poesy/internal/health"
	"github.com/p-blackswan/poesy/internal/metrics"
	"github.com/p-blackswan/poesy/internal/requestid"
)

// Defaults for Config fields left empty.
const (
	DefaultAddr       = ":8787"
	DefaultTokenTTL   = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
	DefaultPageSize   = 10
)

// Config holds dev server settings.
type Config struct {
	Addr       string
	JWTSecret  string
	TokenTTL   time.Duration
	RefreshTTL time.Duration
	PageSize   int
	RateLimit  RateLimitConfig
	Now        func() time.Time

	// CORSOrigins is a comma-separated allow list; empty disables CORS.
	CORSOrigins string
}

func (c *Config) applyDefaults() {
	if c.Addr == "" {
		c.Addr = DefaultAddr
	}
	if c.JWTSecret == "" {
		c.JWTSecret = "poesy-dev-secret"
	}
	if c.TokenTTL <= 0 {
		c.TokenTTL = DefaultTokenTTL
	}
	if c.RefreshTTL <= 0 {
		c.RefreshTTL = DefaultRefreshTTL
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Now == nil {
		c.Now = time.Now
	}
}

// Server is the dev backend Fiber application.
type Server struct {
	app     *fiber.App
	cfg     Config
	data    *state
	tokens  *tokens
	checker *health.Checker
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// New creates and configures a dev server. m may be nil.
func New(cfg Config, m *metrics.Metrics, logger zerolog.Logger) *Server {
	cfg.applyDefaults()
	logger = logger.With().Str("component", "devserver").Logger()

	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler:          errorHandler(logger),
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
	})

	s := &Server{
		app:     app,
		cfg:     cfg,
		data:    newState(),
		tokens:  newTokens(cfg.JWTSecret, cfg.TokenTTL, cfg.RefreshTTL, cfg.Now),
		checker: health.NewChecker(logger),
		metrics: m,
		logger:  logger,
	}
	s.checker.Register("tokens", s.tokens.check)

	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))

	// Request ID: keep the caller's, otherwise mint one.
	s.app.Use(func(c *fiber.Ctx) error {
		reqID := c.Get(requestid.Header)
		ctx := c.UserContext()
		if reqID == "" {
			ctx, reqID = requestid.New(ctx)
		} else {
			ctx = requestid.WithRequestID(ctx, reqID)
		}
		c.SetUserContext(ctx)
		c.Set(requestid.Header, reqID)
		c.Locals("request_id", reqID)
		return c.Next()
	})

	// Browser front ends call the dev server cross-origin.
	if s.cfg.CORSOrigins != "" {
		s.app.Use(cors.New(cors.Config{
			AllowOrigins:  s.cfg.CORSOrigins,
			AllowHeaders:  "Origin, Content-Type, Accept, Authorization, X-Request-ID",
			AllowMethods:  "GET, POST, OPTIONS",
			ExposeHeaders: "X-Request-ID",
		}))
	}

	// Audit and metrics.
	s.app.Use(func(c *fiber.Ctx) error {
		err := c.Next()
		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			var fe *fiber.Error
			if errors.As(err, &fe) {
				status = fe.Code
			}
		}
		route := c.Route().Path
		s.metrics.RecordServed(route, strconv.Itoa(status))

		if !isProbe(c.Path()) {
			s.logger.Info().
				Str("method", c.Method()).
				Str("path", c.Path()).
				Int("status", status).
				Str("request_id", requestid.FromContext(c.UserContext())).
				Msg("dev api request")
		}
		return err
	})
}

func isProbe(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

func (s *Server) setupRoutes() {
	s.app.Get("/healthz", health.Liveness)
	s.app.Get("/readyz", s.checker.Readiness)
	if s.metrics != nil {
		s.app.Get("/metrics", adaptor.HTTPHandler(s.metrics.Handler()))
	}

	auth := s.requireUser()
	limit := s.rateLimit()

	user := s.app.Group("/api/user")
	user.Post("/exists", s.userExists)
	user.Post("/register", limit, s.register)
	user.Post("/login", limit, s.login)
	user.Post("/verify", limit, s.verify)
	user.Post("/refresh", s.refresh)
	user.Post("/logout", s.logout)
	user.Get("/info", auth, s.userInfo)

	for _, kind := range []kind{kindQuestion, kindArticle} {
		g := s.app.Group("/api/" + string(kind))
		g.Post("/upload", auth, s.uploadDocument(kind))
		g.Get("/by-user", s.documentsByUser(kind))
		g.Get("/latest", s.latestDocuments(kind))
		g.Get("/:id", s.getDocument(kind))
	}

	answer := s.app.Group("/api/answer")
	answer.Post("/upload", auth, s.uploadAnswer)
	answer.Get("/by-question/:id", s.answersByQuestion)

	s.app.Post("/api/image/upload", auth, s.uploadImage)
	s.app.Get("/images/:name", s.getImage)

	qwen := s.app.Group("/api/qwen")
	qwen.Post("/answer", s.qwenAnswer)
	qwen.Post("/answer-stream", s.qwenAnswerStream)
}

// Start listens on the configured address. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.cfg.Addr).Msg("dev server starting")
	return s.app.Listen(s.cfg.Addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info().Msg("dev server shutting down")
	return s.app.ShutdownWithContext(ctx)
}

// App returns the underlying Fiber app.
func (s *Server) App() *fiber.App {
	return s.app
}

// Addr returns the listen address.
func (s *Server) Addr() string { return s.cfg.Addr }

// Client returns an HTTP doer that serves requests in-process through the
// app, without a listener.
func (s *Server) Client() *InProcessClient {
	return &InProcessClient{app: s.app}
}

// InProcessClient routes requests straight into a Fiber app.
type InProcessClient struct {
	app *fiber.App
}

// Do serves req and returns the buffered response.
func (c *InProcessClient) Do(req *http.Request) (*http.Response, error) {
	if err := req.Context().Err(); err != nil {
		return nil, err
	}
	return c.app.Test(req, -1)
}

// VerificationCode returns the pending code for email. The real service
// mails it; the dev server logs it and exposes it here.
func (s *Server) VerificationCode(email string) (string, bool) {
	return s.data.code(email)
}

type errorBody struct {
	Error string `json:"error"`
}

// fail writes an {error} body with status.
func fail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(errorBody{Error: msg})
}

func errorHandler(logger zerolog.Logger) fiber.ErrorHandler {
	return func(c *fiber.Ctx, err error) error {
		code := fiber.StatusInternalServerError
		var fe *fiber.Error
		if errors.As(err, &fe) {
			code = fe.Code
		}
		msg := err.Error()
		if code == fiber.StatusInternalServerError {
			logger.Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("unhandled error")
			msg = "internal error"
		}
		return fail(c, code, msg)
	}
}
