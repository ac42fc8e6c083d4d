package devserver

import (
	"fmt"
	"math/rand/v2"
	"net/mail"
	"strings"

	"github.com/gofiber/fiber/v2"
	"golang.org/x/crypto/bcrypt"
)

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Code     string `json:"code"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type message struct {
	Msg string `json:"msg"`
}

// parseCredentials decodes the body and normalises the email.
func parseCredentials(c *fiber.Ctx) (credentials, error) {
	var creds credentials
	if err := c.BodyParser(&creds); err != nil {
		return creds, fmt.Errorf("invalid request body: %w", err)
	}
	creds.Email = strings.ToLower(strings.TrimSpace(creds.Email))
	if _, err := mail.ParseAddress(creds.Email); err != nil {
		return creds, fmt.Errorf("invalid email %q", creds.Email)
	}
	return creds, nil
}

// userExists handles POST /api/user/exists.
func (s *Server) userExists(c *fiber.Ctx) error {
	creds, err := parseCredentials(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	_, ok := s.data.user(creds.Email)
	return c.JSON(fiber.Map{"exists": ok})
}

// register handles POST /api/user/register.
func (s *Server) register(c *fiber.Ctx) error {
	creds, err := parseCredentials(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if len(creds.Password) < 6 {
		return fail(c, fiber.StatusBadRequest, "password must be at least 6 characters")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(creds.Password), bcrypt.MinCost)
	if err != nil {
		return fmt.Errorf("hashing password: %w", err)
	}
	code := fmt.Sprintf("%06d", rand.IntN(1_000_000))
	if !s.data.register(creds.Email, hash, code) {
		return fail(c, fiber.StatusConflict, "user already exists")
	}
	s.logger.Info().
		Str("email", creds.Email).
		Str("code", code).
		Msg("verification code issued")
	return c.JSON(message{Msg: "verification code sent to " + creds.Email})
}

// login handles POST /api/user/login.
func (s *Server) login(c *fiber.Ctx) error {
	creds, err := parseCredentials(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	u, ok := s.data.user(creds.Email)
	if !ok || bcrypt.CompareHashAndPassword(u.passwordHash, []byte(creds.Password)) != nil {
		return fail(c, fiber.StatusUnauthorized, "invalid email or password")
	}
	if !u.verified {
		return fail(c, fiber.StatusForbidden, "email not verified")
	}
	return s.issue(c, creds.Email)
}

// verify handles POST /api/user/verify.
func (s *Server) verify(c *fiber.Ctx) error {
	creds, err := parseCredentials(c)
	if err != nil {
		return fail(c, fiber.StatusBadRequest, err.Error())
	}
	if !s.data.verify(creds.Email, strings.TrimSpace(creds.Code)) {
		return fail(c, fiber.StatusBadRequest, "invalid verification code")
	}
	return s.issue(c, creds.Email)
}

func (s *Server) issue(c *fiber.Ctx, email string) error {
	pair, err := s.tokens.issue(email)
	if err != nil {
		return err
	}
	s.logger.Info().Str("email", email).Msg("signed in")
	return c.JSON(pair)
}

// refresh handles POST /api/user/refresh. The presented token is consumed.
func (s *Server) refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil || req.RefreshToken == "" {
		return fail(c, fiber.StatusBadRequest, "refreshToken is required")
	}
	pair, email, err := s.tokens.rotate(req.RefreshToken)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, "invalid refresh token")
	}
	s.logger.Debug().Str("email", email).Msg("token refreshed")
	return c.JSON(pair)
}

// logout handles POST /api/user/logout. Unknown tokens are not an error.
func (s *Server) logout(c *fiber.Ctx) error {
	var req refreshRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, "invalid request body")
	}
	if s.tokens.revoke(req.RefreshToken) {
		s.logger.Info().Msg("refresh token revoked")
	}
	return c.JSON(message{Msg: "signed out"})
}

// userInfo handles GET /api/user/info.
func (s *Server) userInfo(c *fiber.Ctx) error {
	raw, _ := bearer(c.Get(fiber.HeaderAuthorization))
	claims, err := s.tokens.parse(raw)
	if err != nil {
		return fail(c, fiber.StatusUnauthorized, err.Error())
	}
	return c.JSON(fiber.Map{
		"email":      claims.Email,
		"expireTime": claims.ExpiresAt.UnixMilli(),
	})
}
