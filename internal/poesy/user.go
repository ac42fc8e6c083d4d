package poesy

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// UserInfo describes the signed-in account.
type UserInfo struct {
	Email string `json:"email"`
	// ExpireTime is the session expiry in epoch milliseconds.
	ExpireTime int64 `json:"expireTime"`
}

// UnmarshalJSON accepts any JSON number for expireTime.
func (u *UserInfo) UnmarshalJSON(data []byte) error {
	var raw struct {
		Email      string      `json:"email"`
		ExpireTime json.Number `json:"expireTime"`
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
	*u = UserInfo{Email: raw.Email, ExpireTime: ms}
	return nil
}

type existsResponse struct {
	Exists bool `json:"exists"`
}

var (
	decodeUserInfo = shape.Decode[UserInfo](shape.Object(
		shape.Field("email", shape.String),
		shape.Field("expireTime", shape.Number),
	))
	decodeExists = shape.Decode[existsResponse](shape.Object(shape.Field("exists", shape.Bool)))
)

type emailRequest struct {
	Email string `json:"email"`
}

type registerRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserExists reports whether an account is registered for email.
func (c *Client) UserExists(ctx context.Context, email string) (bool, error) {
	if err := requireText("email", email); err != nil {
		return false, err
	}
	resp, err := api.Post(ctx, c.api, "/api/user/exists", emailRequest{Email: email}, decodeExists, api.SkipAuth())
	if err != nil {
		return false, err
	}
	return resp.Exists, nil
}

// Register creates an account and returns the server's message.
func (c *Client) Register(ctx context.Context, email, password string) (string, error) {
	if err := requireText("email", email); err != nil {
		return "", err
	}
	if err := requireText("password", password); err != nil {
		return "", err
	}
	msg, err := api.Post(ctx, c.api, "/api/user/register", registerRequest{Email: email, Password: password}, api.DecodeMessage, api.SkipAuth())
	if err != nil {
		return "", err
	}
	return msg.Msg, nil
}

// UserInfo fetches the signed-in account.
func (c *Client) UserInfo(ctx context.Context) (UserInfo, error) {
	return api.Get(ctx, c.api, "/api/user/info", decodeUserInfo)
}
