package qwen

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/p-blackswan/poesy/internal/api"
	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/pkg/kvstore"
	"github.com/p-blackswan/poesy/pkg/typedstore"
)

// Backend paths.
const (
	PathAnswer       = "/api/qwen/answer"
	PathAnswerStream = "/api/qwen/answer-stream"
)

// Client asks the assistant questions and keeps the selected persona.
type Client struct {
	api     *api.Client
	persona *typedstore.Cell[Persona]
	logger  zerolog.Logger
	now     func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithClock overrides time.Now for greeting prompts.
func WithClock(now func() time.Time) Option {
	return func(c *Client) { c.now = now }
}

// New creates a Client. store holds the persona selection.
func New(c *api.Client, store kvstore.Store, opts ...Option) *Client {
	q := &Client{
		api:     c,
		persona: typedstore.New(store, PersonaKey, decodePersona),
		logger:  zerolog.Nop(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(q)
	}
	q.logger = q.logger.With().Str("component", "qwen").Logger()
	return q
}

// authOption sends credentials when a session exists and none otherwise.
func (c *Client) authOption(ctx context.Context) []api.RequestOption {
	if _, ok := c.api.Session().Tokens(ctx); ok {
		return nil
	}
	return []api.RequestOption{api.SkipAuth()}
}

// Ask streams the answer to prompt into h. It returns once response headers
// arrive; reading continues in the background until the body ends, a read
// fails or Stop is called.
func (c *Client) Ask(ctx context.Context, prompt string, h Handler) (*Stream, error) {
	if prompt == "" {
		return nil, fmt.Errorf("%w: empty prompt", perrors.ErrInvalidInput)
	}
	if h == nil {
		h = HandlerFuncs{}
	}
	resp, err := c.api.Open(ctx, http.MethodPost, PathAnswerStream, promptRequest{Prompt: prompt}, c.authOption(ctx)...)
	if err != nil {
		return nil, err
	}

	s := &Stream{done: make(chan struct{})}
	r := &reader{
		stream:  s,
		body:    resp.Body,
		url:     c.api.BaseURL() + PathAnswerStream,
		handler: h,
		logger:  c.logger,
		metrics: c.api.Metrics(),
	}
	c.logger.Debug().Int("prompt_len", len(prompt)).Msg("stream opened")
	go r.run()
	return s, nil
}

// AskOnce returns the complete answer to prompt in one response.
func (c *Client) AskOnce(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", perrors.ErrInvalidInput)
	}
	resp, err := api.Post(ctx, c.api, PathAnswer, promptRequest{Prompt: prompt}, decodeResponse, c.authOption(ctx)...)
	if err != nil {
		return "", err
	}
	return resp.Response, nil
}

// Chat streams a reply to a conversation. The history is sent JSON-encoded as
// the prompt.
func (c *Client) Chat(ctx context.Context, history History, h Handler) (*Stream, error) {
	prompt, err := json.Marshal(history)
	if err != nil {
		return nil, fmt.Errorf("encoding history: %w", err)
	}
	return c.Ask(ctx, string(prompt), h)
}
