package devserver_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/internal/devserver"
	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/internal/metrics"
	"github.com/p-blackswan/poesy/internal/poesy"
	"github.com/p-blackswan/poesy/internal/qwen"
	"github.com/p-blackswan/poesy/internal/retry"
	"github.com/p-blackswan/poesy/internal/session"
	"github.com/p-blackswan/poesy/pkg/kvstore"
)

type harness struct {
	server  *devserver.Server
	store   *kvstore.MemoryStore
	metrics *metrics.Metrics
	api     *api.Client
	poesy   *poesy.Client
	qwen    *qwen.Client
}

func newHarness(t *testing.T, cfg devserver.Config) *harness {
	t.Helper()
	server := devserver.New(cfg, nil, zerolog.Nop())
	store := kvstore.NewMemoryStore()
	m := metrics.New()
	apiClient := api.New("http://poesy.test", session.New(store),
		api.WithHTTPClient(server.Client()),
		api.WithMetrics(m),
		api.WithRetry(retry.Config{MaxAttempts: 1}),
	)
	return &harness{
		server:  server,
		store:   store,
		metrics: m,
		api:     apiClient,
		poesy:   poesy.New(apiClient),
		qwen:    qwen.New(apiClient, store),
	}
}

func (h *harness) signUp(t *testing.T, email string) session.TokenPair {
	t.Helper()
	ctx := context.Background()
	_, err := h.poesy.Register(ctx, email, "secret1")
	require.NoError(t, err)
	code, ok := h.server.VerificationCode(email)
	require.True(t, ok)
	pair, err := h.api.Verify(ctx, email, code)
	require.NoError(t, err)
	return pair
}

func TestEndToEnd_Content(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	ctx := context.Background()

	exists, err := h.poesy.UserExists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.False(t, exists)

	_, err = h.poesy.UploadQuestion(ctx, "Why?", "Because.")
	assert.ErrorIs(t, err, perrors.ErrUnauthenticated)

	pair := h.signUp(t, "a@b.com")
	stored, ok := h.api.Session().Tokens(ctx)
	require.True(t, ok)
	assert.Equal(t, pair, stored)

	subject, ok := h.api.Session().Subject(ctx)
	require.True(t, ok)
	assert.Equal(t, "a@b.com", subject)

	info, err := h.poesy.UserInfo(ctx)
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", info.Email)
	assert.Equal(t, pair.ExpireTime, info.ExpireTime)

	qid, err := h.poesy.UploadQuestion(ctx, "Why?", "Because.")
	require.NoError(t, err)

	doc, err := h.poesy.GetQuestion(ctx, qid)
	require.NoError(t, err)
	assert.Equal(t, "Why?", doc.Title)
	assert.Equal(t, "a@b.com", doc.AuthorEmail)

	briefs, err := h.poesy.QuestionsByUser(ctx, "a@b.com")
	require.NoError(t, err)
	require.Len(t, briefs, 1)
	assert.Equal(t, qid, briefs[0].ID)

	require.NoError(t, h.poesy.UploadAnswer(ctx, qid, "42"))
	answers, err := h.poesy.AnswersByQuestion(ctx, qid)
	require.NoError(t, err)
	require.Len(t, answers, 1)
	assert.Equal(t, "42", answers[0].Content)

	aid, err := h.poesy.UploadArticle(ctx, "poem", "roses are red")
	require.NoError(t, err)
	latest, err := h.poesy.LatestArticles(ctx, 0)
	require.NoError(t, err)
	require.Len(t, latest, 1)
	assert.Equal(t, aid, latest[0].ID)

	img, err := h.poesy.UploadImage(ctx, "cat.jpg", strings.NewReader("jpeg-bytes"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(img.URL, "/images/"))

	_, err = h.poesy.GetArticle(ctx, "missing")
	var statusErr *perrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 404, statusErr.Status)
	assert.Contains(t, err.Error(), "article not found")
}

func TestEndToEnd_Qwen(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	ctx := context.Background()

	answer, err := h.qwen.AskOnce(ctx, "hello")
	require.NoError(t, err)
	assert.Equal(t, "You said: hello", answer)

	h.signUp(t, "a@b.com")

	var mu sync.Mutex
	var got strings.Builder
	done := false
	stream, err := h.qwen.Ask(ctx, "hello world", qwen.HandlerFuncs{
		Message: func(r qwen.Response) {
			mu.Lock()
			got.WriteString(r.Response)
			mu.Unlock()
		},
		Done: func() {
			mu.Lock()
			done = true
			mu.Unlock()
		},
	})
	require.NoError(t, err)
	require.NoError(t, stream.Wait())

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, done)
	assert.Equal(t, "Hello a@b.com, you said: hello world", got.String())
	assert.Equal(t, float64(6), testutil.ToFloat64(h.metrics.StreamChunks.WithLabelValues("decoded")))
}

func TestEndToEnd_RefreshAndLogout(t *testing.T) {
	// Tokens live 30s, inside the 60s refresh window, so every
	// authenticated call refreshes first.
	h := newHarness(t, devserver.Config{TokenTTL: 30 * time.Second})
	ctx := context.Background()

	first := h.signUp(t, "a@b.com")
	assert.Equal(t, session.NearExpiry, h.api.Session().State(ctx))

	_, err := h.poesy.UserInfo(ctx)
	require.NoError(t, err)

	second, ok := h.api.Session().Tokens(ctx)
	require.True(t, ok)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)
	assert.Equal(t, float64(1), testutil.ToFloat64(h.metrics.RefreshesTotal.WithLabelValues("ok")))

	// The consumed refresh token is dead server-side.
	require.NoError(t, h.api.Session().Save(ctx, first))
	err = h.api.Refresh(ctx)
	var statusErr *perrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Status)
	stillFirst, _ := h.api.Session().Tokens(ctx)
	assert.Equal(t, first, stillFirst)

	require.NoError(t, h.api.Session().Save(ctx, second))
	require.NoError(t, h.api.Logout(ctx))
	assert.Equal(t, session.Absent, h.api.Session().State(ctx))

	// Logout revoked the refresh token.
	require.NoError(t, h.api.Session().Save(ctx, second))
	assert.Error(t, h.api.Refresh(ctx))
}

func TestEndToEnd_LoginAfterVerify(t *testing.T) {
	h := newHarness(t, devserver.Config{})
	ctx := context.Background()
	h.signUp(t, "a@b.com")
	require.NoError(t, h.api.Logout(ctx))

	_, err := h.api.Login(ctx, "a@b.com", "wrong")
	var statusErr *perrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Equal(t, 401, statusErr.Status)
	assert.Equal(t, session.Absent, h.api.Session().State(ctx))

	pair, err := h.api.Login(ctx, "a@b.com", "secret1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)

	exists, err := h.poesy.UserExists(ctx, "a@b.com")
	require.NoError(t, err)
	assert.True(t, exists)
}
