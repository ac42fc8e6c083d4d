package qwen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/p-blackswan/poesy/internal/api"
	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/internal/metrics"
	"github.com/p-blackswan/poesy/internal/session"
	"github.com/p-blackswan/poesy/pkg/kvstore"
)

type recorder struct {
	mu       sync.Mutex
	messages []string
	done     int
	errs     []error
	got      chan string
}

func newRecorder() *recorder { return &recorder{got: make(chan string, 64)} }

func (r *recorder) OnMessage(resp Response) {
	r.mu.Lock()
	r.messages = append(r.messages, resp.Response)
	r.mu.Unlock()
	r.got <- resp.Response
}

func (r *recorder) OnDone() {
	r.mu.Lock()
	r.done++
	r.mu.Unlock()
}

func (r *recorder) OnError(err error) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]string, int, []error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...), r.done, append([]error(nil), r.errs...)
}

type doerFunc func(*http.Request) (*http.Response, error)

func (f doerFunc) Do(req *http.Request) (*http.Response, error) { return f(req) }

func newClient(t *testing.T, hc api.HTTPClient, baseURL string, signedIn bool, opts ...api.Option) (*Client, kvstore.Store) {
	t.Helper()
	store := kvstore.NewMemoryStore()
	sess := session.New(store)
	if signedIn {
		require.NoError(t, sess.Save(context.Background(), session.TokenPair{
			AccessToken:  "T1",
			ExpireTime:   time.Now().Add(time.Hour).UnixMilli(),
			RefreshToken: "R1",
		}))
	}
	opts = append([]api.Option{api.WithHTTPClient(hc), api.WithLogger(zerolog.Nop())}, opts...)
	return New(api.New(baseURL, sess, opts...), store), store
}

func streamServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server
}

func TestAsk_DeliversChunksThenDone(t *testing.T) {
	m := metrics.New()
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnswerStream, r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))
		var body promptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "hello", body.Prompt)

		flusher := w.(http.Flusher)
		io.WriteString(w, `{"response":"Hi"}`+"\n\n")
		flusher.Flush()
		io.WriteString(w, `{"response":" there"}`+"\n"+`not json`+"\n"+`{"other":1}`+"\n")
		flusher.Flush()
		io.WriteString(w, `{"response":"!"}`)
	})
	client, _ := newClient(t, server.Client(), server.URL, false, api.WithMetrics(m))
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "hello", rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	messages, done, errs := rec.snapshot()
	assert.Equal(t, []string{"Hi", " there", "!"}, messages)
	assert.Equal(t, 1, done)
	assert.Empty(t, errs)
	assert.Equal(t, 3.0, testutil.ToFloat64(m.StreamChunks.WithLabelValues("decoded")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.StreamChunks.WithLabelValues("skipped")))
}

func TestAsk_LineSplitAcrossReads(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, `{"respo`)
		flusher.Flush()
		time.Sleep(10 * time.Millisecond)
		io.WriteString(w, `nse":"joined"}`+"\n")
	})
	client, _ := newClient(t, server.Client(), server.URL, false)
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "hello", rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	messages, done, _ := rec.snapshot()
	assert.Equal(t, []string{"joined"}, messages)
	assert.Equal(t, 1, done)
}

func TestAsk_StreamOutlivesRequestTimeout(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		for i := 0; i < 6; i++ {
			fmt.Fprintf(w, `{"response":"%d"}`+"\n", i)
			flusher.Flush()
			time.Sleep(50 * time.Millisecond)
		}
	})
	client, _ := newClient(t, api.NewHTTPClient(150*time.Millisecond), server.URL, false)
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "long answer", rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	messages, done, errs := rec.snapshot()
	assert.Equal(t, []string{"0", "1", "2", "3", "4", "5"}, messages)
	assert.Equal(t, 1, done)
	assert.Empty(t, errs)
}

func TestAsk_DropsOversizedLine(t *testing.T) {
	m := metrics.New()
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		flusher := w.(http.Flusher)
		io.WriteString(w, `{"response":"before"}`+"\n")
		chunk := strings.Repeat("x", 64<<10)
		for written := 0; written <= maxLineSize+len(chunk); written += len(chunk) {
			io.WriteString(w, chunk)
			flusher.Flush()
		}
		io.WriteString(w, "\n"+`{"response":"after"}`+"\n")
	})
	client, _ := newClient(t, server.Client(), server.URL, false, api.WithMetrics(m))
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "hello", rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())

	messages, done, errs := rec.snapshot()
	assert.Equal(t, []string{"before", "after"}, messages)
	assert.Equal(t, 1, done)
	assert.Empty(t, errs)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StreamChunks.WithLabelValues("skipped")))
}

func TestAsk_SendsBearerWhenSignedIn(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer T1", r.Header.Get("Authorization"))
		io.WriteString(w, `{"response":"ok"}`+"\n")
	})
	client, _ := newClient(t, server.Client(), server.URL, true)

	s, err := client.Ask(context.Background(), "hello", nil)
	require.NoError(t, err)
	require.NoError(t, s.Wait())
}

func TestAsk_StatusError(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		io.WriteString(w, `{"error":"model busy"}`)
	})
	client, _ := newClient(t, server.Client(), server.URL, false)

	_, err := client.Ask(context.Background(), "hello", newRecorder())
	var statusErr *perrors.StatusError
	require.ErrorAs(t, err, &statusErr)
	assert.Contains(t, err.Error(), "model busy")
}

func TestAsk_EmptyPrompt(t *testing.T) {
	client, _ := newClient(t, doerFunc(func(*http.Request) (*http.Response, error) {
		t.Error("unexpected request")
		return nil, errors.New("unreachable")
	}), "http://poesy.test", false)

	_, err := client.Ask(context.Background(), "", nil)
	assert.ErrorIs(t, err, perrors.ErrInvalidInput)
}

type failingBody struct {
	chunks []string
	err    error
}

func (b *failingBody) Read(p []byte) (int, error) {
	if len(b.chunks) == 0 {
		return 0, b.err
	}
	n := copy(p, b.chunks[0])
	b.chunks = b.chunks[1:]
	return n, nil
}

func (b *failingBody) Close() error { return nil }

func TestAsk_ReadErrorAborts(t *testing.T) {
	body := &failingBody{
		chunks: []string{`{"response":"partial"}` + "\n"},
		err:    errors.New("connection reset by peer"),
	}
	client, _ := newClient(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: body, Header: http.Header{}}, nil
	}), "http://poesy.test", false)
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "hello", rec)
	require.NoError(t, err)
	err = s.Wait()
	require.ErrorIs(t, err, perrors.ErrTransport)

	messages, done, errs := rec.snapshot()
	assert.Equal(t, []string{"partial"}, messages)
	assert.Equal(t, 0, done)
	require.Len(t, errs, 1)
	assert.Contains(t, errs[0].Error(), "connection reset")
}

func TestStream_Stop(t *testing.T) {
	pr, pw := io.Pipe()
	client, _ := newClient(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return &http.Response{StatusCode: http.StatusOK, Status: "200 OK", Body: pr, Header: http.Header{}}, nil
	}), "http://poesy.test", false)
	rec := newRecorder()

	s, err := client.Ask(context.Background(), "hello", rec)
	require.NoError(t, err)

	go io.WriteString(pw, `{"response":"first"}`+"\n")
	select {
	case got := <-rec.got:
		assert.Equal(t, "first", got)
	case <-time.After(2 * time.Second):
		t.Fatal("no message")
	}

	s.Stop()
	assert.True(t, s.Stopped())
	go func() {
		io.WriteString(pw, `{"response":"second"}`+"\n")
		pw.Close()
	}()
	require.NoError(t, s.Wait())

	messages, done, errs := rec.snapshot()
	assert.Equal(t, []string{"first"}, messages)
	assert.Equal(t, 0, done)
	assert.Empty(t, errs)
}

func TestAskOnce(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, PathAnswer, r.URL.Path)
		json.NewEncoder(w).Encode(Response{Response: "42"})
	})
	client, _ := newClient(t, server.Client(), server.URL, false)

	answer, err := client.AskOnce(context.Background(), "meaning of life")
	require.NoError(t, err)
	assert.Equal(t, "42", answer)
}

func TestChat_SendsHistoryAsPrompt(t *testing.T) {
	history := History{History: []ChatMsg{
		{Role: RoleUser, Content: "write a haiku"},
		{Role: RoleAssistant, Content: "autumn moonlight"},
	}}
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body promptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		var got History
		require.NoError(t, json.Unmarshal([]byte(body.Prompt), &got))
		assert.Equal(t, history, got)
		io.WriteString(w, `{"response":"a worm digs silently"}`+"\n")
	})
	client, _ := newClient(t, server.Client(), server.URL, false)
	rec := newRecorder()

	s, err := client.Chat(context.Background(), history, rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	messages, _, _ := rec.snapshot()
	assert.Equal(t, []string{"a worm digs silently"}, messages)
}

func TestPersona(t *testing.T) {
	client, store := newClient(t, doerFunc(func(*http.Request) (*http.Response, error) {
		return nil, errors.New("offline")
	}), "http://poesy.test", false)
	ctx := context.Background()

	assert.Equal(t, PersonaLively, client.Persona(ctx))

	next, err := client.TogglePersona(ctx)
	require.NoError(t, err)
	assert.Equal(t, PersonaCalm, next)
	assert.Equal(t, PersonaCalm, client.Persona(ctx))

	raw, err := store.Get(ctx, PersonaKey)
	require.NoError(t, err)
	assert.Equal(t, `"calm"`, raw)

	next, err = client.TogglePersona(ctx)
	require.NoError(t, err)
	assert.Equal(t, PersonaLively, next)

	require.NoError(t, store.Set(ctx, PersonaKey, `"grumpy"`))
	assert.Equal(t, PersonaLively, client.Persona(ctx))

	assert.Error(t, client.SetPersona(ctx, "grumpy"))
	require.NoError(t, client.SetPersona(ctx, PersonaCalm))
	assert.Equal(t, PersonaCalm, client.Persona(ctx))
}

func TestGreetingPrompt(t *testing.T) {
	at := time.Date(2026, 5, 4, 9, 30, 0, 0, time.UTC)
	store := kvstore.NewMemoryStore()
	apiClient := api.New("http://poesy.test", session.New(store))
	client := New(apiClient, store, WithClock(func() time.Time { return at }))
	ctx := context.Background()
	require.NoError(t, client.SetPersona(ctx, PersonaCalm))

	prompt, err := client.GreetingPrompt(ctx, "a@b.com")
	require.NoError(t, err)

	var got map[string]string
	require.NoError(t, json.Unmarshal([]byte(prompt), &got))
	assert.Equal(t, "a@b.com", got["currentUserEmail"])
	assert.Equal(t, PersonaCalm.Description(), got["persona"])
	assert.Equal(t, "2026-05-04 09:30:00", got["time"])
	assert.Contains(t, got["background"], "Poesy")
}

func TestGreeting_Streams(t *testing.T) {
	server := streamServer(t, func(w http.ResponseWriter, r *http.Request) {
		var body promptRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Contains(t, body.Prompt, "a@b.com")
		io.WriteString(w, `{"response":"Welcome back!"}`+"\n")
	})
	client, _ := newClient(t, server.Client(), server.URL, true)
	rec := newRecorder()

	s, err := client.Greeting(context.Background(), "a@b.com", rec)
	require.NoError(t, err)
	require.NoError(t, s.Wait())
	messages, done, _ := rec.snapshot()
	assert.Equal(t, []string{"Welcome back!"}, messages)
	assert.Equal(t, 1, done)
}

func TestHandlerFuncs_NilSafe(t *testing.T) {
	var h Handler = HandlerFuncs{}
	assert.NotPanics(t, func() {
		h.OnMessage(Response{Response: "x"})
		h.OnDone()
		h.OnError(errors.New("boom"))
	})
}
