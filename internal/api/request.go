package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/internal/requestid"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// RequestOption adjusts a single request.
type RequestOption func(*requestConfig)

type requestConfig struct {
	skipAuth bool
	files    []FormFile
	query    url.Values
}

// SkipAuth sends the request without an Authorization header and without
// touching the session.
func SkipAuth() RequestOption {
	return func(rc *requestConfig) { rc.skipAuth = true }
}

// FormFile is one file part of a multipart body.
type FormFile struct {
	Field    string
	Filename string
	Content  io.Reader
}

// Form sends files as a multipart/form-data body instead of JSON.
func Form(files ...FormFile) RequestOption {
	return func(rc *requestConfig) { rc.files = append(rc.files, files...) }
}

// Query appends query parameters to the request URL.
func Query(v url.Values) RequestOption {
	return func(rc *requestConfig) {
		if rc.query == nil {
			rc.query = url.Values{}
		}
		for k, vals := range v {
			for _, val := range vals {
				rc.query.Add(k, val)
			}
		}
	}
}

// Message is the {msg} body returned by several user endpoints.
type Message struct {
	Msg string `json:"msg"`
}

// DecodeMessage validates a {msg} body.
var DecodeMessage = shape.Decode[Message](shape.Object(shape.Field("msg", shape.String)))

// Discard accepts any 200 body, including an empty one.
func Discard(_ []byte) (struct{}, error) { return struct{}{}, nil }

// Get issues an HTTP GET for path and decodes a 200 response with decode.
func Get[T any](ctx context.Context, c *Client, path string, decode shape.Decoder[T], opts ...RequestOption) (T, error) {
	return send(ctx, c, http.MethodGet, path, nil, decode, opts)
}

// Post issues an HTTP POST of body as JSON, or of the Form files when given,
// and decodes a 200 response with decode.
func Post[T any](ctx context.Context, c *Client, path string, body any, decode shape.Decoder[T], opts ...RequestOption) (T, error) {
	return send(ctx, c, http.MethodPost, path, body, decode, opts)
}

func send[T any](ctx context.Context, c *Client, method, path string, body any, decode shape.Decoder[T], opts []RequestOption) (T, error) {
	var zero T
	resp, target, err := c.open(ctx, method, path, body, opts)
	if err != nil {
		return zero, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return zero, &perrors.TransportError{URL: target, Err: err}
	}

	v, err := decode(data)
	switch {
	case err == nil:
		return v, nil
	case errors.Is(err, shape.ErrInvalidJSON):
		c.logger.Debug().Str("url", target).Msg("response is not JSON")
		return zero, fmt.Errorf("%s: %w", target, perrors.ErrDecode)
	default:
		c.logger.Debug().Err(err).Str("url", target).Msg("response failed shape check")
		return zero, &perrors.SchemaError{URL: target, Err: err}
	}
}

// Open sends a request and returns the response when the status is 200. The
// caller must close the body. Any other status is read and returned as a
// *errors.StatusError.
func (c *Client) Open(ctx context.Context, method, path string, body any, opts ...RequestOption) (*http.Response, error) {
	resp, _, err := c.open(ctx, method, path, body, opts)
	return resp, err
}

func (c *Client) open(ctx context.Context, method, path string, body any, opts []RequestOption) (*http.Response, string, error) {
	rc := &requestConfig{}
	for _, opt := range opts {
		opt(rc)
	}

	target := c.baseURL + path
	if len(rc.query) > 0 {
		target += "?" + rc.query.Encode()
	}
	endpoint := endpointLabel(path)
	start := time.Now()
	record := func(err error) {
		outcome := "ok"
		if err != nil {
			outcome = perrors.Kind(err)
		}
		c.metrics.RecordRequest(method, endpoint, outcome, time.Since(start).Seconds())
	}

	reader, contentType, err := encodeBody(body, rc.files)
	if err != nil {
		err = fmt.Errorf("%w: %v", perrors.ErrInvalidInput, err)
		record(err)
		return nil, target, err
	}

	var token string
	if !rc.skipAuth {
		token, err = c.AutoRefreshedToken(ctx)
		if err != nil {
			record(err)
			return nil, target, err
		}
	}

	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		err = fmt.Errorf("%w: creating request: %v", perrors.ErrInvalidInput, err)
		record(err)
		return nil, target, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	reqID := requestid.Apply(req)

	log := c.logger.With().Str("request_id", reqID).Str("method", method).Str("endpoint", endpoint).Logger()
	log.Debug().Bool("auth", !rc.skipAuth).Msg("sending request")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = ctxErr
		}
		terr := &perrors.TransportError{URL: target, Err: err}
		log.Warn().Err(err).Msg("request failed")
		record(terr)
		return nil, target, terr
	}

	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
		serr := perrors.NewStatusError(resp.StatusCode, statusText(resp), errorMessage(data))
		log.Debug().Int("status", resp.StatusCode).Msg("non-200 response")
		record(serr)
		return nil, target, serr
	}

	record(nil)
	return resp, target, nil
}

func encodeBody(body any, files []FormFile) (io.Reader, string, error) {
	if len(files) > 0 {
		var buf bytes.Buffer
		w := multipart.NewWriter(&buf)
		for _, f := range files {
			part, err := w.CreateFormFile(f.Field, f.Filename)
			if err != nil {
				return nil, "", err
			}
			if _, err := io.Copy(part, f.Content); err != nil {
				return nil, "", fmt.Errorf("reading %s: %w", f.Filename, err)
			}
		}
		if err := w.Close(); err != nil {
			return nil, "", err
		}
		return &buf, w.FormDataContentType(), nil
	}
	if body == nil {
		return nil, "", nil
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, "", fmt.Errorf("encoding body: %w", err)
	}
	return bytes.NewReader(data), "application/json", nil
}

// statusText returns the reason phrase the server sent, falling back to the
// standard text for the code.
func statusText(resp *http.Response) string {
	text := strings.TrimSpace(strings.TrimPrefix(resp.Status, strconv.Itoa(resp.StatusCode)))
	if text == "" {
		text = http.StatusText(resp.StatusCode)
	}
	return text
}

func errorMessage(data []byte) string {
	if !gjson.ValidBytes(data) {
		return ""
	}
	v := gjson.GetBytes(data, "error")
	if v.Type != gjson.String {
		return ""
	}
	return v.String()
}

var literalSegments = map[string]bool{
	"upload": true, "latest": true, "by-user": true, "by-question": true,
	"exists": true, "register": true, "login": true, "verify": true,
	"refresh": true, "logout": true, "info": true, "answer": true,
	"answer-stream": true,
}

// endpointLabel collapses entity IDs in path so metric labels stay bounded.
func endpointLabel(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	segs := strings.Split(path, "/")
	for i, seg := range segs {
		if i < 3 || seg == "" || literalSegments[seg] {
			continue
		}
		segs[i] = ":id"
	}
	return strings.Join(segs, "/")
}
