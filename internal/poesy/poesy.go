// Package poesy wraps the Poesy backend endpoints in typed calls.
//
// Reads of public content (questions, articles, answers) are sent without
// credentials. Uploads and account info require a signed-in session.
package poesy

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/p-blackswan/poesy/internal/api"
	perrors "github.com/p-blackswan/poesy/internal/errors"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// Client exposes the entity endpoints over an authenticated api.Client.
type Client struct {
	api *api.Client
}

// New creates a Client.
func New(c *api.Client) *Client {
	return &Client{api: c}
}

// API returns the underlying request client.
func (c *Client) API() *api.Client { return c.api }

// Document is a full question or article.
type Document struct {
	Title       string `json:"title"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
}

// Brief is a list entry for a question or article.
type Brief struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
}

// Created is the {id} body returned by uploads.
type Created struct {
	ID string `json:"id"`
}

var (
	documentShape = shape.Object(
		shape.Field("title", shape.String),
		shape.Field("content", shape.String),
		shape.Field("authorEmail", shape.String),
		shape.Field("createdTime", shape.String),
	)
	briefShape = shape.Object(
		shape.Field("id", shape.String),
		shape.Field("title", shape.String),
		shape.Field("authorEmail", shape.String),
		shape.Field("createdTime", shape.String),
	)
	createdShape = shape.Object(shape.Field("id", shape.String))

	decodeDocument = shape.Decode[Document](documentShape)
	decodeCreated  = shape.Decode[Created](createdShape)
)

type uploadRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

// entityPath joins an entity kind and id into an API path.
func entityPath(kind, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", fmt.Errorf("%w: empty %s id", perrors.ErrInvalidInput, kind)
	}
	return "/api/" + kind + "/" + url.PathEscape(id), nil
}

func requireText(field, v string) error {
	if strings.TrimSpace(v) == "" {
		return fmt.Errorf("%w: %s is required", perrors.ErrInvalidInput, field)
	}
	return nil
}
