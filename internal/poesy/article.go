package poesy

import (
	"context"
	"net/url"
	"strconv"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/pkg/shape"
)

type articleList struct {
	ArticleBriefs []Brief `json:"articleBriefs"`
}

var decodeArticleList = shape.Decode[articleList](shape.Object(
	shape.Field("articleBriefs", shape.ArrayOf(briefShape)),
))

// UploadArticle publishes an article and returns its id.
func (c *Client) UploadArticle(ctx context.Context, title, content string) (string, error) {
	if err := requireText("title", title); err != nil {
		return "", err
	}
	created, err := api.Post(ctx, c.api, "/api/article/upload", uploadRequest{Title: title, Content: content}, decodeCreated)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// GetArticle fetches one article.
func (c *Client) GetArticle(ctx context.Context, id string) (Document, error) {
	path, err := entityPath("article", id)
	if err != nil {
		return Document{}, err
	}
	return api.Get(ctx, c.api, path, decodeDocument, api.SkipAuth())
}

// ArticlesByUser lists the articles written by email.
func (c *Client) ArticlesByUser(ctx context.Context, email string) ([]Brief, error) {
	if err := requireText("email", email); err != nil {
		return nil, err
	}
	list, err := api.Get(ctx, c.api, "/api/article/by-user", decodeArticleList,
		api.SkipAuth(), api.Query(url.Values{"email": {email}}))
	if err != nil {
		return nil, err
	}
	return list.ArticleBriefs, nil
}

// LatestArticles lists recent articles starting at offset.
func (c *Client) LatestArticles(ctx context.Context, offset int) ([]Brief, error) {
	if offset < 0 {
		offset = 0
	}
	list, err := api.Get(ctx, c.api, "/api/article/latest", decodeArticleList,
		api.SkipAuth(), api.Query(url.Values{"offset": {strconv.Itoa(offset)}}))
	if err != nil {
		return nil, err
	}
	return list.ArticleBriefs, nil
}
