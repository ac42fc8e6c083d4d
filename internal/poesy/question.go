package poesy

import (
	"context"
	"net/url"
	"strconv"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/pkg/shape"
)

type questionList struct {
	QuestionBriefs []Brief `json:"questionBriefs"`
}

var decodeQuestionList = shape.Decode[questionList](shape.Object(
	shape.Field("questionBriefs", shape.ArrayOf(briefShape)),
))

// UploadQuestion posts a new question and returns its id.
func (c *Client) UploadQuestion(ctx context.Context, title, content string) (string, error) {
	if err := requireText("title", title); err != nil {
		return "", err
	}
	created, err := api.Post(ctx, c.api, "/api/question/upload", uploadRequest{Title: title, Content: content}, decodeCreated)
	if err != nil {
		return "", err
	}
	return created.ID, nil
}

// GetQuestion fetches one question.
func (c *Client) GetQuestion(ctx context.Context, id string) (Document, error) {
	path, err := entityPath("question", id)
	if err != nil {
		return Document{}, err
	}
	return api.Get(ctx, c.api, path, decodeDocument, api.SkipAuth())
}

// QuestionsByUser lists the questions asked by email.
func (c *Client) QuestionsByUser(ctx context.Context, email string) ([]Brief, error) {
	if err := requireText("email", email); err != nil {
		return nil, err
	}
	list, err := api.Get(ctx, c.api, "/api/question/by-user", decodeQuestionList,
		api.SkipAuth(), api.Query(url.Values{"email": {email}}))
	if err != nil {
		return nil, err
	}
	return list.QuestionBriefs, nil
}

// LatestQuestions lists recent questions starting at offset.
func (c *Client) LatestQuestions(ctx context.Context, offset int) ([]Brief, error) {
	if offset < 0 {
		offset = 0
	}
	list, err := api.Get(ctx, c.api, "/api/question/latest", decodeQuestionList,
		api.SkipAuth(), api.Query(url.Values{"offset": {strconv.Itoa(offset)}}))
	if err != nil {
		return nil, err
	}
	return list.QuestionBriefs, nil
}
