package poesy

import (
	"context"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/pkg/shape"
)

// Answer is one answer to a question.
type Answer struct {
	ID          string `json:"id"`
	Content     string `json:"content"`
	AuthorEmail string `json:"authorEmail"`
	CreatedTime string `json:"createdTime"`
}

type answerList struct {
	Answers []Answer `json:"answers"`
}

type answerUpload struct {
	QuestionID string `json:"questionId"`
	Content    string `json:"content"`
}

var (
	answerShape = shape.Object(
		shape.Field("id", shape.String),
		shape.Field("content", shape.String),
		shape.Field("authorEmail", shape.String),
		shape.Field("createdTime", shape.String),
	)
	decodeAnswerList = shape.Decode[answerList](shape.Object(shape.Field("answers", shape.ArrayOf(answerShape))))
	// The upload response carries no fields the client uses; any object will do.
	decodeAnyObject = shape.Decode[struct{}](shape.Object())
)

// UploadAnswer answers questionID.
func (c *Client) UploadAnswer(ctx context.Context, questionID, content string) error {
	if err := requireText("question id", questionID); err != nil {
		return err
	}
	if err := requireText("content", content); err != nil {
		return err
	}
	_, err := api.Post(ctx, c.api, "/api/answer/upload", answerUpload{QuestionID: questionID, Content: content}, decodeAnyObject)
	return err
}

// AnswersByQuestion lists the answers to questionID.
func (c *Client) AnswersByQuestion(ctx context.Context, questionID string) ([]Answer, error) {
	path, err := entityPath("answer/by-question", questionID)
	if err != nil {
		return nil, err
	}
	list, err := api.Get(ctx, c.api, path, decodeAnswerList, api.SkipAuth())
	if err != nil {
		return nil, err
	}
	return list.Answers, nil
}
