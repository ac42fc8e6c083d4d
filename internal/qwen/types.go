// Package qwen talks to the backend's conversational assistant.
package qwen

import "github.com/p-blackswan/poesy/pkg/shape"

// Role constants for ChatMsg.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Response is one assistant message or stream chunk.
type Response struct {
	Response string `json:"response"`
}

// ChatMsg is a single turn in a conversation.
type ChatMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// History is a conversation sent to Chat.
type History struct {
	History []ChatMsg `json:"history"`
}

type promptRequest struct {
	Prompt string `json:"prompt"`
}

var (
	responseShape  = shape.Object(shape.Field("response", shape.String))
	decodeResponse = shape.Decode[Response](responseShape)
)

// Handler receives stream events. OnDone and OnError are terminal and
// mutually exclusive; neither fires when the stream is stopped.
type Handler interface {
	OnMessage(Response)
	OnDone()
	OnError(error)
}

// HandlerFuncs adapts plain functions to Handler. Nil fields are ignored.
type HandlerFuncs struct {
	Message func(Response)
	Done    func()
	Error   func(error)
}

func (h HandlerFuncs) OnMessage(r Response) {
	if h.Message != nil {
		h.Message(r)
	}
}

func (h HandlerFuncs) OnDone() {
	if h.Done != nil {
		h.Done()
	}
}

func (h HandlerFuncs) OnError(err error) {
	if h.Error != nil {
		h.Error(err)
	}
}
