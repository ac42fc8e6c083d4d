package devserver

import (
	"bufio"
	"encoding/json"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
)

type promptRequest struct {
	Prompt string `json:"prompt"`
}

type qwenResponse struct {
	Response string `json:"response"`
}

// reply builds the echo answer. A JSON chat history is answered from its
// last user message.
func reply(prompt, email string) string {
	said := prompt
	if gjson.Valid(prompt) {
		contents := gjson.Get(prompt, `history.#(role=="user")#.content`).Array()
		if n := len(contents); n > 0 {
			said = contents[n-1].String()
		}
	}
	if email != "" {
		return "Hello " + email + ", you said: " + said
	}
	return "You said: " + said
}

func promptFrom(c *fiber.Ctx) (string, bool) {
	var req promptRequest
	if err := c.BodyParser(&req); err != nil || strings.TrimSpace(req.Prompt) == "" {
		return "", false
	}
	return req.Prompt, true
}

// qwenAnswer handles POST /api/qwen/answer.
func (s *Server) qwenAnswer(c *fiber.Ctx) error {
	prompt, ok := promptFrom(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "prompt is required")
	}
	email, _ := s.optionalUser(c)
	return c.JSON(qwenResponse{Response: reply(prompt, email)})
}

// qwenAnswerStream handles POST /api/qwen/answer-stream. The reply is sent
// word by word as newline-delimited {response} objects.
func (s *Server) qwenAnswerStream(c *fiber.Ctx) error {
	prompt, ok := promptFrom(c)
	if !ok {
		return fail(c, fiber.StatusBadRequest, "prompt is required")
	}
	email, _ := s.optionalUser(c)
	chunks := strings.SplitAfter(reply(prompt, email), " ")

	c.Set(fiber.HeaderContentType, "application/x-ndjson")
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		enc := json.NewEncoder(w)
		for _, chunk := range chunks {
			if err := enc.Encode(qwenResponse{Response: chunk}); err != nil {
				return
			}
			if err := w.Flush(); err != nil {
				return
			}
		}
	})
	return nil
}
