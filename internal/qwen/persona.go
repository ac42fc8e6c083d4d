package qwen

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/p-blackswan/poesy/pkg/shape"
)

// PersonaKey is the store slot holding the selected persona.
const PersonaKey = "qwen-role"

// Persona is an assistant character.
type Persona string

const (
	PersonaLively Persona = "lively"
	PersonaCalm   Persona = "calm"
)

// Personas lists the personas in toggle order. The first is the default.
var Personas = []Persona{PersonaLively, PersonaCalm}

var personaDescriptions = map[Persona]string{
	PersonaLively: "lively/girl/fond of emoji",
	PersonaCalm:   "calm/uncle/fond of classical verse",
}

var decodePersona = shape.Decode[Persona](shape.OneOf(string(PersonaLively), string(PersonaCalm)))

// Description is the character brief given to the assistant.
func (p Persona) Description() string { return personaDescriptions[p] }

// Persona returns the stored persona, or the first one when none is stored.
func (c *Client) Persona(ctx context.Context) Persona {
	if p, ok := c.persona.Read(ctx); ok {
		return p
	}
	return Personas[0]
}

// SetPersona stores p.
func (c *Client) SetPersona(ctx context.Context, p Persona) error {
	if _, ok := personaDescriptions[p]; !ok {
		return fmt.Errorf("unknown persona %q", p)
	}
	return c.persona.Write(ctx, p)
}

// TogglePersona advances to the next persona and returns it.
func (c *Client) TogglePersona(ctx context.Context) (Persona, error) {
	cur := c.Persona(ctx)
	next := Personas[0]
	for i, p := range Personas {
		if p == cur {
			next = Personas[(i+1)%len(Personas)]
			break
		}
	}
	if err := c.persona.Write(ctx, next); err != nil {
		return cur, err
	}
	return next, nil
}

type greetingPrompt struct {
	Background string `json:"background"`
	UserEmail  string `json:"currentUserEmail"`
	Task       string `json:"task"`
	Persona    string `json:"persona"`
	Time       string `json:"time"`
}

// GreetingPrompt builds the prompt used by Greeting.
func (c *Client) GreetingPrompt(ctx context.Context, email string) (string, error) {
	p := greetingPrompt{
		Background: "You are the front-page greeter AI of Poesy, a site combining Quora and Poe.",
		UserEmail:  email,
		Task: "Using the user's email and the time, write a short welcome of 30 to 50 words in the given persona, " +
			"as plain text. Do not mention the persona in the reply.",
		Persona: c.Persona(ctx).Description(),
		Time:    c.now().Format("2006-01-02 15:04:05"),
	}
	data, err := json.Marshal(p)
	if err != nil {
		return "", fmt.Errorf("encoding greeting: %w", err)
	}
	return string(data), nil
}

// Greeting streams a welcome message for email in the current persona.
func (c *Client) Greeting(ctx context.Context, email string, h Handler) (*Stream, error) {
	prompt, err := c.GreetingPrompt(ctx, email)
	if err != nil {
		return nil, err
	}
	return c.Ask(ctx, prompt, h)
}
