package cli

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/p-blackswan/poesy/internal/qwen"
)

func runAsk(ctx context.Context, a *App, args []string) error {
	fs := a.subFlags("ask")
	once := fs.Bool("once", false, "wait for the whole answer instead of streaming")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return errUsage
	}
	prompt := strings.Join(fs.Args(), " ")

	if *once {
		answer, err := a.qwen.AskOnce(ctx, prompt)
		if err != nil {
			return err
		}
		return a.emit(qwen.Response{Response: answer}, func() { a.printf("%s\n", answer) })
	}
	return a.stream(ctx, func(h qwen.Handler) (*qwen.Stream, error) {
		return a.qwen.Ask(ctx, prompt, h)
	})
}

// stream prints chunks as they arrive and stops reading when ctx ends.
func (a *App) stream(ctx context.Context, open func(qwen.Handler) (*qwen.Stream, error)) error {
	var mu sync.Mutex
	var full strings.Builder
	h := qwen.HandlerFuncs{
		Message: func(r qwen.Response) {
			mu.Lock()
			defer mu.Unlock()
			full.WriteString(r.Response)
			if !a.asJSON {
				fmt.Fprint(a.out, r.Response)
			}
		},
	}
	s, err := open(h)
	if err != nil {
		return err
	}

	select {
	case <-s.Done():
	case <-ctx.Done():
		s.Stop()
	}
	err = s.Wait()

	mu.Lock()
	defer mu.Unlock()
	if a.asJSON {
		if jerr := a.emit(qwen.Response{Response: full.String()}, func() {}); jerr != nil {
			return jerr
		}
	} else {
		a.printf("\n")
	}
	if err != nil {
		return err
	}
	return ctx.Err()
}

func runPersona(ctx context.Context, a *App, args []string) error {
	switch {
	case len(args) == 0:
	case len(args) == 1 && args[0] == "toggle":
		if _, err := a.qwen.TogglePersona(ctx); err != nil {
			return err
		}
	case len(args) == 2 && args[0] == "set":
		if err := a.qwen.SetPersona(ctx, qwen.Persona(args[1])); err != nil {
			return err
		}
	default:
		return errUsage
	}
	p := a.qwen.Persona(ctx)
	return a.emit(map[string]string{"persona": string(p), "description": p.Description()}, func() {
		a.printf("%s (%s)\n", p, p.Description())
	})
}

func runGreet(ctx context.Context, a *App, args []string) error {
	var email string
	switch len(args) {
	case 0:
		subject, ok := a.session.Subject(ctx)
		if !ok {
			return fmt.Errorf("not signed in; pass an email")
		}
		email = subject
	case 1:
		email = args[0]
	default:
		return errUsage
	}
	return a.stream(ctx, func(h qwen.Handler) (*qwen.Stream, error) {
		return a.qwen.Greeting(ctx, email, h)
	})
}
