package cli

import (
	"context"
	"fmt"
	"io"
	"strings"
)

func runDraft(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "list":
		if len(args) != 0 {
			return errUsage
		}
		list := a.drafts.List(ctx)
		return a.emit(list, func() {
			for _, d := range list {
				a.printf("%s\t%s\n", d.ID, preview(d.Content, 60))
			}
		})
	case "get":
		if len(args) != 1 {
			return errUsage
		}
		content, ok := a.drafts.Get(ctx, args[0])
		if !ok {
			return fmt.Errorf("no draft %q", args[0])
		}
		return a.emit(map[string]string{"id": args[0], "content": content}, func() { a.printf("%s\n", content) })
	case "put":
		var content string
		switch len(args) {
		case 1:
			data, err := io.ReadAll(a.stdin)
			if err != nil {
				return fmt.Errorf("reading draft from stdin: %w", err)
			}
			content = string(data)
		case 2:
			content = args[1]
		default:
			return errUsage
		}
		evicted, err := a.drafts.Put(ctx, args[0], content)
		if err != nil {
			return err
		}
		for _, id := range evicted {
			a.logger.Info().Str("draft", id).Msg("evicted oldest draft")
		}
		return nil
	case "delete":
		if len(args) != 1 {
			return errUsage
		}
		found, err := a.drafts.Delete(ctx, args[0])
		if err != nil {
			return err
		}
		if !found {
			return fmt.Errorf("no draft %q", args[0])
		}
		return nil
	case "clear":
		if len(args) != 0 {
			return errUsage
		}
		return a.drafts.Clear(ctx)
	default:
		return errUsage
	}
}

// preview returns the first line of s, cut to n runes.
func preview(s string, n int) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	r := []rune(line)
	if len(r) > n {
		return string(r[:n-1]) + "…"
	}
	return line
}
