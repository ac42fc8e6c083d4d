package cli

import (
	"context"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/p-blackswan/poesy/internal/poesy"
)

type documentKind string

const (
	kindQuestion documentKind = "question"
	kindArticle  documentKind = "article"
)

// documentOps binds the shared document subcommands to one entity kind.
type documentOps struct {
	upload func(ctx context.Context, title, content string) (string, error)
	get    func(ctx context.Context, id string) (poesy.Document, error)
	byUser func(ctx context.Context, email string) ([]poesy.Brief, error)
	latest func(ctx context.Context, offset int) ([]poesy.Brief, error)
}

func (a *App) documents(kind documentKind) documentOps {
	if kind == kindArticle {
		return documentOps{a.poesy.UploadArticle, a.poesy.GetArticle, a.poesy.ArticlesByUser, a.poesy.LatestArticles}
	}
	return documentOps{a.poesy.UploadQuestion, a.poesy.GetQuestion, a.poesy.QuestionsByUser, a.poesy.LatestQuestions}
}

func documentCommand(kind documentKind) func(context.Context, *App, []string) error {
	return func(ctx context.Context, a *App, args []string) error {
		if len(args) == 0 {
			return errUsage
		}
		ops := a.documents(kind)
		sub, args := args[0], args[1:]
		switch sub {
		case "get":
			if len(args) != 1 {
				return errUsage
			}
			doc, err := ops.get(ctx, args[0])
			if err != nil {
				return err
			}
			return a.emit(doc, func() {
				a.printf("%s\nby %s, %s\n\n%s\n", doc.Title, doc.AuthorEmail, doc.CreatedTime, doc.Content)
			})
		case "list":
			if len(args) != 1 {
				return errUsage
			}
			briefs, err := ops.byUser(ctx, args[0])
			if err != nil {
				return err
			}
			return a.emitBriefs(briefs)
		case "latest":
			fs := a.subFlags(string(kind) + " latest")
			offset := fs.Int("offset", 0, "number of entries to skip")
			if err := fs.Parse(args); err != nil || fs.NArg() != 0 {
				return errUsage
			}
			briefs, err := ops.latest(ctx, *offset)
			if err != nil {
				return err
			}
			return a.emitBriefs(briefs)
		case "upload":
			title, content, draftID, err := a.uploadArgs(ctx, string(kind)+" upload", args, 1)
			if err != nil {
				return err
			}
			id, err := ops.upload(ctx, title[0], content)
			if err != nil {
				return err
			}
			a.discardDraft(ctx, draftID)
			return a.emit(poesy.Created{ID: id}, func() { a.printf("%s\n", id) })
		default:
			return errUsage
		}
	}
}

// uploadArgs parses [positional...] [CONTENT] [--draft ID]. Content comes from
// the draft when --draft is set, otherwise from the argument after the
// positionals.
func (a *App) uploadArgs(ctx context.Context, name string, args []string, positional int) ([]string, string, string, error) {
	fs := a.subFlags(name)
	draftID := fs.String("draft", "", "take the content from this draft and delete it on success")
	if err := fs.Parse(args); err != nil {
		return nil, "", "", errUsage
	}
	rest := fs.Args()
	if *draftID != "" {
		if len(rest) != positional {
			return nil, "", "", errUsage
		}
		content, ok := a.drafts.Get(ctx, *draftID)
		if !ok {
			return nil, "", "", fmt.Errorf("no draft %q", *draftID)
		}
		return rest, content, *draftID, nil
	}
	if len(rest) != positional+1 {
		return nil, "", "", errUsage
	}
	return rest[:positional], rest[positional], "", nil
}

func (a *App) discardDraft(ctx context.Context, id string) {
	if id == "" {
		return
	}
	if _, err := a.drafts.Delete(ctx, id); err != nil {
		a.logger.Warn().Err(err).Str("draft", id).Msg("could not delete uploaded draft")
	}
}

func (a *App) emitBriefs(briefs []poesy.Brief) error {
	return a.emit(briefs, func() {
		tw := tabwriter.NewWriter(a.out, 0, 4, 2, ' ', 0)
		for _, b := range briefs {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", b.ID, b.Title, b.AuthorEmail, b.CreatedTime)
		}
		tw.Flush()
	})
}

func runAnswer(ctx context.Context, a *App, args []string) error {
	if len(args) == 0 {
		return errUsage
	}
	sub, args := args[0], args[1:]
	switch sub {
	case "list":
		if len(args) != 1 {
			return errUsage
		}
		answers, err := a.poesy.AnswersByQuestion(ctx, args[0])
		if err != nil {
			return err
		}
		return a.emit(answers, func() {
			for i, ans := range answers {
				if i > 0 {
					a.printf("\n")
				}
				a.printf("%s (%s, %s)\n%s\n", ans.ID, ans.AuthorEmail, ans.CreatedTime, ans.Content)
			}
		})
	case "upload":
		ids, content, draftID, err := a.uploadArgs(ctx, "answer upload", args, 1)
		if err != nil {
			return err
		}
		if err := a.poesy.UploadAnswer(ctx, ids[0], content); err != nil {
			return err
		}
		a.discardDraft(ctx, draftID)
		a.printf("answer posted\n")
		return nil
	default:
		return errUsage
	}
}

func runImage(ctx context.Context, a *App, args []string) error {
	if len(args) != 2 || args[0] != "upload" {
		return errUsage
	}
	path := args[1]
	if !poesy.ValidImageName(path) {
		return fmt.Errorf("%s: only .jpg, .jpeg and .png files can be uploaded", path)
	}
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	img, err := a.poesy.UploadImage(ctx, path, f)
	if err != nil {
		return err
	}
	return a.emit(img, func() {
		url := img.URL
		if strings.HasPrefix(url, "/") {
			url = a.cfg.BaseURL + url
		}
		a.printf("%s\t%s\n", img.ID, url)
	})
}
