// Package cli implements the poesy command line client.
package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/rs/zerolog"
	"github.com/spf13/pflag"

	"github.com/p-blackswan/poesy/internal/api"
	"github.com/p-blackswan/poesy/internal/config"
	"github.com/p-blackswan/poesy/internal/drafts"
	"github.com/p-blackswan/poesy/internal/metrics"
	"github.com/p-blackswan/poesy/internal/poesy"
	"github.com/p-blackswan/poesy/internal/qwen"
	"github.com/p-blackswan/poesy/internal/retry"
	"github.com/p-blackswan/poesy/internal/session"
	"github.com/p-blackswan/poesy/internal/store"
	"github.com/p-blackswan/poesy/pkg/kvstore"
)

// Exit codes.
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 2
)

var errUsage = errors.New("usage")

// Env carries the process surroundings. Zero fields fall back to the real
// process and on-disk defaults.
type Env struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	// Store replaces the configured durable store.
	Store kvstore.Store
	// HTTPClient replaces the default HTTP client.
	HTTPClient api.HTTPClient
}

// App is one CLI invocation with its wired clients.
type App struct {
	cfg    *config.Config
	logger zerolog.Logger
	stdin  io.Reader
	out    io.Writer
	errOut io.Writer

	store   kvstore.Store
	http    api.HTTPClient
	metrics *metrics.Metrics
	session *session.Session
	api     *api.Client
	poesy   *poesy.Client
	qwen    *qwen.Client
	drafts  *drafts.Drafts
	asJSON  bool

	ownsStore bool
}

type command struct {
	usage string
	run   func(ctx context.Context, a *App, args []string) error
}

var commands map[string]command

func init() {
	commands = map[string]command{
		"login":    {"login EMAIL PASSWORD", runLogin},
		"verify":   {"verify EMAIL CODE", runVerify},
		"logout":   {"logout", runLogout},
		"whoami":   {"whoami [--remote]", runWhoami},
		"status":   {"status", runStatus},
		"exists":   {"exists EMAIL", runExists},
		"register": {"register EMAIL PASSWORD", runRegister},
		"question": {"question get ID | list EMAIL | latest [--offset N] | upload TITLE [CONTENT] [--draft ID]", documentCommand(kindQuestion)},
		"article":  {"article get ID | list EMAIL | latest [--offset N] | upload TITLE [CONTENT] [--draft ID]", documentCommand(kindArticle)},
		"answer":   {"answer list QUESTION_ID | upload QUESTION_ID [CONTENT] [--draft ID]", runAnswer},
		"image":    {"image upload PATH", runImage},
		"ask":      {"ask [--once] PROMPT...", runAsk},
		"persona":  {"persona [toggle | set NAME]", runPersona},
		"greet":    {"greet [EMAIL]", runGreet},
		"draft":    {"draft list | get ID | put ID CONTENT | delete ID | clear", runDraft},
		"doctor":   {"doctor", runDoctor},
		"store":    {"store [PREFIX]", runStore},
	}
}

// Run executes one CLI invocation and returns the process exit code.
func Run(ctx context.Context, args []string, env Env) int {
	env = env.withDefaults()

	fs := pflag.NewFlagSet("poesy", pflag.ContinueOnError)
	fs.SetOutput(env.Stderr)
	fs.SetInterspersed(false)
	configFile := fs.StringP("config", "c", config.FileFromEnv(), "YAML config file")
	baseURL := fs.String("base-url", "", "backend base URL")
	ephemeral := fs.Bool("ephemeral", false, "keep state in memory only")
	verbose := fs.BoolP("verbose", "v", false, "debug logging")
	asJSON := fs.Bool("json", false, "print results as JSON")
	fs.Usage = func() { printUsage(env.Stderr, fs) }

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return ExitOK
		}
		return ExitUsage
	}
	if fs.NArg() == 0 {
		printUsage(env.Stderr, fs)
		return ExitUsage
	}
	name, rest := fs.Arg(0), fs.Args()[1:]
	cmd, ok := commands[name]
	if !ok {
		fmt.Fprintf(env.Stderr, "poesy: unknown command %q\n", name)
		printUsage(env.Stderr, fs)
		return ExitUsage
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Fprintf(env.Stderr, "poesy: %v\n", err)
		return ExitError
	}
	if *baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(*baseURL, "/")
	}
	if *ephemeral {
		cfg.Ephemeral = true
	}
	if *verbose {
		cfg.LogLevel = zerolog.LevelDebugValue
	}

	a, err := newApp(cfg, env, *asJSON)
	if err != nil {
		fmt.Fprintf(env.Stderr, "poesy: %v\n", err)
		return ExitError
	}
	defer a.Close()

	if err := cmd.run(ctx, a, rest); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintf(env.Stderr, "usage: poesy %s\n", cmd.usage)
			return ExitUsage
		}
		fmt.Fprintf(env.Stderr, "poesy: %v\n", err)
		return ExitError
	}
	return ExitOK
}

func (e Env) withDefaults() Env {
	if e.Stdin == nil {
		e.Stdin = os.Stdin
	}
	if e.Stdout == nil {
		e.Stdout = os.Stdout
	}
	if e.Stderr == nil {
		e.Stderr = os.Stderr
	}
	return e
}

func printUsage(w io.Writer, fs *pflag.FlagSet) {
	fmt.Fprintln(w, "usage: poesy [flags] COMMAND [args]")
	fmt.Fprintln(w, "\ncommands:")
	names := make([]string, 0, len(commands))
	for name := range commands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %s\n", commands[name].usage)
	}
	fmt.Fprintln(w, "\nflags:")
	fmt.Fprint(w, fs.FlagUsages())
}

// NewLogger builds the process logger: JSON on w, console output in
// development.
func NewLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	logger := zerolog.New(w).With().Timestamp().Logger()
	if cfg.IsDevelopment() {
		logger = logger.Output(zerolog.ConsoleWriter{Out: w})
	}
	return logger.Level(cfg.Level())
}

func newApp(cfg *config.Config, env Env, asJSON bool) (*App, error) {
	logger := NewLogger(cfg, env.Stderr)

	a := &App{
		cfg:     cfg,
		logger:  logger,
		stdin:   env.Stdin,
		out:     env.Stdout,
		errOut:  env.Stderr,
		store:   env.Store,
		http:    env.HTTPClient,
		metrics: metrics.New(),
		asJSON:  asJSON,
	}

	if a.store == nil {
		s, err := openStore(cfg, logger)
		if err != nil {
			return nil, err
		}
		a.store = s
		a.ownsStore = true
	}
	if a.http == nil {
		a.http = api.NewHTTPClient(cfg.RequestTimeout)
	}

	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.RetryAttempts

	a.session = session.New(a.store, session.WithRefreshWindow(cfg.RefreshWindow))
	a.api = api.New(cfg.BaseURL, a.session,
		api.WithHTTPClient(a.http),
		api.WithLogger(logger),
		api.WithMetrics(a.metrics),
		api.WithLogoutTimeout(cfg.LogoutTimeout),
		api.WithRefreshTimeout(cfg.RequestTimeout),
		api.WithRetry(retryCfg),
	)
	a.poesy = poesy.New(a.api)
	a.qwen = qwen.New(a.api, a.store, qwen.WithLogger(logger.With().Str("component", "qwen").Logger()))
	a.drafts = drafts.New(a.store, cfg.DraftCapacity)
	return a, nil
}

func openStore(cfg *config.Config, logger zerolog.Logger) (kvstore.Store, error) {
	if cfg.Ephemeral {
		return kvstore.NewMemoryStore(), nil
	}
	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}
	s, err := store.New(cfg.StorePath, logger)
	if err != nil {
		return nil, fmt.Errorf("opening store %s: %w", cfg.StorePath, err)
	}
	return s, nil
}

// Close releases the store if the app opened it.
func (a *App) Close() error {
	if !a.ownsStore {
		return nil
	}
	if c, ok := a.store.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// subFlags returns a flag set for a subcommand that reports errors to the
// app's stderr.
func (a *App) subFlags(name string) *pflag.FlagSet {
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.SetOutput(a.errOut)
	return fs
}

func (a *App) printf(format string, args ...any) {
	fmt.Fprintf(a.out, format, args...)
}

// emit prints v as indented JSON under --json, otherwise calls text.
func (a *App) emit(v any, text func()) error {
	if !a.asJSON {
		text()
		return nil
	}
	enc := json.NewEncoder(a.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
