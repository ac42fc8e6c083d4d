// Command poesy is the command line client for the Poesy Q&A service.
//
// Usage:
//
//	POESY_BASE_URL=https://poesy.example.com poesy login a@b.com secret
//	poesy question latest
//	poesy ask "write me a haiku"
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/p-blackswan/poesy/internal/cli"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := cli.Run(ctx, os.Args[1:], cli.Env{})
	stop()
	os.Exit(code)
}
