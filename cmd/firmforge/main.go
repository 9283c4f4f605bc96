package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"firmforge/internal/cli"
)

func main() {
	// First interrupt cancels the context so running tasks get their
	// process groups killed; a second one terminates the usual way.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	os.Exit(cli.Execute(ctx))
}
