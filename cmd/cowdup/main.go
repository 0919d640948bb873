package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

var (
	version = "dev"
	commit  = "none"
)

func main() {
	os.Exit(run())
}

func run() int {
	// Workers drain the file in hand, then the pipeline winds down.
	// The tool writes nothing, so no partial mutations are in flight.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd()
	if err := root.ExecuteContext(ctx); err != nil {
		return 1
	}
	return 0
}
