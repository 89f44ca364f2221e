package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dunamismax/pixelaug/internal/cli"
	"github.com/dunamismax/pixelaug/internal/pipeline"
)

var version = "dev"

func main() {
	cli.SetVersion(version)
	defer pipeline.Shutdown()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cli.NewRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		pipeline.Shutdown()
		os.Exit(1)
	}
}
