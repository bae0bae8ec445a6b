// ./main.go
package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/xkilldash9x/browserpilot/cmd"
	"github.com/xkilldash9x/browserpilot/internal/observability"
)

// main is the entry point for the browserpilot CLI.
func main() {
	// Cancel on SIGINT/SIGTERM so running tasks and the chat server stop gracefully.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := cmd.Execute(ctx)
	stop()
	observability.Sync()

	if err != nil && !errors.Is(err, context.Canceled) {
		os.Exit(1)
	}
}
