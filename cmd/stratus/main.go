// Stratus - Declarative Infrastructure Provisioning
// Declare. Plan. Converge.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

func main() {
	// Ctrl+C cancels the context; a running apply stops dispatching,
	// marks the remainder skipped and persists what already happened.
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	os.Exit(Execute(ctx))
}
