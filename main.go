// ./main.go
package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/xm4dn355/packguard-cli/cmd"
)

// main is the entry point for the packguard CLI.
func main() {
	// A signal-aware context lets an interrupted scan finish with a degraded
	// report instead of dying mid-stage.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Execute(ctx)
}
