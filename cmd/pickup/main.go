package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pickup-backup/pickup/cmd/pickup/commands"
)

// Version information (set via ldflags during build)
var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

func main() {
	// Cancelling stops running dump processes. Every remaining plugin is still
	// attempted (and fails fast), so the staging area and lock get cleaned up.
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := commands.Execute(ctx, Version, Commit, BuildDate)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "pickup:", err)
	}
	os.Exit(commands.ExitCode(err))
}
