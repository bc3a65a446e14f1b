package main

import (
	"github.com/fulmenhq/gofulmen/foundry"

	"github.com/dripgate/dripgate/internal/cmd"
	"github.com/dripgate/dripgate/internal/server/handlers"
)

// Set via ldflags:
// go build -ldflags="-X main.version=0.1.0 -X main.commit=abc123 -X main.buildDate=2025-01-01"
var (
	version   = "dev"
	commit    = "unknown"
	buildDate = "unknown"
)

func main() {
	cmd.SetVersionInfo(version, commit, buildDate)
	handlers.SetVersionInfo(version, commit, buildDate)

	if err := cmd.Execute(); err != nil {
		// Commands log their own specific failures before returning.
		cmd.ExitWithCodeStderr(foundry.ExitFailure, "Command execution failed", err)
	}
}
