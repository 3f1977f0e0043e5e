// ABOUTME: Main entry point for the mediator CLI
// ABOUTME: Exits 2 on configuration errors so supervisors of the process can tell them apart
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/harper/auticonnect-mediator/cmd/mediator/commands"
	"github.com/harper/auticonnect-mediator/internal/models"
)

// Version information (set by goreleaser)
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	commands.SetVersion(version, commit, date)

	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if errors.Is(err, models.ErrConfiguration) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}
