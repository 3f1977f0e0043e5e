// ABOUTME: MCP command starts Model Context Protocol server
// ABOUTME: Gives supervisors' LLM agents the escalation and profile tools via stdio
package commands

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harper/auticonnect-mediator/internal/escalation"
	"github.com/harper/auticonnect-mediator/internal/mcp"
	"github.com/harper/auticonnect-mediator/internal/models"
	mcpserver "github.com/mark3labs/mcp-go/server"
)

// NewMCPCmd creates the MCP command
func NewMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Start MCP server for supervisor agents",
		Long: `Start MCP server for supervisor agents

Runs the supervisor console as an MCP (Model Context Protocol) server,
letting LLM agents list and acknowledge escalations, read conversation
history and maintain participant profiles via stdio.

Uses the same database as "mediator serve" (DB_DRIVER, DB_DSN).`,
		RunE: runMCP,
		Example: `  # Start MCP server (typically called by the agent host)
  mediator mcp

  # Configure in the agent host's config file:
  # {
  #   "mcpServers": {
  #     "auticonnect": {
  #       "command": "mediator",
  #       "args": ["mcp"]
  #     }
  #   }
  # }`,
	}
}

// errConsoleDelivery is returned if the console dispatcher is ever asked to deliver
var errConsoleDelivery = errors.New("the supervisor console does not deliver escalations")

// consoleDispatcher drives acknowledgments only; delivery stays with the serve process
func consoleDispatcher(st *stores) (*escalation.Dispatcher, error) {
	cfg := escalation.DefaultConfig()
	cfg.AckTimeout = 0
	refuse := escalation.NotifierFunc(func(ctx context.Context, recipient string, ev models.EscalationEvent) error {
		return errConsoleDelivery
	})
	return escalation.NewDispatcher(cfg, st.profiles, st.escalations, refuse, nil)
}

// runMCP starts the MCP server
func runMCP(cmd *cobra.Command, args []string) error {
	dbCfg, err := storageFromEnv(os.Getenv)
	if err != nil {
		return err
	}
	st, err := openStores(dbCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Printf("Warning: Error closing storage: %v", err)
		}
	}()

	dispatcher, err := consoleDispatcher(st)
	if err != nil {
		return err
	}
	defer dispatcher.Close()

	server := mcpserver.NewMCPServer(
		"AutiConnect Supervisor Console",
		versionInfo.Version,
	)
	mcp.RegisterTools(server, mcp.Deps{
		Escalations: dispatcher,
		Profiles:    st.profiles,
		History:     st.messages,
		Settings:    st.profiles,
		Audit:       st.interactions,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if !quiet {
		log.Println("Supervisor MCP server starting on stdio...")
	}

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- mcpserver.ServeStdio(server)
	}()

	select {
	case <-ctx.Done():
		if !quiet {
			log.Println("Shutdown signal received, gracefully shutting down...")
		}
	case err := <-serverErr:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
	}
	return nil
}
