package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/internal/mcp"
)

func init() {
	rootCmd.AddCommand(mcpServerCmd)
}

// mcpServerCmd starts the MCP server for AI coding assistant integration
var mcpServerCmd = &cobra.Command{
	Use:   "mcp-server",
	Short: "Start the MCP server for AI coding assistant integration",
	Long: `Start the MCP server that gives AI coding assistants read-only
visibility into the vault.

The server implements the Model Context Protocol (MCP) over stdio
transport. Agents see item names and metadata, never values: no tool in
the surface returns decrypted material.

Available tools:
  - vault_status: Session and vault state (set up, locked, item count)
  - item_list:    Item names with metadata, optionally by category
  - item_exists:  Check whether a named item exists

Authentication:
  Set ` + mcp.PassphraseEnv + ` before starting the server. The passphrase
  is read once and immediately cleared from the environment.

  SECURITY NOTE: On Linux, the variable may briefly be visible via
  /proc/<pid>/environ before it is cleared. Set it immediately before
  execution in a subshell when that matters.

Example MCP configuration for Claude Code (~/.claude.json):
  {
    "mcpServers": {
      "lockgate": {
        "type": "stdio",
        "command": "/path/to/lockgate",
        "args": ["mcp-server"],
        "env": {
          "` + mcp.PassphraseEnv + `": "your-passphrase"
        }
      }
    }
  }`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runMCPServer()
	},
}

func runMCPServer() error {
	server, err := mcp.NewServer(mcp.Options{
		Session:       ctrl,
		Vault:         vlt,
		RatePerSec:    cfg.MCP.RatePerSec,
		Burst:         cfg.MCP.Burst,
		CheckInterval: cfg.CheckInterval(),
		Logger:        &logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create MCP server: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		cancel()
	}()

	if err := server.Run(ctx); err != nil {
		// Don't report context canceled as an error
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("MCP server error: %w", err)
	}
	return nil
}
