// Package mcp exposes vault metadata to AI agents over the Model Context
// Protocol. The surface is read-only by construction: no tool returns a
// plaintext value or mutates the vault, so an agent connected here can
// enumerate what exists but never extract or alter it.
package mcp

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog"

	"github.com/knagatomi/lockgate/pkg/session"
	"github.com/knagatomi/lockgate/pkg/vault"
)

const (
	serverName    = "lockgate"
	serverVersion = "0.1.0"

	// PassphraseEnv is read once at startup to unlock the session, then
	// removed from the environment so child processes never see it.
	PassphraseEnv = "LOCKGATE_PASSPHRASE"

	defaultRatePerSec = 5
	defaultBurst      = 10
	defaultInterval   = 30 * time.Second
)

// Server bridges a session controller and vault onto MCP stdio transport.
type Server struct {
	server   *mcp.Server
	session  *session.Controller
	vault    *vault.Vault
	limits   *throttle
	interval time.Duration
	log      zerolog.Logger
}

// Options assembles a Server. Session and Vault are required.
type Options struct {
	Session *session.Controller
	Vault   *vault.Vault

	// RatePerSec and Burst bound tool calls per tool name.
	RatePerSec float64
	Burst      int

	// CheckInterval is the auto-lock poll period while serving.
	CheckInterval time.Duration

	Logger *zerolog.Logger // nil -> no-op
}

// NewServer unlocks the session from PassphraseEnv when it is not already
// unlocked, then registers the read-only tools. The environment variable is
// cleared as soon as it has been read.
func NewServer(opts Options) (*Server, error) {
	if opts.Session == nil {
		return nil, errors.New("mcp: session is required")
	}
	if opts.Vault == nil {
		return nil, errors.New("mcp: vault is required")
	}
	if opts.RatePerSec <= 0 {
		opts.RatePerSec = defaultRatePerSec
	}
	if opts.Burst < 1 {
		opts.Burst = defaultBurst
	}
	if opts.CheckInterval <= 0 {
		opts.CheckInterval = defaultInterval
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	if opts.Session.Status() != session.StatusUnlocked {
		passphrase := os.Getenv(PassphraseEnv)
		os.Unsetenv(PassphraseEnv)
		if passphrase == "" {
			return nil, fmt.Errorf("mcp: session is locked and %s is not set", PassphraseEnv)
		}
		if err := opts.Session.VerifyPassphrase(passphrase); err != nil {
			return nil, fmt.Errorf("mcp: unlock from %s: %w", PassphraseEnv, err)
		}
	}

	s := &Server{
		server:   mcp.NewServer(&mcp.Implementation{Name: serverName, Version: serverVersion}, nil),
		session:  opts.Session,
		vault:    opts.Vault,
		limits:   newThrottle(opts.RatePerSec, opts.Burst),
		interval: opts.CheckInterval,
		log:      logger,
	}
	s.registerTools()
	return s, nil
}

func (s *Server) registerTools() {
	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "vault_status",
		Description: "Report whether the vault is set up, locked or unlocked, any active lockout, and the stored item count. Never returns secret material.",
	}, s.handleVaultStatus)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "item_list",
		Description: "List stored item names with category, notes presence, and timestamps, optionally filtered by category. Does NOT return item values.",
	}, s.handleItemList)

	mcp.AddTool(s.server, &mcp.Tool{
		Name:        "item_exists",
		Description: "Check whether an item with the given name exists and return its metadata. Does NOT return the item value.",
	}, s.handleItemExists)
}

// Run serves MCP over stdio until ctx is cancelled or the peer disconnects.
// The session auto-lock watcher runs alongside, and the session is locked
// on the way out regardless of how serving ended.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer s.session.Lock()

	go s.session.AutoLockLoop(ctx, s.interval)

	s.log.Info().Str("name", serverName).Str("version", serverVersion).Msg("mcp server listening on stdio")
	return s.server.Run(ctx, &mcp.StdioTransport{})
}
