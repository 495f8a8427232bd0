// Package main provides the lockgate CLI application.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/knagatomi/lockgate/internal/config"
	"github.com/knagatomi/lockgate/pkg/audit"
	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/securestore"
	"github.com/knagatomi/lockgate/pkg/session"
	"github.com/knagatomi/lockgate/pkg/vault"
)

var (
	flagDir     string
	flagVerbose bool

	dataDir  string
	cfg      *config.Config
	ctrl     *session.Controller
	vlt      *vault.Vault
	auditLog *audit.Logger
	logger   zerolog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "lockgate",
	Short: "lockgate is a local credential and at-rest encryption manager",
	Long: `A passphrase-protected local vault built with Go.

Values are encrypted with authenticated envelopes bound to their item, the
passphrase is stretched with Argon2id, and repeated failures arm a lockout
window. Nothing ever leaves the machine.`,
	// PersistentPreRunE assembles the session controller and vault before
	// any subcommand runs. Completion and help never touch the data
	// directory.
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		setupLogger()
		switch cmd.Name() {
		case "completion", "help", cobra.ShellCompRequestCmd, cobra.ShellCompNoDescRequestCmd:
			return nil
		}
		return openApp()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagDir, "dir", "", "Data directory (default ~/.lockgate)")
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Enable debug logging")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(statusCmd)
}

// setupLogger routes library logs to stderr so stdout stays parseable.
func setupLogger() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	level := zerolog.WarnLevel
	if flagVerbose {
		level = zerolog.DebugLevel
	}
	logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(level).
		With().Timestamp().Logger()
}

// openApp resolves the data directory and wires the store, credential
// manager, audit logger, session controller, and vault into the package
// globals the commands use.
func openApp() error {
	dir := flagDir
	if dir == "" {
		var err error
		dir, err = config.DefaultDir()
		if err != nil {
			return err
		}
	}

	var err error
	cfg, err = config.Load(filepath.Join(dir, config.FileName))
	if err != nil {
		return err
	}
	// The config file can redirect the data directory; the flag wins.
	if flagDir == "" && cfg.Dir != "" {
		dir = cfg.Dir
	}
	dataDir = dir

	store, err := securestore.NewFileStore(dir)
	if err != nil {
		return err
	}

	creds, err := credential.NewManager(credential.Config{
		Store:  store,
		Params: cfg.KDF,
		Policy: cfg.Policy(),
		Logger: &logger,
	})
	if err != nil {
		return err
	}

	auditDir := filepath.Join(dir, "audit")
	if err := os.MkdirAll(auditDir, 0700); err != nil {
		return fmt.Errorf("failed to create audit directory: %w", err)
	}
	auditLog = audit.NewLogger(auditDir)

	ctrl, err = session.NewController(session.Config{
		Credential:      creds,
		Store:           store,
		Audit:           auditLog,
		AutoLockTimeout: cfg.AutoLockTimeout(),
		Logger:          &logger,
	})
	if err != nil {
		return err
	}

	vlt, err = vault.Open(vault.Config{
		Path:   dir,
		Cipher: ctrl,
		Audit:  auditLog,
		Logger: &logger,
	})
	if err != nil {
		return err
	}
	ctrl.SetRekeyer(vlt)
	return nil
}

// initCmd sets up the passphrase and creates the data directory.
var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Set up the passphrase",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println("Initializing lockgate...")

		// 1. Prompt for the new passphrase
		pass1, err := promptPassphrase("Enter new passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(pass1)

		// 2. Confirm it
		pass2, err := promptPassphrase("Confirm passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(pass2)

		if !bytes.Equal(pass1, pass2) {
			return errors.New("passphrases do not match")
		}

		// 3. Strength feedback is advisory; only the length bounds reject
		strength := credential.Assess(string(pass1))
		fmt.Printf("Passphrase strength: %s\n", strength)
		if strength < credential.StrengthGood {
			fmt.Println("Hint: longer passphrases are stronger; aim for 14+ characters")
		}

		// 4. Derive the credential and store the record
		if err := ctrl.SetupPassphrase(string(pass1)); err != nil {
			if errors.Is(err, credential.ErrAlreadySetUp) {
				return errors.New("already initialized; use 'lockgate passphrase change' to rotate")
			}
			return fmt.Errorf("failed to initialize: %w", err)
		}
		defer ctrl.Lock()

		fmt.Printf("Initialized at %s\n", dataDir)
		return nil
	},
}

// statusCmd shows session, vault, and biometric state.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session, vault, and biometric state",
	RunE: func(cmd *cobra.Command, args []string) error {
		status := ctrl.Status()
		fmt.Printf("Session:   %s\n", status)

		if status == session.StatusNotSetUp {
			fmt.Println("Run 'lockgate init' to set a passphrase")
			return nil
		}
		if status == session.StatusLockedOut {
			if remaining, err := ctrl.RemainingLockout(); err == nil {
				fmt.Printf("Lockout:   %d seconds remaining\n", int(remaining.Seconds()+0.999))
			}
		}

		count, err := vlt.Count()
		if err != nil {
			return fmt.Errorf("failed to count items: %w", err)
		}
		fmt.Printf("Items:     %d\n", count)
		fmt.Printf("Cipher:    %s\n", ctrl.Suite())

		info := ctrl.BiometricStatus()
		fmt.Printf("Biometric: enabled=%s hardware=%s enrolled=%s\n",
			yesNo(info.Enabled), yesNo(info.HardwareAvailable), yesNo(info.Enrolled))

		if space, err := vlt.DiskSpace(); err == nil {
			fmt.Printf("Disk:      %d MiB free\n", space.Available/(1024*1024))
		}
		return nil
	},
}

// ensureUnlocked prompts for the passphrase unless the session is already
// unlocked. Lockout and remaining-attempt feedback come from the library's
// typed errors.
func ensureUnlocked() error {
	switch ctrl.Status() {
	case session.StatusUnlocked:
		return nil
	case session.StatusNotSetUp:
		return errors.New("not initialized; run 'lockgate init' first")
	}

	pass, err := promptPassphrase("Enter passphrase: ")
	if err != nil {
		return err
	}
	defer kdf.Wipe(pass)

	if err := ctrl.VerifyPassphrase(string(pass)); err != nil {
		return describeUnlockError(err)
	}
	return nil
}

// describeUnlockError rewrites library errors into actionable messages.
func describeUnlockError(err error) error {
	var lockedOut *credential.LockedOutError
	switch {
	case errors.As(err, &lockedOut):
		return fmt.Errorf("too many failed attempts; locked out for %d seconds", lockedOut.Seconds())
	case errors.Is(err, credential.ErrIncorrect):
		if attempts, aerr := ctrl.RemainingAttempts(); aerr == nil && attempts > 0 {
			return fmt.Errorf("incorrect passphrase (%d attempts left before lockout)", attempts)
		}
		return errors.New("incorrect passphrase")
	case errors.Is(err, credential.ErrNotSetUp):
		return errors.New("not initialized; run 'lockgate init' first")
	default:
		return fmt.Errorf("failed to unlock: %w", err)
	}
}

// promptPassphrase reads a passphrase with echo disabled. The caller wipes
// the returned buffer.
func promptPassphrase(prompt string) ([]byte, error) {
	fmt.Print(prompt)
	pass, err := term.ReadPassword(int(syscall.Stdin))
	if err != nil {
		return nil, fmt.Errorf("failed to read passphrase: %w", err)
	}
	fmt.Println()
	return pass, nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
