package main

import (
	"bytes"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/pkg/backup"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/vault"
)

var (
	backupForce       bool
	restoreOnConflict string
	restoreDryRun     bool
)

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupCreateCmd)
	backupCmd.AddCommand(backupRestoreCmd)

	backupCreateCmd.Flags().BoolVarP(&backupForce, "force", "f", false, "Overwrite an existing file")
	backupRestoreCmd.Flags().StringVar(&restoreOnConflict, "on-conflict", "error", "Conflict resolution: error, skip, overwrite")
	backupRestoreCmd.Flags().BoolVar(&restoreDryRun, "dry-run", false, "Show what would be restored without writing")
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Create and restore encrypted backups",
}

var backupCreateCmd = &cobra.Command{
	Use:   "create <file>",
	Short: "Write all items to an encrypted backup file",
	Long: `Write every stored item to an encrypted backup file.

The backup is protected by its own passphrase, chosen now. It does not have
to match the vault passphrase, and the file stays readable after the vault
passphrase is changed. Keep it somewhere safe: anyone holding the file and
its passphrase holds every item in it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		// 1. Refuse to clobber an existing file unless forced.
		if !backupForce {
			if _, err := os.Stat(path); err == nil {
				return fmt.Errorf("file already exists: %s (use --force to overwrite)", path)
			}
		}

		// 2. Choose the backup passphrase.
		pass1, err := promptPassphrase("Enter backup passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(pass1)
		pass2, err := promptPassphrase("Confirm backup passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(pass2)
		if !bytes.Equal(pass1, pass2) {
			return fmt.Errorf("passphrases do not match")
		}

		// 3. Unlock and collect full items, values included.
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		listed, err := vlt.List()
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}
		items := make([]*vault.Item, 0, len(listed))
		for _, entry := range listed {
			item, err := vlt.Get(entry.Name)
			if err != nil {
				return fmt.Errorf("failed to read item '%s': %w", entry.Name, err)
			}
			items = append(items, item)
		}

		// 4. Write the file.
		out, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0600)
		if err != nil {
			return fmt.Errorf("failed to create backup file: %w", err)
		}
		defer out.Close()

		header, err := backup.Write(out, items, pass1, backup.Options{
			Suite: ctrl.Suite(),
			KDF:   cfg.KDF,
		})
		if err != nil {
			return fmt.Errorf("backup failed: %w", err)
		}

		fmt.Printf("Backup written to %s (%d items)\n", path, header.ItemCount)
		return nil
	},
}

var backupRestoreCmd = &cobra.Command{
	Use:   "restore <file>",
	Short: "Restore items from an encrypted backup file",
	Long: `Restore items from an encrypted backup file into the vault.

Name collisions are resolved by --on-conflict: error aborts before writing
anything, skip keeps the existing item, overwrite replaces it. With
--dry-run the backup is decrypted and listed but the vault is not touched.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := args[0]

		mode, err := parseConflictMode(restoreOnConflict)
		if err != nil {
			return err
		}

		// 1. Decrypt the backup before touching the vault, so a wrong
		// passphrase fails fast.
		pass, err := promptPassphrase("Enter backup passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(pass)

		in, err := os.Open(path)
		if err != nil {
			if os.IsNotExist(err) {
				return fmt.Errorf("backup file not found: %s", path)
			}
			return fmt.Errorf("failed to open backup file: %w", err)
		}
		defer in.Close()

		items, header, err := backup.Read(in, pass)
		if err != nil {
			return fmt.Errorf("failed to read backup: %w", err)
		}
		fmt.Printf("Backup from %s (%d items)\n", header.CreatedAt.Local().Format("2006-01-02 15:04:05"), header.ItemCount)

		// 2. Dry run lists the contents and stops.
		if restoreDryRun {
			for _, item := range items {
				line := "  " + item.Name
				if item.Category != "" {
					line += " [" + item.Category + "]"
				}
				fmt.Println(line)
			}
			fmt.Println("Dry run, nothing restored.")
			return nil
		}

		// 3. Unlock and write.
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		result, err := backup.Restore(vlt, items, mode)
		if err != nil {
			return fmt.Errorf("restore failed: %w", err)
		}

		fmt.Printf("Restored %d items", result.Restored)
		if result.Skipped > 0 {
			fmt.Printf(", skipped %d", result.Skipped)
		}
		if result.Overwritten > 0 {
			fmt.Printf(", overwrote %d", result.Overwritten)
		}
		fmt.Println()
		return nil
	},
}

func parseConflictMode(mode string) (backup.ConflictMode, error) {
	switch mode {
	case "error":
		return backup.ConflictError, nil
	case "skip":
		return backup.ConflictSkip, nil
	case "overwrite":
		return backup.ConflictOverwrite, nil
	default:
		return backup.ConflictError, fmt.Errorf("invalid --on-conflict value '%s' (valid: error, skip, overwrite)", mode)
	}
}
