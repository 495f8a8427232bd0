package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/pkg/backup"
	"github.com/knagatomi/lockgate/pkg/importer"
	"github.com/knagatomi/lockgate/pkg/vault"
)

var (
	importFrom       string
	importCategory   string
	importOnConflict string
	importDryRun     bool
)

func init() {
	itemCmd.AddCommand(itemImportCmd)

	itemImportCmd.Flags().StringVar(&importFrom, "from", "", "Source format: bitwarden, lastpass, 1password (required)")
	itemImportCmd.Flags().StringVar(&importCategory, "category", "", "Category for all imported items (overrides source folders)")
	itemImportCmd.Flags().StringVar(&importOnConflict, "on-conflict", "skip", "Conflict resolution: error, skip, overwrite")
	itemImportCmd.Flags().BoolVar(&importDryRun, "dry-run", false, "Show what would be imported without writing")
	itemImportCmd.MarkFlagRequired("from")
}

var itemImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Import items from another password manager's export",
	Long: `Import items from an export file written by another password manager.

Supported formats are Bitwarden JSON, LastPass CSV, and 1Password CSV.
Multi-field entries are flattened: the password (or TOTP seed, or username)
becomes the item value and the remaining fields become note lines. Folders,
groupings, and tags map to categories.

Delete the export file after importing; it holds every secret in plaintext.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		source := importer.Source(strings.ToLower(importFrom))
		parser, err := importer.ParserFor(source)
		if err != nil {
			return fmt.Errorf("invalid --from value '%s' (valid: %s)", importFrom, strings.Join(importer.Sources(), ", "))
		}
		mode, err := parseConflictMode(importOnConflict)
		if err != nil {
			return err
		}

		// 1. Parse the export before touching the vault.
		data, err := readImportFile(args[0])
		if err != nil {
			return err
		}
		result, err := parser.Parse(data)
		if err != nil {
			return fmt.Errorf("failed to parse %s export: %w", source, err)
		}

		for _, warning := range result.Warnings {
			fmt.Fprintf(os.Stderr, "Warning: %s\n", warning)
		}
		for _, skipped := range result.Skipped {
			fmt.Fprintf(os.Stderr, "Skipped: %s (%s)\n", skipped.Name, skipped.Reason)
		}
		if len(result.Items) == 0 {
			fmt.Println("No items found in file")
			return nil
		}

		items := make([]*vault.Item, len(result.Items))
		for i, it := range result.Items {
			items[i] = it.VaultItem()
			if importCategory != "" {
				items[i].Category = importCategory
			}
		}

		// 2. Dry run lists the parsed items and stops.
		if importDryRun {
			for _, item := range items {
				line := "  " + item.Name
				if item.Category != "" {
					line += " [" + item.Category + "]"
				}
				fmt.Println(line)
			}
			fmt.Printf("Dry run, %d items parsed, nothing imported.\n", len(items))
			return nil
		}

		// 3. Unlock and write, resolving collisions like a restore.
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		imported, err := backup.Restore(vlt, items, mode)
		if err != nil {
			return fmt.Errorf("import failed: %w", err)
		}

		fmt.Printf("Imported %d items", imported.Restored)
		if imported.Skipped > 0 {
			fmt.Printf(", skipped %d existing", imported.Skipped)
		}
		if imported.Overwritten > 0 {
			fmt.Printf(", overwrote %d", imported.Overwritten)
		}
		fmt.Println()
		return nil
	},
}

// readImportFile reads an export file, refusing symlinks so a crafted link
// cannot trick the importer into reading elsewhere.
func readImportFile(path string) ([]byte, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("invalid path: %w", err)
	}
	info, err := os.Lstat(absPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("file not found: %s", path)
		}
		return nil, fmt.Errorf("failed to access file: %w", err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing to read symlink: %s", absPath)
	}
	data, err := os.ReadFile(absPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read file: %w", err)
	}
	return data, nil
}
