package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/internal/cli"
	"github.com/knagatomi/lockgate/pkg/vault"
)

// Metadata flags for item set
var (
	setCategory string
	setNotes    string
)

// Flags for item get and list
var (
	getShowMetadata bool
	listCategory    string
)

func init() {
	rootCmd.AddCommand(itemCmd)

	itemCmd.AddCommand(itemSetCmd)
	itemCmd.AddCommand(itemGetCmd)
	itemCmd.AddCommand(itemListCmd)
	itemCmd.AddCommand(itemDeleteCmd)

	itemSetCmd.Flags().StringVar(&setCategory, "category", "", "Category label (stored in the clear)")
	itemSetCmd.Flags().StringVar(&setNotes, "notes", "", "Notes (encrypted alongside the value)")

	itemGetCmd.Flags().BoolVar(&getShowMetadata, "show-metadata", false, "Show metadata with the value")

	itemListCmd.Flags().StringVar(&listCategory, "category", "", "Filter by category")
}

// itemCmd is the parent command for encrypted item operations.
var itemCmd = &cobra.Command{
	Use:   "item",
	Short: "Encrypted item operations",
}

// itemSetCmd stores an item value
var itemSetCmd = &cobra.Command{
	Use:   "set [name]",
	Short: "Store an item value from standard input",
	Long: `Stores a value under a name. The name, value, and notes are encrypted;
the category stays in the clear so listing can filter without the key.

  lockgate item set github-token --category tokens
  # Enter value interactively, or pipe it in`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		// 1. Unlock the session
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		// 2. Read the value
		fmt.Print("Enter value (Ctrl+D to finish): ")
		value, err := io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read value: %w", err)
		}

		// Trim trailing newline for interactive single-line input convenience
		if len(value) > 0 && value[len(value)-1] == '\n' {
			value = value[:len(value)-1]
		}
		if len(value) > 0 && value[len(value)-1] == '\r' {
			value = value[:len(value)-1]
		}

		// 3. Store it
		if _, err := vlt.Put(name, value, vault.Meta{Category: setCategory, Notes: setNotes}); err != nil {
			return fmt.Errorf("failed to store item: %w", err)
		}

		fmt.Printf("Item '%s' stored\n", name)
		return nil
	},
}

// itemGetCmd retrieves an item value
var itemGetCmd = &cobra.Command{
	Use:   "get [name]",
	Short: "Print an item value",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		// 1. Unlock the session
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		// 2. Get the item
		item, err := vlt.Get(name)
		if err != nil {
			if errors.Is(err, vault.ErrItemNotFound) {
				return fmt.Errorf("item '%s' not found", name)
			}
			return fmt.Errorf("failed to get item: %w", err)
		}

		// 3. Display
		if getShowMetadata {
			fmt.Printf("Value: %s\n", string(item.Value))
			if item.Category != "" {
				fmt.Printf("Category: %s\n", item.Category)
			}
			if item.Notes != "" {
				fmt.Printf("Notes: %s\n", item.Notes)
			}
			fmt.Printf("Created: %s\n", item.CreatedAt.Format(time.RFC3339))
			fmt.Printf("Updated: %s\n", item.UpdatedAt.Format(time.RFC3339))
			return nil
		}

		os.Stdout.Write(item.Value)
		fmt.Println()
		return nil
	},
}

// itemListCmd lists item names
var itemListCmd = &cobra.Command{
	Use:   "list [pattern]",
	Short: "List item names, optionally filtered by glob pattern",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Unlock the session (names are encrypted at rest)
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		// 2. List, filtered by category when requested
		var (
			items []*vault.Item
			err   error
		)
		if listCategory != "" {
			items, err = vlt.ListByCategory(listCategory)
		} else {
			items, err = vlt.List()
		}
		if err != nil {
			return fmt.Errorf("failed to list items: %w", err)
		}

		// 3. Apply the name pattern
		if len(args) == 1 {
			matcher, err := cli.NewMatcher(args[0])
			if err != nil {
				return err
			}
			filtered := make([]*vault.Item, 0, len(items))
			for _, item := range items {
				if matcher.Match(item.Name) {
					filtered = append(filtered, item)
				}
			}
			items = filtered
		}

		if len(items) == 0 {
			fmt.Println("No items found")
			return nil
		}

		for _, item := range items {
			line := item.Name
			if item.Category != "" {
				line += fmt.Sprintf(" [%s]", item.Category)
			}
			if item.HasNotes {
				line += " (notes)"
			}
			fmt.Println(line)
		}
		return nil
	},
}

// itemDeleteCmd deletes an item
var itemDeleteCmd = &cobra.Command{
	Use:   "delete [name]",
	Short: "Delete an item",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := args[0]

		// 1. Unlock the session
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		// 2. Delete
		if err := vlt.Delete(name); err != nil {
			if errors.Is(err, vault.ErrItemNotFound) {
				return fmt.Errorf("item '%s' not found", name)
			}
			return fmt.Errorf("failed to delete item: %w", err)
		}

		fmt.Printf("Item '%s' deleted\n", name)
		return nil
	},
}
