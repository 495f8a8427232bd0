package main

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/pkg/credential"
	"github.com/knagatomi/lockgate/pkg/kdf"
	"github.com/knagatomi/lockgate/pkg/session"
)

func init() {
	rootCmd.AddCommand(passphraseCmd)
	passphraseCmd.AddCommand(passphraseChangeCmd)
}

// passphraseCmd is the parent command for passphrase operations.
var passphraseCmd = &cobra.Command{
	Use:   "passphrase",
	Short: "Passphrase operations",
}

// passphraseChangeCmd changes the passphrase.
var passphraseChangeCmd = &cobra.Command{
	Use:   "change",
	Short: "Change the passphrase",
	Long: `Change the passphrase and re-encrypt every stored envelope under the
new key.

The change is atomic: if anything fails mid-way, the old passphrase keeps
working and every stored value still decrypts. Only after all envelopes
carry the new key does the new credential replace the old one.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		// 1. Prompt for the current passphrase
		current, err := promptPassphrase("Enter current passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(current)

		// 2. Prompt for the new passphrase
		newPass1, err := promptPassphrase("Enter new passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(newPass1)

		// 3. Confirm it
		newPass2, err := promptPassphrase("Confirm new passphrase: ")
		if err != nil {
			return err
		}
		defer kdf.Wipe(newPass2)

		if !bytes.Equal(newPass1, newPass2) {
			return errors.New("new passphrases do not match")
		}

		// 4. Strength feedback
		strength := credential.Assess(string(newPass1))
		fmt.Printf("New passphrase strength: %s\n", strength)

		// 5. Execute the change
		fmt.Println("Re-encrypting stored items...")
		if err := ctrl.ChangePassphrase(string(current), string(newPass1)); err != nil {
			var lockedOut *credential.LockedOutError
			switch {
			case errors.As(err, &lockedOut):
				return fmt.Errorf("too many failed attempts; locked out for %d seconds", lockedOut.Seconds())
			case errors.Is(err, credential.ErrIncorrect):
				return errors.New("current passphrase is incorrect")
			case errors.Is(err, credential.ErrUnchanged):
				return errors.New("new passphrase must be different from the current one")
			case errors.Is(err, session.ErrRekeyAborted):
				return fmt.Errorf("passphrase unchanged, stored items untouched: %w", err)
			default:
				return fmt.Errorf("failed to change passphrase: %w", err)
			}
		}
		defer ctrl.Lock()

		fmt.Println("Passphrase changed")
		return nil
	},
}
