package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/knagatomi/lockgate/pkg/session"
)

func init() {
	rootCmd.AddCommand(biometricCmd)
	biometricCmd.AddCommand(biometricEnableCmd)
	biometricCmd.AddCommand(biometricDisableCmd)
	biometricCmd.AddCommand(biometricStatusCmd)
}

// biometricCmd is the parent command for biometric unlock operations.
var biometricCmd = &cobra.Command{
	Use:   "biometric",
	Short: "Biometric unlock operations",
}

// biometricEnableCmd stores a key copy behind the platform biometric gate.
var biometricEnableCmd = &cobra.Command{
	Use:   "enable",
	Short: "Enable biometric unlock",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ensureUnlocked(); err != nil {
			return err
		}
		defer ctrl.Lock()

		if err := ctrl.EnableBiometric(); err != nil {
			if errors.Is(err, session.ErrBiometricUnavailable) {
				return errors.New("no usable biometric on this device (hardware missing or nothing enrolled)")
			}
			return fmt.Errorf("failed to enable biometric unlock: %w", err)
		}

		fmt.Println("Biometric unlock enabled")
		return nil
	},
}

// biometricDisableCmd removes the stored key copy. Needs no unlock: it only
// takes a capability away.
var biometricDisableCmd = &cobra.Command{
	Use:   "disable",
	Short: "Disable biometric unlock and discard the stored key copy",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := ctrl.DisableBiometric(); err != nil {
			return fmt.Errorf("failed to disable biometric unlock: %w", err)
		}

		fmt.Println("Biometric unlock disabled")
		return nil
	},
}

// biometricStatusCmd shows hardware, enrollment, and enablement state.
var biometricStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show biometric hardware and enrollment state",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := ctrl.BiometricStatus()
		fmt.Printf("Hardware: %s\n", yesNo(info.HardwareAvailable))
		fmt.Printf("Enrolled: %s\n", yesNo(info.Enrolled))
		fmt.Printf("Enabled:  %s\n", yesNo(info.Enabled))
		return nil
	},
}
