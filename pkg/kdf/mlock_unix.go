//go:build !windows

package kdf

import "golang.org/x/sys/unix"

// LockMemory pins b into RAM so key material cannot be swapped to disk.
// Best effort: callers treat failure as advisory, not fatal.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Mlock(b)
}

// UnlockMemory releases a LockMemory pin. Call before wiping the buffer.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return unix.Munlock(b)
}
