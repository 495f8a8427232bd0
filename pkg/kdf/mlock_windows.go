//go:build windows

package kdf

import (
	"unsafe"

	"golang.org/x/sys/windows"
)

// LockMemory pins b into RAM so key material cannot be swapped to disk.
// Best effort: callers treat failure as advisory, not fatal.
func LockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualLock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}

// UnlockMemory releases a LockMemory pin. Call before wiping the buffer.
func UnlockMemory(b []byte) error {
	if len(b) == 0 {
		return nil
	}
	return windows.VirtualUnlock(uintptr(unsafe.Pointer(&b[0])), uintptr(len(b)))
}
