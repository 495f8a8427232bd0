package backup

import "errors"

var (
	// ErrInvalidMagic is returned when the input does not start with the
	// backup file magic.
	ErrInvalidMagic = errors.New("backup: not a lockgate backup file")

	// ErrUnsupportedVersion is returned for backup files written by an
	// unknown format version.
	ErrUnsupportedVersion = errors.New("backup: unsupported format version")

	// ErrEmptyPassphrase is returned when the backup passphrase is empty.
	ErrEmptyPassphrase = errors.New("backup: passphrase cannot be empty")

	// ErrWrongPassphrase is returned when the payload fails to authenticate.
	// A wrong passphrase and a tampered file are indistinguishable.
	ErrWrongPassphrase = errors.New("backup: wrong passphrase or corrupted file")

	// ErrHeaderTooLarge is returned when the declared header length exceeds
	// the sanity cap.
	ErrHeaderTooLarge = errors.New("backup: header too large")

	// ErrTruncated is returned when the input ends before the declared
	// structure does.
	ErrTruncated = errors.New("backup: truncated file")

	// ErrConflict is returned by Restore in ConflictError mode when an item
	// in the backup already exists in the vault.
	ErrConflict = errors.New("backup: item already exists")
)
