package credential

import (
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"
)

// Strength grades a candidate passphrase for setup-time feedback. It is
// advisory only: setup enforces nothing beyond the length bounds.
type Strength int

const (
	// StrengthWeak indicates a passphrase under the minimum length.
	StrengthWeak Strength = iota
	// StrengthFair indicates a minimally acceptable passphrase.
	StrengthFair
	// StrengthGood indicates a good passphrase.
	StrengthGood
	// StrengthStrong indicates a strong passphrase.
	StrengthStrong
)

// String returns a human-readable strength label.
func (s Strength) String() string {
	switch s {
	case StrengthWeak:
		return "Weak"
	case StrengthFair:
		return "Fair"
	case StrengthGood:
		return "Good"
	case StrengthStrong:
		return "Strong"
	default:
		return "Unknown"
	}
}

// Assess grades a passphrase by length, the primary factor per NIST SP
// 800-63B. Composition rules are deliberately not applied: they push users
// toward predictable substitutions without adding entropy.
func Assess(passphrase string) Strength {
	length := utf8.RuneCountInString(norm.NFKC.String(passphrase))

	switch {
	case length >= 20:
		return StrengthStrong
	case length >= 14:
		return StrengthGood
	case length >= MinPassphraseLength:
		return StrengthFair
	default:
		return StrengthWeak
	}
}
