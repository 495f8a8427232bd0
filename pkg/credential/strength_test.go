package credential

import (
	"strings"
	"testing"
)

// TestAssess verifies the length-first grading bands.
func TestAssess(t *testing.T) {
	tests := []struct {
		name       string
		passphrase string
		want       Strength
	}{
		{"empty", "", StrengthWeak},
		{"below minimum", "short12", StrengthWeak},
		{"at minimum", "eight888", StrengthFair},
		{"thirteen chars", "thirteen-char", StrengthFair},
		{"fourteen chars", "fourteen-chars", StrengthGood},
		{"nineteen chars", "nineteen-characters", StrengthGood},
		{"twenty chars", "twenty-characters-xx", StrengthStrong},
		{"long diceware", "correct horse battery staple octopus", StrengthStrong},
		{"multibyte runes count once", strings.Repeat("ぱ", 14), StrengthGood},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Assess(tt.passphrase); got != tt.want {
				t.Errorf("Assess(%q) = %v, want %v", tt.passphrase, got, tt.want)
			}
		})
	}
}

// TestStrengthString verifies the display labels.
func TestStrengthString(t *testing.T) {
	tests := []struct {
		strength Strength
		want     string
	}{
		{StrengthWeak, "Weak"},
		{StrengthFair, "Fair"},
		{StrengthGood, "Good"},
		{StrengthStrong, "Strong"},
		{Strength(99), "Unknown"},
	}

	for _, tt := range tests {
		if got := tt.strength.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
