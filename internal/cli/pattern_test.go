package cli

import (
	"testing"
)

// TestMatcher covers glob and exact selection.
func TestMatcher(t *testing.T) {
	names := []string{
		"aws-access-key",
		"aws-secret-key",
		"db-password",
		"api-key",
		"config",
	}

	tests := []struct {
		name     string
		pattern  string
		expected []string
	}{
		{
			name:     "exact match",
			pattern:  "api-key",
			expected: []string{"api-key"},
		},
		{
			name:     "wildcard prefix",
			pattern:  "aws-*",
			expected: []string{"aws-access-key", "aws-secret-key"},
		},
		{
			name:     "wildcard suffix",
			pattern:  "*-key",
			expected: []string{"aws-access-key", "aws-secret-key", "api-key"},
		},
		{
			name:     "wildcard middle",
			pattern:  "aws-*-key",
			expected: []string{"aws-access-key", "aws-secret-key"},
		},
		{
			name:     "question mark",
			pattern:  "db-????????",
			expected: []string{"db-password"},
		},
		{
			name:     "match all",
			pattern:  "*",
			expected: names,
		},
		{
			name:     "no match glob",
			pattern:  "nonexistent-*",
			expected: nil,
		},
		{
			name:     "no match exact",
			pattern:  "nonexistent",
			expected: nil,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			m, err := NewMatcher(tc.pattern)
			if err != nil {
				t.Fatalf("NewMatcher(%q) error = %v", tc.pattern, err)
			}

			var got []string
			for _, name := range names {
				if m.Match(name) {
					got = append(got, name)
				}
			}

			if len(got) != len(tc.expected) {
				t.Fatalf("matched %v, want %v", got, tc.expected)
			}
			for i := range got {
				if got[i] != tc.expected[i] {
					t.Errorf("matched %v, want %v", got, tc.expected)
					break
				}
			}
		})
	}
}

// TestNewMatcherInvalidPattern rejects malformed globs up front.
func TestNewMatcherInvalidPattern(t *testing.T) {
	if _, err := NewMatcher("[invalid"); err == nil {
		t.Error("NewMatcher(\"[invalid\") accepted a malformed pattern")
	}
}
