// Package importer parses exports from other password managers into vault
// items. Supported sources are Bitwarden JSON, LastPass CSV, and 1Password
// CSV exports.
//
// The vault stores one value per item, so multi-field sources are flattened:
// the most useful secret field becomes the value (password, then TOTP seed,
// then username) and the remaining fields turn into labeled note lines.
// Notes are encrypted at rest, so folding sensitive fields into them loses
// no protection.
package importer

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/knagatomi/lockgate/pkg/vault"
)

// Source identifies an export format.
type Source string

const (
	SourceBitwarden Source = "bitwarden"
	SourceLastPass  Source = "lastpass"
	Source1Password Source = "1password"
)

// Item is one entry parsed from a foreign export, ready for the vault.
type Item struct {
	Name     string
	Value    []byte
	Category string
	Notes    string
}

// VaultItem converts the parsed entry to the vault's item shape.
func (it *Item) VaultItem() *vault.Item {
	return &vault.Item{
		Name:     it.Name,
		Value:    it.Value,
		Category: it.Category,
		Notes:    it.Notes,
		HasNotes: it.Notes != "",
	}
}

// Result is the outcome of parsing one export file.
type Result struct {
	// Items are the successfully parsed entries.
	Items []*Item

	// Warnings are non-fatal issues, one line per affected row or item.
	Warnings []string

	// Skipped lists entries that carried nothing worth importing.
	Skipped []SkippedItem
}

// SkippedItem names an entry that was dropped and why.
type SkippedItem struct {
	Name   string
	Reason string
}

// Parser turns one export format into vault items.
type Parser interface {
	Parse(data []byte) (*Result, error)
	Source() Source
}

// ParserFor returns the parser for source.
func ParserFor(source Source) (Parser, error) {
	switch source {
	case SourceBitwarden:
		return &BitwardenParser{}, nil
	case SourceLastPass:
		return &LastPassParser{}, nil
	case Source1Password:
		return &OnePasswordParser{}, nil
	default:
		return nil, fmt.Errorf("importer: unsupported source %q", source)
	}
}

// Sources returns the accepted source names.
func Sources() []string {
	return []string{
		string(SourceBitwarden),
		string(SourceLastPass),
		string(Source1Password),
	}
}

// NormalizeName prepares a foreign entry name for use as an item name.
// Names are stored encrypted, so anything goes except the empty string and
// oversized names; this normalizes Unicode, trims whitespace, and truncates
// to the vault limit without splitting a rune.
func NormalizeName(name string) string {
	name = strings.TrimSpace(norm.NFC.String(name))
	if len(name) <= vault.MaxNameLength {
		return name
	}
	cut := vault.MaxNameLength
	for cut > 0 && !utf8.RuneStart(name[cut]) {
		cut--
	}
	return name[:cut]
}

// SanitizeCategory squeezes a foreign folder or tag name into the vault's
// plaintext category charset: lowercase, separators become hyphens, anything
// outside [a-z0-9_-] is dropped, capped at the vault limit.
func SanitizeCategory(s string) string {
	s = strings.ToLower(norm.NFC.String(s))
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_', r == '-':
			b.WriteRune(r)
		case r == ' ' || r == '/' || r == '\\' || r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > vault.MaxCategoryLength {
		out = strings.Trim(out[:vault.MaxCategoryLength], "-")
	}
	return out
}

// field is one candidate source column with its note label.
type field struct {
	label string
	value string
}

// chooseValue picks the first non-empty candidate as the item value and
// returns the rest as labeled note lines, preserving candidate order.
func chooseValue(candidates ...field) (string, []string) {
	var value string
	var lines []string
	for _, f := range candidates {
		if f.value == "" {
			continue
		}
		if value == "" {
			value = f.value
			continue
		}
		lines = append(lines, f.label+": "+f.value)
	}
	return value, lines
}

// addLine appends "label: value" when value is non-empty.
func addLine(lines []string, label, value string) []string {
	if value == "" {
		return lines
	}
	return append(lines, label+": "+value)
}

// mergeNotes joins labeled lines with free-form note text.
func mergeNotes(lines []string, text string) string {
	joined := strings.Join(lines, "\n")
	switch {
	case text == "":
		return joined
	case joined == "":
		return text
	default:
		return joined + "\n" + text
	}
}

// fallbackName builds a name for entries without one, preferring the URL
// host over a bare counter. The counter advances only when used.
func fallbackName(rawURL string, counter *int) string {
	if host := hostFromURL(rawURL); host != "" {
		return host
	}
	name := fmt.Sprintf("imported-item-%d", *counter)
	*counter++
	return name
}

// hostFromURL extracts the bare host from a URL without full parsing, the
// input being whatever a password manager put in its url column.
func hostFromURL(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	if i := strings.IndexAny(s, "/?#"); i != -1 {
		s = s[:i]
	}
	if i := strings.Index(s, ":"); i != -1 {
		s = s[:i]
	}
	return strings.TrimPrefix(s, "www.")
}

// dedupeNames suffixes repeated names with _2, _3, and so on, in order of
// appearance. Stored names are case-sensitive, so the match is exact.
func dedupeNames(items []*Item) {
	seen := make(map[string]int)
	for _, it := range items {
		n := seen[it.Name]
		seen[it.Name] = n + 1
		if n > 0 {
			it.Name = fmt.Sprintf("%s_%d", it.Name, n+1)
		}
	}
}

// htmlEntities undoes the HTML encoding LastPass applies to special
// characters in its CSV export.
var htmlEntities = strings.NewReplacer(
	"&amp;", "&",
	"&lt;", "<",
	"&gt;", ">",
	"&quot;", `"`,
	"&#39;", "'",
	"&apos;", "'",
)
