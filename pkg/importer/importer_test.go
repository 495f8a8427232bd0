package importer

import (
	"strings"
	"testing"

	"github.com/knagatomi/lockgate/pkg/vault"
)

func TestNormalizeName(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"trims whitespace", "  GitHub Token  ", "GitHub Token"},
		{"preserves case and spaces", "My Bank Login", "My Bank Login"},
		{"composes unicode", "Café", "Café"},
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := NormalizeName(tc.in); got != tc.want {
				t.Errorf("NormalizeName(%q) = %q, want %q", tc.in, got, tc.want)
			}
		})
	}
}

func TestNormalizeNameTruncates(t *testing.T) {
	exact := strings.Repeat("a", vault.MaxNameLength)
	if got := NormalizeName(exact); got != exact {
		t.Errorf("NormalizeName() shortened a name of exactly %d bytes", vault.MaxNameLength)
	}

	// One multibyte rune straddling the limit must be dropped whole.
	long := strings.Repeat("a", vault.MaxNameLength-1) + "é"
	got := NormalizeName(long)
	if len(got) != vault.MaxNameLength-1 {
		t.Errorf("NormalizeName() length = %d, want %d", len(got), vault.MaxNameLength-1)
	}
	if strings.ContainsRune(got, 'é') {
		t.Error("NormalizeName() kept a rune it should have cut")
	}
}

func TestSanitizeCategory(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"Work Stuff", "work-stuff"},
		{"Work/Banking", "work-banking"},
		{`Work\Banking`, "work-banking"},
		{"API_keys", "api_keys"},
		{"--trimmed--", "trimmed"},
		{"日本語", ""},
		{"", ""},
	}
	for _, tc := range cases {
		if got := SanitizeCategory(tc.in); got != tc.want {
			t.Errorf("SanitizeCategory(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}

	long := SanitizeCategory(strings.Repeat("a", 100))
	if len(long) != vault.MaxCategoryLength {
		t.Errorf("SanitizeCategory() length = %d, want %d", len(long), vault.MaxCategoryLength)
	}
}

func TestChooseValue(t *testing.T) {
	value, lines := chooseValue(
		field{"password", "hunter2"},
		field{"totp", "JBSWY3DP"},
		field{"username", "alice"},
	)
	if value != "hunter2" {
		t.Errorf("value = %q, want hunter2", value)
	}
	if len(lines) != 2 || lines[0] != "totp: JBSWY3DP" || lines[1] != "username: alice" {
		t.Errorf("lines = %q, want losing fields as labeled lines", lines)
	}

	value, lines = chooseValue(
		field{"password", ""},
		field{"totp", ""},
		field{"username", "alice"},
	)
	if value != "alice" {
		t.Errorf("value = %q, want username fallback alice", value)
	}
	if len(lines) != 0 {
		t.Errorf("lines = %q, want none", lines)
	}

	value, lines = chooseValue(field{"password", ""})
	if value != "" || lines != nil {
		t.Errorf("chooseValue() of empty fields = %q, %q, want empty", value, lines)
	}
}

func TestMergeNotes(t *testing.T) {
	if got := mergeNotes([]string{"a: 1", "b: 2"}, "free text"); got != "a: 1\nb: 2\nfree text" {
		t.Errorf("mergeNotes() = %q", got)
	}
	if got := mergeNotes(nil, "free text"); got != "free text" {
		t.Errorf("mergeNotes() = %q, want free text", got)
	}
	if got := mergeNotes([]string{"a: 1"}, ""); got != "a: 1" {
		t.Errorf("mergeNotes() = %q, want a: 1", got)
	}
	if got := mergeNotes(nil, ""); got != "" {
		t.Errorf("mergeNotes() = %q, want empty", got)
	}
}

func TestDedupeNames(t *testing.T) {
	items := []*Item{
		{Name: "github"},
		{Name: "github"},
		{Name: "gitlab"},
		{Name: "github"},
	}
	dedupeNames(items)

	want := []string{"github", "github_2", "gitlab", "github_3"}
	for i, w := range want {
		if items[i].Name != w {
			t.Errorf("items[%d].Name = %q, want %q", i, items[i].Name, w)
		}
	}
}

func TestFallbackName(t *testing.T) {
	counter := 1

	if got := fallbackName("https://www.example.com:8443/login?next=1", &counter); got != "example.com" {
		t.Errorf("fallbackName() = %q, want example.com", got)
	}
	if counter != 1 {
		t.Errorf("counter advanced to %d on a URL fallback", counter)
	}

	if got := fallbackName("", &counter); got != "imported-item-1" {
		t.Errorf("fallbackName() = %q, want imported-item-1", got)
	}
	if got := fallbackName("", &counter); got != "imported-item-2" {
		t.Errorf("fallbackName() = %q, want imported-item-2", got)
	}
}

func TestParserFor(t *testing.T) {
	for _, source := range Sources() {
		p, err := ParserFor(Source(source))
		if err != nil {
			t.Errorf("ParserFor(%q) error = %v", source, err)
			continue
		}
		if string(p.Source()) != source {
			t.Errorf("ParserFor(%q).Source() = %q", source, p.Source())
		}
	}

	if _, err := ParserFor("keepass"); err == nil {
		t.Error("ParserFor(keepass) expected error")
	}
}

func TestVaultItem(t *testing.T) {
	it := &Item{Name: "github", Value: []byte("hunter2"), Category: "logins", Notes: "username: alice"}
	v := it.VaultItem()
	if v.Name != "github" || string(v.Value) != "hunter2" || v.Category != "logins" {
		t.Errorf("VaultItem() = %+v", v)
	}
	if !v.HasNotes {
		t.Error("VaultItem() HasNotes = false, want true")
	}

	if (&Item{Name: "x"}).VaultItem().HasNotes {
		t.Error("VaultItem() HasNotes = true for empty notes")
	}
}
