package importer

import (
	"strings"
	"testing"
)

const lastPassExportCSV = `url,username,password,totp,extra,name,grouping,fav
https://github.com/login,alice,hunter2,JBSWY3DP,personal account,GitHub,Work\Banking,0
http://sn,,,,router password is on the sticker,Home Wifi,Home,0
https://example.com,bob,p&amp;ss&quot;word,,,Example,,0
`

func parseLastPass(t *testing.T, data string) *Result {
	t.Helper()
	result, err := (&LastPassParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return result
}

func TestLastPassParse(t *testing.T) {
	result := parseLastPass(t, lastPassExportCSV)
	if len(result.Warnings) != 0 {
		t.Fatalf("Parse() warnings = %q", result.Warnings)
	}
	if len(result.Items) != 3 {
		t.Fatalf("Parse() returned %d items, want 3", len(result.Items))
	}
	byName := itemsByName(result)

	login := byName["GitHub"]
	if login == nil {
		t.Fatal("GitHub item missing")
	}
	if string(login.Value) != "hunter2" {
		t.Errorf("login value = %q, want the password", login.Value)
	}
	if login.Category != "work-banking" {
		t.Errorf("login category = %q, want grouping-derived work-banking", login.Category)
	}
	for _, want := range []string{
		"totp: JBSWY3DP",
		"username: alice",
		"url: https://github.com/login",
		"personal account",
	} {
		if !strings.Contains(login.Notes, want) {
			t.Errorf("login notes missing %q:\n%s", want, login.Notes)
		}
	}

	note := byName["Home Wifi"]
	if note == nil {
		t.Fatal("Home Wifi item missing")
	}
	if string(note.Value) != "router password is on the sticker" {
		t.Errorf("secure note value = %q, want the extra column", note.Value)
	}
	if note.Category != "home" {
		t.Errorf("secure note category = %q, want home", note.Category)
	}
	if strings.Contains(note.Notes, "http://sn") {
		t.Errorf("secure note notes leaked the sentinel URL: %q", note.Notes)
	}
}

func TestLastPassDecodesEntities(t *testing.T) {
	result := parseLastPass(t, lastPassExportCSV)
	item := itemsByName(result)["Example"]
	if item == nil {
		t.Fatal("Example item missing")
	}
	if string(item.Value) != `p&ss"word` {
		t.Errorf("value = %q, want HTML entities decoded", item.Value)
	}
}

func TestLastPassStripsBOM(t *testing.T) {
	result := parseLastPass(t, "\xEF\xBB\xBF"+lastPassExportCSV)
	if len(result.Items) != 3 {
		t.Errorf("Parse() returned %d items after BOM, want 3", len(result.Items))
	}
}

func TestLastPassMissingNameColumn(t *testing.T) {
	_, err := (&LastPassParser{}).Parse([]byte("url,username,password\nhttps://x.com,a,b\n"))
	if err == nil || !strings.Contains(err.Error(), "name column") {
		t.Errorf("Parse() error = %v, want missing name column", err)
	}
}

func TestLastPassColumnMismatch(t *testing.T) {
	csv := "url,username,password,totp,extra,name,grouping,fav\n" +
		"https://a.com,alice\n" +
		"https://b.com,bob,pw,,,B,,0\n"
	result := parseLastPass(t, csv)
	if len(result.Items) != 1 {
		t.Errorf("Parse() returned %d items, want the one well-formed row", len(result.Items))
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "row 2") {
		t.Errorf("Parse() warnings = %q, want a row 2 column warning", result.Warnings)
	}
}

func TestLastPassSkipsEmptyRows(t *testing.T) {
	csv := "url,username,password,totp,extra,name,grouping,fav\n" +
		",,,,,Placeholder,,0\n"
	result := parseLastPass(t, csv)
	if len(result.Items) != 0 {
		t.Errorf("Parse() imported %d items from an empty row", len(result.Items))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Name != "Placeholder" {
		t.Errorf("Parse() skipped = %+v, want the placeholder row", result.Skipped)
	}
}

func TestLastPassFallbackName(t *testing.T) {
	csv := "url,username,password,totp,extra,name,grouping,fav\n" +
		"https://www.example.com/login,alice,pw,,,,,0\n"
	result := parseLastPass(t, csv)
	if len(result.Items) != 1 {
		t.Fatalf("Parse() returned %d items, want 1", len(result.Items))
	}
	if result.Items[0].Name != "example.com" {
		t.Errorf("name = %q, want the URL host example.com", result.Items[0].Name)
	}
}
