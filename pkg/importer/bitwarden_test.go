package importer

import (
	"strings"
	"testing"
)

const bitwardenExportJSON = `{
  "folders": [
    {"id": "f1", "name": "Work Stuff"}
  ],
  "items": [
    {
      "type": 1,
      "name": "GitHub",
      "notes": "personal account",
      "folderId": "f1",
      "login": {
        "uris": [{"uri": "https://github.com/login"}, {"uri": "https://gist.github.com"}],
        "username": "alice",
        "password": "hunter2",
        "totp": "JBSWY3DP"
      },
      "fields": [{"name": "recovery code", "value": "abcd-efgh"}]
    },
    {
      "type": 2,
      "name": "Wifi",
      "notes": "password is on the router"
    },
    {
      "type": 3,
      "name": "Visa",
      "card": {
        "cardholderName": "Alice Example",
        "number": "4111111111111111",
        "expMonth": "4",
        "expYear": "2030",
        "code": "123",
        "brand": "Visa"
      }
    },
    {
      "type": 4,
      "name": "Passport",
      "identity": {
        "firstName": "Alice",
        "lastName": "Example",
        "passportNumber": "X1234567"
      }
    }
  ]
}`

func parseBitwarden(t *testing.T, data string) *Result {
	t.Helper()
	result, err := (&BitwardenParser{}).Parse([]byte(data))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return result
}

func itemsByName(result *Result) map[string]*Item {
	byName := make(map[string]*Item, len(result.Items))
	for _, it := range result.Items {
		byName[it.Name] = it
	}
	return byName
}

func TestBitwardenParse(t *testing.T) {
	result := parseBitwarden(t, bitwardenExportJSON)
	if len(result.Warnings) != 0 {
		t.Fatalf("Parse() warnings = %q", result.Warnings)
	}
	if len(result.Items) != 4 {
		t.Fatalf("Parse() returned %d items, want 4", len(result.Items))
	}
	byName := itemsByName(result)

	login := byName["GitHub"]
	if login == nil {
		t.Fatal("GitHub item missing")
	}
	if string(login.Value) != "hunter2" {
		t.Errorf("login value = %q, want the password", login.Value)
	}
	if login.Category != "work-stuff" {
		t.Errorf("login category = %q, want folder-derived work-stuff", login.Category)
	}
	for _, want := range []string{
		"totp: JBSWY3DP",
		"username: alice",
		"url: https://github.com/login",
		"url_2: https://gist.github.com",
		"recovery code: abcd-efgh",
		"personal account",
	} {
		if !strings.Contains(login.Notes, want) {
			t.Errorf("login notes missing %q:\n%s", want, login.Notes)
		}
	}

	note := byName["Wifi"]
	if note == nil {
		t.Fatal("Wifi item missing")
	}
	if string(note.Value) != "password is on the router" {
		t.Errorf("secure note value = %q, want the note text", note.Value)
	}
	if note.Notes != "" {
		t.Errorf("secure note notes = %q, want empty", note.Notes)
	}
	if note.Category != "notes" {
		t.Errorf("secure note category = %q, want notes", note.Category)
	}

	card := byName["Visa"]
	if card == nil {
		t.Fatal("Visa item missing")
	}
	for _, want := range []string{
		"cardholder: Alice Example",
		"number: 4111111111111111",
		"expiry: 4/2030",
		"cvv: 123",
		"brand: Visa",
	} {
		if !strings.Contains(string(card.Value), want) {
			t.Errorf("card value missing %q:\n%s", want, card.Value)
		}
	}
	if card.Category != "cards" {
		t.Errorf("card category = %q, want cards", card.Category)
	}

	identity := byName["Passport"]
	if identity == nil {
		t.Fatal("Passport item missing")
	}
	for _, want := range []string{"first_name: Alice", "last_name: Example", "passport: X1234567"} {
		if !strings.Contains(string(identity.Value), want) {
			t.Errorf("identity value missing %q:\n%s", want, identity.Value)
		}
	}
	if identity.Category != "identities" {
		t.Errorf("identity category = %q, want identities", identity.Category)
	}
}

func TestBitwardenUnsupportedType(t *testing.T) {
	result := parseBitwarden(t, `{"items": [{"type": 9, "name": "SSH Key"}]}`)
	if len(result.Items) != 0 {
		t.Errorf("Parse() imported %d items from an unsupported type", len(result.Items))
	}
	if len(result.Warnings) != 1 || !strings.Contains(result.Warnings[0], "unsupported item type 9") {
		t.Errorf("Parse() warnings = %q, want unsupported type warning", result.Warnings)
	}
}

func TestBitwardenSkipsEmptyItems(t *testing.T) {
	result := parseBitwarden(t, `{"items": [{"type": 1, "name": "Empty", "login": {}}]}`)
	if len(result.Items) != 0 {
		t.Errorf("Parse() imported %d items with no data", len(result.Items))
	}
	if len(result.Skipped) != 1 || result.Skipped[0].Name != "Empty" {
		t.Errorf("Parse() skipped = %+v, want the empty item", result.Skipped)
	}
}

func TestBitwardenFallbackName(t *testing.T) {
	result := parseBitwarden(t, `{"items": [
	  {"type": 1, "name": "", "login": {"uris": [{"uri": "https://www.example.com/login"}], "password": "pw"}},
	  {"type": 1, "name": "", "login": {"password": "pw2"}}
	]}`)
	if len(result.Items) != 2 {
		t.Fatalf("Parse() returned %d items, want 2", len(result.Items))
	}
	if result.Items[0].Name != "example.com" {
		t.Errorf("name = %q, want the URL host example.com", result.Items[0].Name)
	}
	if result.Items[1].Name != "imported-item-1" {
		t.Errorf("name = %q, want imported-item-1", result.Items[1].Name)
	}
}

func TestBitwardenDuplicateNames(t *testing.T) {
	result := parseBitwarden(t, `{"items": [
	  {"type": 1, "name": "GitHub", "login": {"password": "a"}},
	  {"type": 1, "name": "GitHub", "login": {"password": "b"}}
	]}`)
	if len(result.Items) != 2 {
		t.Fatalf("Parse() returned %d items, want 2", len(result.Items))
	}
	if result.Items[0].Name != "GitHub" || result.Items[1].Name != "GitHub_2" {
		t.Errorf("names = %q, %q, want GitHub, GitHub_2", result.Items[0].Name, result.Items[1].Name)
	}
}

func TestBitwardenInvalidJSON(t *testing.T) {
	if _, err := (&BitwardenParser{}).Parse([]byte("not json")); err == nil {
		t.Error("Parse() expected error for invalid JSON")
	}
}
