package importer

import (
	"encoding/json"
	"fmt"
	"strings"
)

// BitwardenParser parses Bitwarden JSON export files.
type BitwardenParser struct{}

// Bitwarden item type codes.
const (
	bitwardenTypeLogin      = 1
	bitwardenTypeSecureNote = 2
	bitwardenTypeCard       = 3
	bitwardenTypeIdentity   = 4
)

type bitwardenExport struct {
	Items   []bitwardenItem   `json:"items"`
	Folders []bitwardenFolder `json:"folders"`
}

type bitwardenFolder struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type bitwardenItem struct {
	Type     int                    `json:"type"`
	Name     string                 `json:"name"`
	Notes    string                 `json:"notes"`
	FolderID *string                `json:"folderId"`
	Login    *bitwardenLogin        `json:"login"`
	Card     *bitwardenCard         `json:"card"`
	Identity *bitwardenIdentity     `json:"identity"`
	Fields   []bitwardenCustomField `json:"fields"`
}

type bitwardenLogin struct {
	URIs     []bitwardenURI `json:"uris"`
	Username string         `json:"username"`
	Password string         `json:"password"`
	TOTP     string         `json:"totp"`
}

type bitwardenURI struct {
	URI string `json:"uri"`
}

type bitwardenCard struct {
	CardholderName string `json:"cardholderName"`
	Number         string `json:"number"`
	ExpMonth       string `json:"expMonth"`
	ExpYear        string `json:"expYear"`
	Code           string `json:"code"`
	Brand          string `json:"brand"`
}

type bitwardenIdentity struct {
	Title          string `json:"title"`
	FirstName      string `json:"firstName"`
	MiddleName     string `json:"middleName"`
	LastName       string `json:"lastName"`
	Username       string `json:"username"`
	Company        string `json:"company"`
	Email          string `json:"email"`
	Phone          string `json:"phone"`
	Address1       string `json:"address1"`
	Address2       string `json:"address2"`
	Address3       string `json:"address3"`
	City           string `json:"city"`
	State          string `json:"state"`
	PostalCode     string `json:"postalCode"`
	Country        string `json:"country"`
	SSN            string `json:"ssn"`
	PassportNumber string `json:"passportNumber"`
	LicenseNumber  string `json:"licenseNumber"`
}

type bitwardenCustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Source returns the source this parser handles.
func (p *BitwardenParser) Source() Source {
	return SourceBitwarden
}

// Parse parses a Bitwarden JSON export.
func (p *BitwardenParser) Parse(data []byte) (*Result, error) {
	var export bitwardenExport
	if err := json.Unmarshal(data, &export); err != nil {
		return nil, fmt.Errorf("importer: parse bitwarden json: %w", err)
	}

	folders := make(map[string]string)
	for _, f := range export.Folders {
		folders[f.ID] = f.Name
	}

	result := &Result{}
	counter := 1
	for i := range export.Items {
		item := &export.Items[i]
		parsed, warning := p.parseItem(item, folders, &counter)
		if warning != "" {
			result.Warnings = append(result.Warnings, fmt.Sprintf("item %d (%s): %s", i+1, item.Name, warning))
		}
		if parsed != nil {
			result.Items = append(result.Items, parsed)
		} else if warning == "" {
			result.Skipped = append(result.Skipped, SkippedItem{Name: item.Name, Reason: "no usable data"})
		}
	}
	dedupeNames(result.Items)
	return result, nil
}

func (p *BitwardenParser) parseItem(item *bitwardenItem, folders map[string]string, counter *int) (*Item, string) {
	var value string
	var lines []string
	var primaryURL string
	var typeCategory string

	switch item.Type {
	case bitwardenTypeLogin:
		value, lines, primaryURL = parseBitwardenLogin(item.Login)
		typeCategory = "logins"
	case bitwardenTypeSecureNote:
		typeCategory = "notes"
	case bitwardenTypeCard:
		value = renderBitwardenCard(item.Card)
		typeCategory = "cards"
	case bitwardenTypeIdentity:
		value = renderBitwardenIdentity(item.Identity)
		typeCategory = "identities"
	default:
		return nil, fmt.Sprintf("unsupported item type %d", item.Type)
	}

	// Custom fields become note lines whatever the item type.
	for _, f := range item.Fields {
		label := f.Name
		if label == "" {
			label = "field"
		}
		lines = addLine(lines, label, f.Value)
	}

	// An entry whose only secret is its note text stores that text as the
	// value. Secure notes always take this path.
	noteText := item.Notes
	if value == "" && noteText != "" {
		value = noteText
		noteText = ""
	}
	notes := mergeNotes(lines, noteText)

	if value == "" && notes == "" {
		return nil, ""
	}

	name := NormalizeName(item.Name)
	if name == "" {
		name = NormalizeName(fallbackName(primaryURL, counter))
	}

	category := ""
	if item.FolderID != nil {
		category = SanitizeCategory(folders[*item.FolderID])
	}
	if category == "" {
		category = typeCategory
	}

	return &Item{Name: name, Value: []byte(value), Category: category, Notes: notes}, ""
}

func parseBitwardenLogin(login *bitwardenLogin) (value string, lines []string, primaryURL string) {
	if login == nil {
		return "", nil, ""
	}
	value, lines = chooseValue(
		field{"password", login.Password},
		field{"totp", login.TOTP},
		field{"username", login.Username},
	)
	for i, u := range login.URIs {
		if u.URI == "" {
			continue
		}
		if primaryURL == "" {
			primaryURL = u.URI
		}
		label := "url"
		if i > 0 {
			label = fmt.Sprintf("url_%d", i+1)
		}
		lines = append(lines, label+": "+u.URI)
	}
	return value, lines, primaryURL
}

func renderBitwardenCard(card *bitwardenCard) string {
	if card == nil {
		return ""
	}
	var lines []string
	lines = addLine(lines, "cardholder", card.CardholderName)
	lines = addLine(lines, "number", card.Number)
	if card.ExpMonth != "" || card.ExpYear != "" {
		lines = append(lines, "expiry: "+card.ExpMonth+"/"+card.ExpYear)
	}
	lines = addLine(lines, "cvv", card.Code)
	lines = addLine(lines, "brand", card.Brand)
	return strings.Join(lines, "\n")
}

func renderBitwardenIdentity(id *bitwardenIdentity) string {
	if id == nil {
		return ""
	}
	var lines []string
	lines = addLine(lines, "title", id.Title)
	lines = addLine(lines, "first_name", id.FirstName)
	lines = addLine(lines, "middle_name", id.MiddleName)
	lines = addLine(lines, "last_name", id.LastName)
	lines = addLine(lines, "username", id.Username)
	lines = addLine(lines, "company", id.Company)
	lines = addLine(lines, "email", id.Email)
	lines = addLine(lines, "phone", id.Phone)
	lines = addLine(lines, "address1", id.Address1)
	lines = addLine(lines, "address2", id.Address2)
	lines = addLine(lines, "address3", id.Address3)
	lines = addLine(lines, "city", id.City)
	lines = addLine(lines, "state", id.State)
	lines = addLine(lines, "postal_code", id.PostalCode)
	lines = addLine(lines, "country", id.Country)
	lines = addLine(lines, "ssn", id.SSN)
	lines = addLine(lines, "passport", id.PassportNumber)
	lines = addLine(lines, "license", id.LicenseNumber)
	return strings.Join(lines, "\n")
}
