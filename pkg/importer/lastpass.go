package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// LastPassParser parses LastPass CSV export files. The export columns are
// url,username,password,totp,extra,name,grouping,fav; secure notes carry the
// sentinel URL "http://sn" with their text in the extra column.
type LastPassParser struct{}

const lastPassNoteURL = "http://sn"

// Source returns the source this parser handles.
func (p *LastPassParser) Source() Source {
	return SourceLastPass
}

// Parse parses a LastPass CSV export.
func (p *LastPassParser) Parse(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: read lastpass header: %w", err)
	}
	cols := make(map[string]int)
	for i, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := cols["name"]; !ok {
		return nil, errors.New("importer: lastpass export is missing the name column")
	}

	result := &Result{}
	counter := 1
	row := 1
	for {
		row++
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			result.Warnings = append(result.Warnings, fmt.Sprintf("row %d: %v", row, err))
			continue
		}
		if len(record) != len(header) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("row %d: expected %d columns, got %d", row, len(header), len(record)))
			continue
		}
		p.parseRow(record, cols, result, &counter)
	}
	dedupeNames(result.Items)
	return result, nil
}

func (p *LastPassParser) parseRow(record []string, cols map[string]int, result *Result, counter *int) {
	get := func(col string) string {
		if i, ok := cols[col]; ok && i < len(record) {
			return htmlEntities.Replace(strings.TrimSpace(record[i]))
		}
		return ""
	}

	name := get("name")
	rawURL := get("url")
	username := get("username")
	password := get("password")
	totp := get("totp")
	extra := get("extra")
	grouping := get("grouping")

	var value string
	var lines []string
	var typeCategory string
	noteText := ""

	if rawURL == lastPassNoteURL {
		// Secure note: the text is the secret.
		value = extra
		typeCategory = "notes"
	} else {
		value, lines = chooseValue(
			field{"password", password},
			field{"totp", totp},
			field{"username", username},
		)
		lines = addLine(lines, "url", rawURL)
		noteText = extra
		typeCategory = "logins"
	}

	// A row whose only secret is its extra text stores that text as the
	// value, secure note style.
	if value == "" && noteText != "" {
		value = noteText
		noteText = ""
	}
	notes := mergeNotes(lines, noteText)
	if value == "" && notes == "" {
		result.Skipped = append(result.Skipped, SkippedItem{Name: name, Reason: "no usable data"})
		return
	}

	itemName := NormalizeName(name)
	if itemName == "" {
		fallbackURL := rawURL
		if rawURL == lastPassNoteURL {
			fallbackURL = ""
		}
		itemName = NormalizeName(fallbackName(fallbackURL, counter))
	}

	category := SanitizeCategory(grouping)
	if category == "" {
		category = typeCategory
	}

	result.Items = append(result.Items, &Item{
		Name:     itemName,
		Value:    []byte(value),
		Category: category,
		Notes:    notes,
	})
}
