package importer

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"
)

// OnePasswordParser parses 1Password CSV export files. The export columns
// are Title,Website,Username,Password,OTPAuth,Favorite,Archived,Tags,Notes.
type OnePasswordParser struct{}

// Source returns the source this parser handles.
func (p *OnePasswordParser) Source() Source {
	return Source1Password
}

// Parse parses a 1Password CSV export.
func (p *OnePasswordParser) Parse(data []byte) (*Result, error) {
	data = bytes.TrimPrefix(data, []byte{0xEF, 0xBB, 0xBF})

	reader := csv.NewReader(bytes.NewReader(data))
	reader.LazyQuotes = true
	reader.FieldsPerRecord = -1

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("importer: read 1password header: %w", err)
	}
	cols := make(map[string]int)
	for i, col := range header {
		cols[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := cols["title"]; !ok {
		return nil, errors.New("importer: 1password export is missing the Title column")
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

func (p *OnePasswordParser) parseRow(record []string, cols map[string]int, result *Result, counter *int) {
	get := func(col string) string {
		if i, ok := cols[col]; ok && i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}

	title := get("title")
	website := get("website")
	username := get("username")
	password := get("password")
	otp := get("otpauth")
	tags := get("tags")
	noteText := get("notes")

	value, lines := chooseValue(
		field{"password", password},
		field{"totp", otp},
		field{"username", username},
	)
	lines = addLine(lines, "url", website)

	// A row whose only secret is its notes stores that text as the value,
	// secure note style.
	if value == "" && noteText != "" {
		value = noteText
		noteText = ""
	}
	notes := mergeNotes(lines, noteText)
	if value == "" && notes == "" {
		result.Skipped = append(result.Skipped, SkippedItem{Name: title, Reason: "no usable data"})
		return
	}

	name := NormalizeName(title)
	if name == "" {
		name = NormalizeName(fallbackName(website, counter))
	}

	// The first tag becomes the category.
	category := ""
	if first, _, _ := strings.Cut(tags, ","); first != "" {
		category = SanitizeCategory(first)
	}
	if category == "" {
		category = "logins"
	}

	result.Items = append(result.Items, &Item{
		Name:     name,
		Value:    []byte(value),
		Category: category,
		Notes:    notes,
	})
}
