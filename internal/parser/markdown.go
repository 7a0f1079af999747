package parser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Heading is one entry of a markdown header outline.
type Heading struct {
	Level int    `json:"level"`
	Text  string `json:"text"`
}

var headingRegex = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+?)\s*#*\s*$`)

// ExtractHeadings returns the ATX headings of a markdown document in order.
func ExtractHeadings(text string) []Heading {
	matches := headingRegex.FindAllStringSubmatch(text, -1)
	headings := make([]Heading, 0, len(matches))
	for _, m := range matches {
		headings = append(headings, Heading{
			Level: len(m[1]),
			Text:  strings.TrimSpace(m[2]),
		})
	}
	return headings
}

// headerOutlineJSON serializes the outline for storage on chunk records.
// Returns "" when the document has no headings.
func headerOutlineJSON(text string) string {
	headings := ExtractHeadings(text)
	if len(headings) == 0 {
		return ""
	}
	raw, err := json.Marshal(headings)
	if err != nil {
		return ""
	}
	return string(raw)
}
