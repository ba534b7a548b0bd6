// Package entity extracts indexable entities from record content.
package entity

import (
	"regexp"
	"strings"
)

var (
	// Capitalized words, optionally chained into multi-word phrases
	// ("Paris", "New York City").
	properNounRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s+[A-Z][a-z]+)*\b`)

	// Double-quoted substrings.
	quotedRe = regexp.MustCompile(`"([^"]+)"`)
)

// Leading articles and pronouns that capitalize at sentence starts but
// carry no indexing value.
var stopWords = map[string]bool{
	"The": true,
	"A":   true,
	"An":  true,
	"I":   true,
}

// Extract pulls entities out of text: capitalized phrases minus the
// stop-list, plus quoted substrings. Order of first appearance, duplicates
// suppressed. Extraction never fails; no matches yields an empty slice.
func Extract(text string) []string {
	var entities []string
	seen := map[string]bool{}

	add := func(e string) {
		e = strings.TrimSpace(e)
		if e == "" || seen[e] || stopWords[e] {
			return
		}
		seen[e] = true
		entities = append(entities, e)
	}

	for _, m := range properNounRe.FindAllString(text, -1) {
		add(m)
	}
	for _, m := range quotedRe.FindAllStringSubmatch(text, -1) {
		add(m[1])
	}

	return entities
}
