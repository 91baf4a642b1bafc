// Package nameparser splits a free-text display name into first/middle/last
// components, stripping honorific prefixes and trailing credentials the way
// contact exports and email signatures commonly carry them (spec §4.2).
package nameparser

import "strings"

// DefaultPrefixes are honorifics stripped from the front of a name.
var DefaultPrefixes = map[string]bool{
	"dr": true, "mr": true, "mrs": true, "ms": true, "prof": true, "rev": true,
}

// DefaultSuffixes are credentials and generational suffixes stripped from
// the end of a name.
var DefaultSuffixes = map[string]bool{
	"md": true, "phd": true, "jr": true, "sr": true,
	"ii": true, "iii": true, "iv": true, "v": true,
	"esq": true, "mph": true,
}

// ParsedName is the structured result of Parse.
type ParsedName struct {
	First    string
	Middles  []string
	Last     string
	HasLast  bool
	Original string
}

// Parser strips a configurable prefix/suffix set. The zero value uses
// DefaultPrefixes/DefaultSuffixes.
type Parser struct {
	Prefixes map[string]bool
	Suffixes map[string]bool
}

// New returns a Parser using the default prefix/suffix sets.
func New() *Parser {
	return &Parser{Prefixes: DefaultPrefixes, Suffixes: DefaultSuffixes}
}

// NewWithSets returns a Parser using caller-supplied prefix/suffix sets,
// falling back to the defaults for any nil argument.
func NewWithSets(prefixes, suffixes map[string]bool) *Parser {
	if prefixes == nil {
		prefixes = DefaultPrefixes
	}
	if suffixes == nil {
		suffixes = DefaultSuffixes
	}
	return &Parser{Prefixes: prefixes, Suffixes: suffixes}
}

// foldToken lowercases a token and removes interior dots, so "Dr." and
// "dr" and "PH.D" all compare against the same set entry.
func foldToken(tok string) string {
	tok = strings.ToLower(tok)
	tok = strings.ReplaceAll(tok, ".", "")
	return tok
}

// Parse implements spec §4.2's four-step procedure.
func (p *Parser) Parse(s string) ParsedName {
	original := s
	trimmed := strings.TrimSpace(s)

	// Step 1: drop everything from the first comma onward (credentials).
	beforeComma := trimmed
	if idx := strings.Index(trimmed, ","); idx >= 0 {
		beforeComma = trimmed[:idx]
	}
	beforeComma = strings.TrimSpace(beforeComma)

	// Step 2: tokenize on whitespace.
	tokens := strings.Fields(beforeComma)

	// Step 3: strip leading prefix tokens, then trailing suffix tokens.
	start := 0
	for start < len(tokens) && p.Prefixes[foldToken(tokens[start])] {
		start++
	}
	end := len(tokens)
	for end > start && p.Suffixes[foldToken(tokens[end-1])] {
		end--
	}
	tokens = tokens[start:end]

	// Step 4: assign first/middles/last by remaining token count.
	switch len(tokens) {
	case 0:
		return ParsedName{First: strings.TrimSpace(trimmed), Original: original}
	case 1:
		return ParsedName{First: tokens[0], Original: original}
	case 2:
		return ParsedName{First: tokens[0], Last: tokens[1], HasLast: true, Original: original}
	default:
		return ParsedName{
			First:    tokens[0],
			Middles:  append([]string(nil), tokens[1:len(tokens)-1]...),
			Last:     tokens[len(tokens)-1],
			HasLast:  true,
			Original: original,
		}
	}
}

// FullName renders the parsed components back into a single space-joined
// string, useful for display-name reconstruction after stripping.
func (n ParsedName) FullName() string {
	parts := make([]string, 0, len(n.Middles)+2)
	if n.First != "" {
		parts = append(parts, n.First)
	}
	parts = append(parts, n.Middles...)
	if n.HasLast {
		parts = append(parts, n.Last)
	}
	if len(parts) == 0 {
		return n.Original
	}
	return strings.Join(parts, " ")
}
