// Package nickname builds a bidirectional formal-name/nickname index from a
// CSV of (formal, nickname) pairs and answers whether two names are
// variants of one another (spec §4.3).
package nickname

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
)

func fold(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// Index is the loaded nickname dictionary.
type Index struct {
	formalToNicknames map[string]map[string]bool
	nicknameToFormals map[string]map[string]bool
}

// New returns an empty Index.
func New() *Index {
	return &Index{
		formalToNicknames: make(map[string]map[string]bool),
		nicknameToFormals: make(map[string]map[string]bool),
	}
}

// Load reads a CSV file of (formal, nickname) rows (no header) and builds
// an Index.
func Load(path string) (*Index, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("nickname: open %s: %w", path, err)
	}
	defer f.Close()
	return LoadFromReader(f)
}

// LoadFromReader builds an Index from a CSV reader of (formal, nickname)
// rows, skipping malformed rows rather than failing the whole load.
func LoadFromReader(r io.Reader) (*Index, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	idx := New()
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("nickname: parse csv: %w", err)
		}
		if len(record) < 2 {
			continue
		}
		formal, nick := fold(record[0]), fold(record[1])
		if formal == "" || nick == "" {
			continue
		}
		idx.add(formal, nick)
	}
	return idx, nil
}

func (idx *Index) add(formal, nick string) {
	if idx.formalToNicknames[formal] == nil {
		idx.formalToNicknames[formal] = make(map[string]bool)
	}
	idx.formalToNicknames[formal][nick] = true

	if idx.nicknameToFormals[nick] == nil {
		idx.nicknameToFormals[nick] = make(map[string]bool)
	}
	idx.nicknameToFormals[nick][formal] = true
}

// AllVariants returns the union of names directly related to name (as
// either a formal or a nickname), plus, one hop out, the siblings that
// share a formal root. name itself is excluded from the result.
func (idx *Index) AllVariants(name string) []string {
	key := fold(name)
	result := make(map[string]bool)

	for nick := range idx.formalToNicknames[key] {
		result[nick] = true
	}
	for formal := range idx.nicknameToFormals[key] {
		result[formal] = true
		for sibling := range idx.formalToNicknames[formal] {
			result[sibling] = true
		}
	}
	// If key is itself a formal root, its nicknames' sibling formals are
	// already covered by the direct lookup above; also walk the one-hop
	// siblings that share a nickname with key.
	for nick := range idx.formalToNicknames[key] {
		for sibling := range idx.nicknameToFormals[nick] {
			result[sibling] = true
		}
	}

	delete(result, key)

	out := make([]string, 0, len(result))
	for v := range result {
		out = append(out, v)
	}
	return out
}

// AreVariants reports whether a and b denote the same underlying name,
// either because they are equal case-insensitively or because b is in the
// all-variants set of a.
func (idx *Index) AreVariants(a, b string) bool {
	af, bf := fold(a), fold(b)
	if af == bf {
		return true
	}
	for _, v := range idx.AllVariants(a) {
		if v == bf {
			return true
		}
	}
	return false
}
