// Package models contains the domain types shared by every store: Person,
// SourceEntity, Relationship, Interaction, and the supporting durable
// side-tables (merge chain, blocklist, link overrides, review queue).
package models

import (
	"time"

	"github.com/google/uuid"
)

// Category classifies a Person's relationship to the owner of the graph.
type Category string

const (
	CategorySelf     Category = "self"
	CategoryFamily   Category = "family"
	CategoryWork     Category = "work"
	CategoryPersonal Category = "personal"
	CategoryUnknown  Category = "unknown"
)

// categoryPriority implements the merge precedence of spec §4.5.1 step 3:
// "family < work < personal < unknown" (lower wins, i.e. is kept).
var categoryPriority = map[Category]int{
	CategoryFamily:   0,
	CategoryWork:     1,
	CategoryPersonal: 2,
	CategoryUnknown:  3,
	CategorySelf:     -1, // self always wins; never overwritten by a merge
}

// HigherPriorityThan reports whether other should replace c during a merge
// (strictly higher priority, i.e. a strictly lower categoryPriority number).
func (c Category) HigherPriorityThan(other Category) bool {
	cp, ok := categoryPriority[c]
	if !ok {
		cp = categoryPriority[CategoryUnknown]
	}
	op, ok := categoryPriority[other]
	if !ok {
		op = categoryPriority[CategoryUnknown]
	}
	return op < cp
}

// Counts are the cached interaction rollups on a Person. They are caches
// over the InteractionStore (spec §4.9) and must only ever be recomputed,
// never incrementally adjusted, across a merge or split.
type Counts struct {
	MeetingCount       int `json:"meeting_count"`
	EmailCount         int `json:"email_count"`
	MentionCount       int `json:"mention_count"`
	MessageCount       int `json:"message_count"`
	SlackMessageCount  int `json:"slack_message_count"`
	SourceEntityCount  int `json:"source_entity_count"`
}

// Person is a canonical individual record (spec §3.1).
type Person struct {
	ID uuid.UUID `json:"id"`

	CanonicalName string `json:"canonical_name"`
	DisplayName   string `json:"display_name"`

	// Emails/PhoneNumbers/Aliases/Sources are logical, insertion-order
	// preserving sets. The first element of Emails is the primary address;
	// PhonePrimary names one element of PhoneNumbers, or is empty.
	Emails       []string `json:"emails"`
	PhoneNumbers []string `json:"phone_numbers"`
	PhonePrimary string   `json:"phone_primary,omitempty"`

	Company      string `json:"company,omitempty"`
	Position     string `json:"position,omitempty"`
	LinkedInURL  string `json:"linkedin_url,omitempty"`

	Category Category `json:"category"`

	VaultContexts []string `json:"vault_contexts"`
	Sources       []string `json:"sources"`
	Aliases       []string `json:"aliases"`

	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`

	Counts Counts `json:"counts"`

	Tags  []string `json:"tags"`
	Notes string   `json:"notes,omitempty"`

	// Birthday is "MM-DD" or empty.
	Birthday string `json:"birthday,omitempty"`

	Hidden       bool       `json:"hidden"`
	HiddenAt     *time.Time `json:"hidden_at,omitempty"`
	HiddenReason string     `json:"hidden_reason,omitempty"`

	ConfidenceScore float64 `json:"confidence_score"`

	RelationshipStrength float64 `json:"relationship_strength"`
	IsPeripheralContact  bool    `json:"is_peripheral_contact"`

	// DunbarCircle is 0-7; nil means unset.
	DunbarCircle *int `json:"dunbar_circle,omitempty"`
}

// Clone returns a deep copy so stores never hand out aliased records
// (spec §4.4: "All lookups are go-through on a copy; external references
// are not aliased").
func (p *Person) Clone() *Person {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Emails = append([]string(nil), p.Emails...)
	cp.PhoneNumbers = append([]string(nil), p.PhoneNumbers...)
	cp.VaultContexts = append([]string(nil), p.VaultContexts...)
	cp.Sources = append([]string(nil), p.Sources...)
	cp.Aliases = append([]string(nil), p.Aliases...)
	cp.Tags = append([]string(nil), p.Tags...)
	if p.HiddenAt != nil {
		t := *p.HiddenAt
		cp.HiddenAt = &t
	}
	if p.DunbarCircle != nil {
		v := *p.DunbarCircle
		cp.DunbarCircle = &v
	}
	return &cp
}

// AllNameStrings returns canonical_name plus every alias, for indexing.
func (p *Person) AllNameStrings() []string {
	out := make([]string, 0, len(p.Aliases)+1)
	if p.CanonicalName != "" {
		out = append(out, p.CanonicalName)
	}
	out = append(out, p.Aliases...)
	return out
}

// EffectiveStrength returns the override-or-computed strength used by
// circle ranking (spec glossary: "Effective strength").
func EffectiveStrength(p *Person, override float64, hasOverride bool) float64 {
	if hasOverride {
		return override
	}
	return p.RelationshipStrength
}

// addUnique appends v to set if it is not already present (case-sensitive);
// callers normalize before calling. Preserves insertion order, never
// reorders existing entries (spec §9 "Collection semantics").
func addUnique(set []string, v string) []string {
	for _, existing := range set {
		if existing == v {
			return set
		}
	}
	return append(set, v)
}

// AddEmail appends e to Emails if not already present.
func (p *Person) AddEmail(e string) { p.Emails = addUnique(p.Emails, e) }

// AddPhone appends ph to PhoneNumbers if not already present.
func (p *Person) AddPhone(ph string) { p.PhoneNumbers = addUnique(p.PhoneNumbers, ph) }

// AddAlias appends a to Aliases if not already present and distinct from
// the canonical name.
func (p *Person) AddAlias(a string) {
	if a == "" || a == p.CanonicalName {
		return
	}
	p.Aliases = addUnique(p.Aliases, a)
}

// AddSource appends s to Sources if not already present.
func (p *Person) AddSource(s string) { p.Sources = addUnique(p.Sources, s) }

// AddTag appends t to Tags if not already present.
func (p *Person) AddTag(t string) { p.Tags = addUnique(p.Tags, t) }
