package models

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// LinkOverride pins future name/source/context resolutions to a chosen
// person (spec §4.7). Used by MergeEngine.Split to keep future observations
// of a moved source type attached to the new record.
type LinkOverride struct {
	ID uuid.UUID `json:"id"`

	NamePattern      string  `json:"name_pattern"`
	SourceType       *string `json:"source_type,omitempty"`
	ContextSubstring *string `json:"context_substring,omitempty"`

	PreferredPersonID uuid.UUID  `json:"preferred_person_id"`
	RejectedPersonID  *uuid.UUID `json:"rejected_person_id,omitempty"`

	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Specificity counts how many optional fields are set, used to break ties
// when multiple LinkOverride rules match (spec §4.7: "the one with the most
// specified fields wins").
func (o *LinkOverride) Specificity() int {
	n := 1 // name_pattern is always specified
	if o.SourceType != nil {
		n++
	}
	if o.ContextSubstring != nil {
		n++
	}
	return n
}

// Matches reports whether o applies to a resolution attempt with the given
// name, optional source type, and optional context path.
func (o *LinkOverride) Matches(name string, sourceType *SourceType, contextPath string) bool {
	if !strings.EqualFold(strings.TrimSpace(o.NamePattern), strings.TrimSpace(name)) {
		return false
	}
	if o.SourceType != nil {
		if sourceType == nil || !strings.EqualFold(*o.SourceType, string(*sourceType)) {
			return false
		}
	}
	if o.ContextSubstring != nil {
		if !strings.Contains(contextPath, *o.ContextSubstring) {
			return false
		}
	}
	return true
}

// BestMatch returns the override with highest specificity among those that
// match, breaking ties by most recently created. Returns nil if none match.
func BestMatch(overrides []*LinkOverride, name string, sourceType *SourceType, contextPath string) *LinkOverride {
	var best *LinkOverride
	for _, o := range overrides {
		if !o.Matches(name, sourceType, contextPath) {
			continue
		}
		if best == nil {
			best = o
			continue
		}
		if o.Specificity() > best.Specificity() {
			best = o
			continue
		}
		if o.Specificity() == best.Specificity() && o.CreatedAt.After(best.CreatedAt) {
			best = o
		}
	}
	return best
}
