package models

import (
	"time"

	"github.com/google/uuid"
)

// ReviewType classifies why an entry was raised to the human review queue
// (spec §4.10).
type ReviewType string

const (
	// ReviewDuplicate flags two Person records suspected to be the same
	// individual, left unmerged because the resolver's confidence fell in
	// the ambiguous band.
	ReviewDuplicate ReviewType = "duplicate"
	// ReviewNonHuman flags a Person record suspected to be a mailing list,
	// bot, or other non-person sender.
	ReviewNonHuman ReviewType = "non_human"
	// ReviewOverMerged flags a Person record suspected to have absorbed
	// observations of more than one real individual.
	ReviewOverMerged ReviewType = "over_merged"
)

// ReviewStatus is the lifecycle state of a ReviewQueueItem.
type ReviewStatus string

const (
	ReviewPending ReviewStatus = "pending"
	ReviewMerged  ReviewStatus = "merged"
	ReviewSkipped ReviewStatus = "skipped"
	ReviewHidden  ReviewStatus = "hidden"
	ReviewKept    ReviewStatus = "kept"
	ReviewSplit   ReviewStatus = "split"
)

// ReviewQueueItem is one entry in the human review queue. PersonBID is set
// only for ReviewDuplicate (the candidate pair); it is nil for
// ReviewNonHuman and ReviewOverMerged, which name a single record.
type ReviewQueueItem struct {
	ID uuid.UUID `json:"id"`

	ReviewType ReviewType `json:"review_type"`
	PersonAID  uuid.UUID  `json:"person_a_id"`
	PersonBID  *uuid.UUID `json:"person_b_id,omitempty"`

	Reason          string  `json:"reason,omitempty"`
	ConfidenceScore float64 `json:"confidence_score,omitempty"`

	Status ReviewStatus `json:"status"`

	CreatedAt  time.Time  `json:"created_at"`
	ReviewedAt *time.Time `json:"reviewed_at,omitempty"`
}

// ValidTransition reports whether moving from from to to is a legal
// lifecycle transition (spec §4.10: "pending -> merged|skipped|hidden|kept|split").
func ValidTransition(from, to ReviewStatus) bool {
	if from != ReviewPending {
		return false
	}
	switch to {
	case ReviewMerged, ReviewSkipped, ReviewHidden, ReviewKept, ReviewSplit:
		return true
	default:
		return false
	}
}

// DuplicatePairKey returns an order-independent key for deduplicating
// ReviewDuplicate entries on the same unordered pair.
func DuplicatePairKey(a, b uuid.UUID) string {
	lo, hi := OrderPair(a, b)
	return lo.String() + ":" + hi.String()
}
