package models

import (
	"time"

	"github.com/google/uuid"
)

// RelationshipType classifies a Relationship edge.
type RelationshipType string

const (
	RelationshipCoworker  RelationshipType = "coworker"
	RelationshipFriend    RelationshipType = "friend"
	RelationshipFamily    RelationshipType = "family"
	RelationshipInferred  RelationshipType = "inferred"
)

// Relationship is an undirected edge between two persons (spec §3.3).
// PersonAID/PersonBID are always stored so that PersonAID < PersonBID
// lexicographically; this is the uniqueness key.
type Relationship struct {
	ID uuid.UUID `json:"id"`

	PersonAID uuid.UUID `json:"person_a_id"`
	PersonBID uuid.UUID `json:"person_b_id"`

	RelationshipType RelationshipType `json:"relationship_type"`
	SharedContexts   []string         `json:"shared_contexts"`

	SharedEventsCount      int `json:"shared_events_count"`
	SharedThreadsCount     int `json:"shared_threads_count"`
	SharedMessagesCount    int `json:"shared_messages_count"`
	SharedWhatsAppCount    int `json:"shared_whatsapp_count"`
	SharedSlackCount       int `json:"shared_slack_count"`
	SharedPhoneCallsCount  int `json:"shared_phone_calls_count"`
	SharedPhotosCount      int `json:"shared_photos_count"`

	IsLinkedInConnection bool `json:"is_linkedin_connection"`

	FirstSeenTogether *time.Time `json:"first_seen_together,omitempty"`
	LastSeenTogether  *time.Time `json:"last_seen_together,omitempty"`

	EdgeWeight   float64 `json:"edge_weight"`
	PairStrength float64 `json:"pair_strength"`

	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// OrderPair returns (a, b) with a < b lexicographically by string form,
// matching spec §3.3's uniqueness key.
func OrderPair(x, y uuid.UUID) (uuid.UUID, uuid.UUID) {
	if x.String() <= y.String() {
		return x, y
	}
	return y, x
}

// Endpoints returns the two person ids on r.
func (r *Relationship) Endpoints() (uuid.UUID, uuid.UUID) { return r.PersonAID, r.PersonBID }

// Other returns the endpoint of r that is not id. If id is not an endpoint
// of r it returns PersonAID; callers only call this after confirming
// membership.
func (r *Relationship) Other(id uuid.UUID) uuid.UUID {
	if r.PersonAID == id {
		return r.PersonBID
	}
	return r.PersonAID
}

// AddSharedContext appends ctx to SharedContexts if not already present.
func (r *Relationship) AddSharedContext(ctx string) {
	r.SharedContexts = addUnique(r.SharedContexts, ctx)
}
