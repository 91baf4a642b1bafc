package models

import (
	"time"

	"github.com/google/uuid"
)

// Interaction is a single time-stamped event between the owner and a
// person (spec §3.4). It is append-only and is the ground truth Person and
// Relationship counts are recomputed from (spec §4.9).
type Interaction struct {
	ID uuid.UUID `json:"id"`

	PersonID   uuid.UUID  `json:"person_id"`
	Timestamp  time.Time  `json:"timestamp"`
	SourceType SourceType `json:"source_type"`
	Title      string     `json:"title,omitempty"`
	Snippet    string     `json:"snippet,omitempty"`
	SourceLink string     `json:"source_link,omitempty"`
	SourceID   string     `json:"source_id"`
	CreatedAt  time.Time  `json:"created_at"`
}
