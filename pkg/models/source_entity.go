package models

import (
	"time"

	"github.com/google/uuid"
)

// SourceType is the fixed set of adapters that can produce observations.
type SourceType string

const (
	SourceGmail        SourceType = "gmail"
	SourceCalendar     SourceType = "calendar"
	SourceSlack        SourceType = "slack"
	SourceIMessage     SourceType = "imessage"
	SourceWhatsApp     SourceType = "whatsapp"
	SourceSignal       SourceType = "signal"
	SourceContacts     SourceType = "contacts"
	SourcePhoneContact SourceType = "phone_contacts"
	SourceLinkedIn     SourceType = "linkedin"
	SourceVault        SourceType = "vault"
	SourceGranola      SourceType = "granola"
	SourcePhoneCall    SourceType = "phone_call"
	SourcePhone        SourceType = "phone"
	SourcePhotos       SourceType = "photos"
)

// LinkStatusKind is the tag of the LinkStatus variant (spec §9 design note:
// "Represent link_status as a tagged variant {Auto(conf), Confirmed,
// Rejected} rather than a string").
type LinkStatusKind string

const (
	LinkStatusAuto      LinkStatusKind = "auto"
	LinkStatusConfirmed LinkStatusKind = "confirmed"
	LinkStatusRejected  LinkStatusKind = "rejected"
)

// LinkStatus is a tagged union: Auto carries a confidence, Confirmed and
// Rejected do not.
type LinkStatus struct {
	Kind       LinkStatusKind `json:"kind"`
	Confidence float64        `json:"confidence,omitempty"`
}

// Auto builds an Auto(conf) LinkStatus.
func Auto(confidence float64) LinkStatus {
	return LinkStatus{Kind: LinkStatusAuto, Confidence: confidence}
}

// Confirmed builds a Confirmed LinkStatus.
func Confirmed() LinkStatus { return LinkStatus{Kind: LinkStatusConfirmed} }

// Rejected builds a Rejected LinkStatus.
func Rejected() LinkStatus { return LinkStatus{Kind: LinkStatusRejected} }

// IsConfirmed reports whether s is the Confirmed variant. A confirmed link
// is never silently overwritten by an auto link (spec §3.2 invariant).
func (s LinkStatus) IsConfirmed() bool { return s.Kind == LinkStatusConfirmed }

// SourceEntity is an immutable observation of a person from one source
// (spec §3.2).
type SourceEntity struct {
	ID uuid.UUID `json:"id"`

	SourceType SourceType `json:"source_type"`
	SourceID   string     `json:"source_id"`

	ObservedName  string `json:"observed_name,omitempty"`
	ObservedEmail string `json:"observed_email,omitempty"`
	ObservedPhone string `json:"observed_phone,omitempty"`

	Metadata map[string]string `json:"metadata,omitempty"`

	CanonicalPersonID *uuid.UUID `json:"canonical_person_id,omitempty"`
	LinkConfidence    float64    `json:"link_confidence"`
	LinkStatus        LinkStatus `json:"link_status"`

	LinkedAt    *time.Time `json:"linked_at,omitempty"`
	ObservedAt  time.Time  `json:"observed_at"`
	CreatedAt   time.Time  `json:"created_at"`

	MatchAttemptedAt  *time.Time `json:"match_attempted_at,omitempty"`
	MatchAttemptCount int        `json:"match_attempt_count"`
}

// IsLinked reports whether the observation currently resolves to a Person.
func (s *SourceEntity) IsLinked() bool { return s.CanonicalPersonID != nil }
