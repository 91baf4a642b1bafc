// Package relationship is the pgx-backed repository for Relationship edges,
// keyed on unordered, lexicographically-ordered person pairs (spec §3.3,
// §6.4).
package relationship

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
)

// Channel identifies which per-channel counter a bump helper increments.
type Channel string

const (
	ChannelEvent     Channel = "event"
	ChannelThread    Channel = "thread"
	ChannelMessage   Channel = "message"
	ChannelWhatsApp  Channel = "whatsapp"
	ChannelSlack     Channel = "slack"
	ChannelPhoneCall Channel = "phone_call"
	ChannelPhoto     Channel = "photo"
)

var channelColumn = map[Channel]string{
	ChannelEvent:     "shared_events_count",
	ChannelThread:    "shared_threads_count",
	ChannelMessage:   "shared_messages_count",
	ChannelWhatsApp:  "shared_whatsapp_count",
	ChannelSlack:     "shared_slack_count",
	ChannelPhoneCall: "shared_phone_calls_count",
	ChannelPhoto:     "shared_photos_count",
}

// Store is the RelationshipStore contract exposed to the strength engine
// and merge engine.
type Store interface {
	GetByPair(ctx context.Context, a, b uuid.UUID) (*models.Relationship, error)
	GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Relationship, error)
	Upsert(ctx context.Context, rel *models.Relationship) error
	Delete(ctx context.Context, id uuid.UUID) error
	DeleteByPair(ctx context.Context, a, b uuid.UUID) error

	// IncrementShared bumps one channel's counter for the pair, creating
	// the edge if missing, extending shared_contexts and the
	// first/last-seen-together window (spec §6.4).
	IncrementShared(ctx context.Context, channel Channel, a, b uuid.UUID, at time.Time, context string) error
	SetLinkedInConnection(ctx context.Context, a, b uuid.UUID) error
}

type store struct{}

// New returns a Store. Repository methods read their connection from ctx.
func New() Store {
	return &store{}
}

func conn(ctx context.Context) (database.Querier, error) {
	q, ok := database.Conn(ctx)
	if !ok {
		return nil, apperrors.ErrNoConn
	}
	return q, nil
}

func (s *store) GetByPair(ctx context.Context, a, b uuid.UUID) (*models.Relationship, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	lo, hi := models.OrderPair(a, b)
	query := `
		SELECT id, person_a_id, person_b_id, relationship_type, shared_contexts,
			shared_events_count, shared_threads_count, shared_messages_count,
			shared_whatsapp_count, shared_slack_count, shared_phone_calls_count, shared_photos_count,
			is_linkedin_connection, first_seen_together, last_seen_together,
			edge_weight, pair_strength, created_at, updated_at
		FROM relationships WHERE person_a_id = $1 AND person_b_id = $2`

	row := q.QueryRow(ctx, query, lo, hi)
	rel, err := scanRelationship(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("relationship: get pair %s/%s: %w", a, b, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return rel, nil
}

func (s *store) GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Relationship, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, person_a_id, person_b_id, relationship_type, shared_contexts,
			shared_events_count, shared_threads_count, shared_messages_count,
			shared_whatsapp_count, shared_slack_count, shared_phone_calls_count, shared_photos_count,
			is_linkedin_connection, first_seen_together, last_seen_together,
			edge_weight, pair_strength, created_at, updated_at
		FROM relationships WHERE person_a_id = $1 OR person_b_id = $1
		ORDER BY pair_strength DESC`

	rows, err := q.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("relationship: get by person %s: %w", personID, err)
	}
	defer rows.Close()

	var out []*models.Relationship
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, fmt.Errorf("relationship: scan: %w", err)
		}
		out = append(out, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("relationship: iterate: %w", err)
	}
	return out, nil
}

func (s *store) Upsert(ctx context.Context, rel *models.Relationship) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	if rel.ID == uuid.Nil {
		rel.ID = uuid.New()
	}
	lo, hi := models.OrderPair(rel.PersonAID, rel.PersonBID)
	rel.PersonAID, rel.PersonBID = lo, hi
	if rel.CreatedAt.IsZero() {
		rel.CreatedAt = time.Now()
	}
	now := time.Now()

	query := `
		INSERT INTO relationships (
			id, person_a_id, person_b_id, relationship_type, shared_contexts,
			shared_events_count, shared_threads_count, shared_messages_count,
			shared_whatsapp_count, shared_slack_count, shared_phone_calls_count, shared_photos_count,
			is_linkedin_connection, first_seen_together, last_seen_together,
			edge_weight, pair_strength, created_at, updated_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)
		ON CONFLICT (person_a_id, person_b_id) DO UPDATE SET
			relationship_type = EXCLUDED.relationship_type,
			shared_contexts = EXCLUDED.shared_contexts,
			shared_events_count = EXCLUDED.shared_events_count,
			shared_threads_count = EXCLUDED.shared_threads_count,
			shared_messages_count = EXCLUDED.shared_messages_count,
			shared_whatsapp_count = EXCLUDED.shared_whatsapp_count,
			shared_slack_count = EXCLUDED.shared_slack_count,
			shared_phone_calls_count = EXCLUDED.shared_phone_calls_count,
			shared_photos_count = EXCLUDED.shared_photos_count,
			is_linkedin_connection = EXCLUDED.is_linkedin_connection,
			first_seen_together = EXCLUDED.first_seen_together,
			last_seen_together = EXCLUDED.last_seen_together,
			edge_weight = EXCLUDED.edge_weight,
			pair_strength = EXCLUDED.pair_strength,
			updated_at = $20`

	_, err = q.Exec(ctx, query,
		rel.ID, rel.PersonAID, rel.PersonBID, rel.RelationshipType, rel.SharedContexts,
		rel.SharedEventsCount, rel.SharedThreadsCount, rel.SharedMessagesCount,
		rel.SharedWhatsAppCount, rel.SharedSlackCount, rel.SharedPhoneCallsCount, rel.SharedPhotosCount,
		rel.IsLinkedInConnection, rel.FirstSeenTogether, rel.LastSeenTogether,
		rel.EdgeWeight, rel.PairStrength, rel.CreatedAt, rel.UpdatedAt,
		now,
	)
	if err != nil {
		return fmt.Errorf("relationship: upsert %s/%s: %w", rel.PersonAID, rel.PersonBID, err)
	}
	return nil
}

func (s *store) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM relationships WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("relationship: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("relationship: delete %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *store) DeleteByPair(ctx context.Context, a, b uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	lo, hi := models.OrderPair(a, b)
	_, err = q.Exec(ctx, `DELETE FROM relationships WHERE person_a_id = $1 AND person_b_id = $2`, lo, hi)
	if err != nil {
		return fmt.Errorf("relationship: delete pair %s/%s: %w", a, b, err)
	}
	return nil
}

func (s *store) IncrementShared(ctx context.Context, channel Channel, a, b uuid.UUID, at time.Time, contextStr string) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	column, ok := channelColumn[channel]
	if !ok {
		return fmt.Errorf("relationship: unknown channel %q", channel)
	}

	lo, hi := models.OrderPair(a, b)
	existing, err := s.GetByPair(ctx, lo, hi)
	if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
		return err
	}
	if errors.Is(err, apperrors.ErrNotFound) {
		existing = nil
	}

	if existing == nil {
		existing = &models.Relationship{
			ID:               uuid.New(),
			PersonAID:        lo,
			PersonBID:        hi,
			RelationshipType: models.RelationshipInferred,
			CreatedAt:        time.Now(),
		}
	}
	existing.AddSharedContext(contextStr)
	if existing.FirstSeenTogether == nil || at.Before(*existing.FirstSeenTogether) {
		existing.FirstSeenTogether = &at
	}
	if existing.LastSeenTogether == nil || at.After(*existing.LastSeenTogether) {
		existing.LastSeenTogether = &at
	}

	query := fmt.Sprintf(`
		INSERT INTO relationships (
			id, person_a_id, person_b_id, relationship_type, shared_contexts,
			%s, first_seen_together, last_seen_together, created_at
		) VALUES ($1,$2,$3,$4,$5,1,$6,$6,$7)
		ON CONFLICT (person_a_id, person_b_id) DO UPDATE SET
			shared_contexts = $5,
			%s = relationships.%s + 1,
			first_seen_together = LEAST(relationships.first_seen_together, $6),
			last_seen_together = GREATEST(relationships.last_seen_together, $6),
			updated_at = $8`, column, column, column)

	now := time.Now()
	_, err = q.Exec(ctx, query,
		existing.ID, existing.PersonAID, existing.PersonBID, existing.RelationshipType, existing.SharedContexts,
		at, existing.CreatedAt, now,
	)
	if err != nil {
		return fmt.Errorf("relationship: increment %s for %s/%s: %w", channel, a, b, err)
	}
	return nil
}

func (s *store) SetLinkedInConnection(ctx context.Context, a, b uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	lo, hi := models.OrderPair(a, b)
	now := time.Now()
	query := `
		INSERT INTO relationships (id, person_a_id, person_b_id, relationship_type, is_linkedin_connection, created_at)
		VALUES ($1, $2, $3, $4, true, $5)
		ON CONFLICT (person_a_id, person_b_id) DO UPDATE SET
			is_linkedin_connection = true,
			updated_at = $5`

	_, err = q.Exec(ctx, query, uuid.New(), lo, hi, models.RelationshipInferred, now)
	if err != nil {
		return fmt.Errorf("relationship: set linkedin connection %s/%s: %w", a, b, err)
	}
	return nil
}

func scanRelationship(row pgx.Row) (*models.Relationship, error) {
	var r models.Relationship
	err := row.Scan(
		&r.ID, &r.PersonAID, &r.PersonBID, &r.RelationshipType, &r.SharedContexts,
		&r.SharedEventsCount, &r.SharedThreadsCount, &r.SharedMessagesCount,
		&r.SharedWhatsAppCount, &r.SharedSlackCount, &r.SharedPhoneCallsCount, &r.SharedPhotosCount,
		&r.IsLinkedInConnection, &r.FirstSeenTogether, &r.LastSeenTogether,
		&r.EdgeWeight, &r.PairStrength, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}
