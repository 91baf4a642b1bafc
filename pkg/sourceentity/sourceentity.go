// Package sourceentity is the pgx-backed repository for immutable
// SourceEntity observations (spec §3.2, §6.4).
package sourceentity

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
)

// Store is the SourceEntityStore contract exposed to adapters and the
// resolver.
type Store interface {
	// AddOrUpdate is idempotent on (source_type, source_id): a repeat call
	// overwrites the stored row's observed name, email, phone, metadata and
	// observed_at and returns it. CanonicalPersonID is written as given on
	// first insert; it is not checked against the PersonStore or the merge
	// chain, and a repeat call leaves the stored link unchanged.
	AddOrUpdate(ctx context.Context, observation *models.SourceEntity) (*models.SourceEntity, error)
	GetByID(ctx context.Context, id uuid.UUID) (*models.SourceEntity, error)
	GetBySourceID(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.SourceEntity, error)
	Link(ctx context.Context, id uuid.UUID, personID uuid.UUID, status models.LinkStatus) error
	Unlink(ctx context.Context, id uuid.UUID) error
	ListUnlinked(ctx context.Context, limit int) ([]*models.SourceEntity, error)
	ListByPerson(ctx context.Context, personID uuid.UUID) ([]*models.SourceEntity, error)
	RecordMatchAttempt(ctx context.Context, id uuid.UUID) error
	ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error)

	// ReassignPersonBySourceType moves only the rows whose source_type is
	// in sourceTypes, updating linked_at. Used by MergeEngine.Split (spec
	// §4.5.2 step 1); merges use the unconditional ReassignPerson instead.
	ReassignPersonBySourceType(ctx context.Context, fromPersonID, toPersonID uuid.UUID, sourceTypes []models.SourceType) (int64, error)

	// LinkUnlinkedByEmail/LinkUnlinkedByPhone batch-attach rows whose
	// observed identifier matches, skipping rows already Confirmed
	// (spec §6.4).
	LinkUnlinkedByEmail(ctx context.Context, email string, personID uuid.UUID, confidence float64) (int64, error)
	LinkUnlinkedByPhone(ctx context.Context, phone string, personID uuid.UUID, confidence float64) (int64, error)
}

type store struct{}

// New returns a Store. Repository methods read their connection from ctx
// (database.WithConn); there is no per-instance state.
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

func (s *store) AddOrUpdate(ctx context.Context, obs *models.SourceEntity) (*models.SourceEntity, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	if obs.ID == uuid.Nil {
		obs.ID = uuid.New()
	}
	if obs.ObservedAt.IsZero() {
		obs.ObservedAt = time.Now()
	}
	if obs.CreatedAt.IsZero() {
		obs.CreatedAt = time.Now()
	}
	if obs.LinkStatus.Kind == "" {
		obs.LinkStatus = models.Auto(obs.LinkConfidence)
	}

	metadata, err := json.Marshal(obs.Metadata)
	if err != nil {
		return nil, fmt.Errorf("sourceentity: marshal metadata: %w", err)
	}

	query := `
		INSERT INTO source_entities (
			id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
		ON CONFLICT (source_type, source_id) DO UPDATE SET
			observed_name = EXCLUDED.observed_name,
			observed_email = EXCLUDED.observed_email,
			observed_phone = EXCLUDED.observed_phone,
			metadata = EXCLUDED.metadata,
			observed_at = EXCLUDED.observed_at
		RETURNING id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count`

	row := q.QueryRow(ctx, query,
		obs.ID, obs.SourceType, obs.SourceID, obs.ObservedName, obs.ObservedEmail, obs.ObservedPhone,
		metadata, obs.CanonicalPersonID, obs.LinkConfidence, obs.LinkStatus.Kind,
		obs.LinkedAt, obs.ObservedAt, obs.CreatedAt, obs.MatchAttemptedAt, obs.MatchAttemptCount,
	)
	result, err := scanSourceEntity(row)
	if err != nil {
		return nil, fmt.Errorf("sourceentity: add_or_update: %w", err)
	}
	return result, nil
}

func (s *store) GetByID(ctx context.Context, id uuid.UUID) (*models.SourceEntity, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count
		FROM source_entities WHERE id = $1`

	row := q.QueryRow(ctx, query, id)
	result, err := scanSourceEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sourceentity: get %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return result, nil
}

func (s *store) GetBySourceID(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.SourceEntity, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count
		FROM source_entities WHERE source_type = $1 AND source_id = $2`

	row := q.QueryRow(ctx, query, sourceType, sourceID)
	result, err := scanSourceEntity(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("sourceentity: get %s/%s: %w", sourceType, sourceID, apperrors.ErrNotFound)
		}
		return nil, err
	}
	return result, nil
}

func (s *store) Link(ctx context.Context, id uuid.UUID, personID uuid.UUID, status models.LinkStatus) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE source_entities
		SET canonical_person_id = $2, link_confidence = $3, link_status = $4, linked_at = $5
		WHERE id = $1`

	tag, err := q.Exec(ctx, query, id, personID, status.Confidence, status.Kind, now)
	if err != nil {
		return fmt.Errorf("sourceentity: link %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sourceentity: link %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *store) Unlink(ctx context.Context, id uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	query := `
		UPDATE source_entities
		SET canonical_person_id = NULL, link_confidence = 0, link_status = 'auto', linked_at = NULL
		WHERE id = $1`

	tag, err := q.Exec(ctx, query, id)
	if err != nil {
		return fmt.Errorf("sourceentity: unlink %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sourceentity: unlink %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *store) ListUnlinked(ctx context.Context, limit int) ([]*models.SourceEntity, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count
		FROM source_entities
		WHERE canonical_person_id IS NULL
		ORDER BY observed_at DESC
		LIMIT $1`

	rows, err := q.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("sourceentity: list unlinked: %w", err)
	}
	defer rows.Close()

	return scanSourceEntities(rows)
}

func (s *store) ListByPerson(ctx context.Context, personID uuid.UUID) ([]*models.SourceEntity, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, source_type, source_id, observed_name, observed_email, observed_phone,
			metadata, canonical_person_id, link_confidence, link_status,
			linked_at, observed_at, created_at, match_attempted_at, match_attempt_count
		FROM source_entities
		WHERE canonical_person_id = $1
		ORDER BY observed_at DESC`

	rows, err := q.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("sourceentity: list by person: %w", err)
	}
	defer rows.Close()

	return scanSourceEntities(rows)
}

func (s *store) RecordMatchAttempt(ctx context.Context, id uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	now := time.Now()
	query := `
		UPDATE source_entities
		SET match_attempted_at = $2, match_attempt_count = match_attempt_count + 1
		WHERE id = $1`

	tag, err := q.Exec(ctx, query, id, now)
	if err != nil {
		return fmt.Errorf("sourceentity: record match attempt %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("sourceentity: record match attempt %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *store) ReassignPerson(ctx context.Context, fromPersonID, toPersonID uuid.UUID) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	query := `UPDATE source_entities SET canonical_person_id = $2 WHERE canonical_person_id = $1`
	tag, err := q.Exec(ctx, query, fromPersonID, toPersonID)
	if err != nil {
		return 0, fmt.Errorf("sourceentity: reassign %s -> %s: %w", fromPersonID, toPersonID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *store) ReassignPersonBySourceType(ctx context.Context, fromPersonID, toPersonID uuid.UUID, sourceTypes []models.SourceType) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	query := `
		UPDATE source_entities
		SET canonical_person_id = $2, linked_at = $4
		WHERE canonical_person_id = $1 AND source_type = ANY($3)`

	tag, err := q.Exec(ctx, query, fromPersonID, toPersonID, sourceTypes, now)
	if err != nil {
		return 0, fmt.Errorf("sourceentity: reassign by source type %s -> %s: %w", fromPersonID, toPersonID, err)
	}
	return tag.RowsAffected(), nil
}

func (s *store) LinkUnlinkedByEmail(ctx context.Context, email string, personID uuid.UUID, confidence float64) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	query := `
		UPDATE source_entities
		SET canonical_person_id = $2, link_confidence = $3, link_status = 'auto', linked_at = $4
		WHERE lower(observed_email) = lower($1)
		  AND canonical_person_id IS NULL
		  AND link_status != 'confirmed'`

	tag, err := q.Exec(ctx, query, email, personID, confidence, now)
	if err != nil {
		return 0, fmt.Errorf("sourceentity: link unlinked by email: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (s *store) LinkUnlinkedByPhone(ctx context.Context, phone string, personID uuid.UUID, confidence float64) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	now := time.Now()
	query := `
		UPDATE source_entities
		SET canonical_person_id = $2, link_confidence = $3, link_status = 'auto', linked_at = $4
		WHERE observed_phone = $1
		  AND canonical_person_id IS NULL
		  AND link_status != 'confirmed'`

	tag, err := q.Exec(ctx, query, phone, personID, confidence, now)
	if err != nil {
		return 0, fmt.Errorf("sourceentity: link unlinked by phone: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanSourceEntity(row pgx.Row) (*models.SourceEntity, error) {
	var e models.SourceEntity
	var metadata []byte
	var linkStatus string

	err := row.Scan(
		&e.ID, &e.SourceType, &e.SourceID, &e.ObservedName, &e.ObservedEmail, &e.ObservedPhone,
		&metadata, &e.CanonicalPersonID, &e.LinkConfidence, &linkStatus,
		&e.LinkedAt, &e.ObservedAt, &e.CreatedAt, &e.MatchAttemptedAt, &e.MatchAttemptCount,
	)
	if err != nil {
		return nil, err
	}

	e.LinkStatus = models.LinkStatus{Kind: models.LinkStatusKind(linkStatus), Confidence: e.LinkConfidence}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			return nil, fmt.Errorf("sourceentity: unmarshal metadata: %w", err)
		}
	}
	return &e, nil
}

func scanSourceEntities(rows pgx.Rows) ([]*models.SourceEntity, error) {
	var out []*models.SourceEntity
	for rows.Next() {
		e, err := scanSourceEntity(rows)
		if err != nil {
			return nil, fmt.Errorf("sourceentity: scan: %w", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("sourceentity: iterate: %w", err)
	}
	return out, nil
}
