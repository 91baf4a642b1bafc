// Package interaction is the pgx-backed, append-only InteractionStore and
// its rollup queries (spec §3.4, §4.9). Interactions are never mutated in
// place except to move person_id during merge/split; counts on Person are
// caches recomputed from this store, never adjusted incrementally.
package interaction

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
)

// Rollup is the recomputed set of cached counts and first/last-seen
// timestamps for one person (spec §4.9).
type Rollup struct {
	PersonID     uuid.UUID
	Counts       models.Counts
	FirstSeen    time.Time
	LastSeen     time.Time
	HasAnyRecord bool
}

// Store is the InteractionStore contract.
type Store interface {
	Append(ctx context.Context, i *models.Interaction) (*models.Interaction, error)
	ListByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Interaction, error)

	// ReassignPerson rewrites person_id on every interaction from → to,
	// returning the number of rows moved. Used by merge (all rows) and
	// split (rows matching a source-type filter).
	ReassignPerson(ctx context.Context, from, to uuid.UUID, sourceTypes []models.SourceType) (int64, error)

	// Rollup recomputes counts and first/last-seen by scanning the
	// InteractionStore for personID. It never reads or writes cached
	// fields on Person; callers apply the result themselves (spec §4.9:
	// "Rollups never add; they recompute").
	Rollup(ctx context.Context, personID uuid.UUID) (*Rollup, error)

	// ChannelCounts returns, per source_type, the interaction count since
	// `since` (recent) and over all time (lifetime). Used by the strength
	// engine's hybrid frequency score (spec §4.8.1 step 2).
	ChannelCounts(ctx context.Context, personID uuid.UUID, since time.Time) (recent, lifetime map[models.SourceType]int, err error)
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

func (s *store) Append(ctx context.Context, i *models.Interaction) (*models.Interaction, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	if i.ID == uuid.Nil {
		i.ID = uuid.New()
	}
	if i.CreatedAt.IsZero() {
		i.CreatedAt = time.Now()
	}

	// A repeat of an existing (source_type, source_id) leaves the stored row
	// untouched; the no-op assignment only makes RETURNING yield that row.
	query := `
		INSERT INTO interactions (
			id, person_id, timestamp, source_type, title, snippet, source_link, source_id, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (source_type, source_id) DO UPDATE SET
			source_id = interactions.source_id
		RETURNING id, person_id, timestamp, source_type, title, snippet, source_link, source_id, created_at`

	row := q.QueryRow(ctx, query,
		i.ID, i.PersonID, i.Timestamp, i.SourceType, i.Title, i.Snippet, i.SourceLink, i.SourceID, i.CreatedAt,
	)
	out, err := scanInteraction(row)
	if err != nil {
		return nil, fmt.Errorf("interaction: append %s/%s: %w", i.SourceType, i.SourceID, err)
	}
	return out, nil
}

func (s *store) ListByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Interaction, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, person_id, timestamp, source_type, title, snippet, source_link, source_id, created_at
		FROM interactions WHERE person_id = $1 ORDER BY timestamp DESC`

	rows, err := q.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("interaction: list by person %s: %w", personID, err)
	}
	defer rows.Close()

	var out []*models.Interaction
	for rows.Next() {
		i, err := scanInteraction(rows)
		if err != nil {
			return nil, fmt.Errorf("interaction: scan: %w", err)
		}
		out = append(out, i)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction: iterate: %w", err)
	}
	return out, nil
}

func (s *store) ReassignPerson(ctx context.Context, from, to uuid.UUID, sourceTypes []models.SourceType) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	var tag pgconn.CommandTag
	if len(sourceTypes) == 0 {
		tag, err = q.Exec(ctx, `UPDATE interactions SET person_id = $1 WHERE person_id = $2`, to, from)
	} else {
		tag, err = q.Exec(ctx, `UPDATE interactions SET person_id = $1 WHERE person_id = $2 AND source_type = ANY($3)`,
			to, from, sourceTypes)
	}
	if err != nil {
		return 0, fmt.Errorf("interaction: reassign %s -> %s: %w", from, to, err)
	}
	return tag.RowsAffected(), nil
}

func (s *store) Rollup(ctx context.Context, personID uuid.UUID) (*Rollup, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT source_type, COUNT(*), MIN(timestamp), MAX(timestamp)
		FROM interactions WHERE person_id = $1
		GROUP BY source_type`

	rows, err := q.Query(ctx, query, personID)
	if err != nil {
		return nil, fmt.Errorf("interaction: rollup %s: %w", personID, err)
	}
	defer rows.Close()

	out := &Rollup{PersonID: personID}
	for rows.Next() {
		var (
			sourceType      models.SourceType
			count           int
			firstTs, lastTs time.Time
		)
		if err := rows.Scan(&sourceType, &count, &firstTs, &lastTs); err != nil {
			return nil, fmt.Errorf("interaction: scan rollup row: %w", err)
		}
		out.HasAnyRecord = true
		applyCount(&out.Counts, sourceType, count)
		if out.FirstSeen.IsZero() || firstTs.Before(out.FirstSeen) {
			out.FirstSeen = firstTs
		}
		if lastTs.After(out.LastSeen) {
			out.LastSeen = lastTs
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("interaction: iterate rollup: %w", err)
	}
	return out, nil
}

func (s *store) ChannelCounts(ctx context.Context, personID uuid.UUID, since time.Time) (map[models.SourceType]int, map[models.SourceType]int, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT source_type,
			COUNT(*) FILTER (WHERE timestamp >= $2),
			COUNT(*)
		FROM interactions WHERE person_id = $1
		GROUP BY source_type`

	rows, err := q.Query(ctx, query, personID, since)
	if err != nil {
		return nil, nil, fmt.Errorf("interaction: channel counts %s: %w", personID, err)
	}
	defer rows.Close()

	recent := make(map[models.SourceType]int)
	lifetime := make(map[models.SourceType]int)
	for rows.Next() {
		var sourceType models.SourceType
		var recentCount, lifetimeCount int
		if err := rows.Scan(&sourceType, &recentCount, &lifetimeCount); err != nil {
			return nil, nil, fmt.Errorf("interaction: scan channel counts row: %w", err)
		}
		recent[sourceType] = recentCount
		lifetime[sourceType] = lifetimeCount
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("interaction: iterate channel counts: %w", err)
	}
	return recent, lifetime, nil
}

// applyCount maps a source type's interaction count onto the appropriate
// cached Counts field (spec §3.1's count list; spec §8 property 5 names
// the gmail->email_count and source_type->meeting/message/mention mapping
// explicitly only for gmail and leaves the rest to the implementation,
// recorded as a design decision in DESIGN.md).
func applyCount(c *models.Counts, sourceType models.SourceType, count int) {
	switch sourceType {
	case models.SourceGmail:
		c.EmailCount += count
	case models.SourceCalendar, models.SourceGranola:
		c.MeetingCount += count
	case models.SourceSlack:
		c.SlackMessageCount += count
	case models.SourceIMessage, models.SourceWhatsApp, models.SourceSignal, models.SourcePhone, models.SourcePhoneCall:
		c.MessageCount += count
	case models.SourceVault:
		c.MentionCount += count
	}
}

func scanInteraction(row pgx.Row) (*models.Interaction, error) {
	var i models.Interaction
	err := row.Scan(
		&i.ID, &i.PersonID, &i.Timestamp, &i.SourceType, &i.Title, &i.Snippet, &i.SourceLink, &i.SourceID, &i.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &i, nil
}
