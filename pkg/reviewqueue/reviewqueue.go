// Package reviewqueue is the pgx-backed repository for ReviewQueueItem
// entries (spec §4.10): duplicate/non_human/over_merged candidates raised
// for human review.
package reviewqueue

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
)

// Store is the ReviewQueue repository contract.
type Store interface {
	// EnqueueDuplicate inserts a duplicate-pair candidate, idempotently
	// over the unordered pair (spec §4.10: "Duplicate insertion is
	// idempotent over the unordered pair"). Returns the existing pending
	// item unchanged if one already exists for that pair.
	EnqueueDuplicate(ctx context.Context, a, b uuid.UUID, confidence float64, reason string) (*models.ReviewQueueItem, error)
	EnqueueSingle(ctx context.Context, reviewType models.ReviewType, personID uuid.UUID, confidence float64, reason string) (*models.ReviewQueueItem, error)

	ListPending(ctx context.Context) ([]*models.ReviewQueueItem, error)
	Transition(ctx context.Context, id uuid.UUID, to models.ReviewStatus) (*models.ReviewQueueItem, error)

	// RemoveReferencing deletes every pending item that names personID
	// as either party, called after a person is hidden or merged away
	// (spec §4.10: "A helper removes all pending items that reference a
	// just-hidden or just-merged person").
	RemoveReferencing(ctx context.Context, personID uuid.UUID) (int64, error)
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

func (s *store) EnqueueDuplicate(ctx context.Context, a, b uuid.UUID, confidence float64, reason string) (*models.ReviewQueueItem, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	lo, hi := models.OrderPair(a, b)

	existing, err := s.findPendingDuplicate(ctx, lo, hi)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, nil
	}

	query := `
		INSERT INTO entity_review_queue (
			id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, now())
		ON CONFLICT (review_type, person_a_id, person_b_id) WHERE review_type = 'duplicate' AND status = 'pending'
		DO UPDATE SET reason = entity_review_queue.reason
		RETURNING id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at`

	row := q.QueryRow(ctx, query, uuid.New(), models.ReviewDuplicate, lo, hi, confidence, reason, models.ReviewPending)
	item, err := scanReviewQueueItem(row)
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: enqueue duplicate %s/%s: %w", a, b, err)
	}
	return item, nil
}

func (s *store) findPendingDuplicate(ctx context.Context, lo, hi uuid.UUID) (*models.ReviewQueueItem, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at
		FROM entity_review_queue
		WHERE review_type = 'duplicate' AND status = 'pending' AND person_a_id = $1 AND person_b_id = $2`

	row := q.QueryRow(ctx, query, lo, hi)
	item, err := scanReviewQueueItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("reviewqueue: find pending duplicate %s/%s: %w", lo, hi, err)
	}
	return item, nil
}

func (s *store) EnqueueSingle(ctx context.Context, reviewType models.ReviewType, personID uuid.UUID, confidence float64, reason string) (*models.ReviewQueueItem, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO entity_review_queue (
			id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at
		) VALUES ($1, $2, $3, NULL, $4, $5, $6, now())
		RETURNING id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at`

	row := q.QueryRow(ctx, query, uuid.New(), reviewType, personID, confidence, reason, models.ReviewPending)
	item, err := scanReviewQueueItem(row)
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: enqueue %s for %s: %w", reviewType, personID, err)
	}
	return item, nil
}

func (s *store) ListPending(ctx context.Context) ([]*models.ReviewQueueItem, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at
		FROM entity_review_queue WHERE status = 'pending' ORDER BY created_at ASC`

	rows, err := q.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: list pending: %w", err)
	}
	defer rows.Close()

	var out []*models.ReviewQueueItem
	for rows.Next() {
		item, err := scanReviewQueueItem(rows)
		if err != nil {
			return nil, fmt.Errorf("reviewqueue: scan: %w", err)
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reviewqueue: iterate: %w", err)
	}
	return out, nil
}

func (s *store) Transition(ctx context.Context, id uuid.UUID, to models.ReviewStatus) (*models.ReviewQueueItem, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `SELECT id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at
		FROM entity_review_queue WHERE id = $1`
	row := q.QueryRow(ctx, query, id)
	current, err := scanReviewQueueItem(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, fmt.Errorf("reviewqueue: transition %s: %w", id, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("reviewqueue: load %s: %w", id, err)
	}
	if !models.ValidTransition(current.Status, to) {
		return nil, fmt.Errorf("reviewqueue: invalid transition %s -> %s for %s: %w", current.Status, to, id, apperrors.ErrInvalidTransition)
	}

	update := `
		UPDATE entity_review_queue SET status = $1, reviewed_at = now() WHERE id = $2
		RETURNING id, review_type, person_a_id, person_b_id, confidence, reason, status, created_at, reviewed_at`
	row = q.QueryRow(ctx, update, to, id)
	item, err := scanReviewQueueItem(row)
	if err != nil {
		return nil, fmt.Errorf("reviewqueue: apply transition %s: %w", id, err)
	}
	return item, nil
}

func (s *store) RemoveReferencing(ctx context.Context, personID uuid.UUID) (int64, error) {
	q, err := conn(ctx)
	if err != nil {
		return 0, err
	}

	tag, err := q.Exec(ctx, `
		DELETE FROM entity_review_queue
		WHERE status = 'pending' AND (person_a_id = $1 OR person_b_id = $1)`, personID)
	if err != nil {
		return 0, fmt.Errorf("reviewqueue: remove referencing %s: %w", personID, err)
	}
	return tag.RowsAffected(), nil
}

func scanReviewQueueItem(row pgx.Row) (*models.ReviewQueueItem, error) {
	var item models.ReviewQueueItem
	err := row.Scan(
		&item.ID, &item.ReviewType, &item.PersonAID, &item.PersonBID,
		&item.ConfidenceScore, &item.Reason, &item.Status, &item.CreatedAt, &item.ReviewedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
