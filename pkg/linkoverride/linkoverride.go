// Package linkoverride is the pgx-backed repository for LinkOverride rules
// (spec §4.7), consulted by the resolver before the anchor pass falls back
// to structured name matching.
package linkoverride

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
)

// Store is the LinkOverride repository contract.
type Store interface {
	Create(ctx context.Context, o *models.LinkOverride) (*models.LinkOverride, error)
	Delete(ctx context.Context, id uuid.UUID) error

	// ListCandidates returns every override whose name_pattern matches
	// name case-insensitively. Final specificity ranking and context/
	// source-type filtering is done in-process via models.BestMatch,
	// since ContextSubstring matching is a substring test, not something
	// the SQL layer should own.
	ListCandidates(ctx context.Context, name string) ([]*models.LinkOverride, error)
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

func (s *store) Create(ctx context.Context, o *models.LinkOverride) (*models.LinkOverride, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	if o.ID == uuid.Nil {
		o.ID = uuid.New()
	}

	query := `
		INSERT INTO link_overrides (
			id, name_pattern, source_type, context_pattern,
			preferred_person_id, rejected_person_id, reason, created_at
		) VALUES ($1,$2,$3,$4,$5,$6,$7, COALESCE($8, now()))
		RETURNING id, name_pattern, source_type, context_pattern,
			preferred_person_id, rejected_person_id, reason, created_at`

	var createdAt any
	if !o.CreatedAt.IsZero() {
		createdAt = o.CreatedAt
	}

	row := q.QueryRow(ctx, query,
		o.ID, o.NamePattern, o.SourceType, o.ContextSubstring,
		o.PreferredPersonID, o.RejectedPersonID, o.Reason, createdAt,
	)
	out, err := scanLinkOverride(row)
	if err != nil {
		return nil, fmt.Errorf("linkoverride: create for pattern %q: %w", o.NamePattern, err)
	}
	return out, nil
}

func (s *store) Delete(ctx context.Context, id uuid.UUID) error {
	q, err := conn(ctx)
	if err != nil {
		return err
	}

	tag, err := q.Exec(ctx, `DELETE FROM link_overrides WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("linkoverride: delete %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("linkoverride: delete %s: %w", id, apperrors.ErrNotFound)
	}
	return nil
}

func (s *store) ListCandidates(ctx context.Context, name string) ([]*models.LinkOverride, error) {
	q, err := conn(ctx)
	if err != nil {
		return nil, err
	}

	query := `
		SELECT id, name_pattern, source_type, context_pattern,
			preferred_person_id, rejected_person_id, reason, created_at
		FROM link_overrides WHERE lower(name_pattern) = lower($1)`

	rows, err := q.Query(ctx, query, name)
	if err != nil {
		return nil, fmt.Errorf("linkoverride: list candidates for %q: %w", name, err)
	}
	defer rows.Close()

	var out []*models.LinkOverride
	for rows.Next() {
		o, err := scanLinkOverride(rows)
		if err != nil {
			return nil, fmt.Errorf("linkoverride: scan: %w", err)
		}
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("linkoverride: iterate: %w", err)
	}
	return out, nil
}

func scanLinkOverride(row pgx.Row) (*models.LinkOverride, error) {
	var o models.LinkOverride
	err := row.Scan(
		&o.ID, &o.NamePattern, &o.SourceType, &o.ContextSubstring,
		&o.PreferredPersonID, &o.RejectedPersonID, &o.Reason, &o.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &o, nil
}
