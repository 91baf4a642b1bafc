// Package merge implements the MergeEngine: Merge and Split (spec §4.5.1,
// §4.5.2). Both operations move rows across several stores; the pgx-backed
// ones are wrapped in a single database.DB.WithTransaction so a failure
// midway never leaves a partially-reassigned edge visible, while the
// PersonStore snapshot (not part of the Postgres transaction) is updated
// only after that transaction commits.
package merge

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/linkoverride"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/relationship"
	"github.com/personcrm/identity-engine/pkg/reviewqueue"
	"github.com/personcrm/identity-engine/pkg/sourceentity"
	"github.com/personcrm/identity-engine/pkg/strength"
)

// notesSeparator marks where two distinct Notes values were concatenated
// during a merge (spec §4.5.1 step 2).
const notesSeparator = "\n---\n"

// SplitTarget names the destination Person for a Split: either an existing
// id or a canonical name for a brand new record (spec §4.5.2).
type SplitTarget struct {
	ExistingID    *uuid.UUID
	NewPersonName string
}

// Engine implements Merge and Split. It holds no mutable state of its own;
// every call reads and writes live data through its stores.
type Engine struct {
	db            *database.DB
	persons       *personstore.Store
	sources       sourceentity.Store
	interactions  interaction.Store
	relationships relationship.Store
	overrides     linkoverride.Store
	reviews       reviewqueue.Store
	strength      *strength.Engine
	logger        *zap.Logger
}

// New returns an Engine wired to its stores.
func New(
	db *database.DB,
	persons *personstore.Store,
	sources sourceentity.Store,
	interactions interaction.Store,
	relationships relationship.Store,
	overrides linkoverride.Store,
	reviews reviewqueue.Store,
	strengthEngine *strength.Engine,
	logger *zap.Logger,
) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		db:            db,
		persons:       persons,
		sources:       sources,
		interactions:  interactions,
		relationships: relationships,
		overrides:     overrides,
		reviews:       reviews,
		strength:      strengthEngine,
		logger:        logger,
	}
}

// Merge folds secondaryID into primaryID, following spec §4.5.1's 11 steps.
// selfID is forwarded to the strength recompute in step 11; pass nil when
// the caller doesn't track an owner person.
func (e *Engine) Merge(ctx context.Context, primaryID, secondaryID uuid.UUID, selfID *uuid.UUID) error {
	// Step 1: resolve both ids through the merge chain.
	primaryID = e.persons.ResolveID(primaryID)
	secondaryID = e.persons.ResolveID(secondaryID)
	if primaryID == secondaryID {
		return fmt.Errorf("merge: %s and %s resolve to the same person: %w", primaryID, secondaryID, apperrors.ErrConflict)
	}

	primary, err := e.persons.GetByID(primaryID)
	if err != nil {
		return fmt.Errorf("merge: load primary %s: %w", primaryID, err)
	}
	secondary, err := e.persons.GetByID(secondaryID)
	if err != nil {
		return fmt.Errorf("merge: load secondary %s: %w", secondaryID, err)
	}

	// Steps 2-3: merge identifier sets and resolve category in-memory.
	mergeIdentifiers(primary, secondary)

	// Steps 4-7: everything pgx-backed happens inside one transaction, so a
	// failure partway through leaves no reassigned row observable.
	err = e.db.WithTransaction(ctx, func(txCtx context.Context) error {
		if _, err := e.interactions.ReassignPerson(txCtx, secondaryID, primaryID, nil); err != nil {
			return fmt.Errorf("reassign interactions: %w", err)
		}
		if _, err := e.sources.ReassignPerson(txCtx, secondaryID, primaryID); err != nil {
			return fmt.Errorf("reassign source entities: %w", err)
		}

		// Step 6: "clear facts" is an external-collaborator concern (LLM
		// fact extraction) that this engine does not own; logged so an
		// operator can trigger that recompute out of band.
		e.logger.Info("merge: facts recompute deferred to external collaborator",
			zap.Stringer("primary_id", primaryID), zap.Stringer("secondary_id", secondaryID))

		if err := e.mergeRelationships(txCtx, primaryID, secondaryID); err != nil {
			return fmt.Errorf("merge relationships: %w", err)
		}

		if _, err := e.reviews.RemoveReferencing(txCtx, secondaryID); err != nil {
			return fmt.Errorf("remove review queue entries: %w", err)
		}

		rollup, err := e.interactions.Rollup(txCtx, primaryID)
		if err != nil {
			return fmt.Errorf("rollup primary counts: %w", err)
		}
		applyRollup(primary, rollup, secondary)
		return nil
	})
	if err != nil {
		return fmt.Errorf("merge %s into %s: %w", secondaryID, primaryID, err)
	}

	// Step 8: record durable aliasing. Any intermediate id encountered
	// while resolving step 1 is already a chain entry (ResolveID only reads
	// the chain), and the chain is walked transitively, so those ids now
	// resolve to primaryID as well.
	e.persons.RecordMerge(secondaryID, primaryID)

	// Step 9 (remainder) + step 10: persist the updated primary, then
	// delete the secondary record. Both happen after the transaction
	// commits since PersonStore is a separate JSON snapshot, not part of
	// the Postgres transaction (see DESIGN.md's note on this ordering).
	if err := e.persons.Update(primary); err != nil {
		return fmt.Errorf("merge %s into %s: update primary: %w", secondaryID, primaryID, err)
	}
	if err := e.persons.Delete(secondaryID); err != nil {
		return fmt.Errorf("merge %s into %s: delete secondary: %w", secondaryID, primaryID, err)
	}
	if err := e.persons.Save(); err != nil {
		return fmt.Errorf("merge %s into %s: save: %w", secondaryID, primaryID, err)
	}

	// Step 11: recompute strength/peripherality for the primary. Circle
	// assignment is left to the next RankAll pass, per spec §4.5.1 step 11.
	if err := e.strength.RefreshPerson(ctx, primaryID, selfID); err != nil {
		return fmt.Errorf("merge %s into %s: refresh strength: %w", secondaryID, primaryID, err)
	}
	return nil
}

// mergeIdentifiers applies spec §4.5.1 steps 2-3 to primary in place.
func mergeIdentifiers(primary, secondary *models.Person) {
	for _, e := range secondary.Emails {
		primary.AddEmail(e)
	}
	for _, ph := range secondary.PhoneNumbers {
		primary.AddPhone(ph)
	}
	if primary.PhonePrimary == "" {
		primary.PhonePrimary = secondary.PhonePrimary
	}
	primary.AddAlias(secondary.CanonicalName)
	for _, a := range secondary.Aliases {
		primary.AddAlias(a)
	}
	for _, s := range secondary.Sources {
		primary.AddSource(s)
	}
	for _, t := range secondary.Tags {
		primary.AddTag(t)
	}
	for _, vc := range secondary.VaultContexts {
		found := false
		for _, existing := range primary.VaultContexts {
			if existing == vc {
				found = true
				break
			}
		}
		if !found {
			primary.VaultContexts = append(primary.VaultContexts, vc)
		}
	}

	primary.Notes = mergeNotes(primary.Notes, secondary.Notes)

	// Category resolution: keep the primary unless the secondary has
	// strictly higher priority (family < work < personal < unknown).
	if primary.Category.HigherPriorityThan(secondary.Category) {
		primary.Category = secondary.Category
	}

	if primary.Company == "" {
		primary.Company = secondary.Company
	}
	if primary.Position == "" {
		primary.Position = secondary.Position
	}
	if primary.LinkedInURL == "" {
		primary.LinkedInURL = secondary.LinkedInURL
	}
	if primary.Birthday == "" {
		primary.Birthday = secondary.Birthday
	}
}

// mergeNotes concatenates a and b with a separator marker when both are
// non-empty and distinct; otherwise returns whichever side is non-empty.
func mergeNotes(a, b string) string {
	a = strings.TrimSpace(a)
	b = strings.TrimSpace(b)
	switch {
	case a == "":
		return b
	case b == "" || a == b:
		return a
	default:
		return a + notesSeparator + b
	}
}

// applyRollup overwrites primary's counts and first/last-seen spans with a
// fresh InteractionStore rollup (spec §4.5.1 step 9; counts are always
// recomputed, never incrementally adjusted — including down to zero when
// primary ends up with no interactions at all). secondary's first_seen is
// folded in too, since the rollup only knows about rows now owned by
// primary and secondary's own history predates the reassignment.
func applyRollup(primary *models.Person, rollup *interaction.Rollup, secondary *models.Person) {
	if rollup != nil {
		primary.Counts = rollup.Counts
	} else {
		primary.Counts = models.Counts{}
	}
	if rollup != nil && rollup.HasAnyRecord {
		if primary.FirstSeen.IsZero() || rollup.FirstSeen.Before(primary.FirstSeen) {
			primary.FirstSeen = rollup.FirstSeen
		}
		if rollup.LastSeen.After(primary.LastSeen) {
			primary.LastSeen = rollup.LastSeen
		}
	}
	if !secondary.FirstSeen.IsZero() && (primary.FirstSeen.IsZero() || secondary.FirstSeen.Before(primary.FirstSeen)) {
		primary.FirstSeen = secondary.FirstSeen
	}
	if secondary.LastSeen.After(primary.LastSeen) {
		primary.LastSeen = secondary.LastSeen
	}
}

// mergeRelationships implements spec §4.5.1 step 7 for every edge touching
// secondaryID.
func (e *Engine) mergeRelationships(ctx context.Context, primaryID, secondaryID uuid.UUID) error {
	edges, err := e.relationships.GetByPerson(ctx, secondaryID)
	if err != nil {
		return fmt.Errorf("load secondary edges: %w", err)
	}

	for _, edge := range edges {
		other := edge.Other(secondaryID)

		if other == primaryID {
			// Would become a self-loop; drop it.
			if err := e.relationships.Delete(ctx, edge.ID); err != nil {
				return fmt.Errorf("drop self-loop edge %s: %w", edge.ID, err)
			}
			continue
		}

		existing, err := e.relationships.GetByPair(ctx, primaryID, other)
		switch {
		case err == nil:
			mergeEdgeInto(existing, edge)
			if err := e.relationships.Upsert(ctx, existing); err != nil {
				return fmt.Errorf("upsert merged edge %s/%s: %w", primaryID, other, err)
			}
			if err := e.relationships.Delete(ctx, edge.ID); err != nil {
				return fmt.Errorf("delete superseded edge %s: %w", edge.ID, err)
			}
		case errors.Is(err, apperrors.ErrNotFound):
			edge.ID = uuid.New()
			edge.PersonAID, edge.PersonBID = primaryID, other
			if err := e.relationships.Upsert(ctx, edge); err != nil {
				return fmt.Errorf("recreate edge %s/%s: %w", primaryID, other, err)
			}
		default:
			return fmt.Errorf("look up existing edge %s/%s: %w", primaryID, other, err)
		}
	}
	return nil
}

// mergeEdgeInto folds incoming into existing: sum counters, union shared
// contexts, min first_seen_together, max last_seen_together, OR the
// LinkedIn flag (spec §4.5.1 step 7).
func mergeEdgeInto(existing, incoming *models.Relationship) {
	existing.SharedEventsCount += incoming.SharedEventsCount
	existing.SharedThreadsCount += incoming.SharedThreadsCount
	existing.SharedMessagesCount += incoming.SharedMessagesCount
	existing.SharedWhatsAppCount += incoming.SharedWhatsAppCount
	existing.SharedSlackCount += incoming.SharedSlackCount
	existing.SharedPhoneCallsCount += incoming.SharedPhoneCallsCount
	existing.SharedPhotosCount += incoming.SharedPhotosCount
	existing.IsLinkedInConnection = existing.IsLinkedInConnection || incoming.IsLinkedInConnection

	for _, c := range incoming.SharedContexts {
		existing.AddSharedContext(c)
	}

	existing.FirstSeenTogether = earlier(existing.FirstSeenTogether, incoming.FirstSeenTogether)
	existing.LastSeenTogether = later(existing.LastSeenTogether, incoming.LastSeenTogether)
}

func earlier(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.Before(*a) {
		return b
	}
	return a
}

func later(a, b *time.Time) *time.Time {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	if b.After(*a) {
		return b
	}
	return a
}

// Split moves every SourceEntity and Interaction belonging to sourcePersonID
// whose source_type is in sourceTypes to target, following spec §4.5.2's 6
// steps. Returns the id of the (possibly newly created) target person.
func (e *Engine) Split(ctx context.Context, sourcePersonID uuid.UUID, target SplitTarget, sourceTypes []models.SourceType, selfID *uuid.UUID) (uuid.UUID, error) {
	sourcePersonID = e.persons.ResolveID(sourcePersonID)
	if len(sourceTypes) == 0 {
		return uuid.Nil, fmt.Errorf("split %s: no source types given: %w", sourcePersonID, apperrors.ErrConflict)
	}

	source, err := e.persons.GetByID(sourcePersonID)
	if err != nil {
		return uuid.Nil, fmt.Errorf("split: load source person %s: %w", sourcePersonID, err)
	}

	var targetID uuid.UUID
	var targetPerson *models.Person
	if target.ExistingID != nil {
		targetID = e.persons.ResolveID(*target.ExistingID)
		targetPerson, err = e.persons.GetByID(targetID)
		if err != nil {
			return uuid.Nil, fmt.Errorf("split: load target person %s: %w", targetID, err)
		}
	} else {
		targetID = uuid.New()
		now := time.Now()
		targetPerson = &models.Person{
			ID:            targetID,
			CanonicalName: target.NewPersonName,
			DisplayName:   target.NewPersonName,
			Category:      models.CategoryUnknown,
			FirstSeen:     now,
			LastSeen:      now,
		}
		if err := e.persons.Add(targetPerson); err != nil {
			return uuid.Nil, fmt.Errorf("split: create target person: %w", err)
		}
	}

	var movedSources, movedInteractions int64
	err = e.db.WithTransaction(ctx, func(txCtx context.Context) error {
		n, err := e.sources.ReassignPersonBySourceType(txCtx, sourcePersonID, targetID, sourceTypes)
		if err != nil {
			return fmt.Errorf("reassign source entities: %w", err)
		}
		movedSources = n

		n, err = e.interactions.ReassignPerson(txCtx, sourcePersonID, targetID, sourceTypes)
		if err != nil {
			return fmt.Errorf("reassign interactions: %w", err)
		}
		movedInteractions = n

		for _, st := range sourceTypes {
			if _, err := e.overrides.Create(txCtx, &models.LinkOverride{
				NamePattern:       targetPerson.CanonicalName,
				SourceType:        sourceTypePtr(st),
				PreferredPersonID: targetID,
				RejectedPersonID:  &sourcePersonID,
				Reason:            fmt.Sprintf("split from %s", sourcePersonID),
			}); err != nil {
				return fmt.Errorf("create link override for %s: %w", st, err)
			}
		}

		sourceRollup, err := e.interactions.Rollup(txCtx, sourcePersonID)
		if err != nil {
			return fmt.Errorf("rollup source counts: %w", err)
		}
		targetRollup, err := e.interactions.Rollup(txCtx, targetID)
		if err != nil {
			return fmt.Errorf("rollup target counts: %w", err)
		}
		applySplitRollup(source, sourceRollup)
		applySplitRollup(targetPerson, targetRollup)
		return nil
	})
	if err != nil {
		return uuid.Nil, fmt.Errorf("split %s: %w", sourcePersonID, err)
	}

	e.logger.Info("split moved records",
		zap.Stringer("source_person_id", sourcePersonID), zap.Stringer("target_person_id", targetID),
		zap.Int64("sources_moved", movedSources), zap.Int64("interactions_moved", movedInteractions))

	refreshSourcesField(source, sourceTypes, false)
	refreshSourcesField(targetPerson, sourceTypes, true)

	if err := e.persons.Update(source); err != nil {
		return uuid.Nil, fmt.Errorf("split %s: update source person: %w", sourcePersonID, err)
	}
	if err := e.persons.Update(targetPerson); err != nil {
		return uuid.Nil, fmt.Errorf("split %s: update target person: %w", sourcePersonID, err)
	}
	if err := e.persons.Save(); err != nil {
		return uuid.Nil, fmt.Errorf("split %s: save: %w", sourcePersonID, err)
	}

	if err := e.strength.RefreshPerson(ctx, sourcePersonID, selfID); err != nil {
		return uuid.Nil, fmt.Errorf("split %s: refresh source strength: %w", sourcePersonID, err)
	}
	if err := e.strength.RefreshPerson(ctx, targetID, selfID); err != nil {
		return uuid.Nil, fmt.Errorf("split %s: refresh target strength: %w", sourcePersonID, err)
	}
	return targetID, nil
}

func sourceTypePtr(st models.SourceType) *string {
	s := string(st)
	return &s
}

// refreshSourcesField rebuilds p.Sources for a split: removing the moved
// types from the donor, adding them to the recipient. Both sides may still
// own unrelated source types untouched by this split.
func refreshSourcesField(p *models.Person, moved []models.SourceType, adding bool) {
	movedSet := make(map[string]bool, len(moved))
	for _, st := range moved {
		movedSet[string(st)] = true
	}

	if adding {
		for st := range movedSet {
			p.AddSource(st)
		}
		return
	}

	kept := p.Sources[:0:0]
	for _, s := range p.Sources {
		if !movedSet[s] {
			kept = append(kept, s)
		}
	}
	p.Sources = kept
}

// applySplitRollup recomputes p's counts unconditionally from rollup,
// including zeroing them out when p ends the split with no interactions
// left (spec §4.9 / §8 property 10: counts must always equal a from-scratch
// recompute). first_seen/last_seen are only touched when the rollup has a
// real record, since a zero-value Rollup carries no meaningful timestamps.
func applySplitRollup(p *models.Person, rollup *interaction.Rollup) {
	if rollup != nil {
		p.Counts = rollup.Counts
	} else {
		p.Counts = models.Counts{}
	}
	if rollup == nil || !rollup.HasAnyRecord {
		return
	}
	if p.FirstSeen.IsZero() || rollup.FirstSeen.Before(p.FirstSeen) {
		p.FirstSeen = rollup.FirstSeen
	}
	if rollup.LastSeen.After(p.LastSeen) {
		p.LastSeen = rollup.LastSeen
	}
}
