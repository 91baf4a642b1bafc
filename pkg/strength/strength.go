// Package strength implements the StrengthEngine: per-person and pair-edge
// scoring (spec §4.8.1, §4.8.2) and the global Dunbar circle-assignment
// ranking pass (spec §4.8.3).
package strength

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/config"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/relationship"
)

// allSourceTypes is the fixed roster used as the diversity denominator
// (spec §4.8.1 step 3: "|total source types|").
var allSourceTypes = []models.SourceType{
	models.SourceGmail, models.SourceCalendar, models.SourceSlack, models.SourceIMessage,
	models.SourceWhatsApp, models.SourceSignal, models.SourceContacts, models.SourcePhoneContact,
	models.SourceLinkedIn, models.SourceVault, models.SourceGranola, models.SourcePhoneCall,
	models.SourcePhone, models.SourcePhotos,
}

// pairChannelWeightKey maps a relationship.Channel (the vocabulary
// Relationship edges count in) onto the ChannelWeights key used by
// DefaultPairChannelWeights (the vocabulary source_type-derived weights
// use). The two vocabularies differ because an edge's "thread"/"event"
// channels are themselves derived from gmail/calendar interactions; see
// DESIGN.md for the full mapping rationale.
var pairChannelWeightKey = map[relationship.Channel]string{
	relationship.ChannelEvent:     "calendar",
	relationship.ChannelThread:    "gmail",
	relationship.ChannelMessage:   "imessage",
	relationship.ChannelWhatsApp:  "whatsapp",
	relationship.ChannelSlack:     "slack",
	relationship.ChannelPhoneCall: "phone_call",
	relationship.ChannelPhoto:     "photos",
}

// Engine computes and persists strength, peripherality, and circle
// assignment for persons and pair edges.
type Engine struct {
	persons       *personstore.Store
	relationships relationship.Store
	interactions  interaction.Store
	cfg           *config.Registry
	logger        *zap.Logger
}

// New builds an Engine over explicit store handles, following the rest of
// this codebase's constructor-takes-interfaces convention.
func New(persons *personstore.Store, relationships relationship.Store, interactions interaction.Store, cfg *config.Registry, logger *zap.Logger) *Engine {
	return &Engine{persons: persons, relationships: relationships, interactions: interactions, cfg: cfg, logger: logger}
}

// PersonStrength computes the 0-100 relationship_strength for p (spec
// §4.8.1). selfID, if non-nil and not p.ID, enables the relationship-with-
// self multiplier.
func (e *Engine) PersonStrength(ctx context.Context, p *models.Person, selfID *uuid.UUID) (float64, error) {
	weights := e.cfg.PersonStrengthWeights()

	since := time.Now().AddDate(0, 0, -weights.FrequencyWindowDays)
	recentCounts, lifetimeCounts, err := e.interactions.ChannelCounts(ctx, p.ID, since)
	if err != nil {
		return 0, fmt.Errorf("strength: channel counts for %s: %w", p.ID, err)
	}

	totalLifetime := 0
	for _, c := range lifetimeCounts {
		totalLifetime += c
	}

	r := recencyScore(p.LastSeen, weights)
	r = adjustRecencyForColdStart(r, totalLifetime, weights)

	wRecent := weightedSum(recentCounts, weights.ChannelWeights)
	wLife := weightedSum(lifetimeCounts, weights.ChannelWeights)
	f := weights.RecentFrequencyWeight*logScale(wRecent, weights.FrequencyTarget) +
		weights.LifetimeFrequencyWeight*logScale(wLife, weights.LifetimeFrequencyTarget)

	d := diversityScore(p.Sources)

	base := 100 * (weights.RecencyWeight*r + weights.FrequencyWeight*f + weights.DiversityWeight*d)

	multiplier := 1.0
	if selfID != nil && *selfID != p.ID {
		rel, err := e.relationships.GetByPair(ctx, p.ID, *selfID)
		if err != nil && !errors.Is(err, apperrors.ErrNotFound) {
			return 0, fmt.Errorf("strength: self edge for %s: %w", p.ID, err)
		}
		if rel != nil {
			if rel.IsLinkedInConnection {
				multiplier *= 1.03
			}
			if rel.RelationshipType == models.RelationshipFamily {
				multiplier *= 1.05
			}
		}
	}

	return round1(math.Min(100, base*multiplier)), nil
}

// PairStrength computes the 0-100 pair_strength for rel (spec §4.8.2). It
// never touches rel.EdgeWeight or persists anything; callers assign the
// result and call relationship.Store.Upsert.
func (e *Engine) PairStrength(rel *models.Relationship) float64 {
	weights := e.cfg.PairStrengthWeights()

	var lastSeen time.Time
	if rel.LastSeenTogether != nil {
		lastSeen = *rel.LastSeenTogether
	}

	counts := pairChannelCounts(rel)
	total := 0
	wLife := 0.0
	distinctChannels := 0
	for ch, cnt := range counts {
		total += cnt
		if cnt > 0 {
			distinctChannels++
		}
		wLife += weights.ChannelWeights[pairChannelWeightKey[ch]] * float64(cnt)
	}

	r := recencyScore(lastSeen, weights)
	r = adjustRecencyForColdStart(r, total, weights)

	// Relationship edges only store cumulative per-channel counters, not a
	// time-bucketed history, so recent and lifetime frequency share the same
	// weighted sum (see DESIGN.md).
	f := weights.RecentFrequencyWeight*logScale(wLife, weights.FrequencyTarget) +
		weights.LifetimeFrequencyWeight*logScale(wLife, weights.LifetimeFrequencyTarget)

	slots := float64(distinctChannels)
	if rel.IsLinkedInConnection {
		slots += 0.5
	}
	d := slots / float64(len(counts))
	if d > 1 {
		d = 1
	}

	base := 100 * (weights.RecencyWeight*r + weights.FrequencyWeight*f + weights.DiversityWeight*d)
	return round1(math.Min(100, base))
}

// RefreshPerson recomputes relationship_strength and is_peripheral_contact
// for personID and persists it, leaving dunbar_circle untouched (global
// ranking is the separate RankAll pass, spec §4.5.1 step 11).
func (e *Engine) RefreshPerson(ctx context.Context, personID uuid.UUID, selfID *uuid.UUID) error {
	p, err := e.persons.GetByID(personID)
	if err != nil {
		return fmt.Errorf("strength: refresh %s: %w", personID, err)
	}
	strengthVal, err := e.PersonStrength(ctx, p, selfID)
	if err != nil {
		return err
	}
	p.RelationshipStrength = strengthVal
	p.IsPeripheralContact = strengthVal < e.cfg.Dunbar().PeripheralThreshold
	return e.persons.Update(p)
}

// RankResult reports one person's outcome from a RankAll pass.
type RankResult struct {
	PersonID   uuid.UUID
	Strength   float64
	Peripheral bool
	Circle     int
}

// MemoryBudget reports true when a long-running batch pass should
// checkpoint and stop (spec §5 "memory monitor").
type MemoryBudget func() bool

// RankAll recomputes strength for every non-hidden, non-merged-away person
// and assigns Dunbar circles by the global ranking procedure (spec
// §4.8.3). selfID, if set, is skipped (ranking the graph owner against
// themselves is meaningless) and also drives PersonStrength's self-edge
// multiplier for everyone else. If over is non-nil and reports true
// mid-pass, RankAll stops and returns the results completed so far without
// error, so a caller can resume later.
func (e *Engine) RankAll(ctx context.Context, selfID *uuid.UUID, over MemoryBudget) ([]RankResult, error) {
	dunbar := e.cfg.Dunbar()
	people := e.persons.Search("", personstore.SearchOptions{IncludeHidden: false, IncludeMergedAway: false})

	type ranked struct {
		person   *models.Person
		strength float64
		eff      float64
	}
	var work, nonWork []*ranked

	for i, p := range people {
		if selfID != nil && p.ID == *selfID {
			continue
		}
		if over != nil && over() {
			e.logger.Warn("strength: memory budget exceeded, checkpointing rank pass",
				zap.Int("completed", i), zap.Int("total", len(people)))
			break
		}

		strengthVal, err := e.PersonStrength(ctx, p, selfID)
		if err != nil {
			return nil, err
		}
		p.RelationshipStrength = strengthVal
		p.IsPeripheralContact = strengthVal < dunbar.PeripheralThreshold
		if p.IsPeripheralContact {
			p.DunbarCircle = intPtr(7)
		}

		eff := strengthVal
		if override, ok := e.cfg.StrengthOverride(p.ID); ok {
			eff = override
		}

		r := &ranked{person: p, strength: strengthVal, eff: eff}
		if p.Category == models.CategoryWork {
			work = append(work, r)
		} else {
			nonWork = append(nonWork, r)
		}
	}

	sort.SliceStable(nonWork, func(i, j int) bool { return nonWork[i].eff > nonWork[j].eff })

	cutoffs := make([]float64, len(dunbar.CumulativeSizes))
	for i := range cutoffs {
		cutoffs[i] = math.Inf(1)
	}

	rank := 0
	for _, r := range nonWork {
		if r.person.IsPeripheralContact {
			continue
		}
		if circle, ok := e.cfg.CircleOverride(r.person.ID); ok {
			r.person.DunbarCircle = intPtr(circle)
			continue
		}
		rank++
		circle := circleForRank(rank, dunbar.CumulativeSizes)
		r.person.DunbarCircle = intPtr(circle)
		if r.eff < cutoffs[circle-1] {
			cutoffs[circle-1] = r.eff
		}
	}

	for _, r := range work {
		if r.person.IsPeripheralContact {
			continue
		}
		if circle, ok := e.cfg.CircleOverride(r.person.ID); ok {
			r.person.DunbarCircle = intPtr(circle)
			continue
		}
		circle := dunbar.DefaultWorkCircle
		for i, cutoff := range cutoffs {
			if r.eff >= cutoff {
				circle = i + 1
				break
			}
		}
		r.person.DunbarCircle = intPtr(circle)
	}

	all := append(append([]*ranked(nil), nonWork...), work...)
	results := make([]RankResult, 0, len(all))
	for _, r := range all {
		if tags, ok := e.cfg.TagOverride(r.person.ID); ok {
			for _, t := range tags {
				r.person.AddTag(t)
			}
		}
		if err := e.persons.Update(r.person); err != nil {
			return results, fmt.Errorf("strength: persist %s: %w", r.person.ID, err)
		}
		results = append(results, RankResult{
			PersonID:   r.person.ID,
			Strength:   r.strength,
			Peripheral: r.person.IsPeripheralContact,
			Circle:     derefInt(r.person.DunbarCircle),
		})
	}

	if len(results) == 0 {
		return results, nil
	}
	return results, e.persons.Save()
}

// circleForRank places a global non-work rank onto the lowest-numbered
// circle whose cumulative size has not yet been exceeded. Ranks beyond the
// last threshold fall into the last (least exclusive) circle rather than
// an unbounded one, since spec §3.1 caps dunbar_circle at 0-7 and circle 7
// is reserved for peripheral contacts.
func circleForRank(rank int, cumulativeSizes []int) int {
	for i, size := range cumulativeSizes {
		if rank <= size {
			return i + 1
		}
	}
	return len(cumulativeSizes)
}

func pairChannelCounts(rel *models.Relationship) map[relationship.Channel]int {
	return map[relationship.Channel]int{
		relationship.ChannelEvent:     rel.SharedEventsCount,
		relationship.ChannelThread:    rel.SharedThreadsCount,
		relationship.ChannelMessage:   rel.SharedMessagesCount,
		relationship.ChannelWhatsApp:  rel.SharedWhatsAppCount,
		relationship.ChannelSlack:     rel.SharedSlackCount,
		relationship.ChannelPhoneCall: rel.SharedPhoneCallsCount,
		relationship.ChannelPhoto:     rel.SharedPhotosCount,
	}
}

func recencyScore(lastSeen time.Time, weights config.StrengthWeights) float64 {
	if lastSeen.IsZero() {
		return 0
	}
	now := time.Now()
	if lastSeen.After(now) {
		lastSeen = now
	}
	days := now.Sub(lastSeen).Hours() / 24
	return clamp(1-days/float64(weights.RecencyWindowDays), 0, 1)
}

// adjustRecencyForColdStart dampens recency for persons below the
// full-recency interaction floor (spec §4.8.1 step 1: "prevents cold
// contacts from appearing hot just because a sync touched them today").
func adjustRecencyForColdStart(r float64, totalInteractions int, weights config.StrengthWeights) float64 {
	if weights.MinInteractionsForFullRecency <= 0 || totalInteractions >= weights.MinInteractionsForFullRecency {
		return r
	}
	t := float64(totalInteractions) / float64(weights.MinInteractionsForFullRecency)
	factor := weights.ZeroInteractionRecencyMultiplier + t*(1-weights.ZeroInteractionRecencyMultiplier)
	return r * factor
}

func logScale(w, target float64) float64 {
	if target <= 0 {
		return 0
	}
	s := math.Log(1+w) / math.Log(1+target)
	return clamp(s, 0, 1)
}

func weightedSum(counts map[models.SourceType]int, weights config.ChannelWeights) float64 {
	var total float64
	for st, cnt := range counts {
		total += weights[string(st)] * float64(cnt)
	}
	return total
}

func diversityScore(sources []string) float64 {
	distinct := make(map[string]struct{}, len(sources))
	for _, s := range sources {
		distinct[s] = struct{}{}
	}
	return clamp(float64(len(distinct))/float64(len(allSourceTypes)), 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func intPtr(v int) *int { return &v }

func derefInt(v *int) int {
	if v == nil {
		return 0
	}
	return *v
}
