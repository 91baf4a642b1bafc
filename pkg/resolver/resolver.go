// Package resolver implements the EntityResolver (spec §4.6): the
// anchor/name matching passes that turn an observation (name, email,
// phone, context path) into a canonical Person, creating one when
// requested and no match clears the bar.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/agnivade/levenshtein"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/config"
	"github.com/personcrm/identity-engine/pkg/linkoverride"
	"github.com/personcrm/identity-engine/pkg/logging"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/nameparser"
	"github.com/personcrm/identity-engine/pkg/nickname"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/sourceentity"
)

// MatchType names which pass, and which rule within it, produced a Result.
type MatchType string

const (
	MatchEmailExact     MatchType = "email_exact"
	MatchEmailExactLate MatchType = "email_exact_late"
	MatchPhoneExact     MatchType = "phone_exact"
	MatchNameExact      MatchType = "name_exact"
	MatchLinkOverride   MatchType = "link_override"
	MatchScored         MatchType = "scored"
	MatchCreated        MatchType = "created"
	MatchDisambiguated  MatchType = "disambiguated"
)

// Input is a single resolution request (spec §4.6).
type Input struct {
	Name            string
	Email           string
	Phone           string
	ContextPath     string
	SourceType      *models.SourceType
	CreateIfMissing bool
}

// ScoreBreakdown exposes every additive component behind a scored match, so
// the review UI can show why a decision was made rather than just the
// final number (spec §9 design note).
type ScoreBreakdown struct {
	LastNameScore     float64
	FirstNameScore    float64
	CrossMatchScore   float64
	MiddleNameScore   float64
	AliasBonus        float64
	ContextBoost      float64
	RecencyBoost      float64
	RelationshipBoost float64
	AmbiguityBonus    float64
	Total             float64
	FirstMatched      bool
}

// Result is the outcome of a resolution attempt.
type Result struct {
	Person                *models.Person
	IsNew                 bool
	Confidence            float64
	MatchType             MatchType
	DisambiguationApplied bool
	Breakdown             *ScoreBreakdown
}

// Resolver implements spec §4.6's EntityResolver. It holds no mutable
// state of its own; every call reads live data from its stores.
type Resolver struct {
	persons   *personstore.Store
	sources   sourceentity.Store
	overrides linkoverride.Store
	names     *nameparser.Parser
	nicknames *nickname.Index
	cfg       *config.Registry
	logger    *zap.Logger
}

// New builds a Resolver from its component dependencies, constructed once
// at startup and passed by handle (spec §9: "replace [mutable singletons]
// with an explicit context/handles struct").
func New(persons *personstore.Store, sources sourceentity.Store, overrides linkoverride.Store, names *nameparser.Parser, nicknames *nickname.Index, cfg *config.Registry, logger *zap.Logger) *Resolver {
	return &Resolver{
		persons:   persons,
		sources:   sources,
		overrides: overrides,
		names:     names,
		nicknames: nicknames,
		cfg:       cfg,
		logger:    logger,
	}
}

// Resolve runs the full resolver pipeline. A nil Result with a nil error
// means "no match, nothing created". A nil Result with apperrors.ErrAmbiguous
// means the resolver found unresolvable ambiguity among candidates; the
// caller decides whether to enqueue for review or drop the observation
// (spec §8 property 11, §9: ErrAmbiguous is "not treated as a failure").
func (r *Resolver) Resolve(ctx context.Context, in Input) (*Result, error) {
	in.Email = strings.ToLower(strings.TrimSpace(in.Email))
	in.Phone = strings.TrimSpace(in.Phone)
	in.Name = strings.TrimSpace(in.Name)

	r.logger.Debug("resolver: resolving observation",
		zap.String("name", logging.SanitizeName(in.Name)),
		zap.String("email", logging.RedactEmail(in.Email)),
		zap.String("phone", logging.RedactPhone(in.Phone)))

	if res, err := r.resolveAnchors(in); res != nil || err != nil {
		if res != nil {
			r.attachNewIdentifiers(ctx, res.Person, in)
		}
		return res, err
	}

	if in.Name == "" {
		return r.resolveAnchorOnlyCreate(ctx, in)
	}

	res, err := r.resolveByName(ctx, in)
	if err != nil {
		return nil, err
	}
	if res != nil {
		r.attachNewIdentifiers(ctx, res.Person, in)
	}
	return res, nil
}

// resolveAnchors is Pass 1 (spec §4.6.1): deterministic email/phone lookup,
// short-circuiting on the first hit. A non-nil error here is a real store
// failure, not "not found".
func (r *Resolver) resolveAnchors(in Input) (*Result, error) {
	if in.Email != "" {
		p, err := r.persons.GetByEmail(in.Email)
		if err == nil {
			return &Result{Person: p, Confidence: 1.0, MatchType: MatchEmailExact}, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	if in.Phone != "" {
		p, err := r.persons.GetByPhone(in.Phone)
		if err == nil {
			return &Result{Person: p, Confidence: 1.0, MatchType: MatchPhoneExact}, nil
		}
		if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	return nil, nil
}

// resolveAnchorOnlyCreate handles Input{Name: "", Email/Phone set} once
// Pass 1 found nothing: it re-checks the email index once more to defend
// against staleness (spec §4.6.4) before creating.
func (r *Resolver) resolveAnchorOnlyCreate(ctx context.Context, in Input) (*Result, error) {
	if in.Email != "" {
		if p, err := r.persons.GetByEmail(in.Email); err == nil {
			return &Result{Person: p, Confidence: 1.0, MatchType: MatchEmailExactLate}, nil
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}
	if !in.CreateIfMissing {
		return nil, nil
	}
	if in.Email == "" && in.Phone == "" {
		return nil, nil
	}

	p, err := r.newPerson(in, "")
	if err != nil {
		return nil, err
	}
	if err := r.persons.Add(p); err != nil {
		return nil, err
	}
	return &Result{Person: p, IsNew: true, Confidence: 0.5, MatchType: MatchCreated}, nil
}

// resolveByName is Pass 2 and Pass 3 (spec §4.6.2, §4.6.3).
func (r *Resolver) resolveByName(ctx context.Context, in Input) (*Result, error) {
	if p, err := r.persons.GetByName(in.Name); err == nil {
		return &Result{Person: p, Confidence: 1.0, MatchType: MatchNameExact}, nil
	} else if !errors.Is(err, apperrors.ErrNotFound) {
		return nil, err
	}

	if overrides, err := r.overrides.ListCandidates(ctx, in.Name); err != nil {
		return nil, err
	} else if best := models.BestMatch(overrides, in.Name, in.SourceType, in.ContextPath); best != nil {
		p, err := r.persons.GetByID(best.PreferredPersonID)
		if err == nil {
			return &Result{Person: p, Confidence: 1.0, MatchType: MatchLinkOverride}, nil
		} else if !errors.Is(err, apperrors.ErrNotFound) {
			return nil, err
		}
	}

	thresholds := r.cfg.ResolverThresholds()
	query := r.names.Parse(in.Name)
	firstNameOnly := !query.HasLast

	active := r.persons.Search("", personstore.SearchOptions{IncludeHidden: false, IncludeMergedAway: false})

	type scored struct {
		person *models.Person
		score  float64
		bd     *ScoreBreakdown
	}
	var candidates []scored
	for _, p := range active {
		bd, ok := r.scoreCandidate(query, firstNameOnly, p, in, thresholds)
		if !ok {
			continue
		}
		candidates = append(candidates, scored{person: p, score: bd.Total, bd: bd})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].score > candidates[j].score })

	if firstNameOnly {
		aboveThreshold := 0
		for _, c := range candidates {
			if c.score >= thresholds.MinMatchScore {
				aboveThreshold++
			}
		}
		switch {
		case aboveThreshold == 0:
			candidates = nil
		case aboveThreshold == 1 || len(candidates) == 1:
			candidates[0].score += thresholds.UniqueMatchBonus
			candidates[0].bd.AmbiguityBonus += thresholds.UniqueMatchBonus
			candidates[0].bd.Total += thresholds.UniqueMatchBonus
			candidates = candidates[:1]
		default:
			top, second := candidates[0], candidates[1]
			if top.score-second.score >= thresholds.ScoreDominantGap {
				top.score += thresholds.ScoreDominantBonus
				top.bd.AmbiguityBonus += thresholds.ScoreDominantBonus
				top.bd.Total += thresholds.ScoreDominantBonus
				candidates = []scored{top}
			} else {
				var close []scored
				for _, c := range candidates {
					if c.score < thresholds.MinMatchScore {
						continue
					}
					if c.person.RelationshipStrength > thresholds.CloseRelationshipStrength {
						close = append(close, c)
					}
				}
				sort.Slice(close, func(i, j int) bool {
					return close[i].person.RelationshipStrength > close[j].person.RelationshipStrength
				})
				switch {
				case len(close) == 1:
					candidates = close
				case len(close) >= 2 && close[0].person.RelationshipStrength-close[1].person.RelationshipStrength >= thresholds.CloseStrengthMargin:
					candidates = close[:1]
				default:
					return nil, apperrors.ErrAmbiguous
				}
			}
		}
	}

	if len(candidates) == 0 {
		if !in.CreateIfMissing {
			return nil, nil
		}
		p, err := r.newPerson(in, "")
		if err != nil {
			return nil, err
		}
		if err := r.persons.Add(p); err != nil {
			return nil, err
		}
		return &Result{Person: p, IsNew: true, Confidence: 0.5, MatchType: MatchCreated}, nil
	}

	top := candidates[0]
	if top.score < thresholds.MinMatchScore {
		if !in.CreateIfMissing {
			return nil, nil
		}
		p, err := r.newPerson(in, "")
		if err != nil {
			return nil, err
		}
		if err := r.persons.Add(p); err != nil {
			return nil, err
		}
		return &Result{Person: p, IsNew: true, Confidence: 0.5, MatchType: MatchCreated}, nil
	}

	gap := top.score
	if len(candidates) > 1 {
		gap = top.score - candidates[1].score
	} else {
		gap = thresholds.DisambiguationThreshold // single candidate: never triggers disambiguation
	}

	if gap < thresholds.DisambiguationThreshold {
		if in.CreateIfMissing {
			suffix := disambiguationSuffix(r.cfg, in)
			p, err := r.newPerson(in, suffix)
			if err != nil {
				return nil, err
			}
			if err := r.persons.Add(p); err != nil {
				return nil, err
			}
			return &Result{Person: p, IsNew: true, Confidence: 0.7, MatchType: MatchDisambiguated, DisambiguationApplied: true}, nil
		}
		return &Result{
			Person:                top.person,
			Confidence:            0.7 * clampConfidence(top.score),
			MatchType:             MatchScored,
			DisambiguationApplied: true,
			Breakdown:             top.bd,
		}, nil
	}

	return &Result{
		Person:     top.person,
		Confidence: clampConfidence(top.score),
		MatchType:  MatchScored,
		Breakdown:  top.bd,
	}, nil
}

func clampConfidence(score float64) float64 {
	c := score / 100
	if c > 1 {
		return 1
	}
	if c < 0 {
		return 0
	}
	return c
}

// scoreCandidate implements the hard disqualifier and additive scoring of
// spec §4.6.2 for one candidate Person.
func (r *Resolver) scoreCandidate(query nameparser.ParsedName, firstNameOnly bool, p *models.Person, in Input, th config.ResolverThresholds) (*ScoreBreakdown, bool) {
	canonical := r.names.Parse(p.CanonicalName)
	aliases := make([]nameparser.ParsedName, 0, len(p.Aliases))
	for _, a := range p.Aliases {
		aliases = append(aliases, r.names.Parse(a))
	}

	if query.HasLast {
		matched := lastNameMatches(query.Last, canonical.Last, th.FuzzyMatchRatio)
		if !matched {
			for _, a := range aliases {
				if lastNameMatches(query.Last, a.Last, th.FuzzyMatchRatio) {
					matched = true
					break
				}
			}
		}
		if !matched {
			return nil, false
		}
	}

	bd := &ScoreBreakdown{}
	bd.LastNameScore = lastNameScore(query.Last, canonical.Last, th.FuzzyMatchRatio)

	firstScore, firstMatched := firstNameScore(query.First, canonical.First, r.nicknames, th.FuzzyMatchRatio)
	bd.FirstNameScore = firstScore
	bd.FirstMatched = firstMatched

	if !firstMatched {
		bd.CrossMatchScore = crossMatchScore(query, canonical, th.FuzzyMatchRatio)
		if bd.CrossMatchScore > 0 {
			firstMatched = true
			bd.FirstMatched = true
		}
	}

	bd.MiddleNameScore = middleNameScore(query.Middles, canonical.Middles, th.FuzzyMatchRatio)

	if !firstMatched {
		var bestAlias float64
		for _, a := range aliases {
			s, ok := firstNameScore(query.First, a.First, r.nicknames, th.FuzzyMatchRatio)
			if ok && s > bestAlias {
				bestAlias = s
			}
		}
		if bestAlias > 0 {
			bd.AliasBonus = bestAlias
			firstMatched = true
			bd.FirstMatched = true
		}
	}

	if !firstMatched {
		return nil, false
	}

	if in.ContextPath != "" {
		for _, vc := range p.VaultContexts {
			if vc != "" && strings.Contains(in.ContextPath, vc) {
				bd.ContextBoost = th.ContextBoostPoints
				break
			}
		}
	}

	if !p.LastSeen.IsZero() && time.Since(p.LastSeen) <= time.Duration(th.RecencyBoostThresholdDays)*24*time.Hour {
		bd.RecencyBoost = th.RecencyBoostPoints
	}

	relBoost := p.RelationshipStrength * th.RelationshipBoostWeight
	if relBoost > th.RelationshipBoostCap {
		relBoost = th.RelationshipBoostCap
	}
	if firstNameOnly {
		relBoost *= th.FirstNameOnlyBoostFactor
	}
	bd.RelationshipBoost = relBoost

	bd.Total = bd.LastNameScore + bd.FirstNameScore + bd.CrossMatchScore + bd.MiddleNameScore +
		bd.AliasBonus + bd.ContextBoost + bd.RecencyBoost + bd.RelationshipBoost

	if query.HasLast && !bd.FirstMatched {
		return nil, false
	}
	if bd.Total < th.DiscardBelowScore {
		return nil, false
	}
	return bd, true
}

func fuzzyRatio(a, b string) float64 {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if a == "" || b == "" {
		return 0
	}
	dist := levenshtein.ComputeDistance(a, b)
	maxLen := len(a)
	if len(b) > maxLen {
		maxLen = len(b)
	}
	if maxLen == 0 {
		return 100
	}
	return (1 - float64(dist)/float64(maxLen)) * 100
}

func isInitialPrefix(a, b string) bool {
	a, b = strings.ToLower(a), strings.ToLower(b)
	if len(a) == 1 {
		return strings.HasPrefix(b, a)
	}
	if len(b) == 1 {
		return strings.HasPrefix(a, b)
	}
	return false
}

func lastNameMatches(queryLast, candLast string, fuzzyThreshold float64) bool {
	if queryLast == "" || candLast == "" {
		return false
	}
	if strings.EqualFold(queryLast, candLast) {
		return true
	}
	if len([]rune(queryLast)) == 1 && strings.HasPrefix(strings.ToLower(candLast), strings.ToLower(queryLast)) {
		return true
	}
	return fuzzyRatio(queryLast, candLast) >= fuzzyThreshold
}

func lastNameScore(queryLast, candLast string, fuzzyThreshold float64) float64 {
	if queryLast == "" || candLast == "" {
		return 0
	}
	if strings.EqualFold(queryLast, candLast) {
		return 50
	}
	if len([]rune(queryLast)) == 1 && strings.HasPrefix(strings.ToLower(candLast), strings.ToLower(queryLast)) {
		return 35
	}
	if fuzzyRatio(queryLast, candLast) >= fuzzyThreshold {
		return 25
	}
	return 0
}

func firstNameScore(queryFirst, candFirst string, nicknames *nickname.Index, fuzzyThreshold float64) (float64, bool) {
	if queryFirst == "" || candFirst == "" {
		return 0, false
	}
	if strings.EqualFold(queryFirst, candFirst) {
		return 25, true
	}
	if nicknames != nil && nicknames.AreVariants(queryFirst, candFirst) {
		return 20, true
	}
	if fuzzyRatio(queryFirst, candFirst) >= fuzzyThreshold {
		return 20, true
	}
	if isInitialPrefix(queryFirst, candFirst) {
		return 10, true
	}
	return 0, false
}

func crossMatchScore(query, candidate nameparser.ParsedName, fuzzyThreshold float64) float64 {
	best := 0.0
	check := func(a, b string) {
		if a == "" || b == "" {
			return
		}
		if strings.EqualFold(a, b) {
			if 15 > best {
				best = 15
			}
			return
		}
		if fuzzyRatio(a, b) >= fuzzyThreshold && 12 > best {
			best = 12
		}
	}
	for _, m := range candidate.Middles {
		check(query.First, m)
	}
	for _, m := range query.Middles {
		check(m, candidate.First)
	}
	return best
}

func middleNameScore(queryMiddles, candMiddles []string, fuzzyThreshold float64) float64 {
	best := 0.0
	for _, qm := range queryMiddles {
		for _, cm := range candMiddles {
			if qm == "" || cm == "" {
				continue
			}
			if strings.EqualFold(qm, cm) {
				if 10 > best {
					best = 10
				}
				continue
			}
			if fuzzyRatio(qm, cm) >= fuzzyThreshold && 7 > best {
				best = 7
			}
		}
	}
	return best
}

// newPerson builds a new Person from an Input, inferring category and
// vault contexts from configuration (spec §4.6.3). suffix, if non-empty,
// is appended to display_name as a disambiguating hint.
func (r *Resolver) newPerson(in Input, suffix string) (*models.Person, error) {
	name := in.Name
	if name == "" {
		name = in.Email
		if name == "" {
			name = in.Phone
		}
	}
	if name == "" {
		return nil, fmt.Errorf("resolver: cannot create person with no name, email, or phone")
	}

	now := time.Now()
	p := &models.Person{
		ID:            uuid.New(),
		CanonicalName: name,
		DisplayName:   name,
		Category:      inferCategory(r.cfg, name),
		VaultContexts: inferVaultContexts(r.cfg, in),
		FirstSeen:     now,
		LastSeen:      now,
	}
	if in.Email != "" {
		p.AddEmail(in.Email)
	}
	if in.Phone != "" {
		p.AddPhone(in.Phone)
		p.PhonePrimary = in.Phone
	}
	if suffix != "" {
		p.DisplayName = fmt.Sprintf("%s (%s)", name, suffix)
	}
	return p, nil
}

func inferCategory(cfg *config.Registry, name string) models.Category {
	for _, exact := range cfg.FamilyExactNames() {
		if strings.EqualFold(exact, name) {
			return models.CategoryFamily
		}
	}
	lower := strings.ToLower(name)
	for _, fam := range cfg.FamilyLastNames() {
		if fam != "" && strings.Contains(lower, strings.ToLower(fam)) {
			return models.CategoryFamily
		}
	}
	return models.CategoryUnknown
}

func inferVaultContexts(cfg *config.Registry, in Input) []string {
	var contexts []string
	if in.Email != "" {
		if at := strings.LastIndex(in.Email, "@"); at >= 0 {
			domain := in.Email[at+1:]
			contexts = append(contexts, cfg.ContextsForDomain(domain)...)
		}
	}
	if in.ContextPath != "" {
		parts := strings.Split(strings.Trim(in.ContextPath, "/"), "/")
		if len(parts) >= 2 {
			contexts = append(contexts, strings.Join(parts[:2], "/")+"/")
		}
	}
	return contexts
}

// disambiguationSuffix derives a short context hint for a disambiguated
// display name, e.g. "Name (WorkCompanyFirstWord)".
func disambiguationSuffix(cfg *config.Registry, in Input) string {
	if in.Email != "" {
		if at := strings.LastIndex(in.Email, "@"); at >= 0 {
			domain := in.Email[at+1:]
			if dot := strings.Index(domain, "."); dot > 0 {
				return capitalize(domain[:dot])
			}
			return domain
		}
	}
	if in.ContextPath != "" {
		parts := strings.Split(strings.Trim(in.ContextPath, "/"), "/")
		if len(parts) > 0 {
			return parts[0]
		}
	}
	return "disambiguated"
}

// attachNewIdentifiers adds an email/phone carried on in to an existing
// matched person if not already present, then triggers the SourceEntity
// retroactive linking pass for that identifier (spec §4.6.4). Failures are
// logged, not propagated: this is a best-effort enrichment step, not part
// of the match decision itself.
func (r *Resolver) attachNewIdentifiers(ctx context.Context, p *models.Person, in Input) {
	if p == nil {
		return
	}
	changed := false
	if in.Email != "" && !contains(p.Emails, in.Email) {
		p.AddEmail(in.Email)
		changed = true
	}
	if in.Phone != "" && !contains(p.PhoneNumbers, in.Phone) {
		p.AddPhone(in.Phone)
		changed = true
	}
	if !changed {
		return
	}
	if err := r.persons.Update(p); err != nil {
		r.logger.Warn("resolver: failed to persist newly attached identifier", zap.Error(err))
		return
	}
	if in.Email != "" {
		if _, err := r.sources.LinkUnlinkedByEmail(ctx, in.Email, p.ID, 0.9); err != nil {
			r.logger.Warn("resolver: link_unlinked_by_email failed", zap.Error(err))
		}
	}
	if in.Phone != "" {
		if _, err := r.sources.LinkUnlinkedByPhone(ctx, in.Phone, p.ID, 0.9); err != nil {
			r.logger.Warn("resolver: link_unlinked_by_phone failed", zap.Error(err))
		}
	}
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func contains(set []string, v string) bool {
	for _, s := range set {
		if s == v {
			return true
		}
	}
	return false
}

// RunMatchAttempts is the batch re-matching pass of spec §4.6.5: it walks
// unlinked SourceEntity rows eligible for a retry and resolves each one,
// writing an auto link on success or bumping the attempt bookkeeping on
// failure. Blocklisted observations are skipped entirely.
func (r *Resolver) RunMatchAttempts(ctx context.Context, limit int) (attempted, linked int, err error) {
	th := r.cfg.ResolverThresholds()
	candidates, err := r.sources.ListUnlinked(ctx, limit)
	if err != nil {
		return 0, 0, err
	}

	blocklist := r.persons.Blocklist()
	cutoff := time.Now().Add(-time.Duration(th.MinDaysSinceMatchAttempt) * 24 * time.Hour)

	for _, se := range candidates {
		if se.MatchAttemptCount >= th.MaxMatchAttempts {
			continue
		}
		if se.MatchAttemptedAt != nil && se.MatchAttemptedAt.After(cutoff) {
			continue
		}
		if se.ObservedEmail != "" && blocklist.Contains(models.BlocklistEmail, se.ObservedEmail) {
			continue
		}
		if se.ObservedPhone != "" && blocklist.Contains(models.BlocklistPhone, se.ObservedPhone) {
			continue
		}

		attempted++
		res, rErr := r.Resolve(ctx, Input{
			Name:       se.ObservedName,
			Email:      se.ObservedEmail,
			Phone:      se.ObservedPhone,
			SourceType: &se.SourceType,
		})
		if rErr != nil || res == nil || res.IsNew {
			if err := r.sources.RecordMatchAttempt(ctx, se.ID); err != nil {
				return attempted, linked, err
			}
			continue
		}

		if err := r.sources.Link(ctx, se.ID, res.Person.ID, models.Auto(res.Confidence)); err != nil {
			return attempted, linked, err
		}
		linked++
	}
	return attempted, linked, nil
}
