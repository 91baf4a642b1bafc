// Package config loads the ConfigRegistry: the static weights, thresholds,
// nickname dictionary path, and override maps that drive the resolver and
// strength engine. Configuration is immutable at runtime except through an
// explicit Reload call (spec §4.1).
package config

import (
	"fmt"
	"os"
	"sync"

	"github.com/google/uuid"
	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

// ChannelWeights maps a SourceEntity.source_type (or Relationship channel
// name) to its interaction weight used by the strength engine.
type ChannelWeights map[string]float64

// DefaultChannelWeights mirrors spec §4.1's example weights for per-person
// strength.
func DefaultChannelWeights() ChannelWeights {
	return ChannelWeights{
		"imessage":   1.5,
		"whatsapp":   1.5,
		"signal":     1.5,
		"phone_call": 2.0,
		"phone":      2.0,
		"slack":      1.2,
		"calendar":   1.0,
		"granola":    1.0,
		"gmail":      0.8,
		"vault":      0.7,
		"linkedin":   0.5,
		"contacts":   0.3,
		"photos":     0.5,
	}
}

// DefaultPairChannelWeights mirrors spec §4.8.2's pair-dynamics weights.
func DefaultPairChannelWeights() ChannelWeights {
	return ChannelWeights{
		"phone_call": 2.0,
		"imessage":   1.5,
		"whatsapp":   1.5,
		"signal":     1.5,
		"slack":      1.2,
		"calendar":   1.0,
		"gmail":      0.8,
	}
}

// StrengthWeights holds the recency/frequency/diversity shape used by both
// per-person (§4.8.1) and pair (§4.8.2) strength formulas.
type StrengthWeights struct {
	RecencyWindowDays                int            `yaml:"recency_window_days"`
	RecencyWeight                    float64        `yaml:"recency_weight"`
	FrequencyWeight                  float64        `yaml:"frequency_weight"`
	DiversityWeight                  float64        `yaml:"diversity_weight"`
	RecentFrequencyWeight            float64        `yaml:"recent_frequency_weight"`
	LifetimeFrequencyWeight          float64        `yaml:"lifetime_frequency_weight"`
	FrequencyTarget                  float64        `yaml:"frequency_target"`
	LifetimeFrequencyTarget          float64        `yaml:"lifetime_frequency_target"`
	FrequencyWindowDays              int            `yaml:"frequency_window_days"`
	MinInteractionsForFullRecency    int            `yaml:"min_interactions_for_full_recency"`
	ZeroInteractionRecencyMultiplier float64        `yaml:"zero_interaction_recency_multiplier"`
	ChannelWeights                   ChannelWeights `yaml:"channel_weights"`
}

// PersonStrengthDefaults is the per-person formula of spec §4.8.1.
func PersonStrengthDefaults() StrengthWeights {
	return StrengthWeights{
		RecencyWindowDays:                180,
		RecencyWeight:                    0.40,
		FrequencyWeight:                  0.40,
		DiversityWeight:                  0.20,
		RecentFrequencyWeight:            0.6,
		LifetimeFrequencyWeight:          0.4,
		FrequencyTarget:                  50,
		LifetimeFrequencyTarget:          400,
		FrequencyWindowDays:              30,
		MinInteractionsForFullRecency:    5,
		ZeroInteractionRecencyMultiplier: 0.3,
		ChannelWeights:                   DefaultChannelWeights(),
	}
}

// PairStrengthDefaults is the pair-edge formula of spec §4.8.2.
func PairStrengthDefaults() StrengthWeights {
	return StrengthWeights{
		RecencyWindowDays:                200,
		RecencyWeight:                    0.30,
		FrequencyWeight:                  0.60,
		DiversityWeight:                  0.10,
		RecentFrequencyWeight:            0.6,
		LifetimeFrequencyWeight:          0.4,
		FrequencyTarget:                  100,
		LifetimeFrequencyTarget:          600,
		FrequencyWindowDays:              30,
		MinInteractionsForFullRecency:    5,
		ZeroInteractionRecencyMultiplier: 0.3,
		ChannelWeights:                   DefaultPairChannelWeights(),
	}
}

// ResolverThresholds drives every numeric decision in the resolver (§4.6).
type ResolverThresholds struct {
	MinMatchScore             float64 `yaml:"min_match_score"`
	DisambiguationThreshold   float64 `yaml:"disambiguation_threshold"`
	ContextBoostPoints        float64 `yaml:"context_boost_points"`
	RecencyBoostPoints        float64 `yaml:"recency_boost_points"`
	RecencyBoostThresholdDays int     `yaml:"recency_boost_threshold_days"`
	RelationshipBoostWeight   float64 `yaml:"relationship_boost_weight"`
	RelationshipBoostCap      float64 `yaml:"relationship_boost_cap"`
	FirstNameOnlyBoostFactor  float64 `yaml:"first_name_only_boost_factor"`
	UniqueMatchBonus          float64 `yaml:"unique_match_bonus"`
	ScoreDominantBonus        float64 `yaml:"score_dominant_bonus"`
	ScoreDominantGap          float64 `yaml:"score_dominant_gap"`
	CloseRelationshipStrength float64 `yaml:"close_relationship_strength"`
	CloseStrengthMargin       float64 `yaml:"close_strength_margin"`
	DiscardBelowScore         float64 `yaml:"discard_below_score"`
	FuzzyMatchRatio           float64 `yaml:"fuzzy_match_ratio"`
	MinDaysSinceMatchAttempt  int     `yaml:"min_days_since_match_attempt"`
	MaxMatchAttempts          int     `yaml:"max_match_attempts"`
}

// DefaultResolverThresholds mirrors the example/illustrative values named in
// spec §4.1 and §4.6.2.
func DefaultResolverThresholds() ResolverThresholds {
	return ResolverThresholds{
		MinMatchScore:             35,
		DisambiguationThreshold:   15,
		ContextBoostPoints:        12,
		RecencyBoostPoints:        8,
		RecencyBoostThresholdDays: 30,
		RelationshipBoostWeight:   0.15,
		RelationshipBoostCap:      10,
		FirstNameOnlyBoostFactor:  0.5,
		UniqueMatchBonus:          5,
		ScoreDominantBonus:        5,
		ScoreDominantGap:          20,
		CloseRelationshipStrength: 30,
		CloseStrengthMargin:       25,
		DiscardBelowScore:         20,
		FuzzyMatchRatio:           85,
		MinDaysSinceMatchAttempt:  30,
		MaxMatchAttempts:          3,
	}
}

// DunbarConfig holds circle-assignment thresholds (§4.8.3).
type DunbarConfig struct {
	// CumulativeSizes are the cumulative slot counts for circles 1..6:
	// [5, 20, 70, 220, 720, 2220].
	CumulativeSizes     []int   `yaml:"cumulative_sizes"`
	PeripheralThreshold float64 `yaml:"peripheral_threshold"`
	DefaultWorkCircle   int     `yaml:"default_work_circle"`
}

// DefaultDunbarConfig mirrors spec §4.1/§4.8.3.
func DefaultDunbarConfig() DunbarConfig {
	return DunbarConfig{
		CumulativeSizes:     []int{5, 20, 70, 220, 720, 2220},
		PeripheralThreshold: 3.0,
		DefaultWorkCircle:   6,
	}
}

// CompanyInfo is the value side of the company -> {domains, contexts} map.
type CompanyInfo struct {
	Domains  []string `yaml:"domains"`
	Contexts []string `yaml:"contexts"`
}

// Overrides holds the three operator override maps, each keyed by Person.ID.
type Overrides struct {
	Strength map[uuid.UUID]float64  `yaml:"-"`
	Circle   map[uuid.UUID]int      `yaml:"-"`
	Tags     map[uuid.UUID][]string `yaml:"-"`

	// raw string-keyed forms as they appear in YAML; uuid.UUID is not a
	// valid map key type for yaml.v3 unmarshaling, so these are parsed into
	// the maps above during Load.
	StrengthRaw map[string]float64  `yaml:"strength"`
	CircleRaw   map[string]int      `yaml:"circle"`
	TagsRaw     map[string][]string `yaml:"tags"`
}

func (o *Overrides) resolve() error {
	o.Strength = make(map[uuid.UUID]float64, len(o.StrengthRaw))
	for k, v := range o.StrengthRaw {
		id, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("overrides.strength: invalid person id %q: %w", k, err)
		}
		o.Strength[id] = v
	}
	o.Circle = make(map[uuid.UUID]int, len(o.CircleRaw))
	for k, v := range o.CircleRaw {
		id, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("overrides.circle: invalid person id %q: %w", k, err)
		}
		o.Circle[id] = v
	}
	o.Tags = make(map[uuid.UUID][]string, len(o.TagsRaw))
	for k, v := range o.TagsRaw {
		id, err := uuid.Parse(k)
		if err != nil {
			return fmt.Errorf("overrides.tags: invalid person id %q: %w", k, err)
		}
		o.Tags[id] = v
	}
	return nil
}

// Registry is the ConfigRegistry of spec §4.1: immutable between Reload
// calls, safe for concurrent reads via an atomic pointer swap.
type Registry struct {
	mu    sync.RWMutex
	state *state
	paths paths
}

type paths struct {
	configYAML string
	nicknameCS string
}

type state struct {
	Env                string                 `yaml:"-"`
	PersonStrength     StrengthWeights        `yaml:"person_strength"`
	PairStrength       StrengthWeights        `yaml:"pair_strength"`
	Resolver           ResolverThresholds     `yaml:"resolver"`
	Dunbar             DunbarConfig           `yaml:"dunbar"`
	Overrides          Overrides              `yaml:"overrides"`
	DomainContextMap   map[string][]string    `yaml:"domain_context_map"`
	CompanyMap         map[string]CompanyInfo `yaml:"company_map"`
	OwnerPersonID      string                 `yaml:"owner_person_id" env:"OWNER_PERSON_ID"`
	PartnerPersonID    string                 `yaml:"partner_person_id" env:"PARTNER_PERSON_ID"`
	FamilyLastNames    []string               `yaml:"family_last_names"`
	FamilyExactNames   []string               `yaml:"family_exact_names"`
	NicknameCSVPath    string                 `yaml:"nickname_csv_path" env:"NICKNAME_CSV_PATH" env-default:"config/nicknames.csv"`
	PersonSnapshotPath string                 `yaml:"person_snapshot_path" env:"PERSON_SNAPSHOT_PATH" env-default:"data/people_entities.json"`
}

func defaultState() *state {
	return &state{
		PersonStrength:   PersonStrengthDefaults(),
		PairStrength:     PairStrengthDefaults(),
		Resolver:         DefaultResolverThresholds(),
		Dunbar:           DefaultDunbarConfig(),
		DomainContextMap: map[string][]string{},
		CompanyMap:       map[string]CompanyInfo{},
	}
}

// Load reads configYAMLPath (if present) with environment overrides and
// returns a ready Registry. A missing YAML file is not an error: the
// Registry falls back to the illustrative defaults from spec §4.1.
func Load(configYAMLPath string) (*Registry, error) {
	r := &Registry{paths: paths{configYAML: configYAMLPath}}
	if err := r.Reload(); err != nil {
		return nil, err
	}
	return r, nil
}

// Reload re-reads the YAML file and environment overrides and atomically
// swaps the Registry's state. This is the only way configuration changes
// after startup, per spec §4.1 ("reloaded only via explicit reload").
func (r *Registry) Reload() error {
	st := defaultState()

	if _, err := os.Stat(r.paths.configYAML); err == nil {
		if err := cleanenv.ReadConfig(r.paths.configYAML, st); err != nil {
			return fmt.Errorf("config: failed to read %s: %w", r.paths.configYAML, err)
		}
	} else {
		if err := cleanenv.ReadEnv(st); err != nil {
			return fmt.Errorf("config: failed to read environment: %w", err)
		}
	}

	if err := st.Overrides.resolve(); err != nil {
		return err
	}

	r.mu.Lock()
	r.state = st
	r.mu.Unlock()
	return nil
}

func (r *Registry) snapshot() *state {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.state
}

// PersonStrengthWeights returns the per-person strength formula weights.
func (r *Registry) PersonStrengthWeights() StrengthWeights { return r.snapshot().PersonStrength }

// PairStrengthWeights returns the pair-edge strength formula weights.
func (r *Registry) PairStrengthWeights() StrengthWeights { return r.snapshot().PairStrength }

// ResolverThresholds returns the resolver's scoring thresholds.
func (r *Registry) ResolverThresholds() ResolverThresholds { return r.snapshot().Resolver }

// Dunbar returns the circle-assignment configuration.
func (r *Registry) Dunbar() DunbarConfig { return r.snapshot().Dunbar }

// StrengthOverride returns a manual strength override for id, if any.
func (r *Registry) StrengthOverride(id uuid.UUID) (float64, bool) {
	v, ok := r.snapshot().Overrides.Strength[id]
	return v, ok
}

// CircleOverride returns a manual circle override for id, if any.
func (r *Registry) CircleOverride(id uuid.UUID) (int, bool) {
	v, ok := r.snapshot().Overrides.Circle[id]
	return v, ok
}

// TagOverride returns tags to union onto id's Person record, if any.
func (r *Registry) TagOverride(id uuid.UUID) ([]string, bool) {
	v, ok := r.snapshot().Overrides.Tags[id]
	return v, ok
}

// ContextsForDomain returns the vault-context prefixes associated with an
// email domain, used when inferring context/category for newly created
// persons (spec §4.6.3).
func (r *Registry) ContextsForDomain(domain string) []string {
	return r.snapshot().DomainContextMap[domain]
}

// Company looks up normalization info for a company name.
func (r *Registry) Company(name string) (CompanyInfo, bool) {
	c, ok := r.snapshot().CompanyMap[name]
	return c, ok
}

// NicknameCSVPath is the configured location of the nickname dictionary.
func (r *Registry) NicknameCSVPath() string { return r.snapshot().NicknameCSVPath }

// PersonSnapshotPath is the configured location of the PersonStore's durable
// JSON snapshot file.
func (r *Registry) PersonSnapshotPath() string { return r.snapshot().PersonSnapshotPath }

// FamilyLastNames returns the configured family-name list used for category
// inference during person creation.
func (r *Registry) FamilyLastNames() []string {
	return append([]string(nil), r.snapshot().FamilyLastNames...)
}

// FamilyExactNames returns the configured exact-name list (e.g. "self")
// used for category inference.
func (r *Registry) FamilyExactNames() []string {
	return append([]string(nil), r.snapshot().FamilyExactNames...)
}

// OwnerPersonID returns the configured "self" person id, if set and valid.
func (r *Registry) OwnerPersonID() (uuid.UUID, bool) {
	s := r.snapshot().OwnerPersonID
	if s == "" {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// MarshalCompanyMapYAML is a small helper used by tests/tools to round-trip
// a company map fragment without hand-writing YAML.
func MarshalCompanyMapYAML(m map[string]CompanyInfo) ([]byte, error) {
	return yaml.Marshal(m)
}
