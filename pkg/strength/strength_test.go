package strength_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/config"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/relationship"
	"github.com/personcrm/identity-engine/pkg/strength"
)

// fakeRelationshipStore has no edges: every lookup misses. Good enough for
// tests that don't exercise the self-edge multiplier.
type fakeRelationshipStore struct{}

func (fakeRelationshipStore) GetByPair(ctx context.Context, a, b uuid.UUID) (*models.Relationship, error) {
	return nil, apperrors.ErrNotFound
}
func (fakeRelationshipStore) GetByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Relationship, error) {
	return nil, nil
}
func (fakeRelationshipStore) Upsert(ctx context.Context, rel *models.Relationship) error { return nil }
func (fakeRelationshipStore) Delete(ctx context.Context, id uuid.UUID) error             { return nil }
func (fakeRelationshipStore) DeleteByPair(ctx context.Context, a, b uuid.UUID) error     { return nil }
func (fakeRelationshipStore) IncrementShared(ctx context.Context, channel relationship.Channel, a, b uuid.UUID, at time.Time, context string) error {
	return nil
}
func (fakeRelationshipStore) SetLinkedInConnection(ctx context.Context, a, b uuid.UUID) error {
	return nil
}

// fakeInteractionStore returns channel counts from a fixed per-person map,
// so tests can dial in an exact weighted frequency score.
type fakeInteractionStore struct {
	counts map[uuid.UUID]map[models.SourceType]int
}

func (f *fakeInteractionStore) Append(ctx context.Context, i *models.Interaction) (*models.Interaction, error) {
	return i, nil
}
func (f *fakeInteractionStore) ListByPerson(ctx context.Context, personID uuid.UUID) ([]*models.Interaction, error) {
	return nil, nil
}
func (f *fakeInteractionStore) ReassignPerson(ctx context.Context, from, to uuid.UUID, sourceTypes []models.SourceType) (int64, error) {
	return 0, nil
}
func (f *fakeInteractionStore) Rollup(ctx context.Context, personID uuid.UUID) (*interaction.Rollup, error) {
	return nil, nil
}
func (f *fakeInteractionStore) ChannelCounts(ctx context.Context, personID uuid.UUID, since time.Time) (map[models.SourceType]int, map[models.SourceType]int, error) {
	c := f.counts[personID]
	return c, c, nil
}

func newPersonStore(t *testing.T) *personstore.Store {
	t.Helper()
	return personstore.New(filepath.Join(t.TempDir(), "people.json"), zap.NewNop())
}

func newCfg(t *testing.T) *config.Registry {
	t.Helper()
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	return cfg
}

func TestRankAllTagsPeripheralAndSplitsCirclesByRank(t *testing.T) {
	persons := newPersonStore(t)
	cfg := newCfg(t)
	counts := map[uuid.UUID]map[models.SourceType]int{}
	interactions := &fakeInteractionStore{counts: counts}
	engine := strength.New(persons, fakeRelationshipStore{}, interactions, cfg, zap.NewNop())

	var ids []uuid.UUID
	for i := 0; i < 9; i++ {
		id := uuid.New()
		ids = append(ids, id)
		p := &models.Person{
			ID:            id,
			CanonicalName: "Person",
			Category:      models.CategoryPersonal,
			LastSeen:      time.Now().Add(-time.Duration(i*20) * 24 * time.Hour),
			Sources:       []string{"gmail", "slack"},
		}
		require.NoError(t, persons.Add(p))
		counts[id] = map[models.SourceType]int{models.SourceSlack: 50 - i*5}
	}

	// A tenth, clearly cold person: never seen, no interactions at all.
	peripheralID := uuid.New()
	require.NoError(t, persons.Add(&models.Person{
		ID: peripheralID, CanonicalName: "Cold Contact", Category: models.CategoryPersonal,
	}))

	results, err := engine.RankAll(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 10)

	byID := make(map[uuid.UUID]strength.RankResult, len(results))
	for _, r := range results {
		byID[r.PersonID] = r
	}

	peripheral := byID[peripheralID]
	assert.True(t, peripheral.Peripheral)
	assert.Equal(t, 7, peripheral.Circle)

	var nonPeripheral []strength.RankResult
	for _, r := range results {
		if !r.Peripheral {
			nonPeripheral = append(nonPeripheral, r)
		}
	}
	require.Len(t, nonPeripheral, 9)

	circleCounts := map[int]int{}
	for _, r := range nonPeripheral {
		circleCounts[r.Circle]++
	}
	assert.Equal(t, 5, circleCounts[1])
	assert.Equal(t, 4, circleCounts[2])
}

func TestRankAllHonorsCircleOverride(t *testing.T) {
	persons := newPersonStore(t)
	id := uuid.New()
	require.NoError(t, persons.Add(&models.Person{
		ID: id, CanonicalName: "VIP", Category: models.CategoryPersonal, LastSeen: time.Now(),
	}))

	configPath := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, writeFile(configPath, "overrides:\n  circle:\n    \""+id.String()+"\": 0\n"))
	cfg, err := config.Load(configPath)
	require.NoError(t, err)

	interactions := &fakeInteractionStore{counts: map[uuid.UUID]map[models.SourceType]int{}}
	engine := strength.New(persons, fakeRelationshipStore{}, interactions, cfg, zap.NewNop())

	results, err := engine.RankAll(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 0, results[0].Circle)
}

func writeFile(path, contents string) error {
	return os.WriteFile(path, []byte(contents), 0o644)
}

func TestPairStrengthRewardsLinkedInDiversityBonus(t *testing.T) {
	cfg := newCfg(t)
	engine := strength.New(nil, fakeRelationshipStore{}, nil, cfg, zap.NewNop())

	now := time.Now()
	base := &models.Relationship{SharedSlackCount: 5, LastSeenTogether: &now}
	withLinkedIn := &models.Relationship{SharedSlackCount: 5, LastSeenTogether: &now, IsLinkedInConnection: true}

	assert.True(t, engine.PairStrength(withLinkedIn) > engine.PairStrength(base))
}
