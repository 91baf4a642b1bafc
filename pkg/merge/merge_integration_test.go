//go:build integration

package merge_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/personcrm/identity-engine/pkg/config"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/linkoverride"
	"github.com/personcrm/identity-engine/pkg/merge"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/personstore"
	"github.com/personcrm/identity-engine/pkg/relationship"
	"github.com/personcrm/identity-engine/pkg/reviewqueue"
	"github.com/personcrm/identity-engine/pkg/sourceentity"
	"github.com/personcrm/identity-engine/pkg/strength"
	"github.com/personcrm/identity-engine/pkg/testhelpers"
)

func migrationsPath(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}

type harness struct {
	engine  *merge.Engine
	persons *personstore.Store
	sources sourceentity.Store
	ixns    interaction.Store
	rels    relationship.Store
}

func newHarness(t *testing.T) (context.Context, *harness) {
	t.Helper()
	idb := testhelpers.GetIdentityDB(t, migrationsPath(t))
	testhelpers.TruncateAll(t, idb.DB)

	persons := personstore.New(filepath.Join(t.TempDir(), "people.json"), zap.NewNop())
	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	sources := sourceentity.New()
	ixns := interaction.New()
	rels := relationship.New()
	overrides := linkoverride.New()
	reviews := reviewqueue.New()
	strengthEngine := strength.New(persons, rels, ixns, cfg, zap.NewNop())

	engine := merge.New(idb.DB, persons, sources, ixns, rels, overrides, reviews, strengthEngine, zap.NewNop())
	return context.Background(), &harness{engine: engine, persons: persons, sources: sources, ixns: ixns, rels: rels}
}

func seedPerson(t *testing.T, store *personstore.Store, p *models.Person) *models.Person {
	t.Helper()
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	require.NoError(t, store.Add(p))
	return p
}

func TestMergeFoldsIdentifiersAndReassignsOwnedRows(t *testing.T) {
	ctx, h := newHarness(t)

	primary := seedPerson(t, h.persons, &models.Person{
		CanonicalName: "Jane Smith", Category: models.CategoryWork,
		Emails: []string{"jane@work.com"}, Notes: "met at conference",
	})
	secondary := seedPerson(t, h.persons, &models.Person{
		CanonicalName: "Jane K. Smith", Category: models.CategoryFamily,
		Emails: []string{"jane.smith@gmail.com"}, Notes: "friend from college",
	})

	_, err := h.sources.AddOrUpdate(ctx, &models.SourceEntity{
		SourceType: models.SourceGmail, SourceID: "g1", ObservedName: "Jane Smith",
		CanonicalPersonID: &secondary.ID, LinkStatus: models.Auto(0.9),
	})
	require.NoError(t, err)

	_, err = h.ixns.Append(ctx, &models.Interaction{
		PersonID: secondary.ID, Timestamp: time.Now(), SourceType: models.SourceGmail, SourceID: "msg-1",
	})
	require.NoError(t, err)

	require.NoError(t, h.engine.Merge(ctx, primary.ID, secondary.ID, nil))

	merged, err := h.persons.GetByID(primary.ID)
	require.NoError(t, err)
	assert.Contains(t, merged.Emails, "jane@work.com")
	assert.Contains(t, merged.Emails, "jane.smith@gmail.com")
	assert.Contains(t, merged.Aliases, "Jane K. Smith")
	assert.Equal(t, models.CategoryFamily, merged.Category, "family outranks work")
	assert.Contains(t, merged.Notes, "met at conference")
	assert.Contains(t, merged.Notes, "friend from college")
	assert.Equal(t, 1, merged.Counts.EmailCount)

	resolved, err := h.persons.GetByID(secondary.ID)
	require.NoError(t, err)
	assert.Equal(t, primary.ID, resolved.ID, "secondary resolves through the merge chain to primary")

	moved, err := h.sources.GetBySourceID(ctx, models.SourceGmail, "g1")
	require.NoError(t, err)
	require.NotNil(t, moved.CanonicalPersonID)
	assert.Equal(t, primary.ID, *moved.CanonicalPersonID)
}

func TestMergeDropsSelfLoopAndSumsSharedEdge(t *testing.T) {
	ctx, h := newHarness(t)

	primary := seedPerson(t, h.persons, &models.Person{CanonicalName: "Alice"})
	secondary := seedPerson(t, h.persons, &models.Person{CanonicalName: "Alicia"})
	third := seedPerson(t, h.persons, &models.Person{CanonicalName: "Bob"})

	// A self-loop edge: primary and secondary already linked somehow.
	require.NoError(t, h.rels.Upsert(ctx, &models.Relationship{
		PersonAID: primary.ID, PersonBID: secondary.ID, SharedSlackCount: 2,
	}))
	// Primary already shares an edge with third.
	require.NoError(t, h.rels.Upsert(ctx, &models.Relationship{
		PersonAID: primary.ID, PersonBID: third.ID, SharedSlackCount: 3,
	}))
	// Secondary also shares an edge with third; should sum into primary/third.
	require.NoError(t, h.rels.Upsert(ctx, &models.Relationship{
		PersonAID: secondary.ID, PersonBID: third.ID, SharedSlackCount: 5,
	}))

	require.NoError(t, h.engine.Merge(ctx, primary.ID, secondary.ID, nil))

	_, err := h.rels.GetByPair(ctx, primary.ID, secondary.ID)
	assert.Error(t, err, "self-loop edge must be gone")

	combined, err := h.rels.GetByPair(ctx, primary.ID, third.ID)
	require.NoError(t, err)
	assert.Equal(t, 8, combined.SharedSlackCount)
}

func TestSplitMovesOnlySelectedSourceTypes(t *testing.T) {
	ctx, h := newHarness(t)

	source := seedPerson(t, h.persons, &models.Person{CanonicalName: "Busy Contact", Sources: []string{"gmail", "slack"}})

	_, err := h.sources.AddOrUpdate(ctx, &models.SourceEntity{
		SourceType: models.SourceGmail, SourceID: "g10", ObservedName: "Busy Contact",
		CanonicalPersonID: &source.ID, LinkStatus: models.Auto(0.9),
	})
	require.NoError(t, err)
	_, err = h.sources.AddOrUpdate(ctx, &models.SourceEntity{
		SourceType: models.SourceSlack, SourceID: "s10", ObservedName: "Busy Contact",
		CanonicalPersonID: &source.ID, LinkStatus: models.Auto(0.9),
	})
	require.NoError(t, err)
	_, err = h.ixns.Append(ctx, &models.Interaction{
		PersonID: source.ID, Timestamp: time.Now(), SourceType: models.SourceSlack, SourceID: "sm1",
	})
	require.NoError(t, err)

	targetID, err := h.engine.Split(ctx, source.ID, merge.SplitTarget{NewPersonName: "Split Off"},
		[]models.SourceType{models.SourceSlack}, nil)
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, targetID)

	remaining, err := h.sources.GetBySourceID(ctx, models.SourceGmail, "g10")
	require.NoError(t, err)
	assert.Equal(t, source.ID, *remaining.CanonicalPersonID)

	moved, err := h.sources.GetBySourceID(ctx, models.SourceSlack, "s10")
	require.NoError(t, err)
	assert.Equal(t, targetID, *moved.CanonicalPersonID)

	sourcePerson, err := h.persons.GetByID(source.ID)
	require.NoError(t, err)
	assert.Contains(t, sourcePerson.Sources, "gmail")
	assert.NotContains(t, sourcePerson.Sources, "slack")

	targetPerson, err := h.persons.GetByID(targetID)
	require.NoError(t, err)
	assert.Contains(t, targetPerson.Sources, "slack")
	assert.Equal(t, 1, targetPerson.Counts.SlackMessageCount)
}
