//go:build integration

package interaction_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/interaction"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/testhelpers"
)

func migrationsPath(t *testing.T) string {
	t.Helper()
	_, thisFile, _, ok := runtime.Caller(0)
	require.True(t, ok)
	return filepath.Join(filepath.Dir(thisFile), "..", "..", "migrations")
}

func setup(t *testing.T) context.Context {
	t.Helper()
	idb := testhelpers.GetIdentityDB(t, migrationsPath(t))
	testhelpers.TruncateAll(t, idb.DB)
	return database.WithConn(context.Background(), idb.DB.Pool)
}

func TestAppendIsIdempotentOnSourceIdentity(t *testing.T) {
	ctx := setup(t)
	store := interaction.New()
	person := uuid.New()

	first, err := store.Append(ctx, &models.Interaction{
		PersonID: person, Timestamp: time.Now(), SourceType: models.SourceGmail,
		SourceID: "msg-1", Title: "Hello",
	})
	require.NoError(t, err)

	second, err := store.Append(ctx, &models.Interaction{
		PersonID: person, Timestamp: time.Now(), SourceType: models.SourceGmail,
		SourceID: "msg-1", Title: "Hello (edited)",
	})
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	all, err := store.ListByPerson(ctx, person)
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestReassignPersonMovesAllBySourceTypeFilter(t *testing.T) {
	ctx := setup(t)
	store := interaction.New()
	a, b := uuid.New(), uuid.New()

	_, err := store.Append(ctx, &models.Interaction{PersonID: a, Timestamp: time.Now(), SourceType: models.SourceGmail, SourceID: "g1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Interaction{PersonID: a, Timestamp: time.Now(), SourceType: models.SourceCalendar, SourceID: "c1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Interaction{PersonID: a, Timestamp: time.Now(), SourceType: models.SourceVault, SourceID: "v1"})
	require.NoError(t, err)

	moved, err := store.ReassignPerson(ctx, a, b, []models.SourceType{models.SourceVault, models.SourceGranola})
	require.NoError(t, err)
	assert.Equal(t, int64(1), moved)

	rollupA, err := store.Rollup(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, 1, rollupA.Counts.EmailCount)
	assert.Equal(t, 1, rollupA.Counts.MeetingCount)
	assert.Equal(t, 0, rollupA.Counts.MentionCount)

	rollupB, err := store.Rollup(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, rollupB.Counts.MentionCount)
}

func TestReassignPersonMovesEverythingWithNoFilter(t *testing.T) {
	ctx := setup(t)
	store := interaction.New()
	a, b := uuid.New(), uuid.New()

	_, err := store.Append(ctx, &models.Interaction{PersonID: a, Timestamp: time.Now(), SourceType: models.SourceGmail, SourceID: "g2"})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Interaction{PersonID: a, Timestamp: time.Now(), SourceType: models.SourceSlack, SourceID: "s1"})
	require.NoError(t, err)

	moved, err := store.ReassignPerson(ctx, a, b, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(2), moved)

	rollupA, err := store.Rollup(ctx, a)
	require.NoError(t, err)
	assert.False(t, rollupA.HasAnyRecord)

	rollupB, err := store.Rollup(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 1, rollupB.Counts.EmailCount)
	assert.Equal(t, 1, rollupB.Counts.SlackMessageCount)
}

func TestChannelCountsSplitsRecentAndLifetime(t *testing.T) {
	ctx := setup(t)
	store := interaction.New()
	person := uuid.New()
	cutoff := time.Now().Add(-24 * time.Hour)

	_, err := store.Append(ctx, &models.Interaction{PersonID: person, Timestamp: time.Now(), SourceType: models.SourceSlack, SourceID: "recent-1"})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Interaction{PersonID: person, Timestamp: cutoff.Add(-48 * time.Hour), SourceType: models.SourceSlack, SourceID: "old-1"})
	require.NoError(t, err)

	recent, lifetime, err := store.ChannelCounts(ctx, person, cutoff)
	require.NoError(t, err)
	assert.Equal(t, 1, recent[models.SourceSlack])
	assert.Equal(t, 2, lifetime[models.SourceSlack])
}

func TestRollupFirstAndLastSeenSpanAllSourceTypes(t *testing.T) {
	ctx := setup(t)
	store := interaction.New()
	person := uuid.New()

	early := time.Now().Add(-72 * time.Hour)
	late := time.Now()

	_, err := store.Append(ctx, &models.Interaction{PersonID: person, Timestamp: early, SourceType: models.SourceCalendar, SourceID: "c10"})
	require.NoError(t, err)
	_, err = store.Append(ctx, &models.Interaction{PersonID: person, Timestamp: late, SourceType: models.SourceGmail, SourceID: "g10"})
	require.NoError(t, err)

	rollup, err := store.Rollup(ctx, person)
	require.NoError(t, err)
	assert.WithinDuration(t, early, rollup.FirstSeen, time.Second)
	assert.WithinDuration(t, late, rollup.LastSeen, time.Second)
}
