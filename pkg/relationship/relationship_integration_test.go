//go:build integration

package relationship_test

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
	"github.com/personcrm/identity-engine/pkg/relationship"
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

func TestIncrementSharedCreatesEdgeWithNormalizedPairOrder(t *testing.T) {
	ctx := setup(t)
	store := relationship.New()

	a, b := uuid.New(), uuid.New()
	// Call with the "wrong" order; the store must normalize.
	hi, lo := a, b
	if hi.String() < lo.String() {
		hi, lo = lo, hi
	}

	now := time.Now()
	require.NoError(t, store.IncrementShared(ctx, relationship.ChannelSlack, hi, lo, now, "eng-team"))

	rel, err := store.GetByPair(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, rel.PersonAID.String() < rel.PersonBID.String())
	assert.Equal(t, 1, rel.SharedSlackCount)
	assert.Contains(t, rel.SharedContexts, "eng-team")
}

func TestIncrementSharedAccumulates(t *testing.T) {
	ctx := setup(t)
	store := relationship.New()

	a, b := uuid.New(), uuid.New()
	t1 := time.Now().Add(-48 * time.Hour)
	t2 := time.Now()

	require.NoError(t, store.IncrementShared(ctx, relationship.ChannelPhoneCall, a, b, t1, "family"))
	require.NoError(t, store.IncrementShared(ctx, relationship.ChannelPhoneCall, a, b, t2, "family"))

	rel, err := store.GetByPair(ctx, a, b)
	require.NoError(t, err)
	assert.Equal(t, 2, rel.SharedPhoneCallsCount)
	assert.WithinDuration(t, t1, *rel.FirstSeenTogether, time.Second)
	assert.WithinDuration(t, t2, *rel.LastSeenTogether, time.Second)
	// shared_contexts should not have a duplicate "family" entry.
	assert.Len(t, rel.SharedContexts, 1)
}

func TestGetByPersonReturnsBothEndpoints(t *testing.T) {
	ctx := setup(t)
	store := relationship.New()

	a, b, c := uuid.New(), uuid.New(), uuid.New()
	require.NoError(t, store.IncrementShared(ctx, relationship.ChannelEvent, a, b, time.Now(), "offsite"))
	require.NoError(t, store.IncrementShared(ctx, relationship.ChannelEvent, a, c, time.Now(), "offsite"))

	rels, err := store.GetByPerson(ctx, a)
	require.NoError(t, err)
	assert.Len(t, rels, 2)
}

func TestSetLinkedInConnection(t *testing.T) {
	ctx := setup(t)
	store := relationship.New()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, store.SetLinkedInConnection(ctx, a, b))

	rel, err := store.GetByPair(ctx, a, b)
	require.NoError(t, err)
	assert.True(t, rel.IsLinkedInConnection)
}

func TestDeleteByPair(t *testing.T) {
	ctx := setup(t)
	store := relationship.New()

	a, b := uuid.New(), uuid.New()
	require.NoError(t, store.SetLinkedInConnection(ctx, a, b))
	require.NoError(t, store.DeleteByPair(ctx, a, b))

	_, err := store.GetByPair(ctx, a, b)
	assert.Error(t, err)
}
