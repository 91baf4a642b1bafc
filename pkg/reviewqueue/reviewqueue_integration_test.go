//go:build integration

package reviewqueue_test

import (
	"context"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/database"
	"github.com/personcrm/identity-engine/pkg/models"
	"github.com/personcrm/identity-engine/pkg/reviewqueue"
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

func TestEnqueueDuplicateIsIdempotentOverUnorderedPair(t *testing.T) {
	ctx := setup(t)
	store := reviewqueue.New()
	a, b := uuid.New(), uuid.New()

	first, err := store.EnqueueDuplicate(ctx, a, b, 0.6, "similar names")
	require.NoError(t, err)

	second, err := store.EnqueueDuplicate(ctx, b, a, 0.7, "similar names, seen again")
	require.NoError(t, err)

	assert.Equal(t, first.ID, second.ID)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Len(t, pending, 1)
}

func TestEnqueueSingleForNonHuman(t *testing.T) {
	ctx := setup(t)
	store := reviewqueue.New()
	person := uuid.New()

	item, err := store.EnqueueSingle(ctx, models.ReviewNonHuman, person, 0.9, "mailing list pattern")
	require.NoError(t, err)
	assert.Nil(t, item.PersonBID)
	assert.Equal(t, models.ReviewNonHuman, item.ReviewType)
}

func TestTransitionValidatesLifecycle(t *testing.T) {
	ctx := setup(t)
	store := reviewqueue.New()
	a, b := uuid.New(), uuid.New()

	item, err := store.EnqueueDuplicate(ctx, a, b, 0.6, "similar names")
	require.NoError(t, err)

	merged, err := store.Transition(ctx, item.ID, models.ReviewMerged)
	require.NoError(t, err)
	assert.Equal(t, models.ReviewMerged, merged.Status)
	assert.NotNil(t, merged.ReviewedAt)

	_, err = store.Transition(ctx, item.ID, models.ReviewSkipped)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrInvalidTransition)
}

func TestRemoveReferencingDeletesPendingItems(t *testing.T) {
	ctx := setup(t)
	store := reviewqueue.New()
	a, b, c := uuid.New(), uuid.New(), uuid.New()

	_, err := store.EnqueueDuplicate(ctx, a, b, 0.5, "r1")
	require.NoError(t, err)
	_, err = store.EnqueueDuplicate(ctx, a, c, 0.5, "r2")
	require.NoError(t, err)

	removed, err := store.RemoveReferencing(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	pending, err := store.ListPending(ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}
