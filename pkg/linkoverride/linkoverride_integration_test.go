//go:build integration

package linkoverride_test

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
	"github.com/personcrm/identity-engine/pkg/linkoverride"
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

func TestCreateAndListCandidates(t *testing.T) {
	ctx := setup(t)
	store := linkoverride.New()
	preferred := uuid.New()

	_, err := store.Create(ctx, &models.LinkOverride{
		NamePattern:       "Sarah",
		PreferredPersonID: preferred,
		Reason:            "disambiguation rule",
	})
	require.NoError(t, err)

	candidates, err := store.ListCandidates(ctx, "sarah")
	require.NoError(t, err)
	require.Len(t, candidates, 1)
	assert.Equal(t, preferred, candidates[0].PreferredPersonID)
}

func TestListCandidatesIsCaseInsensitive(t *testing.T) {
	ctx := setup(t)
	store := linkoverride.New()

	_, err := store.Create(ctx, &models.LinkOverride{
		NamePattern:       "Ben Smith",
		PreferredPersonID: uuid.New(),
	})
	require.NoError(t, err)

	candidates, err := store.ListCandidates(ctx, "BEN SMITH")
	require.NoError(t, err)
	assert.Len(t, candidates, 1)
}

func TestDelete(t *testing.T) {
	ctx := setup(t)
	store := linkoverride.New()

	created, err := store.Create(ctx, &models.LinkOverride{
		NamePattern:       "Temp Rule",
		PreferredPersonID: uuid.New(),
	})
	require.NoError(t, err)

	require.NoError(t, store.Delete(ctx, created.ID))

	candidates, err := store.ListCandidates(ctx, "Temp Rule")
	require.NoError(t, err)
	assert.Empty(t, candidates)
}

func TestDeleteMissingReturnsNotFound(t *testing.T) {
	ctx := setup(t)
	store := linkoverride.New()

	err := store.Delete(ctx, uuid.New())
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}
