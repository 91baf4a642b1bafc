package personstore

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/personcrm/identity-engine/pkg/apperrors"
	"github.com/personcrm/identity-engine/pkg/models"
)

func newTestPerson(name, email string) *models.Person {
	return &models.Person{
		ID:            uuid.New(),
		CanonicalName: name,
		DisplayName:   name,
		Emails:        []string{email},
		Category:      models.CategoryUnknown,
		FirstSeen:     time.Now(),
		LastSeen:      time.Now(),
	}
}

func TestAddAndGetByID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	p := newTestPerson("Jane Doe", "jane@example.com")

	require.NoError(t, s.Add(p))

	got, err := s.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, p.CanonicalName, got.CanonicalName)

	// Mutating the returned copy must not affect the store.
	got.CanonicalName = "mutated"
	got2, err := s.GetByID(p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Jane Doe", got2.CanonicalName)
}

func TestGetByEmailAndPhone(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	p := newTestPerson("Jane Doe", "Jane@Example.com")
	p.PhoneNumbers = []string{"+15551234567"}
	require.NoError(t, s.Add(p))

	got, err := s.GetByEmail("jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)

	got, err = s.GetByPhone("+15551234567")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestGetByNameUsesAliases(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	p := newTestPerson("Jane Doe", "jane@example.com")
	p.AddAlias("Janie")
	require.NoError(t, s.Add(p))

	got, err := s.GetByName("janie")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestAddRejectsBlocklisted(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	s.blocklist.Add(models.BlocklistEntry{Identifier: "spam@example.com", IdentifierType: models.BlocklistEmail})

	p := newTestPerson("Spammer", "spam@example.com")
	err := s.Add(p)
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrBlocked)
}

func TestUpdateReindexes(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	p := newTestPerson("Jane Doe", "jane@old.com")
	require.NoError(t, s.Add(p))

	p.Emails = []string{"jane@new.com"}
	require.NoError(t, s.Update(p))

	_, err := s.GetByEmail("jane@old.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)

	got, err := s.GetByEmail("jane@new.com")
	require.NoError(t, err)
	assert.Equal(t, p.ID, got.ID)
}

func TestDeleteRemovesFromAllIndexes(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	p := newTestPerson("Jane Doe", "jane@example.com")
	require.NoError(t, s.Add(p))
	require.NoError(t, s.Delete(p.ID))

	_, err := s.GetByID(p.ID)
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
	_, err = s.GetByEmail("jane@example.com")
	assert.ErrorIs(t, err, apperrors.ErrNotFound)
}

func TestMergeChainFollowedOnGetByID(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	primary := newTestPerson("Jane Doe", "jane@example.com")
	require.NoError(t, s.Add(primary))

	secondary := uuid.New()
	s.RecordMerge(secondary, primary.ID)

	got, err := s.GetByID(secondary)
	require.NoError(t, err)
	assert.Equal(t, primary.ID, got.ID)
}

func TestSaveAndLoadRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	s := New(path, nil)
	p1 := newTestPerson("Jane Doe", "jane@example.com")
	p2 := newTestPerson("John Smith", "john@example.com")
	require.NoError(t, s.Add(p1))
	require.NoError(t, s.Add(p2))
	require.NoError(t, s.Save())

	s2 := New(path, nil)
	require.NoError(t, s2.Load())
	assert.Equal(t, 2, s2.Count())

	got, err := s2.GetByEmail("jane@example.com")
	require.NoError(t, err)
	assert.Equal(t, p1.CanonicalName, got.CanonicalName)
}

func TestLoadMissingFileStartsEmpty(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "does-not-exist.json"), nil)
	require.NoError(t, s.Load())
	assert.Equal(t, 0, s.Count())
}

func TestSaveRejectsMajorityDrop(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	s := New(path, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(newTestPerson("Person", uuid.New().String()+"@example.com")))
	}
	require.NoError(t, s.Save())

	// Simulate catastrophic data loss: drop to 2 of 10 records (80% drop).
	s2 := New(path, nil)
	require.NoError(t, s2.Load())
	ids := make([]uuid.UUID, 0, 10)
	s2.mu.RLock()
	for id := range s2.byID {
		ids = append(ids, id)
	}
	s2.mu.RUnlock()
	for _, id := range ids[2:] {
		require.NoError(t, s2.Delete(id))
	}

	err := s2.Save()
	require.Error(t, err)
	assert.ErrorIs(t, err, apperrors.ErrCorruptionGuard)

	// Original snapshot must remain authoritative.
	s3 := New(path, nil)
	require.NoError(t, s3.Load())
	assert.Equal(t, 10, s3.Count())
}

func TestPurgeBypassesCorruptionGuard(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	s := New(path, nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, s.Add(newTestPerson("Person", uuid.New().String()+"@example.com")))
	}
	require.NoError(t, s.Save())

	ids := make([]uuid.UUID, 0, 10)
	s.mu.RLock()
	for id := range s.byID {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	for _, id := range ids[2:] {
		require.NoError(t, s.Delete(id))
	}

	require.NoError(t, s.Purge())

	s2 := New(path, nil)
	require.NoError(t, s2.Load())
	assert.Equal(t, 2, s2.Count())
}

func TestHideBlocklistsIdentifiers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "people.json")
	s := New(path, nil)
	p := newTestPerson("Jane Doe", "jane@example.com")
	p.PhoneNumbers = []string{"+15551234567"}
	require.NoError(t, s.Add(p))

	require.NoError(t, s.Hide(p.ID, "duplicate of another record"))

	got, err := s.GetByID(p.ID)
	require.NoError(t, err)
	assert.True(t, got.Hidden)
	assert.Equal(t, "duplicate of another record", got.HiddenReason)
	assert.NotNil(t, got.HiddenAt)

	assert.True(t, s.Blocklist().Contains(models.BlocklistEmail, "jane@example.com"))
	assert.True(t, s.Blocklist().Contains(models.BlocklistPhone, "+15551234567"))
}

func TestSearchExcludesHiddenByDefault(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	visible := newTestPerson("Jane Doe", "jane@example.com")
	hidden := newTestPerson("Jane Smith", "janes@example.com")
	require.NoError(t, s.Add(visible))
	require.NoError(t, s.Add(hidden))
	require.NoError(t, s.Hide(hidden.ID, "spam"))

	results := s.Search("jane", SearchOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, visible.ID, results[0].ID)

	results = s.Search("jane", SearchOptions{IncludeHidden: true})
	assert.Len(t, results, 2)
}

func TestSearchExcludesMergedAwayByDefault(t *testing.T) {
	s := New(filepath.Join(t.TempDir(), "people.json"), nil)
	primary := newTestPerson("Jane Doe", "jane@example.com")
	secondary := newTestPerson("Jane D.", "janed@example.com")
	require.NoError(t, s.Add(primary))
	require.NoError(t, s.Add(secondary))
	s.RecordMerge(secondary.ID, primary.ID)

	results := s.Search("jane", SearchOptions{})
	require.Len(t, results, 1)
	assert.Equal(t, primary.ID, results[0].ID)

	results = s.Search("jane", SearchOptions{IncludeMergedAway: true})
	assert.Len(t, results, 2)
}
