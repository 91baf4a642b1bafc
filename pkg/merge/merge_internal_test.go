package merge

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/personcrm/identity-engine/pkg/models"
)

func TestMergeIdentifiersUnionsSetsAndPrefersHigherCategoryPriority(t *testing.T) {
	primary := &models.Person{
		CanonicalName: "Jane Smith", Category: models.CategoryWork,
		Emails: []string{"jane@work.com"}, Tags: []string{"vip"},
	}
	secondary := &models.Person{
		CanonicalName: "Jane K. Smith", Category: models.CategoryFamily,
		Emails: []string{"jane@home.com"}, Aliases: []string{"Janie"}, Tags: []string{"college"},
	}

	mergeIdentifiers(primary, secondary)

	assert.ElementsMatch(t, []string{"jane@work.com", "jane@home.com"}, primary.Emails)
	assert.Contains(t, primary.Aliases, "Jane K. Smith")
	assert.Contains(t, primary.Aliases, "Janie")
	assert.ElementsMatch(t, []string{"vip", "college"}, primary.Tags)
	assert.Equal(t, models.CategoryFamily, primary.Category, "family has higher priority than work")
}

func TestMergeIdentifiersKeepsPrimaryCategoryWhenSecondaryIsLowerPriority(t *testing.T) {
	primary := &models.Person{Category: models.CategoryFamily}
	secondary := &models.Person{Category: models.CategoryUnknown}

	mergeIdentifiers(primary, secondary)

	assert.Equal(t, models.CategoryFamily, primary.Category)
}

func TestMergeNotesConcatenatesDistinctNotesWithSeparator(t *testing.T) {
	merged := mergeNotes("met at conference", "friend from college")
	assert.Contains(t, merged, "met at conference")
	assert.Contains(t, merged, "friend from college")
	assert.Contains(t, merged, notesSeparator)
}

func TestMergeNotesReturnsNonEmptySideWhenOtherIsBlank(t *testing.T) {
	assert.Equal(t, "only note", mergeNotes("only note", ""))
	assert.Equal(t, "only note", mergeNotes("", "only note"))
}

func TestMergeNotesAvoidsDuplicatingIdenticalNotes(t *testing.T) {
	assert.Equal(t, "same note", mergeNotes("same note", "same note"))
}

func TestMergeEdgeIntoSumsCountersAndUnionsContexts(t *testing.T) {
	now := time.Now()
	earlier := now.Add(-48 * time.Hour)

	existing := &models.Relationship{
		SharedSlackCount: 3, SharedContexts: []string{"eng-team"},
		FirstSeenTogether: &now, LastSeenTogether: &earlier,
	}
	incoming := &models.Relationship{
		SharedSlackCount: 5, SharedContexts: []string{"eng-team", "offsite"},
		IsLinkedInConnection: true, FirstSeenTogether: &earlier, LastSeenTogether: &now,
	}

	mergeEdgeInto(existing, incoming)

	assert.Equal(t, 8, existing.SharedSlackCount)
	assert.ElementsMatch(t, []string{"eng-team", "offsite"}, existing.SharedContexts)
	assert.True(t, existing.IsLinkedInConnection)
	assert.Equal(t, earlier, *existing.FirstSeenTogether)
	assert.Equal(t, now, *existing.LastSeenTogether)
}

func TestRefreshSourcesFieldRemovesMovedTypesFromDonor(t *testing.T) {
	p := &models.Person{Sources: []string{"gmail", "slack", "vault"}}
	refreshSourcesField(p, []models.SourceType{models.SourceSlack}, false)
	assert.ElementsMatch(t, []string{"gmail", "vault"}, p.Sources)
}

func TestRefreshSourcesFieldAddsMovedTypesToRecipient(t *testing.T) {
	p := &models.Person{}
	refreshSourcesField(p, []models.SourceType{models.SourceSlack}, true)
	assert.Contains(t, p.Sources, "slack")
}

func TestApplyRollupPrefersEarliestFirstSeenAndLatestLastSeen(t *testing.T) {
	primary := &models.Person{
		FirstSeen: time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
		LastSeen:  time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC),
	}
	secondary := &models.Person{
		FirstSeen: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		LastSeen:  time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	applyRollup(primary, nil, secondary)

	assert.Equal(t, secondary.FirstSeen, primary.FirstSeen)
	assert.Equal(t, time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), primary.LastSeen)
}
