package checklist_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"taxline/internal/checklist"
	"taxline/internal/domain"
)

func items(required bool, statuses ...domain.ChecklistStatus) []domain.ChecklistItem {
	out := make([]domain.ChecklistItem, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, domain.ChecklistItem{Required: required, Status: s})
	}
	return out
}

func TestSummarizeEmptyNeverComplete(t *testing.T) {
	c := checklist.Summarize(nil)
	assert.False(t, c.Complete)
	assert.Zero(t, c.Percentage)
	assert.Zero(t, c.RequiredCount)

	c = checklist.Summarize(items(false, domain.ChecklistReceived, domain.ChecklistReceived))
	assert.False(t, c.Complete, "optional-only checklist must not be complete")
	assert.Zero(t, c.ReceivedCount)
}

func TestSummarizeNinetyPercent(t *testing.T) {
	list := items(true,
		domain.ChecklistReceived, domain.ChecklistReceived, domain.ChecklistReceived,
		domain.ChecklistReceived, domain.ChecklistReceived, domain.ChecklistReceived,
		domain.ChecklistReceived, domain.ChecklistReceived, domain.ChecklistReceived,
		domain.ChecklistPending,
	)
	c := checklist.Summarize(list)
	assert.False(t, c.Complete)
	assert.Equal(t, 10, c.RequiredCount)
	assert.Equal(t, 9, c.ReceivedCount)
	assert.InDelta(t, 90.0, c.Percentage, 0.0001)

	list[9].Status = domain.ChecklistReceived
	c = checklist.Summarize(list)
	assert.True(t, c.Complete)
	assert.InDelta(t, 100.0, c.Percentage, 0.0001)
}

func TestNotApplicableCountsAndOptionalIgnored(t *testing.T) {
	list := append(items(true, domain.ChecklistReceived, domain.ChecklistNotApplicable),
		items(false, domain.ChecklistPending)...)
	c := checklist.Summarize(list)
	assert.True(t, c.Complete)
	assert.Equal(t, 2, c.RequiredCount)
	assert.Equal(t, 2, c.ReceivedCount)
}

func TestEdgeOf(t *testing.T) {
	assert.Equal(t, checklist.BecameComplete, checklist.EdgeOf(false, true))
	assert.Equal(t, checklist.BecameIncomplete, checklist.EdgeOf(true, false))
	assert.Equal(t, checklist.Unchanged, checklist.EdgeOf(true, true))
	assert.Equal(t, checklist.Unchanged, checklist.EdgeOf(false, false))
}
