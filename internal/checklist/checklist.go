package checklist

import "taxline/internal/domain"

// Summarize reduces checklist items to a completion signal. Only required items
// count; a checklist with no required items is never complete.
func Summarize(items []domain.ChecklistItem) domain.ChecklistCompletion {
	var c domain.ChecklistCompletion
	for _, it := range items {
		if !it.Required {
			continue
		}
		c.RequiredCount++
		if it.Status.Satisfied() {
			c.ReceivedCount++
		}
	}
	if c.RequiredCount > 0 {
		c.Percentage = float64(c.ReceivedCount) * 100 / float64(c.RequiredCount)
	}
	c.Complete = c.RequiredCount > 0 && c.ReceivedCount == c.RequiredCount
	return c
}

// Edge describes how completion moved between two evaluations.
type Edge int

const (
	Unchanged Edge = iota
	BecameComplete
	BecameIncomplete
)

// EdgeOf compares the previously persisted state with the fresh one.
func EdgeOf(wasComplete, isComplete bool) Edge {
	switch {
	case isComplete && !wasComplete:
		return BecameComplete
	case !isComplete && wasComplete:
		return BecameIncomplete
	}
	return Unchanged
}
