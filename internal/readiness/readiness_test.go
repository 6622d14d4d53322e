package readiness_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taxline/internal/domain"
	"taxline/internal/readiness"
)

var now = time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)

func TestEvaluateAllCombinations(t *testing.T) {
	for mask := 0; mask < 32; mask++ {
		signed := mask&1 != 0
		checklistDone := mask&2 != 0
		confirmation := mask&4 != 0
		questionnaire := mask&8 != 0
		idValid := mask&16 != 0

		e := domain.EngagementYear{
			EngagementSigned:       signed,
			DocConfirmationSigned:  confirmation,
			QuestionnaireCompleted: questionnaire,
			IDValid:                idValid,
		}
		c := domain.ChecklistCompletion{RequiredCount: 4, ReceivedCount: 3}
		if checklistDone {
			c = domain.ChecklistCompletion{Complete: true, RequiredCount: 4, ReceivedCount: 4, Percentage: 100}
		}
		res := readiness.Evaluate(e, c, now)
		want := mask == 31
		require.Equal(t, want, res.Ready, "mask %05b", mask)
		assert.Equal(t, 5-popcount(mask), len(res.Reasons), "mask %05b", mask)
	}
}

func TestReasonsFollowGateOrder(t *testing.T) {
	res := readiness.Evaluate(domain.EngagementYear{}, domain.ChecklistCompletion{RequiredCount: 10, ReceivedCount: 9}, now)
	assert.False(t, res.Ready)
	assert.Equal(t, []string{
		readiness.ReasonEngagementUnsigned,
		"Checklist incomplete (9/10)",
		readiness.ReasonConfirmationUnsigned,
		readiness.ReasonQuestionnaire,
		readiness.ReasonIDInvalid,
	}, res.Reasons)
	assert.Equal(t, []readiness.Gate{
		readiness.GateEngagementSigned,
		readiness.GateChecklistComplete,
		readiness.GateDocConfirmationSigned,
		readiness.GateQuestionnaireCompleted,
		readiness.GateIDValid,
	}, res.Failed)
}

func TestExpiredIDBlocks(t *testing.T) {
	expired := now.Add(-time.Hour)
	e := domain.EngagementYear{
		EngagementSigned:       true,
		DocConfirmationSigned:  true,
		QuestionnaireCompleted: true,
		IDValid:                true,
		IDExpiresAt:            &expired,
	}
	res := readiness.Evaluate(e, domain.ChecklistCompletion{Complete: true, RequiredCount: 1, ReceivedCount: 1}, now)
	assert.False(t, res.Ready)
	assert.Equal(t, []string{readiness.ReasonIDInvalid}, res.Reasons)
}

func popcount(v int) int {
	n := 0
	for v != 0 {
		n += v & 1
		v >>= 1
	}
	return n
}
