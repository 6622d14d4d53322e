// Package readiness combines the five preparation gates into a single verdict.
package readiness

import (
	"fmt"
	"time"

	"taxline/internal/domain"
)

// Gate identifies one readiness precondition. Gates are reported in declaration order.
type Gate int

const (
	GateEngagementSigned Gate = iota + 1
	GateChecklistComplete
	GateDocConfirmationSigned
	GateQuestionnaireCompleted
	GateIDValid
)

const (
	ReasonEngagementUnsigned   = "Engagement letter not signed"
	ReasonConfirmationUnsigned = "Document receipt confirmation not signed"
	ReasonQuestionnaire        = "Questionnaire not completed"
	ReasonIDInvalid            = "ID missing or expired"
)

// Result is the outcome of one evaluation.
type Result struct {
	Ready   bool     `json:"ready"`
	Reasons []string `json:"reasons"`
	Failed  []Gate   `json:"-"`
}

// Evaluate checks every gate against the engagement, its live checklist completion
// and the clock used for ID expiry.
func Evaluate(e domain.EngagementYear, c domain.ChecklistCompletion, now time.Time) Result {
	res := Result{Reasons: []string{}}
	fail := func(g Gate, reason string) {
		res.Failed = append(res.Failed, g)
		res.Reasons = append(res.Reasons, reason)
	}
	if !e.EngagementSigned {
		fail(GateEngagementSigned, ReasonEngagementUnsigned)
	}
	if !c.Complete {
		fail(GateChecklistComplete, ChecklistReason(c))
	}
	if !e.DocConfirmationSigned {
		fail(GateDocConfirmationSigned, ReasonConfirmationUnsigned)
	}
	if !e.QuestionnaireCompleted {
		fail(GateQuestionnaireCompleted, ReasonQuestionnaire)
	}
	if !e.IDCurrentlyValid(now) {
		fail(GateIDValid, ReasonIDInvalid)
	}
	res.Ready = len(res.Failed) == 0
	return res
}

// ChecklistReason renders the live checklist counts.
func ChecklistReason(c domain.ChecklistCompletion) string {
	return fmt.Sprintf("Checklist incomplete (%d/%d)", c.ReceivedCount, c.RequiredCount)
}
