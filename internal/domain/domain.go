package domain

import (
	"fmt"
	"time"
)

// Status is an engagement lifecycle stage.
type Status string

const (
	StatusInvited              Status = "INVITED"
	StatusEngaged              Status = "ENGAGED"
	StatusCollectingDocs       Status = "COLLECTING_DOCS"
	StatusAwaitingConfirmation Status = "AWAITING_CONFIRMATION"
	StatusReadyForPrep         Status = "READY_FOR_PREP"
	StatusInPrep               Status = "IN_PREP"
	StatusAwaitingEfileAuth    Status = "AWAITING_EFILE_AUTH"
	StatusFiled                Status = "FILED"
)

// Statuses lists every lifecycle stage in happy-path order.
var Statuses = []Status{
	StatusInvited,
	StatusEngaged,
	StatusCollectingDocs,
	StatusAwaitingConfirmation,
	StatusReadyForPrep,
	StatusInPrep,
	StatusAwaitingEfileAuth,
	StatusFiled,
}

// ParseStatus returns the Status named by s or an error for unknown values.
func ParseStatus(s string) (Status, error) {
	for _, st := range Statuses {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown lifecycle status %q", s)
}

// Terminal reports whether no further work happens after this stage.
func (s Status) Terminal() bool { return s == StatusFiled }

// ActorKind distinguishes human-initiated changes from automatic ones.
type ActorKind string

const (
	ActorHuman  ActorKind = "human"
	ActorSystem ActorKind = "system"
)

// Actor identifies who caused a change.
type Actor struct {
	Kind ActorKind `json:"kind" enum:"human,system"`
	ID   string    `json:"id"`
}

// SystemActor is used for auto-transitions fired by collaborators.
var SystemActor = Actor{Kind: ActorSystem, ID: "system"}

// Human returns a human actor with the given identifier.
func Human(id string) Actor { return Actor{Kind: ActorHuman, ID: id} }

func (a Actor) String() string {
	if a.Kind == ActorSystem {
		return "system"
	}
	return a.ID
}

// EngagementYear is one client entity's engagement for one tax year.
type EngagementYear struct {
	ID                     string     `json:"id"`
	ClientID               string     `json:"client_id"`
	EntityID               string     `json:"entity_id"`
	TaxYear                int        `json:"tax_year"`
	Status                 Status     `json:"status"`
	EngagementSigned       bool       `json:"engagement_signed"`
	DocConfirmationSigned  bool       `json:"doc_confirmation_signed"`
	QuestionnaireCompleted bool       `json:"questionnaire_completed"`
	IDValid                bool       `json:"id_valid"`
	IDExpiresAt            *time.Time `json:"id_expires_at,omitempty" format:"date-time"`
	ChecklistCompleteAt    *time.Time `json:"checklist_complete_at,omitempty" format:"date-time"`
	ReadyForPrep           bool       `json:"ready_for_prep"`
	ExtensionRequested     bool       `json:"extension_requested"`
	ExtensionFiled         bool       `json:"extension_filed"`
	ExtendedDueDate        *time.Time `json:"extended_due_date,omitempty" format:"date-time"`
	Version                int64      `json:"version"`
	CreatedAt              time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt              time.Time  `json:"updated_at" format:"date-time"`
}

// IDCurrentlyValid reports whether the identity document is on file and unexpired at now.
func (e EngagementYear) IDCurrentlyValid(now time.Time) bool {
	if !e.IDValid {
		return false
	}
	if e.IDExpiresAt != nil && !now.Before(*e.IDExpiresAt) {
		return false
	}
	return true
}

// ExtensionLimbo is the requested-but-unfiled extension state that suppresses reminders.
func (e EngagementYear) ExtensionLimbo() bool {
	return e.ExtensionRequested && !e.ExtensionFiled
}

// ChecklistStatus is the receipt state of one checklist line.
type ChecklistStatus string

const (
	ChecklistPending       ChecklistStatus = "PENDING"
	ChecklistReceived      ChecklistStatus = "RECEIVED"
	ChecklistNotApplicable ChecklistStatus = "NOT_APPLICABLE"
)

// ParseChecklistStatus validates a checklist status string.
func ParseChecklistStatus(s string) (ChecklistStatus, error) {
	switch ChecklistStatus(s) {
	case ChecklistPending, ChecklistReceived, ChecklistNotApplicable:
		return ChecklistStatus(s), nil
	}
	return "", fmt.Errorf("unknown checklist status %q", s)
}

// Satisfied reports whether the status counts toward completion.
func (s ChecklistStatus) Satisfied() bool {
	return s == ChecklistReceived || s == ChecklistNotApplicable
}

type ChecklistItem struct {
	ID           string          `json:"id"`
	EngagementID string          `json:"engagement_id"`
	Key          string          `json:"key"`
	Label        string          `json:"label"`
	Required     bool            `json:"required"`
	Status       ChecklistStatus `json:"status" enum:"PENDING,RECEIVED,NOT_APPLICABLE"`
	CreatedAt    time.Time       `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time       `json:"updated_at" format:"date-time"`
}

// Stream is an independent reminder cadence.
type Stream string

const (
	StreamDocuments     Stream = "DOCUMENTS"
	StreamQuestionnaire Stream = "QUESTIONNAIRE"
	StreamID            Stream = "ID"
)

var Streams = []Stream{StreamDocuments, StreamQuestionnaire, StreamID}

func ParseStream(s string) (Stream, error) {
	for _, st := range Streams {
		if string(st) == s {
			return st, nil
		}
	}
	return "", fmt.Errorf("unknown reminder stream %q", s)
}

// ReminderState tracks one stream of one engagement. Paused implies NextDueAt == nil.
type ReminderState struct {
	ID           string     `json:"id"`
	EngagementID string     `json:"engagement_id"`
	Stream       Stream     `json:"stream" enum:"DOCUMENTS,QUESTIONNAIRE,ID"`
	LastSentAt   *time.Time `json:"last_sent_at,omitempty" format:"date-time"`
	NextDueAt    *time.Time `json:"next_due_at,omitempty" format:"date-time"`
	SentCount    int        `json:"sent_count"`
	Paused       bool       `json:"paused"`
	PausedReason string     `json:"paused_reason,omitempty"`
	CreatedAt    time.Time  `json:"created_at" format:"date-time"`
	UpdatedAt    time.Time  `json:"updated_at" format:"date-time"`
}

// StatusAuditEntry records one applied lifecycle transition.
type StatusAuditEntry struct {
	ID           int64     `json:"id"`
	EngagementID string    `json:"engagement_id"`
	FromStatus   Status    `json:"from_status"`
	ToStatus     Status    `json:"to_status"`
	Actor        Actor     `json:"actor"`
	Reason       string    `json:"reason,omitempty"`
	Timestamp    time.Time `json:"ts" format:"date-time"`
}

// ChecklistCompletion summarizes required checklist items.
type ChecklistCompletion struct {
	Complete      bool    `json:"complete"`
	Percentage    float64 `json:"percentage"`
	RequiredCount int     `json:"required_count"`
	ReceivedCount int     `json:"received_count"`
}
