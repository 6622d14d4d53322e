package server

import (
	"time"

	"taxline/internal/domain"
	"taxline/internal/notify"
)

// Request payloads

type EnsureEngagementRequest struct {
	ClientID string `json:"client_id" minLength:"1"`
	EntityID string `json:"entity_id" minLength:"1"`
	TaxYear  int    `json:"tax_year" minimum:"1900" maximum:"9999"`
}

type TransitionRequest struct {
	Target            string `json:"target" enum:"INVITED,ENGAGED,COLLECTING_DOCS,AWAITING_CONFIRMATION,READY_FOR_PREP,IN_PREP,AWAITING_EFILE_AUTH,FILED"`
	Reason            string `json:"reason,omitempty"`
	AllowSoftWarnings bool   `json:"allow_soft_warnings,omitempty"`
}

type SetFlagRequest struct {
	Value     bool    `json:"value"`
	ExpiresAt *time.Time `json:"expires_at,omitempty" doc:"Only for id_valid"`
}

type RequestExtensionRequest struct {
	Reason string `json:"reason,omitempty"`
}

type FileExtensionRequest struct {
	ExtendedDueDate string `json:"extended_due_date" format:"date" example:"2025-10-15"`
}

type AddChecklistItemRequest struct {
	Key      string `json:"key" minLength:"1"`
	Label    string `json:"label,omitempty"`
	Required *bool  `json:"required,omitempty" doc:"Defaults to true"`
	Status   string `json:"status,omitempty" enum:"PENDING,RECEIVED,NOT_APPLICABLE"`
}

type SetChecklistStatusRequest struct {
	Status string `json:"status" enum:"PENDING,RECEIVED,NOT_APPLICABLE"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id"`
}

// Response payloads

type EnsureEngagementResponse struct {
	Engagement domain.EngagementYear `json:"engagement"`
	Created    bool                  `json:"created"`
}

type EngagementList struct {
	Items []domain.EngagementYear `json:"items"`
}

type ReadinessResponse struct {
	EngagementID string   `json:"engagement_id"`
	Ready        bool     `json:"ready"`
	Reasons      []string `json:"reasons"`
}

type HistoryResponse struct {
	Items []domain.StatusAuditEntry `json:"items"`
}

type ChecklistResponse struct {
	Items      []domain.ChecklistItem     `json:"items"`
	Completion domain.ChecklistCompletion `json:"completion"`
}

type ReminderList struct {
	Items []domain.ReminderState `json:"items"`
}

type SweepResponse = notify.Report

type DevLoginResponse struct {
	Token string `json:"token"`
}

func nonNilEngagements(items []domain.EngagementYear) []domain.EngagementYear {
	if items == nil {
		return []domain.EngagementYear{}
	}
	return items
}

func nonNilReminders(items []domain.ReminderState) []domain.ReminderState {
	if items == nil {
		return []domain.ReminderState{}
	}
	return items
}
