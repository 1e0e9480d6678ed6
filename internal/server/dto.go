package server

import (
	"dealflow/internal/analytics"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
)

// Request payloads

type AmendProposalRequest struct {
	Params map[string]string `json:"params"`
}

// Response payloads

type DealListResponse struct {
	Items   []domain.Deal `json:"items"`
	Version int64         `json:"version"`
}

type SummaryResponse struct {
	Message string                 `json:"message"`
	Summary analytics.Summary      `json:"summary"`
	Stages  []analytics.StageTotal `json:"stages"`
}

type ActionListResponse struct {
	Items []engine.ActionDef `json:"items"`
}

// ActionResponse carries either an immediate reply or, when the caller asked to
// wait, the operator's decision on the proposal it produced.
type ActionResponse struct {
	Action    string             `json:"action"`
	Message   string             `json:"message"`
	Rejection string             `json:"rejection,omitempty" enum:"validation,not_found,conflict"`
	Deal      *domain.Deal       `json:"deal,omitempty"`
	Proposal  *domain.Proposal   `json:"proposal,omitempty"`
	Summary   *analytics.Summary `json:"summary,omitempty"`
	Approved  *bool              `json:"approved,omitempty"`
	Outcome   domain.Stage       `json:"outcome,omitempty"`
}

type ProposalListResponse struct {
	Items []domain.Proposal `json:"items"`
}

type paginatedNotifications struct {
	Items      []domain.Event `json:"items"`
	NextCursor string         `json:"next_cursor,omitempty"`
}

type ActiveNotificationsResponse struct {
	Items          []domain.Notification `json:"items"`
	DisplaySeconds float64               `json:"display_seconds"`
}

func actionResponse(r engine.Reply) ActionResponse {
	return ActionResponse{
		Action:    r.Action,
		Message:   r.Message,
		Rejection: r.Rejection,
		Deal:      r.Deal,
		Proposal:  r.Proposal,
		Summary:   r.Summary,
	}
}

func callResponse(action string, r engine.CallResult) ActionResponse {
	return ActionResponse{
		Action:   action,
		Message:  r.Message,
		Proposal: r.Proposal,
		Approved: r.Approved,
		Outcome:  r.Outcome,
	}
}

func nonNilDeals(in []domain.Deal) []domain.Deal {
	if in == nil {
		return []domain.Deal{}
	}
	return in
}

func nonNilProposals(in []domain.Proposal) []domain.Proposal {
	if in == nil {
		return []domain.Proposal{}
	}
	return in
}
