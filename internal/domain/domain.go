package domain

import (
	"strings"
	"time"
)

// Stage is a pipeline position. The first four are active, the last two closed.
type Stage string

const (
	StageLead        Stage = "lead"
	StageQualified   Stage = "qualified"
	StageProposal    Stage = "proposal"
	StageNegotiation Stage = "negotiation"
	StageClosedWon   Stage = "closed_won"
	StageClosedLost  Stage = "closed_lost"
)

type stageInfo struct {
	Label string
	Emoji string
	Color string
}

var stageConfig = map[Stage]stageInfo{
	StageLead:        {Label: "Lead", Emoji: "🎯", Color: "#6366f1"},
	StageQualified:   {Label: "Qualified", Emoji: "✅", Color: "#8b5cf6"},
	StageProposal:    {Label: "Proposal", Emoji: "📄", Color: "#a855f7"},
	StageNegotiation: {Label: "Negotiation", Emoji: "🤝", Color: "#f59e0b"},
	StageClosedWon:   {Label: "Closed Won", Emoji: "🏆", Color: "#22c55e"},
	StageClosedLost:  {Label: "Closed Lost", Emoji: "❌", Color: "#ef4444"},
}

var allStages = []Stage{StageLead, StageQualified, StageProposal, StageNegotiation, StageClosedWon, StageClosedLost}

// Stages returns every stage in board order.
func Stages() []Stage {
	return append([]Stage(nil), allStages...)
}

// ActiveStages returns the stages a deal can be moved between freely.
func ActiveStages() []Stage {
	return append([]Stage(nil), allStages[:4]...)
}

// ParseStage reports whether s names a known stage.
func ParseStage(s string) (Stage, bool) {
	st := Stage(strings.ToLower(strings.TrimSpace(s)))
	_, ok := stageConfig[st]
	return st, ok
}

func (s Stage) Valid() bool {
	_, ok := stageConfig[s]
	return ok
}

func (s Stage) IsClosed() bool { return s == StageClosedWon || s == StageClosedLost }
func (s Stage) IsActive() bool { return s.Valid() && !s.IsClosed() }

func (s Stage) Label() string {
	if info, ok := stageConfig[s]; ok {
		return info.Label
	}
	return string(s)
}

func (s Stage) Emoji() string { return stageConfig[s].Emoji }
func (s Stage) Color() string { return stageConfig[s].Color }

// StageNames joins stage identifiers for user-facing messages.
func StageNames(stages []Stage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = string(s)
	}
	return strings.Join(names, ", ")
}

type Deal struct {
	ID           string  `json:"id"`
	Name         string  `json:"name"`
	Value        float64 `json:"value" minimum:"0"`
	Company      string  `json:"company"`
	ContactName  string  `json:"contact_name"`
	ContactEmail string  `json:"contact_email"`
	Stage        Stage   `json:"stage" enum:"lead,qualified,proposal,negotiation,closed_won,closed_lost"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// FindByName returns the index of the deal whose name matches case-insensitively, or -1.
func FindByName(deals []Deal, name string) int {
	for i, d := range deals {
		if strings.EqualFold(d.Name, name) {
			return i
		}
	}
	return -1
}

// Names lists deal names in collection order.
func Names(deals []Deal) []string {
	out := make([]string, len(deals))
	for i, d := range deals {
		out[i] = d.Name
	}
	return out
}

// SampleDeals is the demo pipeline a fresh workspace starts with.
func SampleDeals(now time.Time) []Deal {
	ts := now.UTC().Format(time.RFC3339)
	return []Deal{
		{ID: "deal_1", Name: "Cloud Migration", Value: 75000, Company: "TechStart Inc", ContactName: "Sarah Chen", ContactEmail: "sarah@techstart.com", Stage: StageQualified, CreatedAt: ts},
		{ID: "deal_2", Name: "Annual SaaS License", Value: 120000, Company: "GlobalCorp", ContactName: "James Wilson", ContactEmail: "jwilson@globalcorp.com", Stage: StageProposal, CreatedAt: ts},
		{ID: "deal_3", Name: "Security Audit", Value: 35000, Company: "FinSecure", ContactName: "Priya Patel", ContactEmail: "priya@finsecure.io", Stage: StageLead, CreatedAt: ts},
		{ID: "deal_4", Name: "Data Analytics Platform", Value: 95000, Company: "DataDriven Co", ContactName: "Alex Kim", ContactEmail: "alex@datadriven.co", Stage: StageNegotiation, CreatedAt: ts},
	}
}

type Severity string

const (
	SeveritySuccess Severity = "success"
	SeverityInfo    Severity = "info"
	SeverityError   Severity = "error"
)

// Notification kinds emitted by the action layer.
const (
	NotifyDealCreated  = "deal.created"
	NotifyDealMoved    = "deal.moved"
	NotifyDealNotFound = "deal.not_found"
	NotifyDealWon      = "deal.won"
	NotifyDealLost     = "deal.lost"
	NotifyDealDeleted  = "deal.deleted"
)

type Notification struct {
	ID        string   `json:"id"`
	Kind      string   `json:"kind"`
	Message   string   `json:"message"`
	Severity  Severity `json:"severity" enum:"success,info,error"`
	Icon      string   `json:"icon,omitempty"`
	DealID    string   `json:"deal_id,omitempty"`
	Celebrate bool     `json:"celebrate,omitempty"`
	At        string   `json:"at" format:"date-time"`
	ExpiresAt string   `json:"expires_at" format:"date-time"`
}

type ProposalKind string

const (
	ProposalCloseDeal  ProposalKind = "close_deal"
	ProposalDeleteDeal ProposalKind = "delete_deal"
)

type ProposalState string

const (
	ProposalProposed  ProposalState = "proposed"
	ProposalAwaiting  ProposalState = "awaiting_confirmation"
	ProposalConfirmed ProposalState = "confirmed"
	ProposalCancelled ProposalState = "cancelled"
)

func (s ProposalState) Terminal() bool {
	return s == ProposalConfirmed || s == ProposalCancelled
}

// Resolution is what the runtime receives once the operator decides.
type Resolution struct {
	Approved bool   `json:"approved"`
	Outcome  Stage  `json:"outcome,omitempty"`
	Applied  bool   `json:"applied"`
	Message  string `json:"message,omitempty"`
}

type Proposal struct {
	ID         string            `json:"id"`
	Kind       ProposalKind      `json:"kind" enum:"close_deal,delete_deal"`
	Target     string            `json:"target,omitempty"`
	DealID     string            `json:"deal_id,omitempty"`
	Params     map[string]string `json:"params"`
	State      ProposalState     `json:"state" enum:"proposed,awaiting_confirmation,confirmed,cancelled"`
	Reason     string            `json:"reason,omitempty"`
	CreatedAt  string            `json:"created_at" format:"date-time"`
	ExpiresAt  string            `json:"expires_at,omitempty" format:"date-time"`
	ResolvedAt string            `json:"resolved_at,omitempty" format:"date-time"`
	ResolvedBy string            `json:"resolved_by,omitempty"`
	Resolution *Resolution       `json:"resolution,omitempty"`
}

// Event is a notification as stored in the durable log.
type Event struct {
	Seq int64 `json:"seq"`
	Notification
}
