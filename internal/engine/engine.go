package engine

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"

	"dealflow/internal/analytics"
	"dealflow/internal/config"
	"dealflow/internal/domain"
	"dealflow/internal/metrics"
	"dealflow/internal/notify"
	"dealflow/internal/pipeline"
	"dealflow/internal/proposal"
)

const (
	ActionCreateDeal      = "create_deal"
	ActionMoveDeal        = "move_deal"
	ActionPipelineSummary = "get_pipeline_summary"
	ActionCloseDeal       = "close_deal"
	ActionDeleteDeal      = "delete_deal"
)

// Rejection kinds reported on Reply.Rejection.
const (
	RejectValidation = "validation"
	RejectNotFound   = "not_found"
	RejectConflict   = "conflict"
)

// Engine is the action layer: named operations over the pipeline, invoked one at a time
// by a tool-calling runtime. Every operation answers with a Reply; expected failures
// are rejections, never errors.
type Engine struct {
	Store     *pipeline.Store
	Sink      *notify.Sink
	Proposals *proposal.Manager
	Config    *config.Config
	Logger    *slog.Logger
	Now       func() time.Time
	NewID     func() string
}

// New builds an engine and binds it as the executor of confirmed proposals.
func New(store *pipeline.Store, sink *notify.Sink, proposals *proposal.Manager, cfg *config.Config) Engine {
	e := Engine{
		Store:     store,
		Sink:      sink,
		Proposals: proposals,
		Config:    cfg,
		Logger:    slog.Default(),
		Now:       time.Now,
		NewID:     uuid.NewString,
	}
	if proposals != nil {
		proposals.Bind(e)
	}
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.NewString()
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Reply is the outcome of one action. Message is always set.
type Reply struct {
	Action    string             `json:"action"`
	Message   string             `json:"message"`
	Rejection string             `json:"rejection,omitempty" enum:"validation,not_found,conflict"`
	Deal      *domain.Deal       `json:"deal,omitempty"`
	Proposal  *domain.Proposal   `json:"proposal,omitempty"`
	Summary   *analytics.Summary `json:"summary,omitempty"`
}

func (r Reply) Rejected() bool { return r.Rejection != "" }

// Pending reports whether the reply carries a proposal still waiting on the operator.
func (r Reply) Pending() bool {
	return r.Proposal != nil && !r.Proposal.State.Terminal()
}

func (e Engine) reject(action, kind, msg string) Reply {
	metrics.RecordAction(action, "rejected")
	e.logger().Debug("action rejected", "action", action, "rejection", kind, "message", msg)
	return Reply{Action: action, Message: msg, Rejection: kind}
}

func (e Engine) notify(ctx context.Context, n domain.Notification) {
	if e.Sink == nil {
		return
	}
	e.Sink.Notify(ctx, n)
}

// notFound emits the error toast and builds the rejection text listing current deal names.
func (e Engine) notFound(ctx context.Context, name string, available []string) string {
	e.notify(ctx, domain.Notification{
		Kind:     domain.NotifyDealNotFound,
		Message:  fmt.Sprintf("Deal \"%s\" not found", name),
		Severity: domain.SeverityError,
		Icon:     "❌",
	})
	list := strings.Join(available, ", ")
	if list == "" {
		list = "(none)"
	}
	return fmt.Sprintf("❌ Deal \"%s\" not found. Available deals: %s", name, list)
}

type CreateDealArgs struct {
	Name         string  `json:"name" jsonschema:"Deal name/title"`
	Value        float64 `json:"value" jsonschema:"Deal value in USD"`
	Company      string  `json:"company" jsonschema:"Company name"`
	ContactName  string  `json:"contactName,omitempty" jsonschema:"Contact person name"`
	ContactEmail string  `json:"contactEmail,omitempty" jsonschema:"Contact email"`
	Stage        string  `json:"stage,omitempty" jsonschema:"Pipeline stage: lead, qualified, proposal, negotiation, closed_won, closed_lost. Defaults to lead."`
}

// CreateDeal appends a deal unless one with the same name (any case) exists.
// An absent or unknown stage becomes lead.
func (e Engine) CreateDeal(ctx context.Context, args CreateDealArgs) Reply {
	name := strings.TrimSpace(args.Name)
	company := strings.TrimSpace(args.Company)
	switch {
	case name == "":
		return e.reject(ActionCreateDeal, RejectValidation, "❌ Deal name is required.")
	case company == "":
		return e.reject(ActionCreateDeal, RejectValidation, "❌ Company is required.")
	case args.Value < 0 || math.IsNaN(args.Value) || math.IsInf(args.Value, 0):
		return e.reject(ActionCreateDeal, RejectValidation, "❌ Deal value must be a non-negative number.")
	}
	stage, ok := domain.ParseStage(args.Stage)
	if !ok {
		stage = domain.StageLead
	}
	deal := domain.Deal{
		ID:           e.newID(),
		Name:         name,
		Value:        args.Value,
		Company:      company,
		ContactName:  strings.TrimSpace(args.ContactName),
		ContactEmail: strings.TrimSpace(args.ContactEmail),
		Stage:        stage,
		CreatedAt:    e.now().UTC().Format(time.RFC3339),
	}

	var existing *domain.Deal
	e.Store.Update(ctx, func(deals []domain.Deal) []domain.Deal {
		existing = nil
		if i := domain.FindByName(deals, name); i >= 0 {
			d := deals[i]
			existing = &d
			return deals
		}
		return append(deals, deal)
	})
	if existing != nil {
		return e.reject(ActionCreateDeal, RejectConflict,
			fmt.Sprintf("❌ A deal named \"%s\" already exists in %s. Use a different name.", name, existing.Stage.Label()))
	}

	value := analytics.FormatUSD(deal.Value)
	e.notify(ctx, domain.Notification{
		Kind:     domain.NotifyDealCreated,
		Message:  fmt.Sprintf("Deal \"%s\" created — %s", name, value),
		Severity: domain.SeveritySuccess,
		Icon:     "✨",
		DealID:   deal.ID,
	})
	metrics.RecordAction(ActionCreateDeal, "ok")
	e.logger().Info("deal created", "id", deal.ID, "name", name, "stage", stage, "value", deal.Value)
	return Reply{
		Action:  ActionCreateDeal,
		Message: fmt.Sprintf("✅ Deal \"%s\" created in %s stage — %s for %s.", name, stage.Label(), value, company),
		Deal:    &deal,
	}
}

type MoveDealArgs struct {
	DealName string `json:"dealName" jsonschema:"Name of the deal to move (case-insensitive)"`
	NewStage string `json:"newStage" jsonschema:"Target stage: lead, qualified, proposal, negotiation. For closing deals use the close_deal tool instead."`
}

// MoveStages lists the stages move_deal accepts under the current config.
func (e Engine) MoveStages() []domain.Stage {
	if e.Config != nil && e.Config.Pipeline.MoveAllowsClosed {
		return domain.Stages()
	}
	return domain.ActiveStages()
}

// MoveDeal changes only the stage of the named deal, looked up in the state
// current at update time.
func (e Engine) MoveDeal(ctx context.Context, args MoveDealArgs) Reply {
	allowed := e.MoveStages()
	stage, ok := domain.ParseStage(args.NewStage)
	if !ok || !slices.Contains(allowed, stage) {
		return e.reject(ActionMoveDeal, RejectValidation,
			fmt.Sprintf("❌ Invalid stage \"%s\". Valid stages: %s", args.NewStage, domain.StageNames(allowed)))
	}
	name := strings.TrimSpace(args.DealName)
	if name == "" {
		return e.reject(ActionMoveDeal, RejectValidation, "❌ Deal name is required.")
	}

	var (
		moved     domain.Deal
		found     bool
		available []string
	)
	e.Store.Update(ctx, func(deals []domain.Deal) []domain.Deal {
		found, available = false, nil
		i := domain.FindByName(deals, name)
		if i < 0 {
			available = domain.Names(deals)
			return deals
		}
		found = true
		deals[i].Stage = stage
		moved = deals[i]
		return deals
	})
	if !found {
		return e.reject(ActionMoveDeal, RejectNotFound, e.notFound(ctx, name, available))
	}

	e.notify(ctx, domain.Notification{
		Kind:     domain.NotifyDealMoved,
		Message:  fmt.Sprintf("\"%s\" → %s", moved.Name, stage.Label()),
		Severity: domain.SeveritySuccess,
		Icon:     "🔄",
		DealID:   moved.ID,
	})
	metrics.RecordAction(ActionMoveDeal, "ok")
	e.logger().Info("deal moved", "id", moved.ID, "name", moved.Name, "stage", stage)
	return Reply{
		Action:  ActionMoveDeal,
		Message: fmt.Sprintf("✅ Deal \"%s\" moved to %s.", moved.Name, stage.Label()),
		Deal:    &moved,
	}
}

// PipelineSummary is read-only; identical state yields identical text.
func (e Engine) PipelineSummary(ctx context.Context) Reply {
	s := analytics.Summarize(e.Store.All())
	metrics.RecordAction(ActionPipelineSummary, "ok")
	return Reply{
		Action:  ActionPipelineSummary,
		Message: SummaryText(s),
		Summary: &s,
	}
}

func SummaryText(s analytics.Summary) string {
	return fmt.Sprintf("📊 Pipeline: %d deals worth %s. %d active, %d won (%s). %d lost, %d%% win rate.",
		s.Count, analytics.FormatUSD(s.TotalValue), s.ActiveDeals, s.WonDeals, analytics.FormatUSD(s.WonValue),
		s.LostDeals, s.WinRate)
}
