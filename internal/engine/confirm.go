package engine

import (
	"context"
	"fmt"
	"strings"

	"dealflow/internal/domain"
	"dealflow/internal/metrics"
)

// Proposal parameter keys, matching the action argument names.
const (
	ParamDealName = "dealName"
	ParamOutcome  = "outcome"
)

type CloseDealArgs struct {
	DealName string `json:"dealName" jsonschema:"Name of the deal to close"`
	Outcome  string `json:"outcome" jsonschema:"Either 'closed_won' or 'closed_lost'"`
}

type DeleteDealArgs struct {
	DealName string `json:"dealName" jsonschema:"Name of the deal to delete"`
}

// CloseDeal does not touch the pipeline. It registers a proposal the operator
// must confirm; partial arguments produce a draft that AmendProposal completes.
func (e Engine) CloseDeal(ctx context.Context, args CloseDealArgs) Reply {
	return e.propose(ctx, domain.ProposalCloseDeal, paramsOf(ParamDealName, args.DealName, ParamOutcome, args.Outcome), "")
}

// DeleteDeal registers a deletion proposal for the operator.
func (e Engine) DeleteDeal(ctx context.Context, args DeleteDealArgs) Reply {
	return e.propose(ctx, domain.ProposalDeleteDeal, paramsOf(ParamDealName, args.DealName), "")
}

// AmendProposal merges streamed arguments into a draft proposal and, once all
// are known, validates it like a fresh request.
func (e Engine) AmendProposal(ctx context.Context, id string, params map[string]string) Reply {
	p, err := e.Proposals.Amend(id, params)
	if err != nil {
		return e.reject("amend_proposal", RejectValidation, fmt.Sprintf("❌ Proposal %s cannot be amended: %v", id, err))
	}
	return e.propose(ctx, p.Kind, p.Params, p.ID)
}

func actionFor(kind domain.ProposalKind) string {
	if kind == domain.ProposalCloseDeal {
		return ActionCloseDeal
	}
	return ActionDeleteDeal
}

func requiredParams(kind domain.ProposalKind) []string {
	if kind == domain.ProposalCloseDeal {
		return []string{ParamDealName, ParamOutcome}
	}
	return []string{ParamDealName}
}

func (e Engine) propose(ctx context.Context, kind domain.ProposalKind, params map[string]string, draftID string) Reply {
	action := actionFor(kind)

	var missing []string
	for _, k := range requiredParams(kind) {
		if strings.TrimSpace(params[k]) == "" {
			missing = append(missing, k)
		}
	}
	if len(missing) > 0 {
		var p domain.Proposal
		if draftID == "" {
			p = e.Proposals.Draft(kind, params)
		} else {
			p, _ = e.Proposals.Get(draftID)
		}
		metrics.RecordAction(action, "draft")
		return Reply{
			Action:   action,
			Message:  fmt.Sprintf("⏳ Waiting for %s arguments: %s", action, strings.Join(missing, ", ")),
			Proposal: &p,
		}
	}

	deal, rejection, msg := e.validateProposal(ctx, kind, params)
	if rejection != "" {
		if draftID != "" {
			if _, err := e.Proposals.Cancel(draftID, msg); err != nil {
				e.logger().Warn("cancel rejected draft", "id", draftID, "err", err)
			}
		}
		return e.reject(action, rejection, msg)
	}

	var (
		p   domain.Proposal
		err error
	)
	if draftID == "" {
		p = e.Proposals.Propose(kind, deal.Name, deal.ID, params)
	} else if p, err = e.Proposals.Ready(draftID, deal.Name, deal.ID, params); err != nil {
		return e.reject(action, RejectValidation, fmt.Sprintf("❌ Proposal %s cannot be completed: %v", draftID, err))
	}
	metrics.RecordAction(action, "proposed")
	e.logger().Info("proposal awaiting confirmation", "id", p.ID, "kind", kind, "deal", deal.Name)
	return Reply{
		Action:   action,
		Message:  awaitingText(p),
		Deal:     &deal,
		Proposal: &p,
	}
}

func (e Engine) validateProposal(ctx context.Context, kind domain.ProposalKind, params map[string]string) (domain.Deal, string, string) {
	if kind == domain.ProposalCloseDeal {
		outcome, ok := domain.ParseStage(params[ParamOutcome])
		if !ok || !outcome.IsClosed() {
			return domain.Deal{}, RejectValidation, fmt.Sprintf("❌ Invalid outcome \"%s\". Valid outcomes: %s",
				params[ParamOutcome], domain.StageNames([]domain.Stage{domain.StageClosedWon, domain.StageClosedLost}))
		}
		params[ParamOutcome] = string(outcome)
	}
	name := strings.TrimSpace(params[ParamDealName])
	params[ParamDealName] = name
	deals := e.Store.All()
	i := domain.FindByName(deals, name)
	if i < 0 {
		return domain.Deal{}, RejectNotFound, e.notFound(ctx, name, domain.Names(deals))
	}
	return deals[i], "", ""
}

func awaitingText(p domain.Proposal) string {
	if p.Kind == domain.ProposalCloseDeal {
		outcome := domain.Stage(p.Params[ParamOutcome])
		return fmt.Sprintf("⏳ Awaiting confirmation to close \"%s\" as %s.", p.Target, outcome.Label())
	}
	return fmt.Sprintf("⏳ Awaiting confirmation to delete \"%s\".", p.Target)
}

// Execute performs a confirmed proposal against the pipeline state current at
// confirmation time. A deal that disappeared meanwhile yields Applied=false.
func (e Engine) Execute(ctx context.Context, p domain.Proposal) (domain.Resolution, error) {
	name := p.Target
	if name == "" {
		name = strings.TrimSpace(p.Params[ParamDealName])
	}
	switch p.Kind {
	case domain.ProposalCloseDeal:
		outcome, _ := domain.ParseStage(p.Params[ParamOutcome])
		return e.executeClose(ctx, name, outcome)
	case domain.ProposalDeleteDeal:
		return e.executeDelete(ctx, name)
	default:
		return domain.Resolution{}, fmt.Errorf("unsupported proposal kind %q", p.Kind)
	}
}

func (e Engine) executeClose(ctx context.Context, name string, outcome domain.Stage) (domain.Resolution, error) {
	if !outcome.IsClosed() {
		return domain.Resolution{}, fmt.Errorf("invalid outcome %q", outcome)
	}
	var (
		closed    domain.Deal
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
		deals[i].Stage = outcome
		closed = deals[i]
		return deals
	})
	if !found {
		metrics.RecordAction(ActionCloseDeal, "vanished")
		return domain.Resolution{Approved: true, Outcome: outcome, Message: e.notFound(ctx, name, available)}, nil
	}

	if outcome == domain.StageClosedWon {
		e.notify(ctx, domain.Notification{
			Kind:      domain.NotifyDealWon,
			Message:   "Deal closed as Won! 🎉",
			Severity:  domain.SeveritySuccess,
			Icon:      "🏆",
			DealID:    closed.ID,
			Celebrate: true,
		})
	} else {
		e.notify(ctx, domain.Notification{
			Kind:     domain.NotifyDealLost,
			Message:  "Deal closed as Lost",
			Severity: domain.SeverityInfo,
			Icon:     "❌",
			DealID:   closed.ID,
		})
	}
	metrics.RecordAction(ActionCloseDeal, "ok")
	e.logger().Info("deal closed", "id", closed.ID, "name", closed.Name, "outcome", outcome)
	return domain.Resolution{
		Approved: true,
		Outcome:  outcome,
		Applied:  true,
		Message:  fmt.Sprintf("%s Deal \"%s\" closed as %s.", outcome.Emoji(), closed.Name, outcome.Label()),
	}, nil
}

func (e Engine) executeDelete(ctx context.Context, name string) (domain.Resolution, error) {
	var (
		removed   domain.Deal
		found     bool
		available []string
	)
	e.Store.Update(ctx, func(deals []domain.Deal) []domain.Deal {
		found, available = false, nil
		kept := deals[:0]
		for _, d := range deals {
			if !found && strings.EqualFold(d.Name, name) {
				removed, found = d, true
				continue
			}
			kept = append(kept, d)
		}
		if !found {
			available = domain.Names(deals)
		}
		return kept
	})
	if !found {
		metrics.RecordAction(ActionDeleteDeal, "vanished")
		return domain.Resolution{Approved: true, Message: e.notFound(ctx, name, available)}, nil
	}

	e.notify(ctx, domain.Notification{
		Kind:     domain.NotifyDealDeleted,
		Message:  fmt.Sprintf("\"%s\" deleted", removed.Name),
		Severity: domain.SeverityInfo,
		Icon:     "🗑️",
		DealID:   removed.ID,
	})
	metrics.RecordAction(ActionDeleteDeal, "ok")
	e.logger().Info("deal deleted", "id", removed.ID, "name", removed.Name)
	return domain.Resolution{
		Approved: true,
		Applied:  true,
		Message:  fmt.Sprintf("🗑️ Deal \"%s\" deleted from pipeline.", removed.Name),
	}, nil
}

func paramsOf(kv ...string) map[string]string {
	out := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		if v := strings.TrimSpace(kv[i+1]); v != "" {
			out[kv[i]] = v
		}
	}
	return out
}
