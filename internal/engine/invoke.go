package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"dealflow/internal/domain"
	"dealflow/internal/proposal"
)

var ErrUnknownAction = errors.New("unknown action")

// ActionDef describes one action for tool-calling runtimes and API docs.
type ActionDef struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Required    []string `json:"required"`
	Optional    []string `json:"optional,omitempty"`
	Confirmed   bool     `json:"confirmed"`
}

var actionDefs = []ActionDef{
	{
		Name:        ActionCreateDeal,
		Description: "Create a new deal in the sales pipeline. Use this when the user wants to add a new deal, opportunity, or prospect.",
		Required:    []string{"name", "value", "company"},
		Optional:    []string{"contactName", "contactEmail", "stage"},
	},
	{
		Name:        ActionMoveDeal,
		Description: "Move an existing deal to a different pipeline stage. Use when the user wants to advance, promote, or change a deal's stage.",
		Required:    []string{"dealName", "newStage"},
	},
	{
		Name:        ActionPipelineSummary,
		Description: "Show a summary and analytics of the current sales pipeline. Use when asked about pipeline health, stats, totals, or overview.",
		Required:    []string{},
	},
	{
		Name:        ActionCloseDeal,
		Description: "Close a deal as won or lost. This is a significant, irreversible action that requires operator confirmation.",
		Required:    []string{"dealName", "outcome"},
		Confirmed:   true,
	},
	{
		Name:        ActionDeleteDeal,
		Description: "Delete a deal from the pipeline. This is a destructive, irreversible action that requires operator confirmation.",
		Required:    []string{"dealName"},
		Confirmed:   true,
	},
}

// Actions returns the action catalogue in a stable order.
func (e Engine) Actions() []ActionDef {
	out := make([]ActionDef, len(actionDefs))
	copy(out, actionDefs)
	return out
}

// Invoke dispatches a named action with JSON arguments. Malformed arguments are
// a rejection; only an unknown action name is an error.
func (e Engine) Invoke(ctx context.Context, name string, raw json.RawMessage) (Reply, error) {
	switch name {
	case ActionCreateDeal:
		var args CreateDealArgs
		if err := decodeArgs(raw, &args); err != nil {
			return e.malformed(name, err), nil
		}
		var present struct {
			Value *float64 `json:"value"`
		}
		if err := decodeArgs(raw, &present); err != nil || present.Value == nil {
			return e.reject(name, RejectValidation, "❌ Deal value is required."), nil
		}
		return e.CreateDeal(ctx, args), nil
	case ActionMoveDeal:
		var args MoveDealArgs
		if err := decodeArgs(raw, &args); err != nil {
			return e.malformed(name, err), nil
		}
		return e.MoveDeal(ctx, args), nil
	case ActionPipelineSummary:
		return e.PipelineSummary(ctx), nil
	case ActionCloseDeal:
		var args CloseDealArgs
		if err := decodeArgs(raw, &args); err != nil {
			return e.malformed(name, err), nil
		}
		return e.CloseDeal(ctx, args), nil
	case ActionDeleteDeal:
		var args DeleteDealArgs
		if err := decodeArgs(raw, &args); err != nil {
			return e.malformed(name, err), nil
		}
		return e.DeleteDeal(ctx, args), nil
	default:
		return Reply{}, fmt.Errorf("%w: %s", ErrUnknownAction, name)
	}
}

func decodeArgs(raw json.RawMessage, out any) error {
	if len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return nil
	}
	return json.Unmarshal(raw, out)
}

func (e Engine) malformed(action string, err error) Reply {
	return e.reject(action, RejectValidation, fmt.Sprintf("❌ Malformed arguments for %s: %v", action, err))
}

// CallResult is what the invoking runtime receives. Approved is set only for
// confirmed actions once the operator has decided.
type CallResult struct {
	Message  string           `json:"message"`
	Approved *bool            `json:"approved,omitempty"`
	Outcome  domain.Stage     `json:"outcome,omitempty"`
	Proposal *domain.Proposal `json:"proposal,omitempty"`
}

// Call invokes an action and, for a proposal awaiting the operator, holds the
// call open until it is resolved, ctx ends or the configured wait timeout passes.
func (e Engine) Call(ctx context.Context, name string, raw json.RawMessage) (CallResult, error) {
	reply, err := e.Invoke(ctx, name, raw)
	if err != nil {
		return CallResult{}, err
	}
	if reply.Proposal == nil || reply.Proposal.State != domain.ProposalAwaiting {
		return CallResult{Message: reply.Message, Proposal: reply.Proposal}, nil
	}
	if e.Config != nil && e.Config.Proposals.WaitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Config.Proposals.WaitTimeout)
		defer cancel()
	}
	p, err := e.Proposals.Wait(ctx, reply.Proposal.ID)
	if err != nil {
		return CallResult{Message: reply.Message, Proposal: &p}, err
	}
	return ResultOf(p), nil
}

// ResultOf maps a resolved proposal to the runtime's {approved, outcome} answer.
func ResultOf(p domain.Proposal) CallResult {
	res := CallResult{Proposal: &p}
	if p.Resolution == nil {
		res.Message = awaitingText(p)
		return res
	}
	approved := p.Resolution.Approved
	res.Approved = &approved
	switch {
	case approved:
		res.Outcome = p.Resolution.Outcome
		res.Message = p.Resolution.Message
	case p.Reason == proposal.ReasonExpired:
		res.Message = "⌛ Confirmation expired; nothing was changed."
	case p.Reason == proposal.ReasonOperator:
		res.Message = "🚫 Cancelled by operator; nothing was changed."
	default:
		res.Message = fmt.Sprintf("🚫 Proposal cancelled (%s); nothing was changed.", p.Reason)
	}
	return res
}
