// Package mcpserver exposes the pipeline actions as MCP tools so an LLM runtime
// can drive the board. Confirmed actions hold the tool call open until the
// operator decides.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"dealflow/internal/domain"
	"dealflow/internal/engine"
)

type Server struct {
	engine engine.Engine
	logger *slog.Logger
	server *mcp.Server
}

// ToolResult is the structured output of every tool. Approved is only set for
// close_deal and delete_deal once the operator has decided.
type ToolResult struct {
	Message    string       `json:"message"`
	Rejection  string       `json:"rejection,omitempty"`
	Approved   *bool        `json:"approved,omitempty"`
	Outcome    domain.Stage `json:"outcome,omitempty"`
	ProposalID string       `json:"proposal_id,omitempty"`
}

func New(e engine.Engine, version string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{engine: e, logger: logger}
	s.server = mcp.NewServer(&mcp.Implementation{
		Name:    "dealflow",
		Version: version,
	}, nil)
	s.registerTools()
	s.registerResources()
	return s
}

// Run serves tools on stdio until the client disconnects or ctx ends.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &mcp.StdioTransport{})
}

// Connect serves tools on an arbitrary transport; used by tests.
func (s *Server) Connect(ctx context.Context, t mcp.Transport) (*mcp.ServerSession, error) {
	return s.server.Connect(ctx, t, nil)
}

func (s *Server) registerTools() {
	defs := make(map[string]engine.ActionDef)
	for _, d := range s.engine.Actions() {
		defs[d.Name] = d
	}
	mcp.AddTool(s.server, &mcp.Tool{Name: engine.ActionCreateDeal, Description: defs[engine.ActionCreateDeal].Description}, s.handleCreateDeal)
	mcp.AddTool(s.server, &mcp.Tool{Name: engine.ActionMoveDeal, Description: defs[engine.ActionMoveDeal].Description}, s.handleMoveDeal)
	mcp.AddTool(s.server, &mcp.Tool{Name: engine.ActionPipelineSummary, Description: defs[engine.ActionPipelineSummary].Description}, s.handleSummary)
	mcp.AddTool(s.server, &mcp.Tool{Name: engine.ActionCloseDeal, Description: defs[engine.ActionCloseDeal].Description}, s.handleCloseDeal)
	mcp.AddTool(s.server, &mcp.Tool{Name: engine.ActionDeleteDeal, Description: defs[engine.ActionDeleteDeal].Description}, s.handleDeleteDeal)
}

type SummaryArgs struct{}

func (s *Server) handleCreateDeal(ctx context.Context, _ *mcp.CallToolRequest, args engine.CreateDealArgs) (*mcp.CallToolResult, any, error) {
	return s.reply(s.engine.CreateDeal(ctx, args))
}

func (s *Server) handleMoveDeal(ctx context.Context, _ *mcp.CallToolRequest, args engine.MoveDealArgs) (*mcp.CallToolResult, any, error) {
	return s.reply(s.engine.MoveDeal(ctx, args))
}

func (s *Server) handleSummary(ctx context.Context, _ *mcp.CallToolRequest, _ SummaryArgs) (*mcp.CallToolResult, any, error) {
	return s.reply(s.engine.PipelineSummary(ctx))
}

func (s *Server) handleCloseDeal(ctx context.Context, _ *mcp.CallToolRequest, args engine.CloseDealArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, engine.ActionCloseDeal, args)
}

func (s *Server) handleDeleteDeal(ctx context.Context, _ *mcp.CallToolRequest, args engine.DeleteDealArgs) (*mcp.CallToolResult, any, error) {
	return s.call(ctx, engine.ActionDeleteDeal, args)
}

func (s *Server) reply(r engine.Reply) (*mcp.CallToolResult, any, error) {
	out := ToolResult{Message: r.Message, Rejection: r.Rejection}
	if r.Proposal != nil {
		out.ProposalID = r.Proposal.ID
	}
	return textResult(out.Message), out, nil
}

// call blocks on the operator for proposals that are ready. A timeout is
// reported as text so the runtime can tell the user the decision is pending.
func (s *Server) call(ctx context.Context, action string, args any) (*mcp.CallToolResult, any, error) {
	raw, err := json.Marshal(args)
	if err != nil {
		return nil, nil, fmt.Errorf("encode %s arguments: %w", action, err)
	}
	res, err := s.engine.Call(ctx, action, raw)
	out := ToolResult{Message: res.Message, Approved: res.Approved, Outcome: res.Outcome}
	if res.Proposal != nil {
		out.ProposalID = res.Proposal.ID
	}
	switch {
	case err == nil:
	case errors.Is(err, context.DeadlineExceeded):
		out.Message = strings.TrimSpace(res.Message + "\n⌛ No operator decision yet; the proposal stays open.")
	case errors.Is(err, context.Canceled):
		return nil, nil, err
	default:
		s.logger.Warn("tool call failed", "action", action, "err", err)
		return nil, nil, err
	}
	return textResult(out.Message), out, nil
}

func textResult(msg string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: msg}},
	}
}
