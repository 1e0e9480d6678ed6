package mcpserver

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/config"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
	"dealflow/internal/notify"
	"dealflow/internal/pipeline"
	"dealflow/internal/proposal"
)

func newTestEngine(t *testing.T, waitTimeout time.Duration) engine.Engine {
	t.Helper()
	cfg := config.Default()
	cfg.Proposals.WaitTimeout = waitTimeout
	store, err := pipeline.Open(context.Background(), pipeline.Options{
		Key:  "test",
		Seed: domain.SampleDeals(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	})
	require.NoError(t, err)
	sink := notify.New(notify.Options{})
	t.Cleanup(sink.Close)
	mgr, err := proposal.NewManager(proposal.Options{TTL: time.Minute})
	require.NoError(t, err)
	return engine.New(store, sink, mgr, cfg)
}

// resolveFirst decides the first proposal that reaches the operator queue.
func resolveFirst(t *testing.T, mgr *proposal.Manager, confirmed bool) {
	t.Helper()
	go func() {
		for i := 0; i < 400; i++ {
			if p := mgr.Pending(); len(p) > 0 && p[0].State == domain.ProposalAwaiting {
				mgr.Resolve(context.Background(), p[0].ID, confirmed, "tester")
				return
			}
			time.Sleep(5 * time.Millisecond)
		}
	}()
}

func TestCreateAndMoveReturnMessages(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	s := New(e, "test", nil)
	ctx := context.Background()

	res, out, err := s.handleCreateDeal(ctx, nil, engine.CreateDealArgs{Name: "Acme", Value: 1000, Company: "Acme Co"})
	require.NoError(t, err)
	assert.Equal(t, `✅ Deal "Acme" created in Lead stage — $1,000 for Acme Co.`, res.Content[0].(*mcp.TextContent).Text)
	assert.Empty(t, out.(ToolResult).Rejection)

	_, out, err = s.handleMoveDeal(ctx, nil, engine.MoveDealArgs{DealName: "acme", NewStage: "proposal"})
	require.NoError(t, err)
	assert.Equal(t, `✅ Deal "Acme" moved to Proposal.`, out.(ToolResult).Message)

	_, out, err = s.handleMoveDeal(ctx, nil, engine.MoveDealArgs{DealName: "acme", NewStage: "won"})
	require.NoError(t, err)
	assert.Equal(t, engine.RejectValidation, out.(ToolResult).Rejection)

	_, out, err = s.handleSummary(ctx, nil, SummaryArgs{})
	require.NoError(t, err)
	assert.Contains(t, out.(ToolResult).Message, "📊 Pipeline: 5 deals")
}

func TestCloseDealWaitsForOperator(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	s := New(e, "test", nil)
	resolveFirst(t, e.Proposals, true)

	_, out, err := s.handleCloseDeal(context.Background(), nil, engine.CloseDealArgs{DealName: "Cloud Migration", Outcome: "closed_won"})
	require.NoError(t, err)
	result := out.(ToolResult)
	require.NotNil(t, result.Approved)
	assert.True(t, *result.Approved)
	assert.Equal(t, domain.StageClosedWon, result.Outcome)
	deals := e.Store.All()
	assert.Equal(t, domain.StageClosedWon, deals[domain.FindByName(deals, "Cloud Migration")].Stage)
}

func TestDeleteDealCancelledLeavesPipeline(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	s := New(e, "test", nil)
	resolveFirst(t, e.Proposals, false)

	_, out, err := s.handleDeleteDeal(context.Background(), nil, engine.DeleteDealArgs{DealName: "Security Audit"})
	require.NoError(t, err)
	result := out.(ToolResult)
	require.NotNil(t, result.Approved)
	assert.False(t, *result.Approved)
	assert.Equal(t, "🚫 Cancelled by operator; nothing was changed.", result.Message)
	assert.Len(t, e.Store.All(), 4)
}

func TestConfirmedToolRejectsUnknownDealImmediately(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	s := New(e, "test", nil)

	_, out, err := s.handleDeleteDeal(context.Background(), nil, engine.DeleteDealArgs{DealName: "Ghost"})
	require.NoError(t, err)
	result := out.(ToolResult)
	assert.Nil(t, result.Approved)
	assert.Contains(t, result.Message, `❌ Deal "Ghost" not found.`)
	assert.Empty(t, e.Proposals.Pending())
}

func TestWaitTimeoutKeepsProposalOpen(t *testing.T) {
	e := newTestEngine(t, 20*time.Millisecond)
	s := New(e, "test", nil)

	_, out, err := s.handleCloseDeal(context.Background(), nil, engine.CloseDealArgs{DealName: "Cloud Migration", Outcome: "closed_lost"})
	require.NoError(t, err)
	result := out.(ToolResult)
	assert.Nil(t, result.Approved)
	assert.Contains(t, result.Message, "No operator decision yet")
	require.Len(t, e.Proposals.Pending(), 1)
	assert.Equal(t, result.ProposalID, e.Proposals.Pending()[0].ID)
}

func TestToolsOverInMemoryTransport(t *testing.T) {
	e := newTestEngine(t, time.Minute)
	s := New(e, "test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	serverT, clientT := mcp.NewInMemoryTransports()
	_, err := s.Connect(ctx, serverT)
	require.NoError(t, err)
	client := mcp.NewClient(&mcp.Implementation{Name: "test-client", Version: "v0"}, nil)
	session, err := client.Connect(ctx, clientT, nil)
	require.NoError(t, err)
	defer session.Close()

	tools, err := session.ListTools(ctx, nil)
	require.NoError(t, err)
	names := make([]string, 0, len(tools.Tools))
	for _, tool := range tools.Tools {
		names = append(names, tool.Name)
	}
	assert.ElementsMatch(t, []string{"create_deal", "move_deal", "get_pipeline_summary", "close_deal", "delete_deal"}, names)

	res, err := session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "move_deal",
		Arguments: map[string]any{"dealName": "Nope", "newStage": "lead"},
	})
	require.NoError(t, err)
	require.NotEmpty(t, res.Content)
	assert.Equal(t, `❌ Deal "Nope" not found. Available deals: Cloud Migration, Annual SaaS License, Security Audit, Data Analytics Platform`, res.Content[0].(*mcp.TextContent).Text)

	resources, err := session.ListResources(ctx, nil)
	require.NoError(t, err)
	require.Len(t, resources.Resources, 1)
	assert.Equal(t, PipelineURI, resources.Resources[0].URI)

	_, err = session.CallTool(ctx, &mcp.CallToolParams{
		Name:      "move_deal",
		Arguments: map[string]any{"dealName": "security audit", "newStage": "negotiation"},
	})
	require.NoError(t, err)

	read, err := session.ReadResource(ctx, &mcp.ReadResourceParams{URI: PipelineURI})
	require.NoError(t, err)
	require.Len(t, read.Contents, 1)
	var state PipelineState
	require.NoError(t, json.Unmarshal([]byte(read.Contents[0].Text), &state))
	assert.Equal(t, 4, state.Summary.Count)
	require.Len(t, state.Deals, 4)
	assert.Equal(t, "Security Audit", state.Deals[2].Name)
	assert.Equal(t, domain.StageNegotiation, state.Deals[2].Stage)
	assert.Equal(t, "Negotiation", state.Deals[2].StageLabel)
}

func TestPipelineStateMirrorsBoard(t *testing.T) {
	deals := domain.SampleDeals(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	state := NewPipelineState(deals)
	assert.Equal(t, 4, state.Summary.Count)
	require.Len(t, state.Deals, 4)
	assert.Equal(t, deals[0].Name, state.Deals[0].Name)
	assert.Equal(t, deals[0].Company, state.Deals[0].Company)
	assert.Equal(t, deals[0].ContactEmail, state.Deals[0].ContactEmail)
	assert.Equal(t, deals[0].Stage.Label(), state.Deals[0].StageLabel)

	empty := NewPipelineState(nil)
	assert.NotNil(t, empty.Deals)
	assert.Zero(t, empty.Summary.Count)
}
