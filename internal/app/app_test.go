package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/config"
	"dealflow/internal/domain"
	"dealflow/internal/engine"
)

func TestBuildPersistsAcrossRestarts(t *testing.T) {
	workspace := t.TempDir()
	ctx := context.Background()

	a, err := Build(ctx, config.Default(), workspace, nil)
	require.NoError(t, err)
	assert.Len(t, a.Engine.Store.All(), 4)

	reply := a.Engine.CreateDeal(ctx, engine.CreateDealArgs{Name: "Renewal", Value: 5000, Company: "GlobalCorp"})
	require.False(t, reply.Rejected(), reply.Message)
	require.NoError(t, a.Close())

	b, err := Build(ctx, config.Default(), workspace, nil)
	require.NoError(t, err)
	defer b.Close()
	deals := b.Engine.Store.All()
	require.Len(t, deals, 5)
	assert.Equal(t, "Renewal", deals[4].Name)

	events, err := b.Repo.LatestEvents(ctx, 10, 0, domain.NotifyDealCreated)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, `Deal "Renewal" created — $5,000`, events[0].Message)
}

func TestBuildEmptySeed(t *testing.T) {
	cfg := config.Default()
	cfg.Pipeline.Seed = "empty"
	a, err := Build(context.Background(), cfg, t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()
	assert.Empty(t, a.Engine.Store.All())
	assert.Equal(t, "📊 Pipeline: 0 deals worth $0. 0 active, 0 won ($0). 0 lost, 0% win rate.", a.Engine.PipelineSummary(context.Background()).Message)
}

func TestBuildSweepsExpiredProposals(t *testing.T) {
	cfg := config.Default()
	cfg.Proposals.TTL = 20 * time.Millisecond
	cfg.Proposals.SweepInterval = 10 * time.Millisecond
	a, err := Build(context.Background(), cfg, t.TempDir(), nil)
	require.NoError(t, err)
	defer a.Close()

	reply := a.Engine.DeleteDeal(context.Background(), engine.DeleteDealArgs{DealName: "Security Audit"})
	require.NotNil(t, reply.Proposal)
	require.Eventually(t, func() bool {
		p, ok := a.Engine.Proposals.Get(reply.Proposal.ID)
		return ok && p.State == domain.ProposalCancelled && p.Reason == "expired"
	}, 2*time.Second, 10*time.Millisecond)
	assert.Len(t, a.Engine.Store.All(), 4)
}
