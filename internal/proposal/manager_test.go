package proposal

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dealflow/internal/domain"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newManager(t *testing.T, ttl time.Duration, exec Executor) (*Manager, *fakeClock) {
	t.Helper()
	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)}
	var seq atomic.Int64
	m, err := NewManager(Options{
		TTL:   ttl,
		Now:   clock.Now,
		NewID: func() string { return fmt.Sprintf("p%d", seq.Add(1)) },
	})
	require.NoError(t, err)
	if exec != nil {
		m.Bind(exec)
	}
	return m, clock
}

func closeExecutor(calls *atomic.Int64) ExecutorFunc {
	return func(_ context.Context, p domain.Proposal) (domain.Resolution, error) {
		calls.Add(1)
		return domain.Resolution{Outcome: domain.Stage(p.Params["outcome"]), Applied: true, Message: "done"}, nil
	}
}

func TestConfirmRunsExecutorOnce(t *testing.T) {
	var calls atomic.Int64
	m, _ := newManager(t, 0, closeExecutor(&calls))
	p := m.Propose(domain.ProposalCloseDeal, "Cloud Migration", "deal_1", map[string]string{"outcome": "closed_won"})
	assert.Equal(t, domain.ProposalAwaiting, p.State)

	got, err := m.Resolve(context.Background(), p.ID, true, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalConfirmed, got.State)
	require.NotNil(t, got.Resolution)
	assert.True(t, got.Resolution.Approved)
	assert.Equal(t, domain.StageClosedWon, got.Resolution.Outcome)
	assert.Equal(t, "op-1", got.ResolvedBy)

	_, err = m.Resolve(context.Background(), p.ID, true, "op-1")
	assert.ErrorIs(t, err, ErrResolved)
	_, err = m.Resolve(context.Background(), p.ID, false, "op-1")
	assert.ErrorIs(t, err, ErrResolved)
	assert.Equal(t, int64(1), calls.Load())
	assert.Empty(t, m.Pending())
}

func TestCancelDoesNotExecute(t *testing.T) {
	var calls atomic.Int64
	m, _ := newManager(t, 0, closeExecutor(&calls))
	p := m.Propose(domain.ProposalDeleteDeal, "Security Audit", "deal_3", nil)

	got, err := m.Resolve(context.Background(), p.ID, false, "op-1")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalCancelled, got.State)
	assert.Equal(t, ReasonOperator, got.Reason)
	assert.False(t, got.Resolution.Approved)
	assert.Zero(t, calls.Load())
}

func TestConcurrentResolveHasOneWinner(t *testing.T) {
	var calls atomic.Int64
	m, _ := newManager(t, 0, closeExecutor(&calls))
	p := m.Propose(domain.ProposalCloseDeal, "X", "d", map[string]string{"outcome": "closed_lost"})

	var wg sync.WaitGroup
	var ok atomic.Int64
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(confirm bool) {
			defer wg.Done()
			if _, err := m.Resolve(context.Background(), p.ID, confirm, "op"); err == nil {
				ok.Add(1)
			}
		}(i%2 == 0)
	}
	wg.Wait()
	assert.Equal(t, int64(1), ok.Load())
	assert.LessOrEqual(t, calls.Load(), int64(1))
}

func TestDraftMustBeReadyBeforeResolve(t *testing.T) {
	m, _ := newManager(t, 0, closeExecutor(new(atomic.Int64)))
	d := m.Draft(domain.ProposalCloseDeal, map[string]string{"dealName": "Cloud Migration"})
	assert.Equal(t, domain.ProposalProposed, d.State)

	_, err := m.Resolve(context.Background(), d.ID, true, "op")
	assert.ErrorIs(t, err, ErrNotReady)

	amended, err := m.Amend(d.ID, map[string]string{"outcome": "closed_won"})
	require.NoError(t, err)
	assert.Equal(t, "closed_won", amended.Params["outcome"])
	assert.Equal(t, "Cloud Migration", amended.Params["dealName"])

	ready, err := m.Ready(d.ID, "Cloud Migration", "deal_1", nil)
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalAwaiting, ready.State)

	_, err = m.Amend(d.ID, map[string]string{"outcome": "closed_lost"})
	assert.Error(t, err)

	got, err := m.Resolve(context.Background(), d.ID, true, "op")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalConfirmed, got.State)
}

func TestCancelDraft(t *testing.T) {
	m, _ := newManager(t, 0, nil)
	d := m.Draft(domain.ProposalDeleteDeal, nil)
	got, err := m.Cancel(d.ID, "invalid arguments")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalCancelled, got.State)
	assert.Equal(t, "invalid arguments", got.Reason)

	_, err = m.Cancel(d.ID, "again")
	assert.ErrorIs(t, err, ErrResolved)
	_, err = m.Cancel("missing", "x")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExpiry(t *testing.T) {
	var calls atomic.Int64
	m, clock := newManager(t, time.Minute, closeExecutor(&calls))
	a := m.Propose(domain.ProposalCloseDeal, "A", "a", map[string]string{"outcome": "closed_won"})
	b := m.Propose(domain.ProposalDeleteDeal, "B", "b", nil)
	assert.Equal(t, "2024-01-01T09:01:00Z", a.ExpiresAt)

	clock.Advance(30 * time.Second)
	assert.Zero(t, m.Sweep())
	clock.Advance(30 * time.Second)

	got, err := m.Resolve(context.Background(), a.ID, true, "op")
	assert.ErrorIs(t, err, ErrExpired)
	assert.Equal(t, domain.ProposalCancelled, got.State)
	assert.Equal(t, ReasonExpired, got.Reason)
	assert.Zero(t, calls.Load())

	assert.Equal(t, 1, m.Sweep())
	got, ok := m.Get(b.ID)
	require.True(t, ok)
	assert.Equal(t, ReasonExpired, got.Reason)
}

func TestWaitReturnsResolution(t *testing.T) {
	m, _ := newManager(t, 0, closeExecutor(new(atomic.Int64)))
	p := m.Propose(domain.ProposalCloseDeal, "A", "a", map[string]string{"outcome": "closed_won"})

	done := make(chan domain.Proposal, 1)
	go func() {
		got, err := m.Wait(context.Background(), p.ID)
		if err == nil {
			done <- got
		}
		close(done)
	}()
	_, err := m.Resolve(context.Background(), p.ID, true, "op")
	require.NoError(t, err)

	select {
	case got := <-done:
		assert.Equal(t, domain.ProposalConfirmed, got.State)
		assert.True(t, got.Resolution.Approved)
	case <-time.After(2 * time.Second):
		t.Fatal("wait did not return")
	}
}

func TestWaitHonoursContext(t *testing.T) {
	m, _ := newManager(t, 0, nil)
	p := m.Propose(domain.ProposalDeleteDeal, "A", "a", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	got, err := m.Wait(ctx, p.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, domain.ProposalAwaiting, got.State)

	_, err = m.Wait(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestExecutorErrorStillConfirms(t *testing.T) {
	m, _ := newManager(t, 0, ExecutorFunc(func(context.Context, domain.Proposal) (domain.Resolution, error) {
		return domain.Resolution{}, errors.New("store unavailable")
	}))
	p := m.Propose(domain.ProposalDeleteDeal, "A", "a", nil)
	got, err := m.Resolve(context.Background(), p.ID, true, "op")
	require.NoError(t, err)
	assert.Equal(t, domain.ProposalConfirmed, got.State)
	assert.True(t, got.Resolution.Approved)
	assert.False(t, got.Resolution.Applied)
	assert.Equal(t, "store unavailable", got.Resolution.Message)
}

func TestSubscribeSeesTransitions(t *testing.T) {
	m, _ := newManager(t, 0, closeExecutor(new(atomic.Int64)))
	ch, cancel := m.Subscribe(8)
	defer cancel()
	p := m.Propose(domain.ProposalCloseDeal, "A", "a", map[string]string{"outcome": "closed_lost"})
	_, err := m.Resolve(context.Background(), p.ID, true, "op")
	require.NoError(t, err)

	first := <-ch
	second := <-ch
	assert.Equal(t, domain.ProposalAwaiting, first.State)
	assert.Equal(t, domain.ProposalConfirmed, second.State)
}

func TestPendingIsOrderedAndCopied(t *testing.T) {
	m, clock := newManager(t, 0, nil)
	m.Propose(domain.ProposalDeleteDeal, "A", "a", map[string]string{"k": "v"})
	clock.Advance(time.Second)
	m.Propose(domain.ProposalDeleteDeal, "B", "b", nil)

	list := m.Pending()
	require.Len(t, list, 2)
	assert.Equal(t, "A", list[0].Target)
	list[0].Params["k"] = "changed"
	again, _ := m.Get(list[0].ID)
	assert.Equal(t, "v", again.Params["k"])
}
