// Package proposal implements the confirmation handshake for destructive actions:
// a proposal waits for an operator to confirm or cancel it before anything changes.
package proposal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"

	"dealflow/internal/broadcast"
	"dealflow/internal/domain"
	"dealflow/internal/metrics"
)

var (
	ErrNotFound = errors.New("proposal not found")
	ErrResolved = errors.New("proposal already resolved")
	ErrNotReady = errors.New("proposal is still collecting arguments")
	ErrExpired  = errors.New("proposal expired")
)

const (
	ReasonOperator = "cancelled by operator"
	ReasonExpired  = "expired"
)

// Executor performs the mutation a confirmed proposal stands for. It must read
// current state at call time and must not call back into the Manager.
type Executor interface {
	Execute(ctx context.Context, p domain.Proposal) (domain.Resolution, error)
}

type ExecutorFunc func(ctx context.Context, p domain.Proposal) (domain.Resolution, error)

func (f ExecutorFunc) Execute(ctx context.Context, p domain.Proposal) (domain.Resolution, error) {
	return f(ctx, p)
}

type Options struct {
	TTL     time.Duration
	History int
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

type entry struct {
	p         domain.Proposal
	expiresAt time.Time
	resolving bool
	done      chan struct{}
	closeOnce sync.Once
}

func (e *entry) closeDone() {
	e.closeOnce.Do(func() { close(e.done) })
}

type Manager struct {
	ttl    time.Duration
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
	hub    *broadcast.Hub[domain.Proposal]

	mu       sync.RWMutex
	exec     Executor
	pending  map[string]*entry
	resolved *lru.Cache[string, *entry]
}

func NewManager(opts Options) (*Manager, error) {
	if opts.History <= 0 {
		opts.History = 256
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	resolved, err := lru.New[string, *entry](opts.History)
	if err != nil {
		return nil, fmt.Errorf("proposal history: %w", err)
	}
	return &Manager{
		ttl:      opts.TTL,
		logger:   opts.Logger,
		now:      opts.Now,
		newID:    opts.NewID,
		hub:      broadcast.New[domain.Proposal](),
		pending:  make(map[string]*entry),
		resolved: resolved,
	}, nil
}

// Bind sets the executor run on confirmation.
func (m *Manager) Bind(exec Executor) {
	m.mu.Lock()
	m.exec = exec
	m.mu.Unlock()
}

// Draft registers a proposal whose arguments are still arriving.
func (m *Manager) Draft(kind domain.ProposalKind, params map[string]string) domain.Proposal {
	return m.add(kind, "", "", params, domain.ProposalProposed)
}

// Propose registers a complete proposal awaiting the operator.
func (m *Manager) Propose(kind domain.ProposalKind, target, dealID string, params map[string]string) domain.Proposal {
	return m.add(kind, target, dealID, params, domain.ProposalAwaiting)
}

func (m *Manager) add(kind domain.ProposalKind, target, dealID string, params map[string]string, state domain.ProposalState) domain.Proposal {
	now := m.now().UTC()
	e := &entry{
		p: domain.Proposal{
			ID:        m.newID(),
			Kind:      kind,
			Target:    target,
			DealID:    dealID,
			Params:    copyParams(params),
			State:     state,
			CreatedAt: now.Format(time.RFC3339Nano),
		},
		done: make(chan struct{}),
	}
	if m.ttl > 0 {
		e.expiresAt = now.Add(m.ttl)
		e.p.ExpiresAt = e.expiresAt.Format(time.RFC3339Nano)
	}
	m.mu.Lock()
	m.pending[e.p.ID] = e
	out := clone(e.p)
	m.mu.Unlock()
	m.hub.Publish(out)
	m.logger.Debug("proposal registered", "id", out.ID, "kind", out.Kind, "state", out.State, "target", target)
	return out
}

// Amend merges streamed arguments into a proposal that is still a draft.
func (m *Manager) Amend(id string, params map[string]string) (domain.Proposal, error) {
	m.mu.Lock()
	e, err := m.draftLocked(id)
	if err != nil {
		m.mu.Unlock()
		return domain.Proposal{}, err
	}
	for k, v := range params {
		e.p.Params[k] = v
	}
	out := clone(e.p)
	m.mu.Unlock()
	m.hub.Publish(out)
	return out, nil
}

// Ready moves a draft to awaiting_confirmation once its arguments are known and
// valid. params replaces the draft's arguments with their normalized form.
func (m *Manager) Ready(id, target, dealID string, params map[string]string) (domain.Proposal, error) {
	m.mu.Lock()
	e, err := m.draftLocked(id)
	if err != nil {
		m.mu.Unlock()
		return domain.Proposal{}, err
	}
	e.p.Target = target
	e.p.DealID = dealID
	if params != nil {
		e.p.Params = copyParams(params)
	}
	e.p.State = domain.ProposalAwaiting
	out := clone(e.p)
	m.mu.Unlock()
	m.hub.Publish(out)
	return out, nil
}

func (m *Manager) draftLocked(id string) (*entry, error) {
	e, ok := m.pending[id]
	if !ok {
		if _, ok := m.resolved.Peek(id); ok {
			return nil, ErrResolved
		}
		return nil, ErrNotFound
	}
	if e.p.State != domain.ProposalProposed || e.resolving {
		return nil, fmt.Errorf("proposal %s is %s, not a draft", id, e.p.State)
	}
	return e, nil
}

// Cancel ends an unresolved proposal without touching the pipeline.
func (m *Manager) Cancel(id, reason string) (domain.Proposal, error) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok || e.resolving {
		m.mu.Unlock()
		if _, ok := m.resolved.Peek(id); ok || e != nil {
			return m.lookup(id), ErrResolved
		}
		return domain.Proposal{}, ErrNotFound
	}
	m.finishLocked(e, domain.ProposalCancelled, reason, domain.Resolution{Approved: false}, "")
	out := clone(e.p)
	m.mu.Unlock()
	m.announce(e, out)
	return out, nil
}

// Resolve applies the operator's decision. Confirmation runs the executor;
// cancellation records approved=false. Only awaiting_confirmation proposals
// can be resolved, and only once.
func (m *Manager) Resolve(ctx context.Context, id string, confirmed bool, operator string) (domain.Proposal, error) {
	m.mu.Lock()
	e, ok := m.pending[id]
	if !ok {
		m.mu.Unlock()
		if _, ok := m.resolved.Peek(id); ok {
			return m.lookup(id), ErrResolved
		}
		return domain.Proposal{}, ErrNotFound
	}
	if e.resolving {
		m.mu.Unlock()
		return m.lookup(id), ErrResolved
	}
	if e.p.State == domain.ProposalProposed {
		out := clone(e.p)
		m.mu.Unlock()
		return out, ErrNotReady
	}
	if m.expiredLocked(e, m.now()) {
		m.finishLocked(e, domain.ProposalCancelled, ReasonExpired, domain.Resolution{Approved: false}, "")
		out := clone(e.p)
		m.mu.Unlock()
		m.announce(e, out)
		return out, ErrExpired
	}
	e.resolving = true
	exec := m.exec
	snapshot := clone(e.p)
	m.mu.Unlock()

	state := domain.ProposalCancelled
	reason := ReasonOperator
	res := domain.Resolution{Approved: false}
	if confirmed {
		state, reason = domain.ProposalConfirmed, ""
		if exec == nil {
			res = domain.Resolution{Approved: true, Message: "no executor bound"}
		} else {
			r, err := exec.Execute(ctx, snapshot)
			if err != nil {
				m.logger.Warn("proposal execution failed", "id", id, "kind", snapshot.Kind, "err", err)
				r = domain.Resolution{Approved: true, Applied: false, Message: err.Error()}
			}
			res = r
			res.Approved = true
		}
	}

	m.mu.Lock()
	m.finishLocked(e, state, reason, res, operator)
	out := clone(e.p)
	m.mu.Unlock()
	m.announce(e, out)
	return out, nil
}

// Wait blocks until the proposal is resolved or ctx ends.
func (m *Manager) Wait(ctx context.Context, id string) (domain.Proposal, error) {
	m.mu.RLock()
	e, ok := m.pending[id]
	if !ok {
		e, ok = m.resolved.Peek(id)
	}
	m.mu.RUnlock()
	if !ok {
		return domain.Proposal{}, ErrNotFound
	}
	select {
	case <-e.done:
		return m.lookup(id), nil
	case <-ctx.Done():
		return m.lookup(id), ctx.Err()
	}
}

func (m *Manager) Get(id string) (domain.Proposal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if e, ok := m.pending[id]; ok {
		return clone(e.p), true
	}
	if e, ok := m.resolved.Peek(id); ok {
		return clone(e.p), true
	}
	return domain.Proposal{}, false
}

func (m *Manager) lookup(id string) domain.Proposal {
	p, _ := m.Get(id)
	return p
}

// Pending lists unresolved proposals, oldest first.
func (m *Manager) Pending() []domain.Proposal {
	m.mu.RLock()
	out := make([]domain.Proposal, 0, len(m.pending))
	for _, e := range m.pending {
		out = append(out, clone(e.p))
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt == out[j].CreatedAt {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out
}

// History lists retained resolved proposals, most recently resolved first.
func (m *Manager) History() []domain.Proposal {
	m.mu.RLock()
	entries := m.resolved.Values()
	out := make([]domain.Proposal, 0, len(entries))
	for i := len(entries) - 1; i >= 0; i-- {
		out = append(out, clone(entries[i].p))
	}
	m.mu.RUnlock()
	return out
}

// Sweep cancels proposals past their TTL and returns how many expired.
func (m *Manager) Sweep() int {
	now := m.now()
	var expired []*entry
	var outs []domain.Proposal
	m.mu.Lock()
	for _, e := range m.pending {
		if e.resolving || !m.expiredLocked(e, now) {
			continue
		}
		m.finishLocked(e, domain.ProposalCancelled, ReasonExpired, domain.Resolution{Approved: false}, "")
		expired = append(expired, e)
		outs = append(outs, clone(e.p))
	}
	m.mu.Unlock()
	for i, e := range expired {
		m.logger.Info("proposal expired", "id", outs[i].ID, "kind", outs[i].Kind, "target", outs[i].Target)
		m.announce(e, outs[i])
	}
	return len(expired)
}

// Run sweeps expired proposals on every tick until ctx ends.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if m.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.Sweep()
		}
	}
}

// Subscribe streams every proposal state change.
func (m *Manager) Subscribe(buffer int) (<-chan domain.Proposal, func()) {
	return m.hub.Subscribe(buffer)
}

func (m *Manager) expiredLocked(e *entry, now time.Time) bool {
	return !e.expiresAt.IsZero() && !now.Before(e.expiresAt)
}

func (m *Manager) finishLocked(e *entry, state domain.ProposalState, reason string, res domain.Resolution, operator string) {
	e.p.State = state
	e.p.Reason = reason
	e.p.ResolvedAt = m.now().UTC().Format(time.RFC3339Nano)
	e.p.ResolvedBy = operator
	e.p.Resolution = &res
	e.resolving = false
	delete(m.pending, e.p.ID)
	m.resolved.Add(e.p.ID, e)
}

func (m *Manager) announce(e *entry, p domain.Proposal) {
	e.closeDone()
	metrics.RecordProposal(string(p.Kind), string(p.State), p.Reason)
	m.hub.Publish(p)
}

func clone(p domain.Proposal) domain.Proposal {
	p.Params = copyParams(p.Params)
	if p.Resolution != nil {
		r := *p.Resolution
		p.Resolution = &r
	}
	return p
}

func copyParams(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
