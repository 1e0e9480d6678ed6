// Package pipeline holds the authoritative in-memory deal collection and keeps
// it in step with a persistence collaborator.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"dealflow/internal/broadcast"
	"dealflow/internal/domain"
	"dealflow/internal/metrics"
)

var (
	// ErrNotStored is returned by a Persister that has nothing saved under a key.
	ErrNotStored = errors.New("pipeline not stored")
	// ErrConflict is returned by Save when the stored version is not the expected one.
	ErrConflict = errors.New("pipeline version conflict")
)

// maxUpdateAttempts bounds how often Update reloads and re-applies after a conflict.
const maxUpdateAttempts = 5

// Persister loads and saves whole pipeline snapshots by key. Save is a
// compare-and-swap: it stores version only if the stored version equals prev
// (0 meaning nothing stored yet) and returns ErrConflict otherwise.
type Persister interface {
	Load(ctx context.Context, key string) ([]domain.Deal, int64, error)
	Save(ctx context.Context, key string, deals []domain.Deal, prev, version int64) error
	Version(ctx context.Context, key string) (int64, error)
}

const (
	SourceLocal    = "local"
	SourceExternal = "external"
)

type Snapshot struct {
	Deals   []domain.Deal `json:"deals"`
	Version int64         `json:"version"`
	Source  string        `json:"source" enum:"local,external"`
}

type Options struct {
	Key       string
	Persister Persister
	Seed      []domain.Deal
	Logger    *slog.Logger
}

type Store struct {
	key       string
	persister Persister
	logger    *slog.Logger
	hub       *broadcast.Hub[Snapshot]

	mu      sync.Mutex
	deals   []domain.Deal
	version int64
	// stored is the version last read from or written to the persister.
	stored int64
}

// Open loads the pipeline stored under opts.Key, seeding it when nothing is stored.
// An unreadable snapshot is logged and replaced by the seed in memory only.
func Open(ctx context.Context, opts Options) (*Store, error) {
	if opts.Key == "" {
		return nil, errors.New("pipeline key is required")
	}
	if opts.Persister == nil {
		opts.Persister = NewMemoryPersister()
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &Store{
		key:       opts.Key,
		persister: opts.Persister,
		logger:    logger.With("pipeline", opts.Key),
		hub:       broadcast.New[Snapshot](),
	}
	deals, version, err := s.persister.Load(ctx, s.key)
	switch {
	case err == nil:
		s.deals, s.version, s.stored = clone(deals), version, version
	case errors.Is(err, ErrNotStored):
		s.deals, s.version = clone(opts.Seed), 1
		err := s.persister.Save(ctx, s.key, s.deals, 0, s.version)
		switch {
		case err == nil:
			s.stored = s.version
		case errors.Is(err, ErrConflict):
			// Another process seeded first.
			if err := s.reloadLocked(ctx); err != nil {
				s.logger.Warn("reload after seed conflict failed", "err", err)
			}
		default:
			s.logger.Warn("persist seed failed", "err", err)
			metrics.RecordPersistError()
		}
	default:
		s.logger.Warn("load pipeline failed; using seed", "err", err)
		s.deals, s.version = clone(opts.Seed), 0
	}
	metrics.SetPipelineSize(len(s.deals))
	return s, nil
}

func (s *Store) Key() string { return s.key }

// All returns a copy of the current deals in insertion order.
func (s *Store) All() []domain.Deal {
	s.mu.Lock()
	defer s.mu.Unlock()
	return clone(s.deals)
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{Deals: clone(s.deals), Version: s.version, Source: SourceLocal}
}

// Update applies fn to the then-current deals and substitutes the result.
// fn must be pure: it may run more than once, while other callers wait, and
// must not call back into the store. A result equal to the input leaves the
// version untouched.
//
// When another process saved first, the stored snapshot is reloaded and fn is
// applied again on top of it, dropping local changes that never reached the
// persister. Any other failed save is logged and the in-memory state is kept.
func (s *Store) Update(ctx context.Context, fn func([]domain.Deal) []domain.Deal) Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	ctx = context.WithoutCancel(ctx)

	for attempt := 1; ; attempt++ {
		next := fn(clone(s.deals))
		if slices.Equal(next, s.deals) {
			return Snapshot{Deals: clone(s.deals), Version: s.version, Source: SourceLocal}
		}
		version := s.version + 1
		err := s.persister.Save(ctx, s.key, next, s.stored, version)
		if errors.Is(err, ErrConflict) && attempt < maxUpdateAttempts {
			rerr := s.reloadLocked(ctx)
			if rerr == nil {
				continue
			}
			s.logger.Warn("reload after conflict failed", "err", rerr)
		}
		s.deals = clone(next)
		s.version = version
		if err != nil {
			s.logger.Warn("persist pipeline failed; keeping in-memory state", "version", version, "err", err)
			metrics.RecordPersistError()
		} else {
			s.stored = version
		}
		metrics.SetPipelineSize(len(s.deals))
		snap := Snapshot{Deals: clone(s.deals), Version: s.version, Source: SourceLocal}
		s.hub.Publish(snap)
		return snap
	}
}

// reloadLocked replaces the local state with the stored snapshot. s.mu must be held.
func (s *Store) reloadLocked(ctx context.Context) error {
	deals, version, err := s.persister.Load(ctx, s.key)
	if err != nil {
		return err
	}
	s.deals, s.version, s.stored = clone(deals), version, version
	metrics.SetPipelineSize(len(s.deals))
	s.hub.Publish(Snapshot{Deals: clone(s.deals), Version: s.version, Source: SourceExternal})
	s.logger.Info("reloaded pipeline changed elsewhere", "version", version, "deals", len(deals))
	return nil
}

// Apply installs a snapshot written by another process when it is newer than
// the local one. Saves are compare-and-swap, so a newer stored version already
// contains every write that preceded it.
func (s *Store) Apply(deals []domain.Deal, version int64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if version <= s.version {
		return false
	}
	s.deals = clone(deals)
	s.version = version
	s.stored = version
	metrics.SetPipelineSize(len(s.deals))
	s.hub.Publish(Snapshot{Deals: clone(s.deals), Version: s.version, Source: SourceExternal})
	s.logger.Info("applied external pipeline change", "version", version, "deals", len(deals))
	return true
}

// Sync pulls the stored snapshot once and applies it if newer.
func (s *Store) Sync(ctx context.Context) (bool, error) {
	stored, err := s.persister.Version(ctx, s.key)
	if err != nil {
		if errors.Is(err, ErrNotStored) {
			return false, nil
		}
		return false, err
	}
	s.mu.Lock()
	current := s.version
	s.mu.Unlock()
	if stored <= current {
		return false, nil
	}
	deals, version, err := s.persister.Load(ctx, s.key)
	if err != nil {
		return false, err
	}
	return s.Apply(deals, version), nil
}

// Watch polls the persister until ctx ends, applying changes made elsewhere.
func (s *Store) Watch(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sync(ctx); err != nil && ctx.Err() == nil {
				s.logger.Warn("pipeline sync failed", "err", err)
			}
		}
	}
}

// Subscribe streams snapshots after every change, local or external.
func (s *Store) Subscribe(buffer int) (<-chan Snapshot, func()) {
	return s.hub.Subscribe(buffer)
}

func clone(deals []domain.Deal) []domain.Deal {
	if deals == nil {
		return []domain.Deal{}
	}
	return append([]domain.Deal(nil), deals...)
}
