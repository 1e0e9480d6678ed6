// Package notify delivers transient user-facing notifications to an explicit
// list of observers. Delivery is best effort and never reports back to the caller.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"dealflow/internal/broadcast"
	"dealflow/internal/domain"
	"dealflow/internal/metrics"
)

const (
	DefaultDisplay = 4 * time.Second
	defaultBuffer  = 64
	deliverTimeout = 10 * time.Second
)

type Observer interface {
	Observe(ctx context.Context, n domain.Notification) error
}

type ObserverFunc func(ctx context.Context, n domain.Notification) error

func (f ObserverFunc) Observe(ctx context.Context, n domain.Notification) error { return f(ctx, n) }

type Options struct {
	Display time.Duration
	Buffer  int
	Logger  *slog.Logger
	Now     func() time.Time
	NewID   func() string
}

type namedObserver struct {
	name string
	obs  Observer
}

type Sink struct {
	display time.Duration
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string
	hub     *broadcast.Hub[domain.Notification]

	mu        sync.Mutex
	observers []namedObserver
	active    []domain.Notification
	queue     chan domain.Notification
	closed    bool
	wg        sync.WaitGroup
}

// New starts a sink with its observer worker. Call Close to drain it.
func New(opts Options) *Sink {
	if opts.Display <= 0 {
		opts.Display = DefaultDisplay
	}
	if opts.Buffer <= 0 {
		opts.Buffer = defaultBuffer
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
	s := &Sink{
		display: opts.Display,
		logger:  opts.Logger,
		now:     opts.Now,
		newID:   opts.NewID,
		hub:     broadcast.New[domain.Notification](),
		queue:   make(chan domain.Notification, opts.Buffer),
	}
	s.wg.Add(1)
	go s.run()
	return s
}

// Attach registers an observer. Observers see notifications emitted after they attach.
func (s *Sink) Attach(name string, o Observer) {
	if o == nil {
		return
	}
	s.mu.Lock()
	s.observers = append(s.observers, namedObserver{name: name, obs: o})
	s.mu.Unlock()
}

// Notify stamps n, shows it to live subscribers and queues it for observers.
// It never blocks on observers and never fails.
func (s *Sink) Notify(ctx context.Context, n domain.Notification) domain.Notification {
	now := s.now().UTC()
	if n.ID == "" {
		n.ID = s.newID()
	}
	if n.Severity == "" {
		n.Severity = domain.SeverityInfo
	}
	n.At = now.Format(time.RFC3339Nano)
	n.ExpiresAt = now.Add(s.display).Format(time.RFC3339Nano)
	metrics.RecordNotification(string(n.Severity))

	s.mu.Lock()
	s.active = append(s.pruneLocked(now), n)
	if !s.closed {
		select {
		case s.queue <- n:
		default:
			s.logger.Warn("notification queue full; dropping for observers", "kind", n.Kind, "id", n.ID)
		}
	}
	s.mu.Unlock()

	s.hub.Publish(n)
	return n
}

// Active returns notifications still inside their display window, oldest first.
func (s *Sink) Active() []domain.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = s.pruneLocked(s.now().UTC())
	return append([]domain.Notification(nil), s.active...)
}

// Subscribe streams every notification as it is emitted.
func (s *Sink) Subscribe(buffer int) (<-chan domain.Notification, func()) {
	return s.hub.Subscribe(buffer)
}

func (s *Sink) Display() time.Duration { return s.display }

// Close stops accepting observer work and waits for queued deliveries.
func (s *Sink) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()
	s.wg.Wait()
}

func (s *Sink) pruneLocked(now time.Time) []domain.Notification {
	kept := s.active[:0]
	for _, n := range s.active {
		exp, err := time.Parse(time.RFC3339Nano, n.ExpiresAt)
		if err == nil && !now.Before(exp) {
			continue
		}
		kept = append(kept, n)
	}
	return kept
}

func (s *Sink) run() {
	defer s.wg.Done()
	for n := range s.queue {
		s.mu.Lock()
		observers := append([]namedObserver(nil), s.observers...)
		s.mu.Unlock()
		for _, o := range observers {
			s.deliver(o, n)
		}
	}
}

func (s *Sink) deliver(o namedObserver, n domain.Notification) {
	ctx, cancel := context.WithTimeout(context.Background(), deliverTimeout)
	defer cancel()
	defer func() {
		if r := recover(); r != nil {
			metrics.RecordObserverError(o.name)
			s.logger.Warn("notification observer panicked", "observer", o.name, "kind", n.Kind, "panic", fmt.Sprint(r))
		}
	}()
	if err := o.obs.Observe(ctx, n); err != nil {
		metrics.RecordObserverError(o.name)
		s.logger.Warn("notification delivery failed", "observer", o.name, "kind", n.Kind, "err", err)
	}
}
