package engine

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mindmap/internal/application/actions"
	"mindmap/internal/domain"
)

// Phase selects when a subscriber runs relative to a batch
type Phase int

const (
	// PhaseSync runs right after the batch is committed to in-memory state
	PhaseSync Phase = iota
	// PhaseAsync runs after the batch's storage transaction has committed
	PhaseAsync
)

func (p Phase) String() string {
	if p == PhaseAsync {
		return "async"
	}
	return "sync"
}

// DefaultSlowSubscriberThreshold is the latency above which a subscriber
// call is logged as slow
const DefaultSlowSubscriberThreshold = 16 * time.Millisecond

// DefaultSubscriberConcurrency bounds concurrent async subscriber calls
const DefaultSubscriberConcurrency = 8

// Event is delivered to per-action subscribers
type Event struct {
	CommandID string
	Action    actions.Action
	State     *domain.EditorState // Snapshot after the batch was applied
}

// BatchEvent is delivered to post-phase subscribers, at most once per batch
type BatchEvent struct {
	CommandID string
	Actions   map[actions.Kind][]actions.Action // Matching actions grouped by kind
	State     *domain.EditorState
}

// Count returns the number of actions in the event
func (e BatchEvent) Count() int {
	n := 0
	for _, as := range e.Actions {
		n += len(as)
	}
	return n
}

// Subscriber callbacks
type (
	SubscriberFunc     func(ctx context.Context, ev Event) error
	PostSubscriberFunc func(ctx context.Context, ev BatchEvent) error
)

type subscription struct {
	id    uint64
	name  string
	kinds []actions.Kind
	phase Phase
	each  SubscriberFunc
	post  PostSubscriberFunc
}

func (s *subscription) wants(k actions.Kind) bool {
	return slices.Contains(s.kinds, k)
}

// Subscriptions is the notification bus between the engine and observers.
// Observers never take part in the transaction: their errors and panics are
// logged and swallowed.
type Subscriptions struct {
	mu     sync.RWMutex
	nextID uint64
	subs   []*subscription

	logger      *slog.Logger
	slow        time.Duration
	concurrency int
}

// NewSubscriptions creates an empty bus
func NewSubscriptions(logger *slog.Logger, slow time.Duration, concurrency int) *Subscriptions {
	if logger == nil {
		logger = slog.Default()
	}
	if slow <= 0 {
		slow = DefaultSlowSubscriberThreshold
	}
	if concurrency <= 0 {
		concurrency = DefaultSubscriberConcurrency
	}
	return &Subscriptions{logger: logger, slow: slow, concurrency: concurrency}
}

// Subscribe registers a per-action subscriber for the given kinds.
// The returned function unsubscribes; it is safe to call more than once and
// from inside a notification.
func (m *Subscriptions) Subscribe(name string, kinds []actions.Kind, phase Phase, fn SubscriberFunc) func() {
	return m.add(&subscription{name: name, kinds: slices.Clone(kinds), phase: phase, each: fn})
}

// SubscribePost registers a post-phase subscriber. It fires at most once per
// batch with every matching action, however many of its kinds the batch holds.
func (m *Subscriptions) SubscribePost(name string, kinds []actions.Kind, phase Phase, fn PostSubscriberFunc) func() {
	return m.add(&subscription{name: name, kinds: slices.Clone(kinds), phase: phase, post: fn})
}

func (m *Subscriptions) add(s *subscription) func() {
	m.mu.Lock()
	m.nextID++
	s.id = m.nextID
	m.subs = append(m.subs, s)
	m.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			m.subs = slices.DeleteFunc(m.subs, func(x *subscription) bool { return x.id == s.id })
		})
	}
}

// Len returns the number of active subscriptions
func (m *Subscriptions) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subs)
}

// snapshot returns the subscriptions of a phase split by style, in
// registration order. Later (un)subscriptions do not affect the copy.
func (m *Subscriptions) snapshot(phase Phase) (each, post []*subscription) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, s := range m.subs {
		if s.phase != phase {
			continue
		}
		if s.each != nil {
			each = append(each, s)
		} else {
			post = append(post, s)
		}
	}
	return each, post
}

// NotifySync runs the sync per-action subscribers, then the sync post-phase
func (m *Subscriptions) NotifySync(ctx context.Context, commandID string, batch []actions.Action, state *domain.EditorState) {
	each, post := m.snapshot(PhaseSync)

	for _, a := range batch {
		ev := Event{CommandID: commandID, Action: a, State: state}
		for _, s := range each {
			if s.wants(a.Kind()) {
				m.call(ctx, s, func(ctx context.Context) error { return s.each(ctx, ev) })
			}
		}
	}

	for _, s := range post {
		if ev, ok := groupFor(s, commandID, batch, state); ok {
			m.call(ctx, s, func(ctx context.Context) error { return s.post(ctx, ev) })
		}
	}
}

// NotifyAsync runs the async per-action subscribers, then the async
// post-phase. Within each action, and within the post-phase, subscribers run
// concurrently and settle independently.
func (m *Subscriptions) NotifyAsync(ctx context.Context, commandID string, batch []actions.Action, state *domain.EditorState) {
	each, post := m.snapshot(PhaseAsync)

	for _, a := range batch {
		ev := Event{CommandID: commandID, Action: a, State: state}
		g := m.group()
		for _, s := range each {
			if s.wants(a.Kind()) {
				g.Go(func() error {
					m.call(ctx, s, func(ctx context.Context) error { return s.each(ctx, ev) })
					return nil
				})
			}
		}
		_ = g.Wait()
	}

	g := m.group()
	for _, s := range post {
		if ev, ok := groupFor(s, commandID, batch, state); ok {
			g.Go(func() error {
				m.call(ctx, s, func(ctx context.Context) error { return s.post(ctx, ev) })
				return nil
			})
		}
	}
	_ = g.Wait()
}

func (m *Subscriptions) group() *errgroup.Group {
	g := &errgroup.Group{}
	g.SetLimit(m.concurrency)
	return g
}

func groupFor(s *subscription, commandID string, batch []actions.Action, state *domain.EditorState) (BatchEvent, bool) {
	ev := BatchEvent{CommandID: commandID, Actions: map[actions.Kind][]actions.Action{}, State: state}
	for _, a := range batch {
		if s.wants(a.Kind()) {
			ev.Actions[a.Kind()] = append(ev.Actions[a.Kind()], a)
		}
	}
	return ev, len(ev.Actions) > 0
}

// call runs one subscriber with panic recovery, error logging and latency
// reporting
func (m *Subscriptions) call(ctx context.Context, s *subscription, fn func(context.Context) error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			m.logger.Error("subscriber panicked",
				"subscriber", s.name,
				"phase", s.phase.String(),
				"panic", fmt.Sprint(r))
		}
		if elapsed := time.Since(start); elapsed > m.slow {
			m.logger.Warn("slow subscriber",
				"subscriber", s.name,
				"phase", s.phase.String(),
				"elapsed", elapsed,
				"threshold", m.slow)
		}
	}()

	if err := fn(ctx); err != nil {
		m.logger.Error("subscriber failed",
			"subscriber", s.name,
			"phase", s.phase.String(),
			"error", err)
	}
}
