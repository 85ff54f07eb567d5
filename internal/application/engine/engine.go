package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// ErrClosed is returned by operations on a closed engine
var ErrClosed = errors.New("engine is closed")

// Options configures an Engine
type Options struct {
	Logger                  *slog.Logger
	HistoryLimit            int           // Undo depth, zero keeps everything
	SlowSubscriberThreshold time.Duration // Defaults to DefaultSlowSubscriberThreshold
	SubscriberConcurrency   int           // Defaults to DefaultSubscriberConcurrency
	RetryMinBackoff         time.Duration // Defaults to DefaultRetryMinBackoff
	RetryMaxBackoff         time.Duration // Defaults to DefaultRetryMaxBackoff
}

// Engine owns one open mindmap. Dispatches are serialised: a command owns
// the document until its actions are committed to in-memory state. Storage
// writes follow on an ordered queue and may lag behind later commits.
//
// Sync subscribers run while the engine is locked and must not dispatch.
// Async subscribers run on a delivery goroutine of their own, so they may
// dispatch, flush or save.
type Engine struct {
	registry *Registry
	history  *History
	subs     *Subscriptions
	notify   *notifier
	storage  *storageQueue
	logger   *slog.Logger

	mu         sync.Mutex
	closed     bool
	state      atomic.Pointer[domain.EditorState]
	generation atomic.Uint64 // Bumped by every commit that holds a persistent action

	cancel context.CancelFunc
}

// New creates an engine over an initial state. Commands are added through
// Registry().
func New(store ports.LocalStore, initial *domain.EditorState, opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	subs := NewSubscriptions(logger, opts.SlowSubscriberThreshold, opts.SubscriberConcurrency)

	e := &Engine{
		registry: NewRegistry(),
		subs:     subs,
		logger:   logger,
		cancel:   cancel,
	}
	e.history = NewHistory(e, opts.HistoryLimit)
	e.notify = newNotifier(ctx, subs)
	e.storage = newStorageQueue(ctx, store, e.notify, logger, opts.RetryMinBackoff, opts.RetryMaxBackoff)
	e.state.Store(initial)
	return e
}

// Registry returns the engine's command registry
func (e *Engine) Registry() *Registry { return e.registry }

// State returns the current read-only snapshot
func (e *Engine) State() *domain.EditorState { return e.state.Load() }

// Generation returns a counter that changes whenever a persistent batch is
// committed or the state is reset
func (e *Engine) Generation() uint64 { return e.generation.Load() }

// Unsynced returns the number of batches whose storage write is pending retry
func (e *Engine) Unsynced() int { return int(e.storage.unsynced.Load()) }

// Subscribe registers a per-action observer; see Subscriptions.Subscribe
func (e *Engine) Subscribe(name string, kinds []actions.Kind, phase Phase, fn SubscriberFunc) func() {
	return e.subs.Subscribe(name, kinds, phase, fn)
}

// SubscribePost registers a batch observer; see Subscriptions.SubscribePost
func (e *Engine) SubscribePost(name string, kinds []actions.Kind, phase Phase, fn PostSubscriberFunc) func() {
	return e.subs.SubscribePost(name, kinds, phase, fn)
}

// Dispatch validates and runs a command. It returns nil when the command's
// precondition is not met. For action-based commands it waits until the
// batch has been written to storage; a storage failure is reported as a
// *application.PersistenceError while the in-memory change stands.
func (e *Engine) Dispatch(ctx context.Context, commandID string, params application.Params) error {
	def, ok := e.registry.Lookup(commandID)
	if !ok {
		return fmt.Errorf("%w: %s", application.ErrUnknownCommand, commandID)
	}
	return e.run(ctx, def, params)
}

// DispatchComposite runs several undoable commands as one history entry
func (e *Engine) DispatchComposite(ctx context.Context, description string, steps ...Step) error {
	def, err := e.registry.Composite("composite", description, steps...)
	if err != nil {
		return err
	}
	return e.run(ctx, def, nil)
}

func (e *Engine) run(ctx context.Context, def *Definition, raw application.Params) error {
	params, err := application.ValidateParams(def.Params, raw)
	if err != nil {
		return fmt.Errorf("%s: %w", def.ID, err)
	}

	if !def.ActionBased {
		// Imperative handlers own their effects and may block on I/O, so they
		// run without holding the document.
		s := e.State()
		if def.When != nil && !def.When(s, params) {
			return nil
		}
		_, err := def.Handler(ctx, s, params)
		return err
	}

	p, err := e.commitCommand(ctx, def, params)
	if err != nil || p == nil {
		return err
	}
	return p.Wait(ctx)
}

func (e *Engine) commitCommand(ctx context.Context, def *Definition, params application.Params) (Pending, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil, ErrClosed
	}

	s := e.State()
	if def.When != nil && !def.When(s, params) {
		return nil, nil
	}

	batch, err := def.Handler(ctx, s, params)
	if err != nil {
		return nil, err
	}
	if len(batch) == 0 {
		return nil, nil
	}

	if def.Undoable {
		return e.history.Execute(ctx, HistoryItem{
			CommandID:   def.ID,
			Description: def.describe(s, params),
			Actions:     batch,
		}), nil
	}
	return e.apply(ctx, def.ID, batch), nil
}

// apply commits a batch to in-memory state, notifies sync subscribers and
// queues the storage write. Callers must hold the engine lock.
func (e *Engine) apply(ctx context.Context, commandID string, batch []actions.Action) Pending {
	d := e.State().Edit()
	for _, a := range batch {
		a.ApplyToState(d)
	}
	next := d.Commit()
	e.state.Store(next)
	if actions.HasPersistent(batch) {
		e.generation.Add(1)
	}

	e.subs.NotifySync(ctx, commandID, batch, next)

	job := newStorageJob(commandID, batch, next)
	e.storage.enqueue(job)
	return job
}

// Undo reverses the latest history entry. It is a no-op when there is none.
func (e *Engine) Undo(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	p, ok := e.history.Undo(ctx)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Wait(ctx)
}

// Redo replays the latest undone entry. It is a no-op when there is none.
func (e *Engine) Redo(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	p, ok := e.history.Redo(ctx)
	e.mu.Unlock()

	if !ok {
		return nil
	}
	return p.Wait(ctx)
}

func (e *Engine) CanUndo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanUndo()
}

func (e *Engine) CanRedo() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.CanRedo()
}

// UndoDescription labels the entry Undo would reverse
func (e *Engine) UndoDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.UndoDescription()
}

// RedoDescription labels the entry Redo would replay
func (e *Engine) RedoDescription() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.history.RedoDescription()
}

// Flush waits until every queued batch has been written, retrying the
// backlog immediately. It returns the backlog error if storage still fails.
// Async subscribers may call it.
func (e *Engine) Flush(ctx context.Context) error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return ErrClosed
	}
	job := &storageJob{flush: true, done: make(chan struct{})}
	e.storage.enqueue(job)
	e.mu.Unlock()

	if err := job.Wait(ctx); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(err, ctxErr) {
			return ctxErr
		}
		return &application.PersistenceError{CommandID: "flush", Err: err}
	}
	return nil
}

// Drain flushes storage and then waits until async subscribers have seen
// every stored batch. From an async subscriber, with the context it was
// given, it only flushes.
func (e *Engine) Drain(ctx context.Context) error {
	if err := e.Flush(ctx); err != nil {
		return err
	}
	if inDelivery(ctx) {
		return nil
	}
	select {
	case <-e.notify.barrier():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// MarkSaved flips the saved flag, but only if no persistent batch was
// committed since generation was read. Reports whether the flag was set.
func (e *Engine) MarkSaved(generation uint64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.generation.Load() != generation {
		return false
	}
	d := e.State().Edit()
	d.SetSaved(true)
	e.state.Store(d.Commit())
	return true
}

// Reset replaces the state wholesale, for example after local changes were
// discarded. It clears the history and drops batches still waiting for a
// storage retry.
func (e *Engine) Reset(s *domain.EditorState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.state.Store(s)
	e.history.Clear()
	e.generation.Add(1)
	if !e.closed {
		e.storage.enqueue(&storageJob{discard: true, done: make(chan struct{})})
	}
}

// Close drains the storage queue and stops the engine
func (e *Engine) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()

	e.storage.close()
	e.notify.close()
	e.cancel()

	if n := e.Unsynced(); n > 0 {
		return &application.PersistenceError{
			CommandID: "close",
			Err:       fmt.Errorf("%d batches were never stored", n),
		}
	}
	return nil
}
