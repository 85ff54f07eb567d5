package engine

import (
	"context"
	"sync"

	"mindmap/internal/application/actions"
	"mindmap/internal/domain"
)

type deliveryKey struct{}

// withDelivery marks a context as belonging to an async notification
func withDelivery(ctx context.Context) context.Context {
	return context.WithValue(ctx, deliveryKey{}, true)
}

// inDelivery reports whether ctx was handed to an async subscriber
func inDelivery(ctx context.Context) bool {
	v, _ := ctx.Value(deliveryKey{}).(bool)
	return v
}

// notification is a stored batch waiting for its async subscribers, or a
// barrier closed once every earlier notification has been delivered
type notification struct {
	commandID string
	batch     []actions.Action
	state     *domain.EditorState
	barrier   chan struct{}
}

// notifier delivers async notifications on its own goroutine in the order
// batches were stored. Pushing never blocks, so the storage worker does not
// wait on observers.
type notifier struct {
	subs *Subscriptions
	ctx  context.Context

	mu      sync.Mutex
	cond    *sync.Cond
	pending []notification
	closed  bool
	done    chan struct{}
}

func newNotifier(ctx context.Context, subs *Subscriptions) *notifier {
	n := &notifier{subs: subs, ctx: ctx, done: make(chan struct{})}
	n.cond = sync.NewCond(&n.mu)
	go n.run()
	return n
}

func (n *notifier) push(commandID string, batch []actions.Action, state *domain.EditorState) {
	n.enqueue(notification{commandID: commandID, batch: batch, state: state})
}

// barrier returns a channel closed after everything pushed so far has been
// delivered
func (n *notifier) barrier() <-chan struct{} {
	ch := make(chan struct{})
	n.enqueue(notification{barrier: ch})
	return ch
}

func (n *notifier) enqueue(nt notification) {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		if nt.barrier != nil {
			close(nt.barrier)
		}
		return
	}
	n.pending = append(n.pending, nt)
	n.mu.Unlock()
	n.cond.Signal()
}

// close delivers what is pending and stops the goroutine
func (n *notifier) close() {
	n.mu.Lock()
	n.closed = true
	n.mu.Unlock()
	n.cond.Broadcast()
	<-n.done
}

func (n *notifier) run() {
	defer close(n.done)
	ctx := withDelivery(n.ctx)
	for {
		n.mu.Lock()
		for len(n.pending) == 0 && !n.closed {
			n.cond.Wait()
		}
		if len(n.pending) == 0 {
			n.mu.Unlock()
			return
		}
		next := n.pending[0]
		n.pending[0] = notification{}
		n.pending = n.pending[1:]
		n.mu.Unlock()

		if next.barrier != nil {
			close(next.barrier)
			continue
		}
		n.subs.NotifyAsync(ctx, next.commandID, next.batch, next.state)
	}
}
