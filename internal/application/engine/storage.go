package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"mindmap/internal/application"
	"mindmap/internal/application/actions"
	"mindmap/internal/domain"
	"mindmap/internal/ports"
)

// Backlog retry bounds
const (
	DefaultRetryMinBackoff = 250 * time.Millisecond
	DefaultRetryMaxBackoff = 30 * time.Second
)

const storageQueueSize = 256

// storageJob is one batch waiting for its storage write, or a control
// marker: flush retries the backlog now, discard drops it
type storageJob struct {
	commandID string
	batch     []actions.Action
	state     *domain.EditorState
	flush     bool
	discard   bool

	done chan struct{}
	err  error
}

var _ Pending = (*storageJob)(nil)

func newStorageJob(commandID string, batch []actions.Action, state *domain.EditorState) *storageJob {
	return &storageJob{commandID: commandID, batch: batch, state: state, done: make(chan struct{})}
}

func (j *storageJob) finish(err error) {
	j.err = err
	close(j.done)
}

// Wait blocks until the batch has been written or has failed. A cancelled
// context stops the wait, not the write.
func (j *storageJob) Wait(ctx context.Context) error {
	select {
	case <-j.done:
		return j.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// storageQueue writes batches on a single goroutine so that storage order
// always matches commit order. Failed batches stay in an ordered backlog and
// are retried, with exponential backoff, before any later batch is written.
type storageQueue struct {
	store  ports.LocalStore
	notify *notifier
	logger *slog.Logger
	ctx    context.Context

	jobs chan *storageJob
	done chan struct{}

	backlog    []*storageJob
	lastErr    error
	retryAt    time.Time
	backoff    time.Duration
	minBackoff time.Duration
	maxBackoff time.Duration
	unsynced   atomic.Int64
}

func newStorageQueue(ctx context.Context, store ports.LocalStore, notify *notifier, logger *slog.Logger, minBackoff, maxBackoff time.Duration) *storageQueue {
	if minBackoff <= 0 {
		minBackoff = DefaultRetryMinBackoff
	}
	if maxBackoff < minBackoff {
		maxBackoff = max(DefaultRetryMaxBackoff, minBackoff)
	}
	q := &storageQueue{
		store:      store,
		notify:     notify,
		logger:     logger,
		ctx:        ctx,
		jobs:       make(chan *storageJob, storageQueueSize),
		done:       make(chan struct{}),
		minBackoff: minBackoff,
		maxBackoff: maxBackoff,
	}
	go q.run()
	return q
}

func (q *storageQueue) enqueue(job *storageJob) {
	q.jobs <- job
}

// close stops accepting jobs and waits for queued ones to finish
func (q *storageQueue) close() {
	close(q.jobs)
	<-q.done
}

func (q *storageQueue) run() {
	defer close(q.done)
	for job := range q.jobs {
		switch {
		case job.flush:
			job.finish(q.drainBacklog(true))
			continue
		case job.discard:
			q.dropBacklog()
			job.finish(nil)
			continue
		}
		q.handle(job)
	}
}

func (q *storageQueue) handle(job *storageJob) {
	if !actions.HasPersistent(job.batch) {
		job.finish(nil)
		q.notify.push(job.commandID, job.batch, job.state)
		return
	}

	if err := q.drainBacklog(false); err != nil {
		q.park(job)
		job.finish(&application.PersistenceError{
			CommandID: job.commandID,
			Err:       fmt.Errorf("%d earlier batches not yet stored: %w", len(q.backlog)-1, err),
		})
		return
	}

	if err := q.write(job); err != nil {
		q.lastErr = err
		q.park(job)
		q.scheduleRetry()
		q.logger.Error("storage write failed, batch kept in memory",
			"command", job.commandID,
			"actions", len(job.batch),
			"error", err)
		job.finish(&application.PersistenceError{CommandID: job.commandID, Err: err})
		return
	}

	job.finish(nil)
	q.notify.push(job.commandID, job.batch, job.state)
}

func (q *storageQueue) park(job *storageJob) {
	q.backlog = append(q.backlog, job)
	q.unsynced.Store(int64(len(q.backlog)))
}

// drainBacklog retries parked batches in order. Unless forced it does
// nothing while the backoff window is open.
func (q *storageQueue) drainBacklog(force bool) error {
	if len(q.backlog) == 0 {
		return nil
	}
	if !force && time.Now().Before(q.retryAt) {
		return q.lastErr
	}

	for len(q.backlog) > 0 {
		job := q.backlog[0]
		if err := q.write(job); err != nil {
			q.lastErr = err
			q.scheduleRetry()
			q.logger.Warn("storage backlog retry failed",
				"pending", len(q.backlog),
				"next_retry", q.backoff,
				"error", err)
			return err
		}
		q.backlog = q.backlog[1:]
		q.unsynced.Store(int64(len(q.backlog)))
		q.logger.Info("storage backlog batch stored", "command", job.commandID, "pending", len(q.backlog))
		q.notify.push(job.commandID, job.batch, job.state)
	}

	q.backoff = 0
	q.lastErr = nil
	return nil
}

func (q *storageQueue) dropBacklog() {
	if len(q.backlog) > 0 {
		q.logger.Warn("dropping unstored batches", "count", len(q.backlog))
	}
	q.backlog = nil
	q.unsynced.Store(0)
	q.backoff = 0
	q.lastErr = nil
}

func (q *storageQueue) scheduleRetry() {
	if q.backoff == 0 {
		q.backoff = q.minBackoff
	} else {
		q.backoff = min(q.backoff*2, q.maxBackoff)
	}
	q.retryAt = time.Now().Add(q.backoff)
}

// write applies a batch to storage in one transaction, all or nothing
func (q *storageQueue) write(job *storageJob) error {
	tx, err := q.store.BeginTx(q.ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	for _, a := range job.batch {
		if !a.Persistent() {
			continue
		}
		if err := a.ApplyToStorage(q.ctx, tx); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}
