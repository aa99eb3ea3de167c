// Package queue is the durable FIFO of outgoing direct casts and the
// consumer that drains it.
//
// A task is pending until a consumer has attempted it, then completed. A
// failed send does not keep the task pending: it enqueues a fresh copy of
// the payload and the original is completed anyway. There is no attempt
// counter.
package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"propbot/internal/metrics"
	"propbot/internal/storage"
	logx "propbot/pkg/logx"
)

// Task is a pending queue row with its payload still encoded.
type Task struct {
	ID         string
	Payload    []byte
	EnqueuedAt time.Time
}

type Queue struct {
	store storage.Store
	now   func() time.Time
	newID func() string
	log   logx.Logger
}

type Option func(*Queue)

func WithClock(now func() time.Time) Option { return func(q *Queue) { q.now = now } }
func WithLogger(l logx.Logger) Option       { return func(q *Queue) { q.log = l } }

func New(store storage.Store, opts ...Option) *Queue {
	q := &Queue{
		store: store,
		now:   time.Now,
		newID: uuid.NewString,
		log:   logx.Nop(),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue stores p as a new pending task and returns its ID.
func (q *Queue) Enqueue(ctx context.Context, p Payload) (string, error) {
	raw, err := EncodePayload(p)
	if err != nil {
		return "", err
	}
	id, err := q.insert(ctx, raw)
	if err != nil {
		return "", err
	}
	metrics.TasksEnqueued.WithLabelValues(p.Type()).Inc()
	q.log.Debug("task enqueued", logx.String("task_id", id), logx.String("type", p.Type()), logx.Int64("recipient", p.RecipientID()))
	return id, nil
}

// Retry enqueues a fresh pending task carrying t's payload.
func (q *Queue) Retry(ctx context.Context, t Task) (string, error) {
	id, err := q.insert(ctx, t.Payload)
	if err != nil {
		return "", fmt.Errorf("retry %s: %w", t.ID, err)
	}
	q.log.Info("task re-enqueued", logx.String("task_id", t.ID), logx.String("retry_id", id))
	return id, nil
}

func (q *Queue) insert(ctx context.Context, raw []byte) (string, error) {
	rec := storage.TaskRecord{
		ID:         q.newID(),
		Payload:    raw,
		Status:     storage.TaskPending,
		EnqueuedAt: q.now(),
	}
	if err := q.store.InsertTask(ctx, rec); err != nil {
		return "", fmt.Errorf("enqueue: %w", err)
	}
	return rec.ID, nil
}

// Pending returns up to limit pending tasks, oldest first. limit <= 0
// means all.
func (q *Queue) Pending(ctx context.Context, limit int) ([]Task, error) {
	recs, err := q.store.PendingTasks(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("select pending: %w", err)
	}
	out := make([]Task, 0, len(recs))
	for _, r := range recs {
		out = append(out, Task{ID: r.ID, Payload: r.Payload, EnqueuedAt: r.EnqueuedAt})
	}
	return out, nil
}

// Complete marks a task completed. Completion is terminal.
func (q *Queue) Complete(ctx context.Context, id string) error {
	if err := q.store.CompleteTask(ctx, id, q.now()); err != nil {
		return fmt.Errorf("complete %s: %w", id, err)
	}
	return nil
}

// Stats counts tasks by status and updates the queue depth gauges.
func (q *Queue) Stats(ctx context.Context) (storage.TaskCounts, error) {
	c, err := q.store.CountTasks(ctx)
	if err != nil {
		return c, fmt.Errorf("count tasks: %w", err)
	}
	metrics.QueueDepth.WithLabelValues(string(storage.TaskPending)).Set(float64(c.Pending))
	metrics.QueueDepth.WithLabelValues(string(storage.TaskCompleted)).Set(float64(c.Completed))
	return c, nil
}
