package storage

import (
	"context"
	"errors"
	"time"
)

var (
	ErrDisabled = errors.New("storage disabled")
	ErrNotFound = errors.New("storage: not found")
)

// Config configures storage.
type Config struct {
	Driver      string        `json:"driver"`
	Path        string        `json:"path"`
	BusyTimeout time.Duration `json:"-"` // sqlite only; 0 means default
}

// Entry is one cache row. Value holds serialized JSON.
type Entry struct {
	Key       string
	Value     []byte
	UpdatedAt time.Time
}

type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskCompleted TaskStatus = "completed"
)

// TaskRecord is one queue row. Payload is opaque to storage.
type TaskRecord struct {
	ID          string     `json:"id"`
	Payload     []byte     `json:"payload"`
	Status      TaskStatus `json:"status"`
	EnqueuedAt  time.Time  `json:"enqueued_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type TaskCounts struct {
	Pending   int
	Completed int
}

// Store is the persistence API used by internal/cache and internal/queue.
type Store interface {
	// GetEntry returns ErrNotFound for a missing key.
	GetEntry(ctx context.Context, key string) (Entry, error)
	// PutEntry inserts or fully overwrites key.
	PutEntry(ctx context.Context, e Entry) error
	DeleteEntry(ctx context.Context, key string) error

	InsertTask(ctx context.Context, t TaskRecord) error
	// PendingTasks returns pending tasks ordered by enqueue time, oldest
	// first. limit <= 0 means all.
	PendingTasks(ctx context.Context, limit int) ([]TaskRecord, error)
	// CompleteTask is a no-op for a task that is already completed.
	CompleteTask(ctx context.Context, id string, at time.Time) error
	CountTasks(ctx context.Context) (TaskCounts, error)

	Close() error
}
