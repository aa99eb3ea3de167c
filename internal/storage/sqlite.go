package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	logx "propbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db  *sql.DB
	log logx.Logger
}

func openSQLite(cfg Config, log logx.Logger) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, err
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Single writer; also keeps ":memory:" on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	busy := cfg.BusyTimeout
	if busy <= 0 {
		busy = 5 * time.Second
	}
	_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", busy.Milliseconds()))
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db, log: log}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite migrate: %w", err)
	}
	log.Debug("sqlite store opened", logx.String("path", path))
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *sqliteStore) GetEntry(ctx context.Context, key string) (Entry, error) {
	var (
		val []byte
		ts  int64
	)
	err := s.db.QueryRowContext(ctx, `SELECT value, updated_at FROM cache WHERE key = ?`, key).Scan(&val, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, ErrNotFound
	}
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: val, UpdatedAt: time.Unix(0, ts)}, nil
}

func (s *sqliteStore) PutEntry(ctx context.Context, e Entry) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO cache(key, value, updated_at) VALUES(?,?,?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		e.Key, e.Value, e.UpdatedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) DeleteEntry(ctx context.Context, key string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM cache WHERE key = ?`, key)
	return err
}

func (s *sqliteStore) InsertTask(ctx context.Context, t TaskRecord) error {
	status := t.Status
	if status == "" {
		status = TaskPending
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO queue(task_id, payload, status, enqueued_at) VALUES(?,?,?,?)`,
		t.ID, t.Payload, string(status), t.EnqueuedAt.UnixNano(),
	)
	return err
}

func (s *sqliteStore) PendingTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	q := `SELECT task_id, payload, enqueued_at FROM queue WHERE status = 'pending' ORDER BY enqueued_at, seq`
	args := []any{}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TaskRecord
	for rows.Next() {
		var (
			t  TaskRecord
			ts int64
		)
		if err := rows.Scan(&t.ID, &t.Payload, &ts); err != nil {
			return nil, err
		}
		t.Status = TaskPending
		t.EnqueuedAt = time.Unix(0, ts)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CompleteTask(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE queue SET status = 'completed', completed_at = ? WHERE task_id = ? AND status = 'pending'`,
		at.UnixNano(), id,
	)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var one int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM queue WHERE task_id = ?`, id).Scan(&one)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	return nil
}

func (s *sqliteStore) CountTasks(ctx context.Context) (TaskCounts, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM queue GROUP BY status`)
	if err != nil {
		return TaskCounts{}, err
	}
	defer rows.Close()

	var c TaskCounts
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return TaskCounts{}, err
		}
		switch TaskStatus(status) {
		case TaskPending:
			c.Pending = n
		case TaskCompleted:
			c.Completed = n
		}
	}
	return c, rows.Err()
}
