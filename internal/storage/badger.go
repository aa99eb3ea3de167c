package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	logx "propbot/pkg/logx"
)

// Key prefixes for BadgerDB storage
const (
	cacheKeyPrefix   = "cache:"
	taskKeyPrefix    = "task:"
	pendingKeyPrefix = "pending:" // pending:<20-digit nanos>:<20-digit seq> -> task id
	taskSeqKey       = "seq:tasks"
)

type badgerStore struct {
	db  *badger.DB
	seq *badger.Sequence
	log logx.Logger
}

type badgerEntry struct {
	Value     []byte `json:"v"`
	UpdatedAt int64  `json:"ts"`
}

type badgerTask struct {
	TaskRecord
	PendingKey string `json:"pending_key,omitempty"`
}

func openBadger(cfg Config, log logx.Logger, inMemory bool) (Store, error) {
	path := strings.TrimSpace(cfg.Path)
	var opts badger.Options
	if inMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if path == "" {
			return nil, errors.New("badger path is required")
		}
		opts = badger.DefaultOptions(path)
	}
	opts = opts.WithLogger(badgerLogger{log: log})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}
	seq, err := db.GetSequence([]byte(taskSeqKey), 100)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("badger sequence: %w", err)
	}
	return &badgerStore{db: db, seq: seq, log: log}, nil
}

func (s *badgerStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	if s.seq != nil {
		_ = s.seq.Release()
	}
	return s.db.Close()
}

func (s *badgerStore) GetEntry(ctx context.Context, key string) (Entry, error) {
	var be badgerEntry
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(cacheKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &be)
		})
	})
	if err != nil {
		return Entry{}, err
	}
	return Entry{Key: key, Value: be.Value, UpdatedAt: time.Unix(0, be.UpdatedAt)}, nil
}

func (s *badgerStore) PutEntry(ctx context.Context, e Entry) error {
	data, err := json.Marshal(badgerEntry{Value: e.Value, UpdatedAt: e.UpdatedAt.UnixNano()})
	if err != nil {
		return fmt.Errorf("marshal entry: %w", err)
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(cacheKeyPrefix+e.Key), data)
	})
}

func (s *badgerStore) DeleteEntry(ctx context.Context, key string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		err := txn.Delete([]byte(cacheKeyPrefix + key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		return err
	})
}

func (s *badgerStore) InsertTask(ctx context.Context, t TaskRecord) error {
	if t.Status == "" {
		t.Status = TaskPending
	}
	n, err := s.seq.Next()
	if err != nil {
		return fmt.Errorf("next task seq: %w", err)
	}
	bt := badgerTask{TaskRecord: t}
	if t.Status == TaskPending {
		bt.PendingKey = fmt.Sprintf("%s%020d:%020d", pendingKeyPrefix, t.EnqueuedAt.UnixNano(), n)
	}
	data, err := json.Marshal(bt)
	if err != nil {
		return fmt.Errorf("marshal task: %w", err)
	}

	return s.db.Update(func(txn *badger.Txn) error {
		key := []byte(taskKeyPrefix + t.ID)
		if _, err := txn.Get(key); err == nil {
			return fmt.Errorf("task %s already exists", t.ID)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(key, data); err != nil {
			return fmt.Errorf("set task: %w", err)
		}
		if bt.PendingKey != "" {
			if err := txn.Set([]byte(bt.PendingKey), []byte(t.ID)); err != nil {
				return fmt.Errorf("set pending index: %w", err)
			}
		}
		return nil
	})
}

func (s *badgerStore) PendingTasks(ctx context.Context, limit int) ([]TaskRecord, error) {
	var out []TaskRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(pendingKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(out) >= limit {
				break
			}
			id, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			bt, err := getTask(txn, string(id))
			if err != nil {
				return err
			}
			out = append(out, bt.TaskRecord)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *badgerStore) CompleteTask(ctx context.Context, id string, at time.Time) error {
	return s.db.Update(func(txn *badger.Txn) error {
		bt, err := getTask(txn, id)
		if err != nil {
			return err
		}
		if bt.Status == TaskCompleted {
			return nil
		}
		if bt.PendingKey != "" {
			if err := txn.Delete([]byte(bt.PendingKey)); err != nil {
				return err
			}
		}
		bt.Status = TaskCompleted
		bt.CompletedAt = &at
		bt.PendingKey = ""
		data, err := json.Marshal(bt)
		if err != nil {
			return err
		}
		return txn.Set([]byte(taskKeyPrefix+id), data)
	})
}

func (s *badgerStore) CountTasks(ctx context.Context) (TaskCounts, error) {
	var c TaskCounts
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(taskKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var bt badgerTask
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &bt)
			}); err != nil {
				return err
			}
			switch bt.Status {
			case TaskPending:
				c.Pending++
			case TaskCompleted:
				c.Completed++
			}
		}
		return nil
	})
	return c, err
}

func getTask(txn *badger.Txn, id string) (badgerTask, error) {
	var bt badgerTask
	item, err := txn.Get([]byte(taskKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return bt, ErrNotFound
	}
	if err != nil {
		return bt, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &bt)
	})
	return bt, err
}

// badgerLogger routes badger's internal logging into logx. Info chatter is
// demoted to debug.
type badgerLogger struct{ log logx.Logger }

func (l badgerLogger) Errorf(f string, v ...interface{}) {
	l.log.Error(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Warningf(f string, v ...interface{}) {
	l.log.Warn(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Infof(f string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
func (l badgerLogger) Debugf(f string, v ...interface{}) {
	l.log.Debug(strings.TrimSpace(fmt.Sprintf(f, v...)))
}
