package storage

import (
	"errors"
	"strings"

	logx "propbot/pkg/logx"
)

// Open initializes the configured store. An empty driver means sqlite.
// Driver "none" returns ErrDisabled: cache and queue cannot run without a store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "badger":
		return openBadger(cfg, log, false)
	case "memory":
		return openBadger(cfg, log, true)
	case "none":
		return nil, ErrDisabled
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
