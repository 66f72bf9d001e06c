package storage

import (
	"context"
	"errors"
	"strings"

	logx "palbot/pkg/logx"
)

// Store is the minimal persistence API used by settings and the agents.
type Store interface {
	// GetSetting returns the stored value for key, or ok=false if absent.
	GetSetting(ctx context.Context, key string) (value string, ok bool, err error)
	PutSetting(ctx context.Context, key, value string) error

	// RecordOutcome appends one admission decision (sent or suppressed).
	RecordOutcome(ctx context.Context, o Outcome) error

	Close() error
}

// Open initializes the configured store.
// It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, errors.New("unknown storage driver: " + driver)
	}
}
