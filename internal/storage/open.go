package storage

import (
	"context"
	"fmt"
	"strings"

	logx "xbot/pkg/logx"
)

type Store interface {
	AppendAction(ctx context.Context, e ActionEntry) error
	// RecentActions returns up to n entries, oldest first.
	RecentActions(ctx context.Context, n int) ([]ActionEntry, error)
	SaveStatus(ctx context.Context, st Status) error
	LoadStatus(ctx context.Context) (Status, error)
	Close() error
}

// Open initializes the configured store. It returns (nil, nil) if storage is disabled.
func Open(cfg Config, log logx.Logger) (Store, error) {
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	if driver == "" || driver == "none" {
		return nil, nil
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	log = log.With(logx.String("comp", "storage"), logx.String("driver", driver))

	switch driver {
	case "file":
		return openFile(cfg, log)
	case "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
