package db

import (
	"context"
	"strings"
	"time"

	"fanpulse-engine/pkg/errutil"

	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	txMaxAttempts  = 3
	txRetryBackoff = 50 * time.Millisecond
)

// RunInTxWithRetry executes fn inside a transaction and retries contention
// failures (deadlock, serialization abort, SQLite busy) a bounded number of
// times before surfacing them as a Conflict. Domain errors pass through
// untouched so callers can match sentinels.
func RunInTxWithRetry(ctx context.Context, gdb *gorm.DB, fn func(tx *gorm.DB) error) error {
	var err error
	for attempt := 1; attempt <= txMaxAttempts; attempt++ {
		err = gdb.WithContext(ctx).Transaction(fn)
		if err == nil || !isRetryable(err) {
			return err
		}

		zap.L().Warn("transaction aborted by contention, retrying",
			zap.Int("attempt", attempt),
			zap.Error(err),
		)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(txRetryBackoff * time.Duration(attempt)):
		}
	}
	return errutil.Conflict("transaction aborted due to concurrent contention", err)
}

func isRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "deadlock"),
		strings.Contains(msg, "could not serialize access"),
		strings.Contains(msg, "database is locked"),
		strings.Contains(msg, "database table is locked"):
		return true
	}
	return false
}
