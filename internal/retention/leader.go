package retention

import (
	"context"
	"database/sql"
	"log/slog"
	"time"

	"github.com/cespare/xxhash/v2"
)

// LockKey is the PostgreSQL advisory lock guarding retention runs.
var LockKey = int64(xxhash.Sum64String("opsdash-retention") >> 1)

// WithPGAdvisoryLeadership runs fn only while this process holds a session
// advisory lock, so a single replica prunes a shared database. Replicas that
// lose the race poll every backoff until ctx is done.
func WithPGAdvisoryLeadership(ctx context.Context, db *sql.DB, lockKey int64, backoff time.Duration, fn func(context.Context)) error {
	for {
		if ctx.Err() != nil {
			return nil
		}

		conn, err := db.Conn(ctx)
		if err != nil {
			return err
		}

		var got bool
		if err := conn.QueryRowContext(ctx, "SELECT pg_try_advisory_lock($1)", lockKey).Scan(&got); err != nil {
			_ = conn.Close()
			return err
		}
		if !got {
			_ = conn.Close()
			slog.Debug("retention: another replica holds the lock")
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(backoff):
			}
			continue
		}

		// The lock lives as long as this connection.
		fn(ctx)
		return conn.Close()
	}
}
