// ABOUTME: Bounded retry loop with exponential backoff for database operations
// ABOUTME: Connectivity-class errors get retries and a fresh pool; everything else propagates

package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

// withRetry runs fn against the current pool, retrying connectivity-class
// failures up to maxRetries times with exponential backoff (backoff, doubled
// each attempt). A fresh connection pool is attempted between retries.
// Non-connectivity errors propagate immediately. After exhausting retries the
// last error is returned so callers can decide to degrade rather than crash.
func (g *Gateway) withRetry(ctx context.Context, op string, fn func(db *sql.DB) error) error {
	var lastErr error

	for attempt := 0; attempt <= g.maxRetries; attempt++ {
		if attempt > 0 {
			delay := g.backoff << (attempt - 1)
			g.logger.Warn("retrying database operation",
				"op", op,
				"attempt", attempt,
				"delay", delay,
				"error", lastErr)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}

			if err := g.reconnect(ctx); err != nil {
				lastErr = err
				continue
			}
		}

		db := g.pool()
		if db == nil {
			return fmt.Errorf("%s: database disconnected", op)
		}

		err := fn(db)
		if err == nil {
			return nil
		}
		if !isConnectivityError(err) {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("%s: retries exhausted: %w", op, lastErr)
}

// isConnectivityError classifies an error as transient store unavailability:
// refused or reset connections, exhausted pools, a locked or restarting
// server. Malformed data and constraint violations are not connectivity
// errors and must not be retried.
func isConnectivityError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, driver.ErrBadConn) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}

	msg := strings.ToLower(err.Error())
	for _, marker := range []string{
		"database is locked",
		"database table is locked",
		"database is busy",
		"connection refused",
		"connection reset",
		"broken pipe",
		"i/o error",
		"disk i/o",
		"server is starting",
		"too many connections",
		"pool exhausted",
		"bad connection",
	} {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}
