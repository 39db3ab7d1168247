package storage

import (
	"context"
	"errors"
	"math/rand/v2"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Transient Postgres conflicts worth retrying: serialization_failure
// and deadlock_detected.
var retriableCodes = map[string]bool{
	"40001": true,
	"40P01": true,
}

func isRetriable(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && retriableCodes[pgErr.Code]
}

// WithRetry executes fn, retrying up to maxRetries times on transient
// conflicts with jittered exponential backoff starting at baseDelay.
// Non-retriable errors are returned immediately.
func WithRetry(ctx context.Context, maxRetries int, baseDelay time.Duration, fn func() error) error {
	delay := baseDelay
	var err error
	for attempt := 0; ; attempt++ {
		err = fn()
		if err == nil || !isRetriable(err) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		jitter := time.Duration(rand.Int64N(int64(delay))) //nolint:gosec // jitter doesn't need crypto-strength randomness
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay + jitter):
		}
		delay *= 2
	}
}
