package storage

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("storage: not found")

// ErrConflict is returned when an insert violates a uniqueness constraint,
// e.g. a duplicate tenant slug or user_id.
var ErrConflict = errors.New("storage: already exists")

// ErrQuotaExceeded is returned when a metered write would push a tenant
// past its limit. The write is rolled back.
var ErrQuotaExceeded = errors.New("storage: quota exceeded")

// isUniqueViolation reports whether err is a Postgres unique_violation.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
