package db

import (
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStaleWrite is returned by conditional updates that matched no row because
// a concurrent writer changed it first. The transactor treats it as contention.
var ErrStaleWrite = errors.New("stale write")

// IsUniqueViolation reports whether err is a Postgres unique constraint failure.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation
}

// ConstraintName returns the violated constraint name, or "".
func ConstraintName(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.ConstraintName
	}
	return ""
}

// IsContention reports whether err means the unit of work lost a race and
// may succeed if run again.
func IsContention(err error) bool {
	if errors.Is(err, ErrStaleWrite) {
		return true
	}
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case pgerrcode.SerializationFailure, pgerrcode.DeadlockDetected, pgerrcode.LockNotAvailable:
		return true
	}
	return false
}

// ValidID reports whether id is a well-formed record id. Malformed ids can
// never match a row, so callers report them as not found without a query.
func ValidID(id string) bool {
	_, err := uuid.Parse(id)
	return err == nil
}

// ValidFilterIDs reports whether every non-empty id is well formed. A list
// filtered on a malformed id matches nothing.
func ValidFilterIDs(ids ...string) bool {
	for _, id := range ids {
		if id != "" && !ValidID(id) {
			return false
		}
	}
	return true
}
