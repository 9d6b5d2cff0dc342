package database

import (
	"errors"

	"github.com/lib/pq"
)

// PostgreSQL error codes used for classification
const (
	pgForeignKeyViolation = "23503"
	pgUniqueViolation     = "23505"
	pgUndefinedTable      = "42P01"
)

// IsForeignKeyViolation reports whether err is a foreign key constraint error,
// e.g. from inserting items for a feed deleted mid-run.
func IsForeignKeyViolation(err error) bool {
	return hasPQCode(err, pgForeignKeyViolation)
}

// IsUniqueViolation reports whether err is a unique constraint error.
func IsUniqueViolation(err error) bool {
	return hasPQCode(err, pgUniqueViolation)
}

// IsUndefinedTable reports whether err indicates a missing table, used by the
// lock manager to detect undeployed lock infrastructure.
func IsUndefinedTable(err error) bool {
	return hasPQCode(err, pgUndefinedTable)
}

func hasPQCode(err error, code string) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == code
	}
	return false
}
