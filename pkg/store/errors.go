package store

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// ErrDuplicateMessage indicates a save collided with an existing row's
// message ID. Brokers redeliver; a duplicate is expected traffic, not a
// storage failure, and callers treat it as already-persisted.
var ErrDuplicateMessage = errors.New("store: duplicate message id")

// pgUniqueViolation is the PostgreSQL SQLSTATE for a unique constraint
// violation.
const pgUniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	// The sqlite driver surfaces constraint failures as plain errors.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func convertSaveError(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ErrDuplicateMessage
	}
	return err
}
