package storage

import (
	"context"
	"errors"

	"github.com/abduss/appdrive/internal/apperr"
	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// Classify marks timeouts and connection failures as transient; other errors
// are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) || pgconn.SafeToRetry(err) {
		return apperr.Transient(err)
	}
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return apperr.Transient(err)
	}
	return err
}

// IsUniqueViolation reports whether err is a unique constraint violation,
// optionally restricted to the named constraints.
func IsUniqueViolation(err error, constraints ...string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return false
	}
	if len(constraints) == 0 {
		return true
	}
	for _, name := range constraints {
		if pgErr.ConstraintName == name {
			return true
		}
	}
	return false
}

const foreignKeyViolation = "23503"

// IsForeignKeyViolation reports whether err is a foreign key violation.
func IsForeignKeyViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation
}
