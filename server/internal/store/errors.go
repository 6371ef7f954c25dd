package store

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// describe enriches PostgreSQL errors with their SQLSTATE and detail so the
// failure is diagnosable from a single log line. Other errors pass through.
func describe(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		msg := fmt.Sprintf("postgres %s (%s)", pgErr.Message, pgErr.Code)
		if pgErr.Detail != "" {
			msg += ": " + pgErr.Detail
		}
		if pgErr.ConstraintName != "" {
			msg += " [constraint " + pgErr.ConstraintName + "]"
		}
		return fmt.Errorf("%s: %w", msg, err)
	}
	return err
}
