package db

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound is returned when a requested record is not found.
	ErrNotFound = errors.New("record not found")

	// ErrAppendOnly is returned when a statement tries to change an archived
	// response or a captured snapshot.
	ErrAppendOnly = errors.New("record is append-only")

	// ErrInvalidValue is returned when a column value fails its check
	// constraint, such as an unknown platform, entity type or sync status.
	ErrInvalidValue = errors.New("value rejected by check constraint")
)

// WrapError adds the operation name to a database error and maps the
// failures this schema can raise to the sentinels above.
func WrapError(err error, operation string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", operation, ErrNotFound)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23514": // check_violation
			return fmt.Errorf("%s: %w (constraint: %s)", operation, ErrInvalidValue, pgErr.ConstraintName)
		case pgErr.Code == "P0001" && strings.HasSuffix(pgErr.Message, "is append-only"): // reject_append_only_change
			return fmt.Errorf("%s: %w: %s", operation, ErrAppendOnly, pgErr.Message)
		default:
			return fmt.Errorf("%s: database error [%s]: %w", operation, pgErr.Code, err)
		}
	}

	return fmt.Errorf("%s: %w", operation, err)
}

// IsNotFound returns true if the error is an ErrNotFound error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}
