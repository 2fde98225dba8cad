package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound = errors.New("not found")

	// ErrDuplicateOrder maps the unique-violation on payments.order_id.
	// A concurrent duplicate insert surfaces here instead of at the pre-check.
	ErrDuplicateOrder = errors.New("payment already exists for order")
)

const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode
}
