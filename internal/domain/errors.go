package domain

import "errors"

var (
	// ErrNotFound is returned when an exact-match lookup matches zero rows.
	// It is the explicit not-found signal; reads never return an empty slice
	// to mean "nothing matched".
	ErrNotFound = errors.New("entity not found")

	// ErrStorageUnavailable indicates a backend connectivity failure. It is
	// fatal to an in-flight batch: abort, no commit.
	ErrStorageUnavailable = errors.New("storage unavailable")

	// ErrConstraintViolation indicates a duplicate key or similar integrity
	// failure. Recoverable per record: skip it and continue the batch.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrInvalidReference is returned when a scraped item reference cannot be
	// normalized to an integer form.
	ErrInvalidReference = errors.New("invalid product reference")

	// ErrInvalidAmount is returned when a scraped item price is not a number.
	ErrInvalidAmount = errors.New("invalid price amount")

	// ErrTxDone is returned when a unit of work is used after commit or
	// rollback.
	ErrTxDone = errors.New("transaction already finished")
)
