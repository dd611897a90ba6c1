package service

import "errors"

var (
	ErrDeliveryNotFound = errors.New("webhook delivery not found")
	ErrStoreInactive    = errors.New("store is inactive or missing")

	// ErrReorgDetected is internal to the poll loop: it triggers a bounded
	// cursor rewind, never an operator-facing failure.
	ErrReorgDetected = errors.New("chain reorganization detected")

	// ErrIntegrityViolation marks ledger/local disagreement (illegal status
	// transition, refund above the invoice amount, ordering violation). The
	// ledger is the source of truth, so these are logged and discarded, never
	// fatal.
	ErrIntegrityViolation = errors.New("data integrity violation")
)
