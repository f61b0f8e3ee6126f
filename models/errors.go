package models

import "errors"

// Ledger error taxonomy. All validation errors are raised before any write;
// only ErrStorageConflict is retryable.
var (
	ErrInvalidTransition   = errors.New("invalid document status transition")
	ErrMissingReference    = errors.New("missing required reference")
	ErrEmptyDocument       = errors.New("document has no line items")
	ErrInsufficientStock   = errors.New("insufficient stock")
	ErrFractionalQuantity  = errors.New("quantity must be integer for piece-counted products")
	ErrAmbiguousCashTarget = errors.New("cash register or payment category is ambiguous")
	ErrAlreadyDecided      = errors.New("cash approval request already decided")
	ErrAlreadyPosted       = errors.New("document already posted")
	ErrNotPosted           = errors.New("document is not posted")
	ErrStorageConflict     = errors.New("storage conflict")

	ErrRecordNotFound = errors.New("record not found")
)
