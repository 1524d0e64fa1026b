package billing

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyCart          = errors.New("cart is empty")
	ErrInvalidLine        = errors.New("invalid cart line")
	ErrPersistenceFailure = errors.New("persistence failure")
)

// LineError identifies the rejected cart line. Line is zero-based.
type LineError struct {
	Line       int
	MedicineID string
	Reason     string
}

func (e *LineError) Error() string {
	if e.MedicineID == "" {
		return fmt.Sprintf("invalid cart line %d: %s", e.Line+1, e.Reason)
	}
	return fmt.Sprintf("invalid cart line %d (medicine %s): %s", e.Line+1, e.MedicineID, e.Reason)
}

func (e *LineError) Is(target error) bool {
	return target == ErrInvalidLine
}

// PersistenceError reports a storage failure that aborted a checkout.
// Inconsistent is set when compensation itself failed and stock or the sale
// ledger may no longer match the committed bills.
type PersistenceError struct {
	Op           string
	BillID       string
	Err          error
	Inconsistent bool
}

func (e *PersistenceError) Error() string {
	msg := fmt.Sprintf("persistence failure during %s: %v", e.Op, e.Err)
	if e.Inconsistent {
		msg += " (inventory may be inconsistent)"
	}
	return msg
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistenceFailure
}
