package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound          = errors.New("not found")
	ErrInvalidState      = errors.New("invalid state")
	ErrInsufficientFunds = errors.New("insufficient payment amount")
	ErrInsufficientStock = errors.New("insufficient stock")
	ErrConflict          = errors.New("conflict")
	ErrNegativeMoney     = errors.New("money amount cannot be negative")
	ErrInvalidInput      = errors.New("invalid input")
	ErrForbidden         = errors.New("forbidden")

	// ErrDiscountNotApplicable matches ErrInvalidState as well.
	ErrDiscountNotApplicable = fmt.Errorf("discount not applicable: %w", ErrInvalidState)
	// ErrSequenceCollision matches ErrConflict as well.
	ErrSequenceCollision = fmt.Errorf("sequence number already issued: %w", ErrConflict)
)
