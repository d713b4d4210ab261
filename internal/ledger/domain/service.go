package domain

import (
	"context"
	"errors"
	"fmt"
)

type ApplyDeltaRequest struct {
	UserID   string
	Delta    int64
	Actor    string
	Reason   string
	Metadata map[string]any
}

type Service interface {
	// ApplyDelta atomically adjusts a user's balance and records the event.
	// Returns the new balance. Deltas that would drive the balance negative
	// fail with an InsufficientFundsError and leave no trace.
	ApplyDelta(context.Context, ApplyDeltaRequest) (int64, error)

	// GetBalance is an advisory point read; the authoritative check happens
	// inside ApplyDelta.
	GetBalance(ctx context.Context, userID string) (int64, error)
}

var (
	ErrInvalidUser       = errors.New("invalid_user")
	ErrInvalidReason     = errors.New("invalid_reason")
	ErrInsufficientFunds = errors.New("insufficient_funds")
)

// InsufficientFundsError carries the balance observed at rejection time so
// callers can report it without a follow-up query.
type InsufficientFundsError struct {
	Balance int64
}

func (e *InsufficientFundsError) Error() string {
	return fmt.Sprintf("insufficient_funds: balance %d", e.Balance)
}

func (e *InsufficientFundsError) Unwrap() error { return ErrInsufficientFunds }
