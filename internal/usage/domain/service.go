package domain

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrInvalidUser is returned when the user id is empty.
	ErrInvalidUser = errors.New("usage: user id is required")

	// ErrInvalidOperation is returned when the operation name is empty.
	ErrInvalidOperation = errors.New("usage: operation is required")

	// ErrInvalidUnits is returned when units is zero or negative.
	ErrInvalidUnits = errors.New("usage: units must be positive")

	// ErrInvalidUnitPrice is returned when an explicit unit price is negative.
	ErrInvalidUnitPrice = errors.New("usage: unit price must not be negative")

	// ErrUnknownOperation is returned when no unit price is configured for
	// the operation and the caller did not supply one.
	ErrUnknownOperation = errors.New("usage: no unit price configured for operation")
)

// ChargeRequest describes one metered consumption event to bill.
type ChargeRequest struct {
	UserID    string   `json:"user_id"`
	Operation string   `json:"operation"`
	Units     int64    `json:"units"`
	// UnitPrice overrides the configured price when set. Major units.
	UnitPrice *float64 `json:"unit_price,omitempty"`

	Actor    string         `json:"actor"`
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ChargeResult is returned on a successful charge.
type ChargeResult struct {
	TotalCost int64 `json:"total_cost"`
	Balance   int64 `json:"balance"`
}

// ListFilter narrows a usage log listing.
type ListFilter struct {
	UserID    string
	Operation string
	From      time.Time
	To        time.Time
	Limit     int
	Offset    int
}

// ReportRow is one aggregated line of a usage report, grouped by operation.
type ReportRow struct {
	Operation  string `json:"operation"`
	TotalUnits int64  `json:"total_units"`
	TotalCost  int64  `json:"total_cost"`
	Events     int64  `json:"events"`
}

// Report summarises a user's usage over a period.
type Report struct {
	UserID    string      `json:"user_id"`
	From      time.Time   `json:"from"`
	To        time.Time   `json:"to"`
	Rows      []ReportRow `json:"rows"`
	TotalCost int64       `json:"total_cost"`
}

// Service charges metered usage against the ledger and reports on it.
type Service interface {
	// Charge computes the cost of the request, debits the user's balance
	// atomically and appends a usage log. Returns the ledger's
	// InsufficientFundsError when the balance does not cover the cost.
	Charge(ctx context.Context, req ChargeRequest) (ChargeResult, error)

	// List returns usage logs matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]UsageLog, error)

	// Report aggregates a user's usage per operation over [from, to).
	Report(ctx context.Context, userID string, from, to time.Time) (Report, error)
}
