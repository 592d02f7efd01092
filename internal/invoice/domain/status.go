package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

type StatusInput struct {
	Current   Status
	DraftHeld bool
	Total     decimal.Decimal
	Paid      decimal.Decimal
	DueDate   time.Time
	Today     time.Time
	// AfterRefund lifts the stickiness of PAID.
	AfterRefund bool
}

// DeriveStatus computes the invoice status from its totals. CANCELLED,
// REFUNDED and held drafts are returned unchanged.
func DeriveStatus(in StatusInput) Status {
	switch {
	case in.Current == StatusCancelled, in.Current == StatusRefunded:
		return in.Current
	case in.Current == StatusDraft && in.DraftHeld:
		return StatusDraft
	case in.Current == StatusPaid && !in.AfterRefund:
		return StatusPaid
	}

	switch {
	case in.Total.IsPositive() && in.Paid.GreaterThanOrEqual(in.Total):
		return StatusPaid
	case in.Paid.IsPositive() && in.Paid.LessThan(in.Total):
		return StatusPartiallyPaid
	case in.Paid.IsZero() && dateOnly(in.DueDate).Before(dateOnly(in.Today)):
		return StatusOverdue
	default:
		return StatusPending
	}
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
