// Package domain contains the invoice aggregate, its payment ledger and the
// rule that derives invoice status from them.
package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status represents invoice lifecycle states.
type Status string

const (
	StatusDraft         Status = "DRAFT"
	StatusPending       Status = "PENDING"
	StatusPaid          Status = "PAID"
	StatusPartiallyPaid Status = "PARTIALLY_PAID"
	StatusOverdue       Status = "OVERDUE"
	StatusCancelled     Status = "CANCELLED"
	StatusRefunded      Status = "REFUNDED"
)

// Closed reports whether the invoice no longer accepts collection attempts.
func (s Status) Closed() bool {
	return s == StatusPaid || s == StatusCancelled || s == StatusRefunded
}

type PaymentMethod string

const (
	MethodCash         PaymentMethod = "cash"
	MethodCard         PaymentMethod = "card"
	MethodBankTransfer PaymentMethod = "bank_transfer"
	MethodCheck        PaymentMethod = "check"
	MethodOther        PaymentMethod = "other"
	// MethodStripe doubles as the processor tag of the card adapter.
	MethodStripe PaymentMethod = "stripe"
)

// ParsePaymentMethod accepts any casing of a known method.
func ParsePaymentMethod(raw string) (PaymentMethod, bool) {
	method := PaymentMethod(strings.ToLower(strings.TrimSpace(raw)))
	switch method {
	case MethodCash, MethodCard, MethodBankTransfer, MethodCheck, MethodOther, MethodStripe:
		return method, true
	default:
		return "", false
	}
}

type Invoice struct {
	ID            string    `json:"id" gorm:"primaryKey"`
	InvoiceNumber string    `json:"invoice_number" gorm:"not null"`
	BusinessID    string    `json:"business_id" gorm:"not null"`
	BookingID     string    `json:"booking_id" gorm:"not null"`
	Status        Status    `json:"status" gorm:"not null"`
	DueDate       time.Time `json:"-" gorm:"type:date;not null"`
	Notes         string    `json:"notes"`
	// DraftHeld keeps a DRAFT invoice out of status derivation until released.
	DraftHeld bool      `json:"draft_held"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AppendNote adds line to the notes unless the notes already contain marker.
// It reports whether the notes changed.
func (i *Invoice) AppendNote(line, marker string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}
	if marker != "" && strings.Contains(i.Notes, marker) {
		return false
	}
	if strings.TrimSpace(i.Notes) == "" {
		i.Notes = line
	} else {
		i.Notes = i.Notes + "\n" + line
	}
	return true
}

type Payment struct {
	ID                  string          `json:"id" gorm:"primaryKey"`
	InvoiceID           string          `json:"invoice_id" gorm:"not null"`
	Amount              decimal.Decimal `json:"amount" gorm:"type:decimal(10,2);not null"`
	PaymentMethod       PaymentMethod   `json:"payment_method" gorm:"not null"`
	TransactionID       *string         `json:"transaction_id,omitempty"`
	IdempotencyKey      *string         `json:"-"`
	PaymentDate         time.Time       `json:"payment_date"`
	IsRefunded          bool            `json:"is_refunded"`
	RefundDate          *time.Time      `json:"refund_date,omitempty"`
	RefundTransactionID string          `json:"refund_transaction_id,omitempty"`
	RefundReason        string          `json:"refund_reason,omitempty"`
	CreatedAt           time.Time       `json:"created_at"`
}

// ProcessorLink correlates an invoice with the customer and saved payment
// method held by one card processor.
type ProcessorLink struct {
	ID              string    `json:"id" gorm:"primaryKey"`
	InvoiceID       string    `json:"invoice_id" gorm:"not null"`
	Processor       string    `json:"processor" gorm:"not null"`
	CustomerID      string    `json:"customer_id"`
	PaymentMethodID string    `json:"payment_method_id"`
	SetupIntentID   string    `json:"setup_intent_id"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func (ProcessorLink) TableName() string { return "invoice_processor_links" }

type Totals struct {
	Total   decimal.Decimal
	Paid    decimal.Decimal
	Balance decimal.Decimal
}

// ComputeTotals sums the non-refunded payments against total.
func ComputeTotals(total decimal.Decimal, payments []Payment) Totals {
	paid := decimal.Zero
	for _, p := range payments {
		if p.IsRefunded {
			continue
		}
		paid = paid.Add(p.Amount)
	}
	return Totals{Total: total, Paid: paid, Balance: total.Sub(paid)}
}
