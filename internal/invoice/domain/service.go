package domain

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	"gorm.io/gorm"
)

type CreateOptions struct {
	// DueDate overrides today plus the configured due days.
	DueDate *time.Time
	// HoldDraft keeps the invoice in DRAFT until Release.
	HoldDraft bool
}

type RecordPaymentRequest struct {
	Amount        decimal.Decimal
	Method        PaymentMethod
	TransactionID string
	// IdempotencyKey identifies one recording attempt, independent of the
	// processor's charge identity.
	IdempotencyKey string
	PaymentDate    *time.Time
	// Source labels the origin of the payment in metrics: lifecycle, client, webhook or capture.
	Source string
}

type PaymentResult struct {
	Payment Payment
	Invoice Invoice
	// Created is false when an existing payment matched the transaction id or idempotency key.
	Created bool
}

type RefundRequest struct {
	RefundTransactionID string
	Reason              string
}

type LinkRequest struct {
	InvoiceID       string
	Processor       string
	CustomerID      string
	PaymentMethodID string
	SetupIntentID   string
}

// View is the public payload of an invoice.
type View struct {
	Invoice  Invoice
	Booking  bookingdomain.Booking
	Items    []bookingdomain.ServiceItem
	Offering *bookingdomain.ServiceOffering
	Totals   Totals
	Payments []Payment
}

type Service interface {
	GetOrCreateForBooking(ctx context.Context, bookingID string, opts CreateOptions) (Invoice, bool, error)
	// GetOrCreateForBookingTx runs inside a transaction that already holds the booking lock.
	GetOrCreateForBookingTx(ctx context.Context, tx *gorm.DB, booking bookingdomain.Booking, opts CreateOptions) (Invoice, bool, error)
	Get(ctx context.Context, id string) (Invoice, error)
	View(ctx context.Context, id string) (View, error)

	RecordPayment(ctx context.Context, invoiceID string, req RecordPaymentRequest) (PaymentResult, error)
	RecordPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID string, req RecordPaymentRequest) (PaymentResult, error)
	GetPayment(ctx context.Context, id string) (Payment, error)
	RefundPayment(ctx context.Context, paymentID string, req RefundRequest) (Payment, Invoice, error)
	// NotifyPayment records metrics and sends the customer receipt for a newly
	// created payment. RecordPayment calls it itself; RecordPaymentTx callers
	// call it after their transaction commits.
	NotifyPayment(ctx context.Context, result PaymentResult, source string)

	// MarkOverdue moves up to limit past-due PENDING invoices to OVERDUE and
	// reports how many changed.
	MarkOverdue(ctx context.Context, limit int) (int, error)

	Release(ctx context.Context, id string) (Invoice, error)
	Cancel(ctx context.Context, id string) (Invoice, error)

	// LinkProcessor stores processor correlation for the invoice and records it in
	// the notes once per payment method.
	LinkProcessor(ctx context.Context, req LinkRequest) (ProcessorLink, error)
	ProcessorLink(ctx context.Context, invoiceID, processor string) (*ProcessorLink, error)

	InvoicePDF(ctx context.Context, id string) (io.Reader, error)
	Receipt(ctx context.Context, id string) (io.Reader, error)
}

var (
	ErrNotFound         = errors.New("invoice_not_found")
	ErrPaymentNotFound  = errors.New("payment_not_found")
	ErrBookingNotFound  = errors.New("booking_not_found")
	ErrInvalidAmount    = errors.New("invalid_amount")
	ErrInvalidMethod    = errors.New("invalid_payment_method")
	ErrInvalidProcessor = errors.New("invalid_processor")
	ErrInvalidLink      = errors.New("invalid_processor_link")
	ErrInvoiceClosed    = errors.New("invoice_closed")
	ErrAlreadyRefunded  = errors.New("payment_already_refunded")
)
