package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	// InsertInvoice reports false when the booking already has an invoice.
	InsertInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) (bool, error)
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Invoice, error)
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Invoice, error)
	FindByBookingID(ctx context.Context, db *gorm.DB, bookingID string) (*Invoice, error)
	UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *Invoice) error
	ListOverdueCandidates(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]Invoice, error)

	// InsertPayment reports false when the transaction id or idempotency key is taken.
	InsertPayment(ctx context.Context, db *gorm.DB, payment *Payment) (bool, error)
	FindPaymentByID(ctx context.Context, db *gorm.DB, id string) (*Payment, error)
	FindPaymentByTransactionID(ctx context.Context, db *gorm.DB, txID string) (*Payment, error)
	FindPaymentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*Payment, error)
	ListPayments(ctx context.Context, db *gorm.DB, invoiceID string) ([]Payment, error)
	MarkRefunded(ctx context.Context, db *gorm.DB, payment *Payment) error

	UpsertProcessorLink(ctx context.Context, db *gorm.DB, link *ProcessorLink) error
	FindProcessorLink(ctx context.Context, db *gorm.DB, invoiceID, processor string) (*ProcessorLink, error)
}
