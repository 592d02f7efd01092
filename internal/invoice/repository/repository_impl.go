package repository

import (
	"context"
	"errors"
	"time"

	"github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const invoiceColumns = `id, invoice_number, business_id, booking_id, status, due_date, notes, draft_held, created_at, updated_at`

const paymentColumns = `id, invoice_id, amount, payment_method, transaction_id, idempotency_key, payment_date,
	is_refunded, refund_date, refund_transaction_id, refund_reason, created_at`

func (r *repo) InsertInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO invoices (`+invoiceColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (booking_id) DO NOTHING`,
		invoice.ID,
		invoice.InvoiceNumber,
		invoice.BusinessID,
		invoice.BookingID,
		invoice.Status,
		invoice.DueDate,
		invoice.Notes,
		invoice.DraftHeld,
		invoice.CreatedAt,
		invoice.UpdatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `SELECT `+invoiceColumns+` FROM invoices WHERE id = ?`, id)
}

func (r *repo) FindByBookingID(ctx context.Context, db *gorm.DB, bookingID string) (*domain.Invoice, error) {
	return r.findOne(ctx, db, `SELECT `+invoiceColumns+` FROM invoices WHERE booking_id = ?`, bookingID)
}

// ListOverdueCandidates returns PENDING invoices due before the given date,
// least recently touched first.
func (r *repo) ListOverdueCandidates(ctx context.Context, db *gorm.DB, before time.Time, limit int) ([]domain.Invoice, error) {
	var invoices []domain.Invoice
	err := db.WithContext(ctx).Raw(
		`SELECT `+invoiceColumns+` FROM invoices
		 WHERE status = ? AND due_date < ?
		 ORDER BY updated_at ASC, id ASC
		 LIMIT ?`,
		domain.StatusPending, before, limit,
	).Scan(&invoices).Error
	if err != nil {
		return nil, err
	}
	return invoices, nil
}

func (r *repo) findOne(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Invoice, error) {
	var invoice domain.Invoice
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&invoice).Error; err != nil {
		return nil, err
	}
	if invoice.ID == "" {
		return nil, nil
	}
	return &invoice, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Invoice, error) {
	var invoice domain.Invoice
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		Take(&invoice).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &invoice, nil
}

func (r *repo) UpdateInvoice(ctx context.Context, db *gorm.DB, invoice *domain.Invoice) error {
	return db.WithContext(ctx).Exec(
		`UPDATE invoices
		 SET status = ?, due_date = ?, notes = ?, draft_held = ?, updated_at = ?
		 WHERE id = ?`,
		invoice.Status,
		invoice.DueDate,
		invoice.Notes,
		invoice.DraftHeld,
		invoice.UpdatedAt,
		invoice.ID,
	).Error
}

func (r *repo) InsertPayment(ctx context.Context, db *gorm.DB, payment *domain.Payment) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`INSERT INTO payments (`+paymentColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT DO NOTHING`,
		payment.ID,
		payment.InvoiceID,
		payment.Amount,
		payment.PaymentMethod,
		payment.TransactionID,
		payment.IdempotencyKey,
		payment.PaymentDate,
		payment.IsRefunded,
		payment.RefundDate,
		payment.RefundTransactionID,
		payment.RefundReason,
		payment.CreatedAt,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

func (r *repo) FindPaymentByID(ctx context.Context, db *gorm.DB, id string) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `SELECT `+paymentColumns+` FROM payments WHERE id = ?`, id)
}

func (r *repo) FindPaymentByTransactionID(ctx context.Context, db *gorm.DB, txID string) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `SELECT `+paymentColumns+` FROM payments WHERE transaction_id = ?`, txID)
}

func (r *repo) FindPaymentByIdempotencyKey(ctx context.Context, db *gorm.DB, key string) (*domain.Payment, error) {
	return r.findPayment(ctx, db, `SELECT `+paymentColumns+` FROM payments WHERE idempotency_key = ?`, key)
}

func (r *repo) findPayment(ctx context.Context, db *gorm.DB, query string, args ...any) (*domain.Payment, error) {
	var payment domain.Payment
	if err := db.WithContext(ctx).Raw(query, args...).Scan(&payment).Error; err != nil {
		return nil, err
	}
	if payment.ID == "" {
		return nil, nil
	}
	return &payment, nil
}

func (r *repo) ListPayments(ctx context.Context, db *gorm.DB, invoiceID string) ([]domain.Payment, error) {
	var payments []domain.Payment
	err := db.WithContext(ctx).Raw(
		`SELECT `+paymentColumns+`
		 FROM payments
		 WHERE invoice_id = ?
		 ORDER BY payment_date ASC, created_at ASC, id ASC`,
		invoiceID,
	).Scan(&payments).Error
	if err != nil {
		return nil, err
	}
	return payments, nil
}

func (r *repo) MarkRefunded(ctx context.Context, db *gorm.DB, payment *domain.Payment) error {
	return db.WithContext(ctx).Exec(
		`UPDATE payments
		 SET is_refunded = ?, refund_date = ?, refund_transaction_id = ?, refund_reason = ?
		 WHERE id = ?`,
		payment.IsRefunded,
		payment.RefundDate,
		payment.RefundTransactionID,
		payment.RefundReason,
		payment.ID,
	).Error
}

func (r *repo) UpsertProcessorLink(ctx context.Context, db *gorm.DB, link *domain.ProcessorLink) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO invoice_processor_links (id, invoice_id, processor, customer_id, payment_method_id, setup_intent_id, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (invoice_id, processor) DO UPDATE SET
			customer_id = excluded.customer_id,
			payment_method_id = excluded.payment_method_id,
			setup_intent_id = excluded.setup_intent_id,
			updated_at = excluded.updated_at`,
		link.ID,
		link.InvoiceID,
		link.Processor,
		link.CustomerID,
		link.PaymentMethodID,
		link.SetupIntentID,
		link.CreatedAt,
		link.UpdatedAt,
	).Error
}

func (r *repo) FindProcessorLink(ctx context.Context, db *gorm.DB, invoiceID, processor string) (*domain.ProcessorLink, error) {
	var link domain.ProcessorLink
	err := db.WithContext(ctx).Raw(
		`SELECT id, invoice_id, processor, customer_id, payment_method_id, setup_intent_id, created_at, updated_at
		 FROM invoice_processor_links
		 WHERE invoice_id = ? AND processor = ?`,
		invoiceID,
		processor,
	).Scan(&link).Error
	if err != nil {
		return nil, err
	}
	if link.ID == "" {
		return nil, nil
	}
	return &link, nil
}
