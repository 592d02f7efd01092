package service

import (
	"context"

	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	"github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/notification"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const defaultOverdueBatch = 50

// MarkOverdue re-derives the status of PENDING invoices that are past due and
// reminds the customer of every invoice that became OVERDUE.
func (s *Service) MarkOverdue(ctx context.Context, limit int) (int, error) {
	if limit <= 0 {
		limit = defaultOverdueBatch
	}
	// due dates are compared in business time by reevaluate; tomorrow in UTC
	// covers every timezone ahead of it
	before := dateOnly(s.clock.Now().UTC()).AddDate(0, 0, 1)
	candidates, err := s.repo.ListOverdueCandidates(ctx, s.db, before, limit)
	if err != nil {
		return 0, err
	}

	marked := 0
	for _, candidate := range candidates {
		if err := ctx.Err(); err != nil {
			return marked, err
		}
		invoice, err := s.mutate(ctx, candidate.ID, func(tx *gorm.DB, invoice *domain.Invoice) error {
			if invoice.Status != domain.StatusPending {
				return nil
			}
			return s.reevaluate(ctx, tx, invoice, false)
		})
		if err != nil {
			s.log.Warn("overdue check failed", zap.String("invoice_id", candidate.ID), zap.Error(err))
			continue
		}
		if invoice.Status != domain.StatusOverdue {
			continue
		}
		marked++
		s.remindOverdue(ctx, invoice)
	}
	return marked, nil
}

func (s *Service) remindOverdue(ctx context.Context, invoice domain.Invoice) {
	booking, items, offering, err := s.pricing(ctx, s.db, invoice.BookingID)
	if err != nil {
		s.log.Warn("overdue reminder skipped", zap.String("invoice_id", invoice.ID), zap.Error(err))
		return
	}

	err = s.notifier.Notify(ctx, notification.Message{
		To:       booking.CustomerEmail,
		Template: notification.TemplateInvoiceOverdue,
		Subject:  "Invoice " + invoice.InvoiceNumber + " is overdue",
		Data: map[string]any{
			"customer_name":  booking.CustomerName,
			"invoice_number": invoice.InvoiceNumber,
			"amount":         bookingdomain.Total(items, offering).StringFixed(2),
			"due_date":       invoice.DueDate.Format(bookingdomain.DateLayout),
			"invoice_url":    s.publicURL + "/invoices/public/" + invoice.ID,
		},
	})
	if err != nil {
		s.log.Warn("overdue reminder not queued", zap.String("invoice_id", invoice.ID), zap.Error(err))
	}
}
