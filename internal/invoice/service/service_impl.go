package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/providers/pdf"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Cfg          config.Config
	Policy       *config.PolicyHolder
	Repo         domain.Repository
	BookingRepo  bookingdomain.Repository
	BusinessRepo businessdomain.Repository
	Notifier     notification.Notifier `optional:"true"`
	Metrics      *metrics.Metrics      `optional:"true"`
	PDF          pdf.Provider          `optional:"true"`
}

type Service struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyHolder
	repo         domain.Repository
	bookingRepo  bookingdomain.Repository
	businessRepo businessdomain.Repository
	notifier     notification.Notifier
	metrics      *metrics.Metrics
	pdf          pdf.Provider
	publicURL    string
}

func New(p Params) domain.Service {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	renderer := p.PDF
	if renderer == nil {
		renderer = pdf.New()
	}
	return &Service{
		db:           p.DB,
		log:          p.Log.Named("invoice.service"),
		clock:        p.Clock,
		policy:       p.Policy,
		repo:         p.Repo,
		bookingRepo:  p.BookingRepo,
		businessRepo: p.BusinessRepo,
		notifier:     notifier,
		metrics:      p.Metrics,
		pdf:          renderer,
		publicURL:    strings.TrimRight(p.Cfg.PublicBaseURL, "/"),
	}
}

func (s *Service) GetOrCreateForBooking(ctx context.Context, bookingID string, opts domain.CreateOptions) (domain.Invoice, bool, error) {
	var (
		invoice domain.Invoice
		created bool
	)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		booking, err := s.bookingRepo.FindByIDForUpdate(ctx, tx, strings.TrimSpace(bookingID))
		if err != nil {
			return err
		}
		if booking == nil {
			return domain.ErrBookingNotFound
		}
		invoice, created, err = s.GetOrCreateForBookingTx(ctx, tx, *booking, opts)
		return err
	})
	if err != nil {
		return domain.Invoice{}, false, err
	}
	return invoice, created, nil
}

func (s *Service) GetOrCreateForBookingTx(ctx context.Context, tx *gorm.DB, booking bookingdomain.Booking, opts domain.CreateOptions) (domain.Invoice, bool, error) {
	existing, err := s.repo.FindByBookingID(ctx, tx, booking.ID)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	if existing != nil {
		return *existing, false, nil
	}

	now := s.clock.Now()
	business, err := s.business(ctx, tx, booking.BusinessID)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	dueDate := localDate(now, business.Location()).AddDate(0, 0, s.policy.Get().Invoices.DueDays)
	if opts.DueDate != nil {
		dueDate = dateOnly(*opts.DueDate)
	}

	invoice := domain.Invoice{
		ID:            idgen.New(idgen.PrefixInvoice),
		InvoiceNumber: idgen.NewInvoiceNumber(now),
		BusinessID:    booking.BusinessID,
		BookingID:     booking.ID,
		Status:        domain.StatusDraft,
		DueDate:       dueDate,
		DraftHeld:     opts.HoldDraft,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	inserted, err := s.repo.InsertInvoice(ctx, tx, &invoice)
	if err != nil {
		return domain.Invoice{}, false, err
	}
	if !inserted {
		existing, err := s.repo.FindByBookingID(ctx, tx, booking.ID)
		if err != nil {
			return domain.Invoice{}, false, err
		}
		if existing == nil {
			return domain.Invoice{}, false, fmt.Errorf("invoice for booking %s vanished after conflict", booking.ID)
		}
		return *existing, false, nil
	}

	if !invoice.DraftHeld {
		if err := s.reevaluate(ctx, tx, &invoice, false); err != nil {
			return domain.Invoice{}, false, err
		}
	}

	s.log.Info("invoice created",
		zap.String("invoice_id", invoice.ID),
		zap.String("booking_id", booking.ID),
		zap.String("status", string(invoice.Status)),
	)
	return invoice, true, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Invoice, error) {
	invoice, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return domain.Invoice{}, err
	}
	if invoice == nil {
		return domain.Invoice{}, domain.ErrNotFound
	}
	return *invoice, nil
}

func (s *Service) View(ctx context.Context, id string) (domain.View, error) {
	invoice, err := s.Get(ctx, id)
	if err != nil {
		return domain.View{}, err
	}

	booking, items, offering, err := s.pricing(ctx, s.db, invoice.BookingID)
	if err != nil {
		return domain.View{}, err
	}
	payments, err := s.repo.ListPayments(ctx, s.db, invoice.ID)
	if err != nil {
		return domain.View{}, err
	}
	if payments == nil {
		payments = []domain.Payment{}
	}

	return domain.View{
		Invoice:  invoice,
		Booking:  booking,
		Items:    items,
		Offering: offering,
		Totals:   domain.ComputeTotals(bookingdomain.Total(items, offering), payments),
		Payments: payments,
	}, nil
}

func (s *Service) RecordPayment(ctx context.Context, invoiceID string, req domain.RecordPaymentRequest) (domain.PaymentResult, error) {
	var result domain.PaymentResult
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		result, err = s.RecordPaymentTx(ctx, tx, invoiceID, req)
		return err
	})
	if err != nil {
		return domain.PaymentResult{}, err
	}
	s.NotifyPayment(ctx, result, req.Source)
	return result, nil
}

func (s *Service) RecordPaymentTx(ctx context.Context, tx *gorm.DB, invoiceID string, req domain.RecordPaymentRequest) (domain.PaymentResult, error) {
	amount := req.Amount.Round(2)
	if !amount.IsPositive() {
		return domain.PaymentResult{}, domain.ErrInvalidAmount
	}
	method, ok := domain.ParsePaymentMethod(string(req.Method))
	if !ok {
		return domain.PaymentResult{}, domain.ErrInvalidMethod
	}

	invoice, err := s.repo.FindByIDForUpdate(ctx, tx, strings.TrimSpace(invoiceID))
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if invoice == nil {
		return domain.PaymentResult{}, domain.ErrNotFound
	}

	txID := strings.TrimSpace(req.TransactionID)
	key := strings.TrimSpace(req.IdempotencyKey)
	if existing, err := s.existingPayment(ctx, tx, txID, key); err != nil || existing != nil {
		if err != nil {
			return domain.PaymentResult{}, err
		}
		return domain.PaymentResult{Payment: *existing, Invoice: *invoice}, nil
	}

	now := s.clock.Now()
	paymentDate := now
	if req.PaymentDate != nil && !req.PaymentDate.IsZero() {
		paymentDate = req.PaymentDate.UTC()
	}
	payment := domain.Payment{
		ID:            idgen.New(idgen.PrefixPayment),
		InvoiceID:     invoice.ID,
		Amount:        amount,
		PaymentMethod: method,
		PaymentDate:   paymentDate,
		CreatedAt:     now,
	}
	if txID != "" {
		payment.TransactionID = &txID
	}
	if key != "" {
		payment.IdempotencyKey = &key
	}

	inserted, err := s.repo.InsertPayment(ctx, tx, &payment)
	if err != nil {
		return domain.PaymentResult{}, err
	}
	if !inserted {
		// a concurrent recorder won the unique key
		existing, err := s.existingPayment(ctx, tx, txID, key)
		if err != nil {
			return domain.PaymentResult{}, err
		}
		if existing == nil {
			return domain.PaymentResult{}, fmt.Errorf("payment conflict on invoice %s without a matching record", invoice.ID)
		}
		return domain.PaymentResult{Payment: *existing, Invoice: *invoice}, nil
	}

	if err := s.reevaluate(ctx, tx, invoice, false); err != nil {
		return domain.PaymentResult{}, err
	}

	s.log.Info("payment recorded",
		zap.String("invoice_id", invoice.ID),
		zap.String("payment_id", payment.ID),
		zap.String("amount", payment.Amount.StringFixed(2)),
		zap.String("method", string(payment.PaymentMethod)),
		zap.String("status", string(invoice.Status)),
	)
	return domain.PaymentResult{Payment: payment, Invoice: *invoice, Created: true}, nil
}

func (s *Service) existingPayment(ctx context.Context, db *gorm.DB, txID, key string) (*domain.Payment, error) {
	if txID != "" {
		payment, err := s.repo.FindPaymentByTransactionID(ctx, db, txID)
		if err != nil || payment != nil {
			return payment, err
		}
	}
	if key != "" {
		return s.repo.FindPaymentByIdempotencyKey(ctx, db, key)
	}
	return nil, nil
}

func (s *Service) NotifyPayment(ctx context.Context, result domain.PaymentResult, source string) {
	if !result.Created {
		return
	}
	s.metrics.RecordPayment(ctx, string(result.Payment.PaymentMethod), source)

	booking, items, offering, err := s.pricing(ctx, s.db, result.Invoice.BookingID)
	if err != nil {
		s.log.Warn("payment receipt skipped", zap.String("invoice_id", result.Invoice.ID), zap.Error(err))
		return
	}
	payments, err := s.repo.ListPayments(ctx, s.db, result.Invoice.ID)
	if err != nil {
		s.log.Warn("payment receipt skipped", zap.String("invoice_id", result.Invoice.ID), zap.Error(err))
		return
	}
	totals := domain.ComputeTotals(bookingdomain.Total(items, offering), payments)

	err = s.notifier.Notify(ctx, notification.Message{
		To:       booking.CustomerEmail,
		Template: notification.TemplatePaymentReceived,
		Subject:  "Payment received for " + result.Invoice.InvoiceNumber,
		Data: map[string]any{
			"customer_name":  booking.CustomerName,
			"amount":         result.Payment.Amount.StringFixed(2),
			"invoice_number": result.Invoice.InvoiceNumber,
			"balance":        totals.Balance.StringFixed(2),
			"invoice_url":    s.publicURL + "/invoices/public/" + result.Invoice.ID,
		},
	})
	if err != nil {
		s.log.Warn("payment receipt not queued", zap.String("invoice_id", result.Invoice.ID), zap.Error(err))
	}
}

func (s *Service) GetPayment(ctx context.Context, id string) (domain.Payment, error) {
	payment, err := s.repo.FindPaymentByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return domain.Payment{}, err
	}
	if payment == nil {
		return domain.Payment{}, domain.ErrPaymentNotFound
	}
	return *payment, nil
}

func (s *Service) RefundPayment(ctx context.Context, paymentID string, req domain.RefundRequest) (domain.Payment, domain.Invoice, error) {
	paymentID = strings.TrimSpace(paymentID)
	payment, err := s.repo.FindPaymentByID(ctx, s.db, paymentID)
	if err != nil {
		return domain.Payment{}, domain.Invoice{}, err
	}
	if payment == nil {
		return domain.Payment{}, domain.Invoice{}, domain.ErrPaymentNotFound
	}

	var invoice *domain.Invoice
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.repo.FindByIDForUpdate(ctx, tx, payment.InvoiceID)
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrNotFound
		}

		// re-read under the invoice lock
		payment, err = s.repo.FindPaymentByID(ctx, tx, paymentID)
		if err != nil {
			return err
		}
		if payment == nil {
			return domain.ErrPaymentNotFound
		}
		if payment.IsRefunded {
			return domain.ErrAlreadyRefunded
		}

		now := s.clock.Now()
		payment.IsRefunded = true
		payment.RefundDate = &now
		payment.RefundTransactionID = strings.TrimSpace(req.RefundTransactionID)
		payment.RefundReason = strings.TrimSpace(req.Reason)
		if err := s.repo.MarkRefunded(ctx, tx, payment); err != nil {
			return err
		}
		return s.reevaluate(ctx, tx, invoice, true)
	})
	if err != nil {
		return domain.Payment{}, domain.Invoice{}, err
	}

	s.log.Info("payment refunded",
		zap.String("payment_id", payment.ID),
		zap.String("invoice_id", invoice.ID),
		zap.String("status", string(invoice.Status)),
	)
	return *payment, *invoice, nil
}

func (s *Service) Release(ctx context.Context, id string) (domain.Invoice, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, invoice *domain.Invoice) error {
		if !invoice.DraftHeld {
			return nil
		}
		invoice.DraftHeld = false
		return s.reevaluate(ctx, tx, invoice, false)
	})
}

func (s *Service) Cancel(ctx context.Context, id string) (domain.Invoice, error) {
	return s.mutate(ctx, id, func(tx *gorm.DB, invoice *domain.Invoice) error {
		switch invoice.Status {
		case domain.StatusCancelled:
			return nil
		case domain.StatusPaid, domain.StatusRefunded:
			return domain.ErrInvoiceClosed
		}
		invoice.Status = domain.StatusCancelled
		invoice.DraftHeld = false
		invoice.UpdatedAt = s.clock.Now()
		return s.repo.UpdateInvoice(ctx, tx, invoice)
	})
}

func (s *Service) mutate(ctx context.Context, id string, fn func(tx *gorm.DB, invoice *domain.Invoice) error) (domain.Invoice, error) {
	var invoice *domain.Invoice
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var err error
		invoice, err = s.repo.FindByIDForUpdate(ctx, tx, strings.TrimSpace(id))
		if err != nil {
			return err
		}
		if invoice == nil {
			return domain.ErrNotFound
		}
		return fn(tx, invoice)
	})
	if err != nil {
		return domain.Invoice{}, err
	}
	return *invoice, nil
}

func (s *Service) LinkProcessor(ctx context.Context, req domain.LinkRequest) (domain.ProcessorLink, error) {
	processor := strings.ToLower(strings.TrimSpace(req.Processor))
	if processor == "" {
		return domain.ProcessorLink{}, domain.ErrInvalidProcessor
	}
	customerID := strings.TrimSpace(req.CustomerID)
	paymentMethodID := strings.TrimSpace(req.PaymentMethodID)
	setupIntentID := strings.TrimSpace(req.SetupIntentID)
	if customerID == "" && paymentMethodID == "" && setupIntentID == "" {
		return domain.ProcessorLink{}, domain.ErrInvalidLink
	}

	var link domain.ProcessorLink
	_, err := s.mutate(ctx, req.InvoiceID, func(tx *gorm.DB, invoice *domain.Invoice) error {
		now := s.clock.Now()
		existing, err := s.repo.FindProcessorLink(ctx, tx, invoice.ID, processor)
		if err != nil {
			return err
		}
		if existing != nil {
			link = *existing
		} else {
			link = domain.ProcessorLink{
				ID:        idgen.New(idgen.PrefixProcessorLink),
				InvoiceID: invoice.ID,
				Processor: processor,
				CreatedAt: now,
			}
		}
		if customerID != "" {
			link.CustomerID = customerID
		}
		if paymentMethodID != "" {
			link.PaymentMethodID = paymentMethodID
		}
		if setupIntentID != "" {
			link.SetupIntentID = setupIntentID
		}
		link.UpdatedAt = now
		if err := s.repo.UpsertProcessorLink(ctx, tx, &link); err != nil {
			return err
		}

		marker := firstNonEmpty(paymentMethodID, setupIntentID, customerID)
		line := fmt.Sprintf("[%s] customer_id=%s setup_intent_id=%s payment_method_id=%s",
			processor, link.CustomerID, link.SetupIntentID, link.PaymentMethodID)
		if !invoice.AppendNote(line, marker) {
			return nil
		}
		invoice.UpdatedAt = now
		return s.repo.UpdateInvoice(ctx, tx, invoice)
	})
	if err != nil {
		return domain.ProcessorLink{}, err
	}
	return link, nil
}

func (s *Service) ProcessorLink(ctx context.Context, invoiceID, processor string) (*domain.ProcessorLink, error) {
	return s.repo.FindProcessorLink(ctx, s.db, strings.TrimSpace(invoiceID), strings.ToLower(strings.TrimSpace(processor)))
}

// reevaluate is the only writer of derived invoice status.
func (s *Service) reevaluate(ctx context.Context, tx *gorm.DB, invoice *domain.Invoice, afterRefund bool) error {
	_, items, offering, err := s.pricing(ctx, tx, invoice.BookingID)
	if err != nil {
		return err
	}
	payments, err := s.repo.ListPayments(ctx, tx, invoice.ID)
	if err != nil {
		return err
	}
	business, err := s.business(ctx, tx, invoice.BusinessID)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	totals := domain.ComputeTotals(bookingdomain.Total(items, offering), payments)
	next := domain.DeriveStatus(domain.StatusInput{
		Current:     invoice.Status,
		DraftHeld:   invoice.DraftHeld,
		Total:       totals.Total,
		Paid:        totals.Paid,
		DueDate:     invoice.DueDate,
		Today:       localDate(now, business.Location()),
		AfterRefund: afterRefund,
	})

	if next != invoice.Status {
		s.log.Debug("invoice status changed",
			zap.String("invoice_id", invoice.ID),
			zap.String("from", string(invoice.Status)),
			zap.String("to", string(next)),
		)
	}
	invoice.Status = next
	invoice.UpdatedAt = now
	return s.repo.UpdateInvoice(ctx, tx, invoice)
}

func (s *Service) pricing(ctx context.Context, db *gorm.DB, bookingID string) (bookingdomain.Booking, []bookingdomain.ServiceItem, *bookingdomain.ServiceOffering, error) {
	booking, err := s.bookingRepo.FindByID(ctx, db, bookingID)
	if err != nil {
		return bookingdomain.Booking{}, nil, nil, err
	}
	if booking == nil {
		return bookingdomain.Booking{}, nil, nil, domain.ErrBookingNotFound
	}
	items, err := s.bookingRepo.ListItems(ctx, db, booking.ID)
	if err != nil {
		return bookingdomain.Booking{}, nil, nil, err
	}
	if items == nil {
		items = []bookingdomain.ServiceItem{}
	}
	var offering *bookingdomain.ServiceOffering
	if booking.ServiceOfferingID != nil {
		offering, err = s.bookingRepo.FindOffering(ctx, db, booking.BusinessID, *booking.ServiceOfferingID)
		if err != nil {
			return bookingdomain.Booking{}, nil, nil, err
		}
	}
	return *booking, items, offering, nil
}

func (s *Service) business(ctx context.Context, db *gorm.DB, id string) (businessdomain.Business, error) {
	business, err := s.businessRepo.FindBusinessByID(ctx, db, id)
	if err != nil {
		return businessdomain.Business{}, err
	}
	if business == nil {
		return businessdomain.Business{}, errors.New("invoice business not found")
	}
	return *business, nil
}

// localDate is the calendar date of t in loc, as midnight UTC.
func localDate(t time.Time, loc *time.Location) time.Time {
	return dateOnly(t.In(loc))
}

func dateOnly(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
