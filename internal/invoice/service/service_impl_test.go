package service_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/appointly/internal/booking/repository"
	businessrepo "github.com/smallbiznis/appointly/internal/business/repository"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/dbtest"
	"github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/invoice/repository"
	"github.com/smallbiznis/appointly/internal/invoice/service"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type recordingNotifier struct {
	mu       sync.Mutex
	messages []notification.Message
}

func (n *recordingNotifier) Notify(_ context.Context, msg notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
	return nil
}

type fixture struct {
	svc      domain.Service
	db       *gorm.DB
	clock    *clock.FakeClock
	notifier *recordingNotifier
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedBusiness(t, db, "biz_1", "UTC")
	clk := clock.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
	notifier := &recordingNotifier{}

	svc := service.New(service.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clk,
		Cfg:          config.Config{PublicBaseURL: "https://book.example.com"},
		Policy:       config.NewStaticPolicyHolder(config.DefaultPolicy()),
		Repo:         repository.Provide(),
		BookingRepo:  bookingrepo.Provide(),
		BusinessRepo: businessrepo.Provide(),
		Notifier:     notifier,
	})
	return fixture{svc: svc, db: db, clock: clk, notifier: notifier}
}

// seedBooking inserts a booking whose single item totals total.
func seedBooking(t *testing.T, db *gorm.DB, id string, total string) {
	t.Helper()
	ctx := context.Background()
	repo := bookingrepo.Provide()
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertBooking(ctx, db, &bookingdomain.Booking{
		ID:            id,
		BusinessID:    "biz_1",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		ScheduledDate: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		Status:        bookingdomain.StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}))
	require.NoError(t, repo.InsertItems(ctx, db, []bookingdomain.ServiceItem{{
		ID:             "bsi_" + id,
		BookingID:      id,
		Name:           "Color",
		Quantity:       1,
		PriceAtBooking: decimal.RequireFromString(total),
		CreatedAt:      now,
	}}))
}

func amount(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestPartialThenFullPayment(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "200.00")

	invoice, created, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, domain.StatusPending, invoice.Status)
	assert.Equal(t, "2025-06-10", invoice.DueDate.Format("2006-01-02"))

	again, created, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, invoice.ID, again.ID)

	result, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{
		Amount: amount("75.00"),
		Method: domain.MethodCash,
		Source: "client",
	})
	require.NoError(t, err)
	assert.True(t, result.Created)
	assert.Equal(t, domain.StatusPartiallyPaid, result.Invoice.Status)

	view, err := f.svc.View(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "125.00", view.Totals.Balance.StringFixed(2))
	assert.Len(t, view.Payments, 1)

	result, err = f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{
		Amount: amount("125.00"),
		Method: domain.MethodCard,
	})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, result.Invoice.Status)

	require.Len(t, f.notifier.messages, 2)
	assert.Equal(t, notification.TemplatePaymentReceived, f.notifier.messages[1].Template)
	assert.Equal(t, "0.00", f.notifier.messages[1].Data["balance"])
	assert.Equal(t, "ada@example.com", f.notifier.messages[1].To)
}

func TestRecordPaymentIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "100.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	req := domain.RecordPaymentRequest{Amount: amount("50.00"), Method: domain.MethodStripe, TransactionID: "pi_1"}
	first, err := f.svc.RecordPayment(ctx, invoice.ID, req)
	require.NoError(t, err)
	second, err := f.svc.RecordPayment(ctx, invoice.ID, req)
	require.NoError(t, err)

	assert.True(t, first.Created)
	assert.False(t, second.Created)
	assert.Equal(t, first.Payment.ID, second.Payment.ID)

	keyed := domain.RecordPaymentRequest{Amount: amount("10.00"), Method: domain.MethodCash, IdempotencyKey: "idem-1"}
	_, err = f.svc.RecordPayment(ctx, invoice.ID, keyed)
	require.NoError(t, err)
	dup, err := f.svc.RecordPayment(ctx, invoice.ID, keyed)
	require.NoError(t, err)
	assert.False(t, dup.Created)

	assert.EqualValues(t, 2, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM payments"))
	assert.Len(t, f.notifier.messages, 2)
}

func TestConcurrentRecordPaymentStoresOneRow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "100.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	const workers = 8
	req := domain.RecordPaymentRequest{Amount: amount("40.00"), Method: domain.MethodStripe, TransactionID: "pi_1"}
	var wg sync.WaitGroup
	results := make([]domain.PaymentResult, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.svc.RecordPayment(ctx, invoice.ID, req)
		}(i)
	}
	wg.Wait()

	created := 0
	for i := range workers {
		require.NoError(t, errs[i])
		if results[i].Created {
			created++
		}
	}
	assert.Equal(t, 1, created)
	assert.EqualValues(t, 1, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM payments WHERE transaction_id = ?", "pi_1"))

	view, err := f.svc.View(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, "60.00", view.Totals.Balance.StringFixed(2))
	assert.Equal(t, domain.StatusPartiallyPaid, view.Invoice.Status)
}

func TestRecordPaymentValidation(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "100.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	_, err = f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("0"), Method: domain.MethodCash})
	assert.ErrorIs(t, err, domain.ErrInvalidAmount)
	_, err = f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("5"), Method: "barter"})
	assert.ErrorIs(t, err, domain.ErrInvalidMethod)
	_, err = f.svc.RecordPayment(ctx, "inv_missing", domain.RecordPaymentRequest{Amount: amount("5"), Method: domain.MethodCash})
	assert.ErrorIs(t, err, domain.ErrNotFound)
	_, _, err = f.svc.GetOrCreateForBooking(ctx, "bk_missing", domain.CreateOptions{})
	assert.ErrorIs(t, err, domain.ErrBookingNotFound)
}

func TestRefundRecomputesStatus(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "200.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	partial, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("75"), Method: domain.MethodCash})
	require.NoError(t, err)
	rest, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("125"), Method: domain.MethodCash})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, rest.Invoice.Status)

	payment, updated, err := f.svc.RefundPayment(ctx, rest.Payment.ID, domain.RefundRequest{RefundTransactionID: "re_1", Reason: "duplicate"})
	require.NoError(t, err)
	assert.True(t, payment.IsRefunded)
	assert.Equal(t, "re_1", payment.RefundTransactionID)
	assert.Equal(t, domain.StatusPartiallyPaid, updated.Status)

	_, _, err = f.svc.RefundPayment(ctx, rest.Payment.ID, domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrAlreadyRefunded)

	_, updated, err = f.svc.RefundPayment(ctx, partial.Payment.ID, domain.RefundRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, updated.Status)

	_, _, err = f.svc.RefundPayment(ctx, "pay_missing", domain.RefundRequest{})
	assert.ErrorIs(t, err, domain.ErrPaymentNotFound)
}

func TestFullRefundReopensInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "80.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	paid, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("80"), Method: domain.MethodCard})
	require.NoError(t, err)
	require.Equal(t, domain.StatusPaid, paid.Invoice.Status)
	_, updated, err := f.svc.RefundPayment(ctx, paid.Payment.ID, domain.RefundRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPending, updated.Status)

	repaid, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("80"), Method: domain.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusPaid, repaid.Invoice.Status)

	f.clock.Set(time.Date(2025, 6, 12, 9, 0, 0, 0, time.UTC))
	_, updated, err = f.svc.RefundPayment(ctx, repaid.Payment.ID, domain.RefundRequest{})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, updated.Status)
}

func TestHeldDraftReleaseAndOverdue(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "60.00")

	due := time.Date(2025, 6, 12, 0, 0, 0, 0, time.UTC)
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{DueDate: &due, HoldDraft: true})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, invoice.Status)

	result, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("10"), Method: domain.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusDraft, result.Invoice.Status)

	f.clock.Set(time.Date(2025, 6, 14, 9, 0, 0, 0, time.UTC))
	released, err := f.svc.Release(ctx, invoice.ID)
	require.NoError(t, err)
	assert.False(t, released.DraftHeld)
	assert.Equal(t, domain.StatusPartiallyPaid, released.Status)

	seedBooking(t, f.db, "bk_2", "60.00")
	past := time.Date(2025, 6, 13, 0, 0, 0, 0, time.UTC)
	overdue, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_2", domain.CreateOptions{DueDate: &past})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusOverdue, overdue.Status)
}

func TestCancelInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "60.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	cancelled, err := f.svc.Cancel(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, cancelled.Status)

	// payments are still recorded but never move a cancelled invoice
	result, err := f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("60"), Method: domain.MethodCash})
	require.NoError(t, err)
	assert.Equal(t, domain.StatusCancelled, result.Invoice.Status)

	seedBooking(t, f.db, "bk_2", "60.00")
	paidInvoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_2", domain.CreateOptions{})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, paidInvoice.ID, domain.RecordPaymentRequest{Amount: amount("60"), Method: domain.MethodCash})
	require.NoError(t, err)
	_, err = f.svc.Cancel(ctx, paidInvoice.ID)
	assert.ErrorIs(t, err, domain.ErrInvoiceClosed)
}

func TestLinkProcessorAppendsNoteOncePerMethod(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "300.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)

	_, err = f.svc.LinkProcessor(ctx, domain.LinkRequest{InvoiceID: invoice.ID, Processor: "stripe", CustomerID: "cus_A"})
	require.NoError(t, err)

	req := domain.LinkRequest{InvoiceID: invoice.ID, Processor: "stripe", SetupIntentID: "si_1", PaymentMethodID: "pm_1"}
	link, err := f.svc.LinkProcessor(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, "cus_A", link.CustomerID)
	assert.Equal(t, "pm_1", link.PaymentMethodID)

	_, err = f.svc.LinkProcessor(ctx, req)
	require.NoError(t, err)

	stored, err := f.svc.Get(ctx, invoice.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, bytes.Count([]byte(stored.Notes), []byte("pm_1")))
	assert.Contains(t, stored.Notes, "customer_id=cus_A setup_intent_id=si_1 payment_method_id=pm_1")

	found, err := f.svc.ProcessorLink(ctx, invoice.ID, "STRIPE")
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, "si_1", found.SetupIntentID)

	_, err = f.svc.LinkProcessor(ctx, domain.LinkRequest{InvoiceID: invoice.ID, Processor: "stripe"})
	assert.ErrorIs(t, err, domain.ErrInvalidLink)
}

func TestReceiptRendersPDF(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	seedBooking(t, f.db, "bk_1", "200.00")
	invoice, _, err := f.svc.GetOrCreateForBooking(ctx, "bk_1", domain.CreateOptions{})
	require.NoError(t, err)
	_, err = f.svc.RecordPayment(ctx, invoice.ID, domain.RecordPaymentRequest{Amount: amount("75"), Method: domain.MethodCash})
	require.NoError(t, err)

	reader, err := f.svc.Receipt(ctx, invoice.ID)
	require.NoError(t, err)
	body, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("%PDF")))
}
