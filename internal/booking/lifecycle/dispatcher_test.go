package lifecycle_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/shopspring/decimal"
	"github.com/smallbiznis/appointly/internal/authorization"
	"github.com/smallbiznis/appointly/internal/booking/domain"
	"github.com/smallbiznis/appointly/internal/booking/lifecycle"
	"github.com/smallbiznis/appointly/internal/booking/repository"
	businessrepo "github.com/smallbiznis/appointly/internal/business/repository"
	businessservice "github.com/smallbiznis/appointly/internal/business/service"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/dbtest"
	"github.com/smallbiznis/appointly/internal/idgen"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/appointly/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/appointly/internal/invoice/service"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/reqcontext"
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

func (n *recordingNotifier) templates() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.messages))
	for _, msg := range n.messages {
		out = append(out, msg.Template)
	}
	return out
}

var (
	staff = reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "u_staff", Email: "staff@example.com"}
	admin = reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "u_admin", Email: "admin@example.com"}
)

type fixture struct {
	dispatcher *lifecycle.Dispatcher
	db         *gorm.DB
	clock      *clock.FakeClock
	notifier   *recordingNotifier
	invoices   invoicedomain.Service
}

func newFixture(t *testing.T, now time.Time) fixture {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedBusiness(t, db, "biz_1", "UTC")
	dbtest.SeedMember(t, db, "biz_1", "u_staff", "staff")
	dbtest.SeedMember(t, db, "biz_1", "u_admin", "admin")

	clk := clock.NewFakeClock(now)
	notifier := &recordingNotifier{}
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	cfg := config.Config{PublicBaseURL: "https://book.example.com", DefaultCurrency: "usd"}

	businessSvc := businessservice.New(businessservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  businessrepo.Provide(),
		Cfg:   cfg,
	})
	enforcer, err := authorization.NewEnforcer(db)
	require.NoError(t, err)
	authz := authorization.NewService(authorization.Params{
		Log:         zap.NewNop(),
		Enforcer:    enforcer,
		BusinessSvc: businessSvc,
	})
	invoices := invoiceservice.New(invoiceservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clk,
		Cfg:          cfg,
		Policy:       policy,
		Repo:         invoicerepo.Provide(),
		BookingRepo:  repository.Provide(),
		BusinessRepo: businessrepo.Provide(),
		Notifier:     notifier,
	})
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	dispatcher := lifecycle.NewDispatcher(lifecycle.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clk,
		Policy:       policy,
		Repo:         repository.Provide(),
		BusinessRepo: businessrepo.Provide(),
		InvoiceSvc:   invoices,
		Authz:        authz,
		Sequencer:    idgen.NewSequencer(node),
		Notifier:     notifier,
	})
	return fixture{dispatcher: dispatcher, db: db, clock: clk, notifier: notifier, invoices: invoices}
}

func seedBooking(t *testing.T, db *gorm.DB, id string, status domain.Status, total string) {
	t.Helper()
	ctx := context.Background()
	repo := repository.Provide()
	created := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	require.NoError(t, repo.InsertBooking(ctx, db, &domain.Booking{
		ID:            id,
		BusinessID:    "biz_1",
		CustomerName:  "Ada Lovelace",
		CustomerEmail: "ada@example.com",
		ScheduledDate: time.Date(2025, 6, 10, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		Status:        status,
		CreatedAt:     created,
		UpdatedAt:     created,
	}))
	if total == "" {
		return
	}
	require.NoError(t, repo.InsertItems(ctx, db, []domain.ServiceItem{{
		ID:             "bsi_" + id,
		BookingID:      id,
		Name:           "Cut and color",
		Quantity:       1,
		PriceAtBooking: decimal.RequireFromString(total),
		CreatedAt:      created,
	}}))
}

func load(t *testing.T, db *gorm.DB, id string) domain.Booking {
	t.Helper()
	booking, err := repository.Provide().FindByID(context.Background(), db, id)
	require.NoError(t, err)
	require.NotNil(t, booking)
	return *booking
}

func events(t *testing.T, db *gorm.DB, id string) []domain.Event {
	t.Helper()
	list, err := repository.Provide().ListEvents(context.Background(), db, id)
	require.NoError(t, err)
	return list
}

func TestLateCancellationIsRejected(t *testing.T) {
	f := newFixture(t, time.Date(2025, 6, 9, 20, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusConfirmed, "")

	result, err := f.dispatcher.Dispatch(context.Background(), "bk_1", "cancelled", map[string]any{"reason": "sick"}, staff)
	require.NoError(t, err)
	assert.False(t, result.Success)
	assert.Equal(t, lifecycle.KindPolicyViolation, result.Kind)
	assert.Equal(t, "Cannot cancel less than 24 hours before appointment", result.Message)

	assert.Equal(t, domain.StatusConfirmed, load(t, f.db, "bk_1").Status)
	assert.Empty(t, events(t, f.db, "bk_1"))
	assert.Empty(t, f.notifier.messages)
}

func TestCancellationNotifiesCustomer(t *testing.T) {
	f := newFixture(t, time.Date(2025, 6, 7, 9, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusConfirmed, "")

	result, err := f.dispatcher.Dispatch(context.Background(), "bk_1", "cancelled", map[string]any{"reason": "Out of town"}, staff)
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)
	assert.Equal(t, domain.StatusCancelled, result.Status)

	stored := load(t, f.db, "bk_1")
	assert.Equal(t, domain.StatusCancelled, stored.Status)
	assert.Equal(t, "Out of town", stored.CancellationReason)

	log := events(t, f.db, "bk_1")
	require.Len(t, log, 1)
	assert.Equal(t, result.EventID, log[0].ID)
	assert.Equal(t, domain.EventCancelled, log[0].EventType)
	assert.Equal(t, "Out of town", log[0].Reason)
	assert.Equal(t, "staff@example.com", log[0].Actor)

	assert.Equal(t, []string{notification.TemplateBookingCancelled}, f.notifier.templates())
	assert.Equal(t, "ada@example.com", f.notifier.messages[0].To)
}

func TestConfirmIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusPending, "")

	first, err := f.dispatcher.Dispatch(ctx, "bk_1", "confirmed", nil, staff)
	require.NoError(t, err)
	assert.True(t, first.Success)

	second, err := f.dispatcher.Dispatch(ctx, "bk_1", "confirmed", nil, staff)
	require.NoError(t, err)
	assert.False(t, second.Success)
	assert.Equal(t, lifecycle.KindAlreadyInState, second.Kind)
	assert.Equal(t, "Booking is already confirmed", second.Message)

	assert.EqualValues(t, 1, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM booking_events WHERE booking_id = ? AND event_type = ?", "bk_1", "confirmed"))
}

func TestConcurrentConfirmIsRecordedOnce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusPending, "")

	const workers = 8
	var wg sync.WaitGroup
	results := make([]lifecycle.Result, workers)
	errs := make([]error, workers)
	for i := range workers {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = f.dispatcher.Dispatch(ctx, "bk_1", "confirmed", nil, staff)
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for i := range workers {
		require.NoError(t, errs[i])
		if results[i].Success {
			succeeded++
			continue
		}
		assert.Equal(t, lifecycle.KindAlreadyInState, results[i].Kind)
	}
	assert.Equal(t, 1, succeeded)
	assert.Equal(t, domain.StatusConfirmed, load(t, f.db, "bk_1").Status)
	assert.EqualValues(t, 1, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM booking_events WHERE booking_id = ? AND event_type = ?", "bk_1", "confirmed"))
}

func TestPaymentReceivedCreatesInvoice(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusCompleted, "200.00")

	payload := map[string]any{"amount": "75.00", "payment_method": "cash", "transaction_id": "rcpt_1"}
	result, err := f.dispatcher.Dispatch(ctx, "bk_1", "payment_received", payload, staff)
	require.NoError(t, err)
	require.True(t, result.Success, result.Message)
	require.NotEmpty(t, result.InvoiceID)
	assert.NotEmpty(t, result.PaymentID)
	assert.Equal(t, "Payment of 75.00 received via cash", result.Message)

	invoice, err := f.invoices.Get(ctx, result.InvoiceID)
	require.NoError(t, err)
	assert.Equal(t, "bk_1", invoice.BookingID)
	assert.Equal(t, invoicedomain.StatusPartiallyPaid, invoice.Status)

	replay, err := f.dispatcher.Dispatch(ctx, "bk_1", "payment_received", payload, staff)
	require.NoError(t, err)
	assert.False(t, replay.Success)
	assert.Equal(t, lifecycle.KindAlreadyInState, replay.Kind)

	assert.EqualValues(t, 1, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM payments"))
	assert.EqualValues(t, 1, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM invoices"))
	log := events(t, f.db, "bk_1")
	require.Len(t, log, 1)
	assert.Equal(t, "75.00", log[0].FieldValues["amount"])
	assert.Equal(t, []string{notification.TemplatePaymentReceived}, f.notifier.templates())
}

func TestCompletionSendsRequestedMessages(t *testing.T) {
	f := newFixture(t, time.Date(2025, 6, 10, 11, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusConfirmed, "")

	result, err := f.dispatcher.Dispatch(context.Background(), "bk_1", "completed", map[string]any{
		"notes":          "Loved the new color",
		"send_thank_you": true,
		"request_review": true,
	}, staff)
	require.NoError(t, err)
	require.True(t, result.Success)

	stored := load(t, f.db, "bk_1")
	assert.Equal(t, domain.StatusCompleted, stored.Status)
	assert.Equal(t, "Completion Notes: Loved the new color", stored.Notes)
	assert.Equal(t, []string{notification.TemplateBookingThankYou, notification.TemplateReviewRequest}, f.notifier.templates())
}

func TestNotesAccumulateInOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 9, 20, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusConfirmed, "")

	_, err := f.dispatcher.Dispatch(ctx, "bk_1", "note_added", map[string]any{"note": "Running late"}, staff)
	require.NoError(t, err)
	f.clock.Advance(15 * time.Minute)
	_, err = f.dispatcher.Dispatch(ctx, "bk_1", "note_added", map[string]any{"note": "Arrived"}, admin)
	require.NoError(t, err)

	assert.Equal(t,
		"[2025-06-09 20:00] staff@example.com: Running late\n[2025-06-09 20:15] admin@example.com: Arrived",
		load(t, f.db, "bk_1").Notes,
	)
	log := events(t, f.db, "bk_1")
	require.Len(t, log, 2)
	assert.Equal(t, "Running late", log[0].FieldValues["note"])
	assert.Equal(t, "Arrived", log[1].FieldValues["note"])
}

func TestStatusOverrideRequiresAdmin(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 9, 20, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusCancelled, "")
	payload := map[string]any{"new_status": "confirmed", "reason": "customer called back"}

	_, err := f.dispatcher.Dispatch(ctx, "bk_1", "status_changed", payload, staff)
	assert.ErrorIs(t, err, authorization.ErrForbidden)
	assert.Equal(t, domain.StatusCancelled, load(t, f.db, "bk_1").Status)

	result, err := f.dispatcher.Dispatch(ctx, "bk_1", "status_changed", payload, admin)
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, domain.StatusConfirmed, load(t, f.db, "bk_1").Status)

	log := events(t, f.db, "bk_1")
	require.Len(t, log, 1)
	assert.Equal(t, "CANCELLED", log[0].FieldValues["previous_status"])
	assert.Equal(t, "CONFIRMED", log[0].FieldValues["new_status"])
}

func TestDispatchRejectsBadInput(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	seedBooking(t, f.db, "bk_1", domain.StatusConfirmed, "")

	_, err := f.dispatcher.Dispatch(ctx, "bk_missing", "confirmed", nil, staff)
	assert.ErrorIs(t, err, domain.ErrNotFound)

	result, err := f.dispatcher.Dispatch(ctx, "bk_1", "rescheduled", nil, staff)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.KindUnknownEvent, result.Kind)
	assert.Equal(t, "Unknown event type: rescheduled", result.Message)

	result, err = f.dispatcher.Dispatch(ctx, "bk_1", "no_show", map[string]any{}, staff)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.KindValidation, result.Kind)
	assert.Equal(t, "reason is required", result.Message)

	for _, amount := range []string{"0.001", "10.005"} {
		result, err = f.dispatcher.Dispatch(ctx, "bk_1", "payment_received", map[string]any{"amount": amount, "payment_method": "cash"}, staff)
		require.NoError(t, err)
		assert.False(t, result.Success)
		assert.Equal(t, lifecycle.KindValidation, result.Kind)
		assert.Equal(t, "amount must be a positive value with at most 2 decimals", result.Message)
	}
	assert.EqualValues(t, 0, dbtest.Count(t, f.db, "SELECT COUNT(1) FROM payments"))

	outsider := reqcontext.Actor{Type: reqcontext.ActorTypeUser, ID: "u_other"}
	_, err = f.dispatcher.Dispatch(ctx, "bk_1", "note_added", map[string]any{"note": "hi"}, outsider)
	assert.ErrorIs(t, err, authorization.ErrForbidden)

	assert.Empty(t, events(t, f.db, "bk_1"))
}
