package paymenttest

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	bookingdomain "github.com/smallbiznis/appointly/internal/booking/domain"
	bookingrepo "github.com/smallbiznis/appointly/internal/booking/repository"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	businessrepo "github.com/smallbiznis/appointly/internal/business/repository"
	businessservice "github.com/smallbiznis/appointly/internal/business/service"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/dbtest"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	invoicerepo "github.com/smallbiznis/appointly/internal/invoice/repository"
	invoiceservice "github.com/smallbiznis/appointly/internal/invoice/service"
	"github.com/smallbiznis/appointly/internal/payment/adapters"
	"github.com/smallbiznis/appointly/internal/payment/adapters/stripe"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	BusinessID    = "biz_1"
	WebhookSecret = "whsec_test"
	CustomerEmail = "ada@example.com"
)

type Env struct {
	DB          *gorm.DB
	Clock       *clock.FakeClock
	Policy      *config.PolicyHolder
	BusinessSvc businessdomain.Service
	InvoiceSvc  invoicedomain.Service
	Registry    *adapters.Registry
	Stripe      *FakeStripe
}

// NewEnv wires real business and invoice services over sqlite with stripe
// credentials pointing at a FakeStripe.
func NewEnv(t *testing.T) Env {
	t.Helper()
	db := dbtest.Open(t)
	dbtest.SeedBusiness(t, db, BusinessID, "UTC")
	clk := clock.NewFakeClock(time.Date(2025, 6, 10, 9, 0, 0, 0, time.UTC))
	cfg := config.Config{
		PaymentProviderConfigSecret: "test-secret",
		DefaultCurrency:             "usd",
		PublicBaseURL:               "https://book.example.com",
	}
	policy := config.NewStaticPolicyHolder(config.DefaultPolicy())
	fake := NewFakeStripe(t)

	businessSvc := businessservice.New(businessservice.Params{
		DB:    db,
		Log:   zap.NewNop(),
		Clock: clk,
		Repo:  businessrepo.Provide(),
		Cfg:   cfg,
	})
	err := businessSvc.UpsertProcessorConfig(context.Background(), businessdomain.UpsertProcessorConfigRequest{
		BusinessID: BusinessID,
		Processor:  stripe.Provider,
		Config: map[string]any{
			"secret_key":     "sk_test",
			"webhook_secret": WebhookSecret,
			"api_base":       fake.URL,
		},
	})
	if err != nil {
		t.Fatalf("store processor config: %v", err)
	}

	invoiceSvc := invoiceservice.New(invoiceservice.Params{
		DB:           db,
		Log:          zap.NewNop(),
		Clock:        clk,
		Cfg:          cfg,
		Policy:       policy,
		Repo:         invoicerepo.Provide(),
		BookingRepo:  bookingrepo.Provide(),
		BusinessRepo: businessrepo.Provide(),
	})

	return Env{
		DB:          db,
		Clock:       clk,
		Policy:      policy,
		BusinessSvc: businessSvc,
		InvoiceSvc:  invoiceSvc,
		Registry:    adapters.NewRegistry(stripe.NewFactory()),
		Stripe:      fake,
	}
}

// SeedInvoice inserts a confirmed booking whose single item costs total and
// returns its invoice.
func (e Env) SeedInvoice(t *testing.T, bookingID, total string) invoicedomain.Invoice {
	t.Helper()
	ctx := context.Background()
	repo := bookingrepo.Provide()
	now := e.Clock.Now()
	if err := repo.InsertBooking(ctx, e.DB, &bookingdomain.Booking{
		ID:            bookingID,
		BusinessID:    BusinessID,
		CustomerName:  "Ada Lovelace",
		CustomerEmail: CustomerEmail,
		ScheduledDate: time.Date(2025, 6, 20, 0, 0, 0, 0, time.UTC),
		StartTime:     "10:00",
		Status:        bookingdomain.StatusConfirmed,
		CreatedAt:     now,
		UpdatedAt:     now,
	}); err != nil {
		t.Fatalf("seed booking: %v", err)
	}
	if err := repo.InsertItems(ctx, e.DB, []bookingdomain.ServiceItem{{
		ID:             "bsi_" + bookingID,
		BookingID:      bookingID,
		Name:           "Color",
		Quantity:       1,
		PriceAtBooking: decimal.RequireFromString(total),
		CreatedAt:      now,
	}}); err != nil {
		t.Fatalf("seed items: %v", err)
	}

	invoice, _, err := e.InvoiceSvc.GetOrCreateForBooking(ctx, bookingID, invoicedomain.CreateOptions{})
	if err != nil {
		t.Fatalf("create invoice: %v", err)
	}
	return invoice
}
