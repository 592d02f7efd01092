package domain

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	"gorm.io/gorm"
)

type IntentResult struct {
	ClientSecret string
	IntentID     string
	Processor    string
	Amount       decimal.Decimal
}

type SetupResult struct {
	ClientSecret string
	CustomerID   string
	Processor    string
}

type PaymentSuccess struct {
	Processor       string
	PaymentIntentID string
	// Amount is what the client believes it paid; the processor's figure wins.
	Amount         decimal.Decimal
	IdempotencyKey string
}

type SetupSuccess struct {
	Processor       string
	SetupIntentID   string
	PaymentMethodID string
}

type CaptureRequest struct {
	Processor       string
	PaymentMethodID string
	// Amount defaults to the invoice balance.
	Amount         *decimal.Decimal
	IdempotencyKey string
}

// Service orchestrates processor calls against invoices. Processor calls run
// outside any database transaction.
type Service interface {
	CreatePaymentIntent(ctx context.Context, invoiceID, processor string) (IntentResult, error)
	CreateSetupIntent(ctx context.Context, invoiceID, processor string) (SetupResult, error)
	ProcessPaymentSuccess(ctx context.Context, invoiceID string, req PaymentSuccess) (invoicedomain.PaymentResult, error)
	ProcessSetupSuccess(ctx context.Context, invoiceID string, req SetupSuccess) (invoicedomain.ProcessorLink, error)
	CaptureAuthorizedPayment(ctx context.Context, invoiceID string, req CaptureRequest) (invoicedomain.PaymentResult, error)
}

type WebhookOutcome string

const (
	OutcomeProcessed WebhookOutcome = "processed"
	OutcomeReplayed  WebhookOutcome = "replayed"
	OutcomeIgnored   WebhookOutcome = "ignored"
)

type WebhookService interface {
	IngestWebhook(ctx context.Context, provider string, payload []byte, headers http.Header) (WebhookOutcome, error)
}

type Repository interface {
	FindEvent(ctx context.Context, db *gorm.DB, provider, providerEventID string) (*EventRecord, error)
	InsertEvent(ctx context.Context, db *gorm.DB, event *EventRecord) (bool, error)
	MarkProcessed(ctx context.Context, db *gorm.DB, id string, processedAt time.Time) error
}

var (
	ErrProviderNotFound = errors.New("payment_provider_not_found")
	ErrInvalidProvider  = errors.New("invalid_payment_provider")
	ErrInvalidConfig    = errors.New("invalid_payment_provider_config")
	ErrInvalidSignature = errors.New("invalid_signature")
	ErrInvalidPayload   = errors.New("invalid_payload")
	ErrInvalidEvent     = errors.New("invalid_event")
	ErrEventIgnored     = errors.New("event_ignored")
	ErrMissingCustomer  = errors.New("missing_customer")
	ErrMissingFields    = errors.New("missing_fields")
	ErrNothingToCollect = errors.New("nothing_to_collect")
	ErrIntentMismatch   = errors.New("payment_intent_mismatch")
)
