package domain

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrorKind classifies processor failures for the caller.
type ErrorKind string

const (
	KindNetwork        ErrorKind = "network"
	KindDeclined       ErrorKind = "declined"
	KindInvalidRequest ErrorKind = "invalid_request"
	KindUnauthorized   ErrorKind = "unauthorized"
	KindUnknown        ErrorKind = "unknown"
)

type ProcessorError struct {
	Kind   ErrorKind
	Detail string
}

func (e *ProcessorError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("processor error: %s", e.Kind)
	}
	return fmt.Sprintf("processor error: %s: %s", e.Kind, e.Detail)
}

func NewProcessorError(kind ErrorKind, detail string) *ProcessorError {
	return &ProcessorError{Kind: kind, Detail: detail}
}

// KindOf returns the processor error kind carried by err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var perr *ProcessorError
	if errors.As(err, &perr) {
		return perr.Kind, true
	}
	return "", false
}

const (
	PaymentTypeInstant   = "instant"
	PaymentTypeAuthorize = "authorize"
	PaymentTypeCapture   = "capture"
)

// Metadata is attached to every intent created on the processor. Webhooks
// read back only InvoiceID.
type Metadata struct {
	InvoiceID     string
	InvoiceNumber string
	CustomerName  string
	CustomerEmail string
	PaymentType   string
}

type IntentRequest struct {
	// Amount is in minor units.
	Amount         int64
	Currency       string
	CustomerID     string
	Metadata       Metadata
	IdempotencyKey string
}

type SetupIntentRequest struct {
	CustomerID     string
	Metadata       Metadata
	IdempotencyKey string
}

type ChargeRequest struct {
	CustomerID      string
	PaymentMethodID string
	Amount          int64
	Currency        string
	Metadata        Metadata
	IdempotencyKey  string
}

// Intent is the processor's view of a payment or setup intent.
type Intent struct {
	ID              string
	ClientSecret    string
	Status          string
	Amount          int64
	AmountReceived  int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	InvoiceID       string
}

const IntentStatusSucceeded = "succeeded"

type Customer struct {
	ID    string
	Email string
}

// Processor is the outbound port to an external card processor. Every method
// may fail with *ProcessorError.
type Processor interface {
	CreatePaymentIntent(ctx context.Context, req IntentRequest) (Intent, error)
	RetrievePaymentIntent(ctx context.Context, id string) (Intent, error)
	CreateSetupIntent(ctx context.Context, req SetupIntentRequest) (Intent, error)
	// FindCustomerByEmail returns nil when the processor has no such customer.
	FindCustomerByEmail(ctx context.Context, email string) (*Customer, error)
	CreateCustomer(ctx context.Context, email, name string) (Customer, error)
	// AttachPaymentMethod attaches the method to the customer and makes it the default.
	AttachPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error
	ChargeOffSession(ctx context.Context, req ChargeRequest) (Intent, error)
}

// WebhookHandler verifies and decodes processor callbacks.
type WebhookHandler interface {
	Verify(ctx context.Context, payload []byte, headers http.Header) error
	Parse(ctx context.Context, payload []byte) (*WebhookEvent, error)
}

type Adapter interface {
	Processor
	WebhookHandler
}

type AdapterConfig struct {
	BusinessID string
	Provider   string
	Config     map[string]any
	// HTTPClient must not carry its own Timeout; callers bound every call
	// with a context deadline.
	HTTPClient *http.Client
	// Now is the reference time for webhook signature freshness.
	Now func() time.Time
}

type AdapterFactory interface {
	Provider() string
	NewAdapter(cfg AdapterConfig) (Adapter, error)
}
