package domain

import (
	"time"

	"gorm.io/datatypes"
)

// EventRecord journals one verified webhook delivery.
type EventRecord struct {
	ID              string         `json:"id" gorm:"primaryKey"`
	BusinessID      string         `json:"business_id" gorm:"not null"`
	Provider        string         `json:"provider" gorm:"not null"`
	ProviderEventID string         `json:"provider_event_id" gorm:"not null"`
	EventType       string         `json:"event_type" gorm:"not null"`
	Payload         datatypes.JSON `json:"payload" gorm:"type:jsonb;not null"`
	ReceivedAt      time.Time      `json:"received_at" gorm:"not null"`
	ProcessedAt     *time.Time     `json:"processed_at"`
}

func (EventRecord) TableName() string { return "payment_events" }

const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventSetupIntentSucceeded   = "setup_intent.succeeded"
)

// WebhookEvent is the canonical event parsed by adapters.
type WebhookEvent struct {
	Provider        string
	BusinessID      string
	ProviderEventID string
	Type            string
	// ObjectID is the payment intent or setup intent id.
	ObjectID        string
	InvoiceID       string
	Amount          int64
	Currency        string
	CustomerID      string
	PaymentMethodID string
	OccurredAt      time.Time
	RawPayload      []byte
}
