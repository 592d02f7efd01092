// Package notification delivers templated messages to customers without
// holding up the request that triggered them.
package notification

import (
	"context"
	"errors"
	"strings"
)

const (
	TemplateVerifyEmail      = "verify_email"
	TemplateBookingCancelled = "booking_cancelled"
	TemplateBookingThankYou  = "booking_thank_you"
	TemplateReviewRequest    = "review_request"
	TemplatePaymentReceived  = "payment_received"
	TemplateInvoiceOverdue   = "invoice_overdue"
)

type Message struct {
	To       string
	Template string
	Subject  string
	Data     map[string]any
}

func (m Message) validate() error {
	if strings.TrimSpace(m.To) == "" {
		return ErrNoRecipient
	}
	if strings.TrimSpace(m.Template) == "" {
		return ErrNoTemplate
	}
	return nil
}

// Notifier accepts a message for delivery. A nil error means the message was
// queued, not that it was delivered.
type Notifier interface {
	Notify(ctx context.Context, msg Message) error
}

// Nop discards every message.
type Nop struct{}

func (Nop) Notify(context.Context, Message) error { return nil }

var (
	ErrQueueFull   = errors.New("notification_queue_full")
	ErrQueueClosed = errors.New("notification_queue_closed")
	ErrNoRecipient = errors.New("notification_no_recipient")
	ErrNoTemplate  = errors.New("notification_no_template")
)
