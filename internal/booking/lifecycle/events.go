// Package lifecycle moves bookings through their states. Events are decoded
// into typed variants, applied by a pure state machine and persisted by the
// Dispatcher together with the event log entry they produce.
package lifecycle

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/smallbiznis/appointly/internal/authorization"
	"github.com/smallbiznis/appointly/internal/booking/domain"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/pkg/validation"
)

var ErrUnknownEvent = errors.New("unknown_event")

// Event is one lifecycle command submitted against a booking.
type Event interface {
	Type() domain.EventType
	// Action is the authorization action required to submit the event.
	Action() string
}

type normalizer interface {
	normalize()
}

type Confirmed struct{}

type Cancelled struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type Completed struct {
	Notes         string `json:"notes" validate:"max=2000"`
	SendThankYou  bool   `json:"send_thank_you"`
	RequestReview bool   `json:"request_review"`
}

type NoShow struct {
	Reason string `json:"reason" validate:"required,max=1000"`
}

type NoteAdded struct {
	Note string `json:"note" validate:"required,max=2000"`
}

type PaymentReceived struct {
	Amount        decimal.Decimal `json:"amount" validate:"gt=0"`
	PaymentMethod string          `json:"payment_method" validate:"required"`
	TransactionID string          `json:"transaction_id" validate:"max=255"`
	PaymentDate   string          `json:"payment_date" validate:"omitempty,datetime=2006-01-02"`
}

type StatusChanged struct {
	NewStatus string `json:"new_status" validate:"required"`
	Reason    string `json:"reason" validate:"max=1000"`
}

func (Confirmed) Type() domain.EventType       { return domain.EventConfirmed }
func (Cancelled) Type() domain.EventType       { return domain.EventCancelled }
func (Completed) Type() domain.EventType       { return domain.EventCompleted }
func (NoShow) Type() domain.EventType          { return domain.EventNoShow }
func (NoteAdded) Type() domain.EventType       { return domain.EventNoteAdded }
func (PaymentReceived) Type() domain.EventType { return domain.EventPaymentReceived }
func (StatusChanged) Type() domain.EventType   { return domain.EventStatusChanged }

func (Confirmed) Action() string       { return authorization.ActionBookingConfirm }
func (Cancelled) Action() string       { return authorization.ActionBookingCancel }
func (Completed) Action() string       { return authorization.ActionBookingComplete }
func (NoShow) Action() string          { return authorization.ActionBookingNoShow }
func (NoteAdded) Action() string       { return authorization.ActionBookingNote }
func (PaymentReceived) Action() string { return authorization.ActionBookingRecordPayment }
func (StatusChanged) Action() string   { return authorization.ActionBookingOverrideStatus }

func (e *Cancelled) normalize() { e.Reason = strings.TrimSpace(e.Reason) }
func (e *Completed) normalize() { e.Notes = strings.TrimSpace(e.Notes) }
func (e *NoShow) normalize()    { e.Reason = strings.TrimSpace(e.Reason) }
func (e *NoteAdded) normalize() { e.Note = strings.TrimSpace(e.Note) }
func (e *PaymentReceived) normalize() {
	e.PaymentMethod = strings.ToLower(strings.TrimSpace(e.PaymentMethod))
	e.TransactionID = strings.TrimSpace(e.TransactionID)
	e.PaymentDate = strings.TrimSpace(e.PaymentDate)
}
func (e *StatusChanged) normalize() {
	e.NewStatus = strings.TrimSpace(e.NewStatus)
	e.Reason = strings.TrimSpace(e.Reason)
}

// Decoder turns {event_type, ...payload} submissions into typed events.
type Decoder struct {
	validate *validation.Validator
}

func NewDecoder() *Decoder {
	return &Decoder{validate: validation.New()}
}

// Decode builds the variant for eventType from payload. Unknown types return
// ErrUnknownEvent; malformed payloads return validation.Errors.
func (d *Decoder) Decode(eventType string, payload map[string]any) (Event, error) {
	var event any
	switch domain.EventType(strings.ToLower(strings.TrimSpace(eventType))) {
	case domain.EventConfirmed:
		event = &Confirmed{}
	case domain.EventCancelled:
		event = &Cancelled{}
	case domain.EventCompleted:
		event = &Completed{}
	case domain.EventNoShow:
		event = &NoShow{}
	case domain.EventNoteAdded:
		event = &NoteAdded{}
	case domain.EventPaymentReceived:
		event = &PaymentReceived{}
	case domain.EventStatusChanged:
		event = &StatusChanged{}
	default:
		return nil, ErrUnknownEvent
	}

	if len(payload) > 0 {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, event); err != nil {
			return nil, validation.Errors{{
				Field:   "payload",
				Code:    "invalid",
				Message: fmt.Sprintf("invalid %s payload", eventType),
			}}
		}
	}
	if n, ok := event.(normalizer); ok {
		n.normalize()
	}

	if err := d.validate.Struct(event); err != nil {
		return nil, err
	}
	if err := checkValues(event); err != nil {
		return nil, err
	}
	return deref(event), nil
}

func checkValues(event any) error {
	switch e := event.(type) {
	case *PaymentReceived:
		if !e.Amount.Equal(e.Amount.Round(2)) || e.Amount.Sign() <= 0 {
			return validation.Errors{{
				Field:   "amount",
				Code:    "decimal",
				Message: "amount must be a positive value with at most 2 decimals",
			}}
		}
		if _, ok := invoicedomain.ParsePaymentMethod(e.PaymentMethod); !ok {
			return validation.Errors{{
				Field:   "payment_method",
				Code:    "oneof",
				Message: "payment_method is not a supported payment method",
			}}
		}
	case *StatusChanged:
		if _, ok := domain.ParseStatus(e.NewStatus); !ok {
			return validation.Errors{{
				Field:   "new_status",
				Code:    "oneof",
				Message: fmt.Sprintf("Unknown status: %s", e.NewStatus),
			}}
		}
	}
	return nil
}

// deref hands callers value variants so type switches stay simple.
func deref(event any) Event {
	switch e := event.(type) {
	case *Confirmed:
		return *e
	case *Cancelled:
		return *e
	case *Completed:
		return *e
	case *NoShow:
		return *e
	case *NoteAdded:
		return *e
	case *PaymentReceived:
		return *e
	case *StatusChanged:
		return *e
	}
	panic(fmt.Sprintf("lifecycle: unhandled event %T", event))
}
