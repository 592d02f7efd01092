package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/datatypes"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusConfirmed Status = "CONFIRMED"
	StatusCancelled Status = "CANCELLED"
	StatusCompleted Status = "COMPLETED"
	StatusNoShow    Status = "NO_SHOW"
)

// ParseStatus accepts any casing of a known status.
func ParseStatus(raw string) (Status, bool) {
	status := Status(strings.ToUpper(strings.TrimSpace(raw)))
	switch status {
	case StatusPending, StatusConfirmed, StatusCancelled, StatusCompleted, StatusNoShow:
		return status, true
	default:
		return "", false
	}
}

type EventType string

const (
	EventConfirmed       EventType = "confirmed"
	EventCancelled       EventType = "cancelled"
	EventCompleted       EventType = "completed"
	EventNoShow          EventType = "no_show"
	EventNoteAdded       EventType = "note_added"
	EventPaymentReceived EventType = "payment_received"
	EventStatusChanged   EventType = "status_changed"
)

const (
	DateLayout = "2006-01-02"
	TimeLayout = "15:04"
)

type Booking struct {
	ID                 string    `json:"id" gorm:"primaryKey"`
	BusinessID         string    `json:"business_id" gorm:"not null"`
	ServiceOfferingID  *string   `json:"service_offering_id,omitempty"`
	CustomerName       string    `json:"customer_name" gorm:"not null"`
	CustomerEmail      string    `json:"customer_email" gorm:"not null"`
	CustomerPhone      string    `json:"customer_phone"`
	ScheduledDate      time.Time `json:"-" gorm:"type:date;not null"`
	StartTime          string    `json:"start_time" gorm:"not null"`
	Status             Status    `json:"status" gorm:"not null"`
	Notes              string    `json:"notes"`
	CancellationReason string    `json:"cancellation_reason,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// AppointmentAt combines the scheduled date and start time in loc.
func (b Booking) AppointmentAt(loc *time.Location) (time.Time, error) {
	if loc == nil {
		loc = time.UTC
	}
	clock, err := time.Parse(TimeLayout, strings.TrimSpace(b.StartTime))
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid start time %q: %w", b.StartTime, err)
	}
	y, m, d := b.ScheduledDate.Date()
	return time.Date(y, m, d, clock.Hour(), clock.Minute(), 0, 0, loc), nil
}

// IsTerminal reports whether only notes and payments may still be recorded.
func (b Booking) IsTerminal() bool {
	return b.Status == StatusCancelled || b.Status == StatusCompleted
}

// AppendNote adds line to the notes log. Existing notes are never rewritten.
func (b *Booking) AppendNote(line string) {
	line = strings.TrimSpace(line)
	if line == "" {
		return
	}
	if strings.TrimSpace(b.Notes) == "" {
		b.Notes = line
		return
	}
	b.Notes = b.Notes + "\n" + line
}

type ServiceItem struct {
	ID                string          `json:"id" gorm:"primaryKey"`
	BookingID         string          `json:"booking_id" gorm:"not null"`
	ServiceOfferingID *string         `json:"service_offering_id,omitempty"`
	Name              string          `json:"name" gorm:"not null"`
	Quantity          int             `json:"quantity" gorm:"not null"`
	PriceAtBooking    decimal.Decimal `json:"price_at_booking" gorm:"type:decimal(10,2);not null"`
	Position          int             `json:"position"`
	CreatedAt         time.Time       `json:"created_at"`
}

func (ServiceItem) TableName() string { return "booking_service_items" }

func (i ServiceItem) LineTotal() decimal.Decimal {
	return i.PriceAtBooking.Mul(decimal.NewFromInt(int64(i.Quantity)))
}

type ServiceOffering struct {
	ID              string          `json:"id" gorm:"primaryKey"`
	BusinessID      string          `json:"business_id" gorm:"not null"`
	Name            string          `json:"name" gorm:"not null"`
	Price           decimal.Decimal `json:"price" gorm:"type:decimal(10,2);not null"`
	DurationMinutes int             `json:"duration_minutes"`
	CreatedAt       time.Time       `json:"created_at"`
}

// Event is one immutable entry of a booking's lifecycle log.
type Event struct {
	ID          string            `json:"id" gorm:"primaryKey"`
	BookingID   string            `json:"booking_id" gorm:"not null"`
	Sequence    int64             `json:"-" gorm:"not null"`
	EventType   EventType         `json:"event_type" gorm:"not null"`
	Description string            `json:"description" gorm:"not null"`
	Reason      string            `json:"reason,omitempty"`
	FieldValues datatypes.JSONMap `json:"field_values" gorm:"type:jsonb;not null"`
	Actor       string            `json:"actor" gorm:"not null"`
	CreatedAt   time.Time         `json:"created_at"`
}

func (Event) TableName() string { return "booking_events" }

// Total is the amount owed for a booking: the sum of its service items, or
// the base offering price when it has none.
func Total(items []ServiceItem, offering *ServiceOffering) decimal.Decimal {
	if len(items) > 0 {
		total := decimal.Zero
		for _, item := range items {
			total = total.Add(item.LineTotal())
		}
		return total
	}
	if offering != nil {
		return offering.Price
	}
	return decimal.Zero
}
