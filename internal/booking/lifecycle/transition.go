package lifecycle

import (
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/smallbiznis/appointly/internal/booking/domain"
	"gorm.io/datatypes"
)

type Kind string

const (
	KindValidation        Kind = "validation"
	KindPolicyViolation   Kind = "policy_violation"
	KindAlreadyInState    Kind = "already_in_state"
	KindInvalidTransition Kind = "invalid_transition"
	KindUnknownEvent      Kind = "unknown_event"
)

// Result is what a dispatch reports back. Failed transitions are results, not
// errors; errors are reserved for infrastructure and authorization failures.
type Result struct {
	Success bool          `json:"success"`
	Message string        `json:"message"`
	Kind    Kind          `json:"-"`
	Status  domain.Status `json:"status,omitempty"`
	EventID string        `json:"event_id,omitempty"`
	// InvoiceID and PaymentID are set by payment_received.
	InvoiceID string `json:"invoice_id,omitempty"`
	PaymentID string `json:"payment_id,omitempty"`
}

func fail(kind Kind, format string, args ...any) Result {
	return Result{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Env carries the non-booking inputs of a transition.
type Env struct {
	Now      time.Time
	Location *time.Location
	// Actor is the label written into notes and the event log.
	Actor              string
	CancellationWindow time.Duration
}

// Transition is the outcome of a successful Apply: the booking as it should be
// stored and the log entry to append.
type Transition struct {
	Booking     domain.Booking
	Changed     bool
	Description string
	Reason      string
	FieldValues datatypes.JSONMap
}

// Apply runs event against booking without side effects. On failure the
// returned Transition is zero and the booking passed in is untouched.
func Apply(booking domain.Booking, event Event, env Env) (Transition, Result) {
	next := booking
	t := Transition{FieldValues: datatypes.JSONMap{}}

	switch e := event.(type) {
	case Confirmed:
		switch booking.Status {
		case domain.StatusConfirmed:
			return Transition{}, fail(KindAlreadyInState, "Booking is already confirmed")
		case domain.StatusPending:
		default:
			return Transition{}, invalidFrom(booking.Status, "confirm")
		}
		next.Status = domain.StatusConfirmed
		t.Description = "Booking confirmed"

	case Cancelled:
		switch booking.Status {
		case domain.StatusCancelled:
			return Transition{}, fail(KindAlreadyInState, "Booking is already cancelled")
		case domain.StatusPending, domain.StatusConfirmed:
		default:
			return Transition{}, invalidFrom(booking.Status, "cancel")
		}
		appointment, err := booking.AppointmentAt(env.Location)
		if err != nil {
			return Transition{}, fail(KindValidation, "Booking has an invalid start time")
		}
		window := env.CancellationWindow
		if appointment.Sub(env.Now) < window {
			return Transition{}, fail(KindPolicyViolation, "Cannot cancel less than %s before appointment", formatWindow(window))
		}
		next.Status = domain.StatusCancelled
		next.CancellationReason = e.Reason
		t.Description = "Booking cancelled"
		t.Reason = e.Reason
		t.FieldValues["reason"] = e.Reason

	case Completed:
		switch booking.Status {
		case domain.StatusCompleted:
			return Transition{}, fail(KindAlreadyInState, "Booking is already completed")
		case domain.StatusConfirmed:
		default:
			return Transition{}, invalidFrom(booking.Status, "complete")
		}
		next.Status = domain.StatusCompleted
		if e.Notes != "" {
			next.AppendNote("Completion Notes: " + e.Notes)
			t.FieldValues["notes"] = e.Notes
		}
		t.Description = "Booking completed"
		t.FieldValues["send_thank_you"] = e.SendThankYou
		t.FieldValues["request_review"] = e.RequestReview

	case NoShow:
		switch booking.Status {
		case domain.StatusNoShow:
			return Transition{}, fail(KindAlreadyInState, "Booking is already marked as no-show")
		case domain.StatusConfirmed:
		default:
			return Transition{}, invalidFrom(booking.Status, "mark as no-show")
		}
		next.Status = domain.StatusNoShow
		next.AppendNote("No-Show Notes: " + e.Reason)
		t.Description = "Customer did not show up"
		t.Reason = e.Reason
		t.FieldValues["reason"] = e.Reason

	case NoteAdded:
		stamp := env.Now.In(location(env.Location)).Format("2006-01-02 15:04")
		next.AppendNote(fmt.Sprintf("[%s] %s: %s", stamp, env.Actor, e.Note))
		t.Description = "Note added"
		t.FieldValues["note"] = e.Note

	case PaymentReceived:
		amount := e.Amount.Round(2)
		t.Description = fmt.Sprintf("Payment of %s received via %s", amount.StringFixed(2), e.PaymentMethod)
		t.FieldValues["amount"] = amount.StringFixed(2)
		t.FieldValues["payment_method"] = e.PaymentMethod
		if e.TransactionID != "" {
			t.FieldValues["transaction_id"] = e.TransactionID
		}
		if e.PaymentDate != "" {
			t.FieldValues["payment_date"] = e.PaymentDate
		}

	case StatusChanged:
		status, ok := domain.ParseStatus(e.NewStatus)
		if !ok {
			return Transition{}, fail(KindValidation, "Unknown status: %s", e.NewStatus)
		}
		next.Status = status
		if status == domain.StatusCancelled && e.Reason != "" {
			next.CancellationReason = e.Reason
		}
		t.Description = fmt.Sprintf("Status changed from %s to %s", booking.Status, status)
		t.Reason = e.Reason
		t.FieldValues["previous_status"] = string(booking.Status)
		t.FieldValues["new_status"] = string(status)
		if e.Reason != "" {
			t.FieldValues["reason"] = e.Reason
		}

	default:
		return Transition{}, fail(KindUnknownEvent, "Unknown event type")
	}

	t.Changed = next.Status != booking.Status ||
		next.Notes != booking.Notes ||
		next.CancellationReason != booking.CancellationReason
	if t.Changed {
		next.UpdatedAt = env.Now
	}
	t.Booking = next
	return t, Result{Success: true, Message: t.Description, Status: next.Status}
}

func invalidFrom(status domain.Status, verb string) Result {
	return fail(KindInvalidTransition, "Cannot %s a booking that is %s", verb, humanStatus(status))
}

func humanStatus(status domain.Status) string {
	return strings.ReplaceAll(strings.ToLower(string(status)), "_", "-")
}

func formatWindow(d time.Duration) string {
	hours := d.Hours()
	if hours == math.Trunc(hours) {
		if hours == 1 {
			return "1 hour"
		}
		return fmt.Sprintf("%d hours", int64(hours))
	}
	return d.String()
}

func location(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
