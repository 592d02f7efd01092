package lifecycle

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/appointly/internal/authorization"
	"github.com/smallbiznis/appointly/internal/booking/domain"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	invoicedomain "github.com/smallbiznis/appointly/internal/invoice/domain"
	"github.com/smallbiznis/appointly/internal/notification"
	"github.com/smallbiznis/appointly/internal/observability/metrics"
	"github.com/smallbiznis/appointly/internal/reqcontext"
	"github.com/smallbiznis/appointly/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Clock        clock.Clock
	Policy       *config.PolicyHolder
	Repo         domain.Repository
	BusinessRepo businessdomain.Repository
	InvoiceSvc   invoicedomain.Service
	Authz        authorization.Service
	Sequencer    *idgen.Sequencer
	Notifier     notification.Notifier `optional:"true"`
	Metrics      *metrics.Metrics      `optional:"true"`
}

// Dispatcher applies lifecycle events to bookings. Every dispatch on a booking
// runs under that booking's row lock, so successful dispatches never interleave.
type Dispatcher struct {
	db           *gorm.DB
	log          *zap.Logger
	clock        clock.Clock
	policy       *config.PolicyHolder
	repo         domain.Repository
	businessRepo businessdomain.Repository
	invoiceSvc   invoicedomain.Service
	authz        authorization.Service
	seq          *idgen.Sequencer
	notifier     notification.Notifier
	metrics      *metrics.Metrics
	decoder      *Decoder
}

func NewDispatcher(p Params) *Dispatcher {
	notifier := p.Notifier
	if notifier == nil {
		notifier = notification.Nop{}
	}
	return &Dispatcher{
		db:           p.DB,
		log:          p.Log.Named("booking.lifecycle"),
		clock:        p.Clock,
		policy:       p.Policy,
		repo:         p.Repo,
		businessRepo: p.BusinessRepo,
		invoiceSvc:   p.InvoiceSvc,
		authz:        p.Authz,
		seq:          p.Sequencer,
		notifier:     notifier,
		metrics:      p.Metrics,
		decoder:      NewDecoder(),
	}
}

// errNoop rolls back a dispatch that turned out to have nothing to record.
var errNoop = errors.New("lifecycle_noop")

// Dispatch decodes and applies one event submitted by actor. Transition
// failures come back as an unsuccessful Result; the error return is for
// missing bookings, authorization and infrastructure failures.
func (d *Dispatcher) Dispatch(ctx context.Context, bookingID, eventType string, payload map[string]any, actor reqcontext.Actor) (Result, error) {
	bookingID = strings.TrimSpace(bookingID)
	booking, err := d.repo.FindByID(ctx, d.db, bookingID)
	if err != nil {
		return Result{}, err
	}
	if booking == nil {
		return Result{}, domain.ErrNotFound
	}

	event, err := d.decoder.Decode(eventType, payload)
	if err != nil {
		result, rerr := decodeResult(eventType, err)
		if rerr == nil {
			d.metrics.RecordLifecycleEvent(ctx, eventType, string(result.Kind))
		}
		return result, rerr
	}

	if err := d.authz.Authorize(ctx, actor, booking.BusinessID, authorization.ObjectBooking, event.Action()); err != nil {
		return Result{}, err
	}

	business, err := d.businessRepo.FindBusinessByID(ctx, d.db, booking.BusinessID)
	if err != nil {
		return Result{}, err
	}
	if business == nil {
		return Result{}, businessdomain.ErrNotFound
	}

	var (
		result  Result
		stored  domain.Booking
		payment invoicedomain.PaymentResult
	)
	err = d.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		locked, err := d.repo.FindByIDForUpdate(ctx, tx, bookingID)
		if err != nil {
			return err
		}
		if locked == nil {
			return domain.ErrNotFound
		}

		now := d.clock.Now()
		transition, res := Apply(*locked, event, Env{
			Now:                now,
			Location:           business.Location(),
			Actor:              actorLabel(actor),
			CancellationWindow: d.policy.Get().Lifecycle.CancellationWindow,
		})
		result = res
		if !res.Success {
			return errNoop
		}

		if e, ok := event.(PaymentReceived); ok {
			payment, err = d.recordPayment(ctx, tx, *locked, e)
			if err != nil {
				return err
			}
			if !payment.Created {
				result = fail(KindAlreadyInState, "Payment %s is already recorded", e.TransactionID)
				return errNoop
			}
			result.InvoiceID = payment.Invoice.ID
			result.PaymentID = payment.Payment.ID
		}

		if transition.Changed {
			if err := d.repo.UpdateState(ctx, tx, &transition.Booking); err != nil {
				return err
			}
		}

		entry := domain.Event{
			ID:          idgen.New(idgen.PrefixBookingEvent),
			BookingID:   locked.ID,
			Sequence:    d.seq.Next(),
			EventType:   event.Type(),
			Description: transition.Description,
			Reason:      transition.Reason,
			FieldValues: transition.FieldValues,
			Actor:       actorLabel(actor),
			CreatedAt:   now,
		}
		if err := d.repo.InsertEvent(ctx, tx, &entry); err != nil {
			return err
		}
		result.EventID = entry.ID
		stored = transition.Booking
		return nil
	})
	if err != nil && !errors.Is(err, errNoop) {
		d.metrics.RecordLifecycleEvent(ctx, string(event.Type()), "error")
		return Result{}, err
	}

	if !result.Success {
		d.metrics.RecordLifecycleEvent(ctx, string(event.Type()), string(result.Kind))
		d.log.Info("booking event rejected",
			zap.String("booking_id", bookingID),
			zap.String("event_type", string(event.Type())),
			zap.String("kind", string(result.Kind)),
			zap.String("message", result.Message),
		)
		return result, nil
	}

	d.metrics.RecordLifecycleEvent(ctx, string(event.Type()), "success")
	d.log.Info("booking event applied",
		zap.String("booking_id", bookingID),
		zap.String("event_id", result.EventID),
		zap.String("event_type", string(event.Type())),
		zap.String("status", string(stored.Status)),
		zap.String("actor", actorLabel(actor)),
	)
	d.afterCommit(ctx, stored, event, payment, business.Name)
	return result, nil
}

func (d *Dispatcher) recordPayment(ctx context.Context, tx *gorm.DB, booking domain.Booking, e PaymentReceived) (invoicedomain.PaymentResult, error) {
	invoice, _, err := d.invoiceSvc.GetOrCreateForBookingTx(ctx, tx, booking, invoicedomain.CreateOptions{})
	if err != nil {
		return invoicedomain.PaymentResult{}, err
	}

	req := invoicedomain.RecordPaymentRequest{
		Amount:        e.Amount,
		Method:        invoicedomain.PaymentMethod(e.PaymentMethod),
		TransactionID: e.TransactionID,
		Source:        "lifecycle",
	}
	if e.PaymentDate != "" {
		date, err := time.Parse(domain.DateLayout, e.PaymentDate)
		if err == nil {
			req.PaymentDate = &date
		}
	}
	return d.invoiceSvc.RecordPaymentTx(ctx, tx, invoice.ID, req)
}

// afterCommit sends the side effects of a committed transition. Nothing here
// can fail the dispatch.
func (d *Dispatcher) afterCommit(ctx context.Context, booking domain.Booking, event Event, payment invoicedomain.PaymentResult, businessName string) {
	data := map[string]any{
		"customer_name":  booking.CustomerName,
		"business_name":  businessName,
		"scheduled_date": booking.ScheduledDate.Format(domain.DateLayout),
		"start_time":     booking.StartTime,
	}

	var messages []notification.Message
	switch e := event.(type) {
	case Cancelled:
		data["reason"] = e.Reason
		messages = append(messages, notification.Message{
			To:       booking.CustomerEmail,
			Template: notification.TemplateBookingCancelled,
			Subject:  "Your appointment has been cancelled",
			Data:     data,
		})
	case Completed:
		if e.SendThankYou {
			messages = append(messages, notification.Message{
				To:       booking.CustomerEmail,
				Template: notification.TemplateBookingThankYou,
				Subject:  "Thank you for your visit",
				Data:     data,
			})
		}
		if e.RequestReview {
			messages = append(messages, notification.Message{
				To:       booking.CustomerEmail,
				Template: notification.TemplateReviewRequest,
				Subject:  "How was your appointment?",
				Data:     data,
			})
		}
	case PaymentReceived:
		d.invoiceSvc.NotifyPayment(ctx, payment, "lifecycle")
	}

	for _, msg := range messages {
		if err := d.notifier.Notify(ctx, msg); err != nil {
			d.log.Warn("booking notification not queued",
				zap.String("booking_id", booking.ID),
				zap.String("template", msg.Template),
				zap.Error(err),
			)
		}
	}
}

func decodeResult(eventType string, err error) (Result, error) {
	if errors.Is(err, ErrUnknownEvent) {
		return fail(KindUnknownEvent, "Unknown event type: %s", strings.TrimSpace(eventType)), nil
	}
	var verrs validation.Errors
	if errors.As(err, &verrs) {
		return Result{Kind: KindValidation, Message: verrs.First()}, nil
	}
	return Result{}, err
}

func actorLabel(actor reqcontext.Actor) string {
	if email := strings.TrimSpace(actor.Email); email != "" {
		return email
	}
	if label := actor.String(); label != "" {
		return label
	}
	return "unknown"
}
