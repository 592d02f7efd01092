package repository

import (
	"context"
	"errors"

	"github.com/smallbiznis/appointly/internal/booking/domain"
	"github.com/smallbiznis/appointly/pkg/db"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

const bookingColumns = `id, business_id, service_offering_id, customer_name, customer_email, customer_phone,
	scheduled_date, start_time, status, notes, cancellation_reason, created_at, updated_at`

func (r *repo) InsertBooking(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO bookings (`+bookingColumns+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		booking.ID,
		booking.BusinessID,
		booking.ServiceOfferingID,
		booking.CustomerName,
		booking.CustomerEmail,
		booking.CustomerPhone,
		booking.ScheduledDate,
		booking.StartTime,
		booking.Status,
		booking.Notes,
		booking.CancellationReason,
		booking.CreatedAt,
		booking.UpdatedAt,
	).Error
}

func (r *repo) FindByID(ctx context.Context, db *gorm.DB, id string) (*domain.Booking, error) {
	var booking domain.Booking
	err := db.WithContext(ctx).Raw(
		`SELECT `+bookingColumns+` FROM bookings WHERE id = ?`,
		id,
	).Scan(&booking).Error
	if err != nil {
		return nil, err
	}
	if booking.ID == "" {
		return nil, nil
	}
	return &booking, nil
}

func (r *repo) FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*domain.Booking, error) {
	var booking domain.Booking
	err := db.ForUpdate(tx.WithContext(ctx)).
		Where("id = ?", id).
		Take(&booking).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &booking, nil
}

func (r *repo) UpdateState(ctx context.Context, db *gorm.DB, booking *domain.Booking) error {
	return db.WithContext(ctx).Exec(
		`UPDATE bookings
		 SET status = ?, notes = ?, cancellation_reason = ?, updated_at = ?
		 WHERE id = ?`,
		booking.Status,
		booking.Notes,
		booking.CancellationReason,
		booking.UpdatedAt,
		booking.ID,
	).Error
}

func (r *repo) InsertItems(ctx context.Context, db *gorm.DB, items []domain.ServiceItem) error {
	for _, item := range items {
		err := db.WithContext(ctx).Exec(
			`INSERT INTO booking_service_items (id, booking_id, service_offering_id, name, quantity, price_at_booking, position, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			item.ID,
			item.BookingID,
			item.ServiceOfferingID,
			item.Name,
			item.Quantity,
			item.PriceAtBooking,
			item.Position,
			item.CreatedAt,
		).Error
		if err != nil {
			return err
		}
	}
	return nil
}

func (r *repo) ListItems(ctx context.Context, db *gorm.DB, bookingID string) ([]domain.ServiceItem, error) {
	var items []domain.ServiceItem
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, service_offering_id, name, quantity, price_at_booking, position, created_at
		 FROM booking_service_items
		 WHERE booking_id = ?
		 ORDER BY position ASC, id ASC`,
		bookingID,
	).Scan(&items).Error
	if err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repo) InsertEvent(ctx context.Context, db *gorm.DB, event *domain.Event) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO booking_events (id, booking_id, sequence, event_type, description, reason, field_values, actor, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		event.ID,
		event.BookingID,
		event.Sequence,
		event.EventType,
		event.Description,
		event.Reason,
		event.FieldValues,
		event.Actor,
		event.CreatedAt,
	).Error
}

func (r *repo) ListEvents(ctx context.Context, db *gorm.DB, bookingID string) ([]domain.Event, error) {
	var events []domain.Event
	err := db.WithContext(ctx).Raw(
		`SELECT id, booking_id, sequence, event_type, description, reason, field_values, actor, created_at
		 FROM booking_events
		 WHERE booking_id = ?
		 ORDER BY created_at ASC, sequence ASC`,
		bookingID,
	).Scan(&events).Error
	if err != nil {
		return nil, err
	}
	return events, nil
}

func (r *repo) InsertOffering(ctx context.Context, db *gorm.DB, offering *domain.ServiceOffering) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO service_offerings (id, business_id, name, price, duration_minutes, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		offering.ID,
		offering.BusinessID,
		offering.Name,
		offering.Price,
		offering.DurationMinutes,
		offering.CreatedAt,
	).Error
}

func (r *repo) FindOffering(ctx context.Context, db *gorm.DB, businessID, id string) (*domain.ServiceOffering, error) {
	var offering domain.ServiceOffering
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, name, price, duration_minutes, created_at
		 FROM service_offerings
		 WHERE business_id = ? AND id = ?`,
		businessID,
		id,
	).Scan(&offering).Error
	if err != nil {
		return nil, err
	}
	if offering.ID == "" {
		return nil, nil
	}
	return &offering, nil
}
