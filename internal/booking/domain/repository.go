package domain

import (
	"context"

	"gorm.io/gorm"
)

type Repository interface {
	InsertBooking(ctx context.Context, db *gorm.DB, booking *Booking) error
	FindByID(ctx context.Context, db *gorm.DB, id string) (*Booking, error)
	// FindByIDForUpdate reads the booking holding a row lock until tx ends.
	FindByIDForUpdate(ctx context.Context, tx *gorm.DB, id string) (*Booking, error)
	UpdateState(ctx context.Context, db *gorm.DB, booking *Booking) error

	InsertItems(ctx context.Context, db *gorm.DB, items []ServiceItem) error
	ListItems(ctx context.Context, db *gorm.DB, bookingID string) ([]ServiceItem, error)

	InsertEvent(ctx context.Context, db *gorm.DB, event *Event) error
	ListEvents(ctx context.Context, db *gorm.DB, bookingID string) ([]Event, error)

	InsertOffering(ctx context.Context, db *gorm.DB, offering *ServiceOffering) error
	FindOffering(ctx context.Context, db *gorm.DB, businessID, id string) (*ServiceOffering, error)
}
