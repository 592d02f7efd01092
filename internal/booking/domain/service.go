package domain

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
)

type CreateOfferingRequest struct {
	BusinessID      string          `validate:"required"`
	Name            string          `validate:"required,max=200"`
	Price           decimal.Decimal `validate:"gte=0"`
	DurationMinutes int             `validate:"gte=0,lte=1440"`
}

type CreateItemRequest struct {
	ServiceOfferingID string           `json:"service_offering_id"`
	Name              string           `json:"name" validate:"required_without=ServiceOfferingID,max=200"`
	Price             *decimal.Decimal `json:"price" validate:"required_without=ServiceOfferingID"`
	Quantity          int              `json:"quantity" validate:"gte=1,lte=100"`
}

type CreateBookingRequest struct {
	BusinessID        string              `json:"business_id" validate:"required"`
	ServiceOfferingID string              `json:"service_offering_id"`
	CustomerName      string              `json:"customer_name" validate:"required,max=200"`
	CustomerEmail     string              `json:"customer_email" validate:"required,email"`
	CustomerPhone     string              `json:"customer_phone"`
	ScheduledDate     string              `json:"scheduled_date" validate:"required,datetime=2006-01-02"`
	StartTime         string              `json:"start_time" validate:"required,datetime=15:04"`
	Notes             string              `json:"notes" validate:"max=2000"`
	Items             []CreateItemRequest `json:"items" validate:"dive"`
}

// Detail is the read model of a booking with its items and ordered event log.
type Detail struct {
	Booking  Booking          `json:"booking"`
	Date     string           `json:"scheduled_date"`
	Items    []ServiceItem    `json:"items"`
	Offering *ServiceOffering `json:"service_offering,omitempty"`
	Total    decimal.Decimal  `json:"total"`
	Events   []Event          `json:"events"`
}

type Service interface {
	CreateOffering(ctx context.Context, req CreateOfferingRequest) (ServiceOffering, error)
	Create(ctx context.Context, req CreateBookingRequest) (Booking, error)
	Get(ctx context.Context, id string) (Detail, error)
	// Pricing returns the items and base offering used to compute the booking total.
	Pricing(ctx context.Context, bookingID string) ([]ServiceItem, *ServiceOffering, error)
}

var (
	ErrNotFound         = errors.New("booking_not_found")
	ErrOfferingNotFound = errors.New("service_offering_not_found")
	ErrInvalidRequest   = errors.New("invalid_request")
	ErrInvalidPhone     = errors.New("invalid_phone")
	ErrInvalidBusiness  = errors.New("invalid_business")
)
