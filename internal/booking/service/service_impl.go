package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/smallbiznis/appointly/internal/booking/domain"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/smallbiznis/appointly/pkg/phone"
	"github.com/smallbiznis/appointly/pkg/validation"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DefaultPhoneRegion is used to parse customer phone numbers written without
// an international prefix.
const DefaultPhoneRegion = "US"

type Params struct {
	fx.In

	DB          *gorm.DB
	Log         *zap.Logger
	Clock       clock.Clock
	Repo        domain.Repository
	BusinessSvc businessdomain.Service
}

type Service struct {
	db          *gorm.DB
	log         *zap.Logger
	clock       clock.Clock
	repo        domain.Repository
	businessSvc businessdomain.Service
	validate    *validation.Validator
}

func New(p Params) domain.Service {
	return &Service{
		db:          p.DB,
		log:         p.Log.Named("booking.service"),
		clock:       p.Clock,
		repo:        p.Repo,
		businessSvc: p.BusinessSvc,
		validate:    validation.New(),
	}
}

func (s *Service) CreateOffering(ctx context.Context, req domain.CreateOfferingRequest) (domain.ServiceOffering, error) {
	req.Name = strings.TrimSpace(req.Name)
	if err := s.validate.Struct(req); err != nil {
		return domain.ServiceOffering{}, err
	}
	if err := s.ensureBusiness(ctx, req.BusinessID); err != nil {
		return domain.ServiceOffering{}, err
	}

	duration := req.DurationMinutes
	if duration == 0 {
		duration = 60
	}
	offering := domain.ServiceOffering{
		ID:              idgen.New(idgen.PrefixServiceOffering),
		BusinessID:      req.BusinessID,
		Name:            req.Name,
		Price:           req.Price.Round(2),
		DurationMinutes: duration,
		CreatedAt:       s.clock.Now(),
	}
	if err := s.repo.InsertOffering(ctx, s.db, &offering); err != nil {
		return domain.ServiceOffering{}, err
	}
	return offering, nil
}

func (s *Service) Create(ctx context.Context, req domain.CreateBookingRequest) (domain.Booking, error) {
	req.CustomerName = strings.TrimSpace(req.CustomerName)
	req.CustomerEmail = strings.ToLower(strings.TrimSpace(req.CustomerEmail))
	req.StartTime = strings.TrimSpace(req.StartTime)
	for i := range req.Items {
		if req.Items[i].Quantity == 0 {
			req.Items[i].Quantity = 1
		}
	}
	if err := s.validate.Struct(req); err != nil {
		return domain.Booking{}, err
	}
	if err := s.ensureBusiness(ctx, req.BusinessID); err != nil {
		return domain.Booking{}, err
	}

	scheduled, err := time.Parse(domain.DateLayout, req.ScheduledDate)
	if err != nil {
		return domain.Booking{}, domain.ErrInvalidRequest
	}

	phoneNumber, err := phone.Normalize(req.CustomerPhone, DefaultPhoneRegion)
	if err != nil {
		return domain.Booking{}, domain.ErrInvalidPhone
	}

	var offeringID *string
	if id := strings.TrimSpace(req.ServiceOfferingID); id != "" {
		offering, err := s.repo.FindOffering(ctx, s.db, req.BusinessID, id)
		if err != nil {
			return domain.Booking{}, err
		}
		if offering == nil {
			return domain.Booking{}, domain.ErrOfferingNotFound
		}
		offeringID = &offering.ID
	}

	now := s.clock.Now()
	booking := domain.Booking{
		ID:                idgen.New(idgen.PrefixBooking),
		BusinessID:        req.BusinessID,
		ServiceOfferingID: offeringID,
		CustomerName:      req.CustomerName,
		CustomerEmail:     req.CustomerEmail,
		CustomerPhone:     phoneNumber,
		ScheduledDate:     scheduled,
		StartTime:         req.StartTime,
		Status:            domain.StatusPending,
		Notes:             strings.TrimSpace(req.Notes),
		CreatedAt:         now,
		UpdatedAt:         now,
	}

	items, err := s.buildItems(ctx, booking, req.Items, now)
	if err != nil {
		return domain.Booking{}, err
	}

	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertBooking(ctx, tx, &booking); err != nil {
			return err
		}
		return s.repo.InsertItems(ctx, tx, items)
	})
	if err != nil {
		return domain.Booking{}, err
	}

	s.log.Info("booking created",
		zap.String("booking_id", booking.ID),
		zap.String("business_id", booking.BusinessID),
		zap.Int("items", len(items)),
	)
	return booking, nil
}

// buildItems freezes each item's price: items referencing an offering copy
// its current price, ad-hoc items carry their own.
func (s *Service) buildItems(ctx context.Context, booking domain.Booking, reqs []domain.CreateItemRequest, now time.Time) ([]domain.ServiceItem, error) {
	items := make([]domain.ServiceItem, 0, len(reqs))
	for i, req := range reqs {
		item := domain.ServiceItem{
			ID:        idgen.New(idgen.PrefixServiceItem),
			BookingID: booking.ID,
			Name:      strings.TrimSpace(req.Name),
			Quantity:  req.Quantity,
			Position:  i,
			CreatedAt: now,
		}

		if id := strings.TrimSpace(req.ServiceOfferingID); id != "" {
			offering, err := s.repo.FindOffering(ctx, s.db, booking.BusinessID, id)
			if err != nil {
				return nil, err
			}
			if offering == nil {
				return nil, domain.ErrOfferingNotFound
			}
			item.ServiceOfferingID = &offering.ID
			item.PriceAtBooking = offering.Price
			if item.Name == "" {
				item.Name = offering.Name
			}
		} else {
			if req.Price == nil || req.Price.IsNegative() || item.Name == "" {
				return nil, domain.ErrInvalidRequest
			}
			item.PriceAtBooking = req.Price.Round(2)
		}

		items = append(items, item)
	}
	return items, nil
}

func (s *Service) Get(ctx context.Context, id string) (domain.Detail, error) {
	booking, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(id))
	if err != nil {
		return domain.Detail{}, err
	}
	if booking == nil {
		return domain.Detail{}, domain.ErrNotFound
	}

	items, offering, err := s.pricing(ctx, *booking)
	if err != nil {
		return domain.Detail{}, err
	}
	events, err := s.repo.ListEvents(ctx, s.db, booking.ID)
	if err != nil {
		return domain.Detail{}, err
	}
	if events == nil {
		events = []domain.Event{}
	}

	return domain.Detail{
		Booking:  *booking,
		Date:     booking.ScheduledDate.Format(domain.DateLayout),
		Items:    items,
		Offering: offering,
		Total:    domain.Total(items, offering),
		Events:   events,
	}, nil
}

func (s *Service) Pricing(ctx context.Context, bookingID string) ([]domain.ServiceItem, *domain.ServiceOffering, error) {
	booking, err := s.repo.FindByID(ctx, s.db, strings.TrimSpace(bookingID))
	if err != nil {
		return nil, nil, err
	}
	if booking == nil {
		return nil, nil, domain.ErrNotFound
	}
	return s.pricing(ctx, *booking)
}

func (s *Service) pricing(ctx context.Context, booking domain.Booking) ([]domain.ServiceItem, *domain.ServiceOffering, error) {
	items, err := s.repo.ListItems(ctx, s.db, booking.ID)
	if err != nil {
		return nil, nil, err
	}
	if items == nil {
		items = []domain.ServiceItem{}
	}

	var offering *domain.ServiceOffering
	if booking.ServiceOfferingID != nil {
		offering, err = s.repo.FindOffering(ctx, s.db, booking.BusinessID, *booking.ServiceOfferingID)
		if err != nil {
			return nil, nil, err
		}
	}
	return items, offering, nil
}

func (s *Service) ensureBusiness(ctx context.Context, businessID string) error {
	if _, err := s.businessSvc.GetByID(ctx, businessID); err != nil {
		if errors.Is(err, businessdomain.ErrNotFound) {
			return domain.ErrInvalidBusiness
		}
		return err
	}
	return nil
}

