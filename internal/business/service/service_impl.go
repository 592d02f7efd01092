package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gosimple/slug"
	"github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/clock"
	"github.com/smallbiznis/appointly/internal/config"
	"github.com/smallbiznis/appointly/internal/idgen"
	"github.com/smallbiznis/appointly/pkg/db"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Params struct {
	fx.In

	DB    *gorm.DB
	Log   *zap.Logger
	Clock clock.Clock
	Repo  domain.Repository
	Cfg   config.Config
}

type Service struct {
	db              *gorm.DB
	log             *zap.Logger
	clock           clock.Clock
	repo            domain.Repository
	sealer          *Sealer
	defaultCurrency string
}

func New(p Params) domain.Service {
	currency := strings.ToLower(strings.TrimSpace(p.Cfg.DefaultCurrency))
	if currency == "" {
		currency = "usd"
	}
	return &Service{
		db:              p.DB,
		log:             p.Log.Named("business.service"),
		clock:           p.Clock,
		repo:            p.Repo,
		sealer:          NewSealer(p.Cfg.PaymentProviderConfigSecret),
		defaultCurrency: currency,
	}
}

func (s *Service) Create(ctx context.Context, req domain.CreateBusinessRequest) (domain.Business, error) {
	name := strings.TrimSpace(req.Name)
	if name == "" {
		return domain.Business{}, domain.ErrInvalidName
	}

	timezone := strings.TrimSpace(req.Timezone)
	if timezone == "" {
		timezone = "UTC"
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return domain.Business{}, domain.ErrInvalidTimezone
	}

	currency := strings.ToLower(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = s.defaultCurrency
	}
	if len(currency) != 3 {
		return domain.Business{}, domain.ErrInvalidCurrency
	}

	businessSlug := slug.Make(strings.TrimSpace(req.Slug))
	if businessSlug == "" {
		businessSlug = slug.Make(name)
	}

	now := s.clock.Now()
	business := domain.Business{
		ID:        idgen.New(idgen.PrefixBusiness),
		Name:      name,
		Slug:      businessSlug,
		Timezone:  timezone,
		Currency:  currency,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ownerID := strings.TrimSpace(req.OwnerUserID)
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.repo.InsertBusiness(ctx, tx, &business); err != nil {
			return err
		}
		if ownerID == "" {
			return nil
		}
		return s.repo.UpsertMember(ctx, tx, &domain.Member{
			ID:         idgen.New(idgen.PrefixMember),
			BusinessID: business.ID,
			UserID:     ownerID,
			Role:       domain.RoleOwner,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return domain.Business{}, err
	}

	s.log.Info("business created", zap.String("business_id", business.ID), zap.String("slug", business.Slug))
	return business, nil
}

func (s *Service) GetByID(ctx context.Context, id string) (domain.Business, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return domain.Business{}, domain.ErrNotFound
	}
	business, err := s.repo.FindBusinessByID(ctx, s.db, id)
	if err != nil {
		return domain.Business{}, err
	}
	if business == nil {
		return domain.Business{}, domain.ErrNotFound
	}
	return *business, nil
}

func (s *Service) AddMember(ctx context.Context, businessID, userID, role string) (domain.Member, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return domain.Member{}, domain.ErrInvalidUser
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if !domain.ValidRole(role) {
		return domain.Member{}, domain.ErrInvalidRole
	}
	if _, err := s.GetByID(ctx, businessID); err != nil {
		return domain.Member{}, err
	}

	member := domain.Member{
		ID:         idgen.New(idgen.PrefixMember),
		BusinessID: businessID,
		UserID:     userID,
		Role:       role,
		CreatedAt:  s.clock.Now(),
	}
	if err := s.repo.UpsertMember(ctx, s.db, &member); err != nil {
		return domain.Member{}, err
	}
	return member, nil
}

func (s *Service) MemberRole(ctx context.Context, businessID, userID string) (string, error) {
	member, err := s.repo.FindMember(ctx, s.db, strings.TrimSpace(businessID), strings.TrimSpace(userID))
	if err != nil {
		return "", err
	}
	if member == nil {
		return "", domain.ErrMemberNotFound
	}
	return member.Role, nil
}

func (s *Service) UpsertProcessorConfig(ctx context.Context, req domain.UpsertProcessorConfigRequest) error {
	processor := strings.ToLower(strings.TrimSpace(req.Processor))
	if processor == "" {
		return domain.ErrInvalidProcessor
	}
	if _, err := s.GetByID(ctx, req.BusinessID); err != nil {
		return err
	}

	cfg := normalizeConfig(req.Config)
	if len(cfg) == 0 {
		return domain.ErrInvalidConfig
	}
	sealed, err := s.sealer.Seal(cfg)
	if err != nil {
		return err
	}

	now := s.clock.Now()
	record := domain.ProcessorConfig{
		ID:         idgen.New(idgen.PrefixProcessorConfig),
		BusinessID: req.BusinessID,
		Processor:  processor,
		Config:     sealed,
		IsActive:   true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := s.repo.UpsertProcessorConfig(ctx, s.db, &record); err != nil {
		if db.IsDuplicateKeyErr(err) {
			return domain.ErrInvalidConfig
		}
		return err
	}

	s.log.Info("processor config stored",
		zap.String("business_id", req.BusinessID),
		zap.String("processor", processor),
	)
	return nil
}

func (s *Service) SetProcessorActive(ctx context.Context, businessID, processor string, active bool) error {
	processor = strings.ToLower(strings.TrimSpace(processor))
	if processor == "" {
		return domain.ErrInvalidProcessor
	}
	updated, err := s.repo.SetProcessorConfigActive(ctx, s.db, businessID, processor, active, s.clock.Now())
	if err != nil {
		return err
	}
	if !updated {
		return domain.ErrProcessorNotConfigured
	}
	return nil
}

// ProcessorCredentials returns the decrypted credentials of one business's
// processor, memoized when ctx carries a credential cache.
func (s *Service) ProcessorCredentials(ctx context.Context, businessID, processor string) (domain.Credentials, error) {
	processor = strings.ToLower(strings.TrimSpace(processor))
	if processor == "" {
		return domain.Credentials{}, domain.ErrInvalidProcessor
	}

	cache := cacheFromContext(ctx)
	if creds, ok := cache.get(businessID, processor); ok {
		return creds, nil
	}

	record, err := s.repo.FindProcessorConfig(ctx, s.db, businessID, processor)
	if err != nil {
		return domain.Credentials{}, err
	}
	if record == nil || !record.IsActive {
		return domain.Credentials{}, domain.ErrProcessorNotConfigured
	}

	cfg, err := s.sealer.Open(record.Config)
	if err != nil {
		return domain.Credentials{}, err
	}
	creds := domain.Credentials{BusinessID: businessID, Processor: processor, Config: cfg}
	cache.put(creds)
	return creds, nil
}

// ActiveProcessorCredentials decrypts every active config of processor. Rows
// that fail to decrypt are skipped unless no key is configured at all.
func (s *Service) ActiveProcessorCredentials(ctx context.Context, processor string) ([]domain.Credentials, error) {
	processor = strings.ToLower(strings.TrimSpace(processor))
	if processor == "" {
		return nil, domain.ErrInvalidProcessor
	}

	records, err := s.repo.ListActiveProcessorConfigs(ctx, s.db, processor)
	if err != nil {
		return nil, err
	}

	out := make([]domain.Credentials, 0, len(records))
	for _, record := range records {
		cfg, err := s.sealer.Open(record.Config)
		if err != nil {
			if errors.Is(err, domain.ErrEncryptionKeyMissing) {
				return nil, err
			}
			s.log.Warn("skipping undecryptable processor config",
				zap.String("business_id", record.BusinessID),
				zap.String("processor", processor),
			)
			continue
		}
		out = append(out, domain.Credentials{BusinessID: record.BusinessID, Processor: processor, Config: cfg})
	}
	return out, nil
}

func normalizeConfig(config map[string]any) map[string]any {
	if len(config) == 0 {
		return nil
	}

	normalized := make(map[string]any, len(config))
	for key, value := range config {
		trimmedKey := strings.TrimSpace(key)
		if trimmedKey == "" || value == nil {
			continue
		}

		switch cast := value.(type) {
		case string:
			trimmedValue := strings.TrimSpace(cast)
			if trimmedValue == "" {
				continue
			}
			normalized[trimmedKey] = trimmedValue
		default:
			normalized[trimmedKey] = cast
		}
	}

	if len(normalized) == 0 {
		return nil
	}
	return normalized
}
