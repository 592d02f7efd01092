package repository

import (
	"context"
	"time"

	"github.com/smallbiznis/appointly/internal/business/domain"
	"gorm.io/gorm"
)

type repo struct{}

func Provide() domain.Repository {
	return &repo{}
}

func (r *repo) InsertBusiness(ctx context.Context, db *gorm.DB, business *domain.Business) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO businesses (id, name, slug, timezone, currency, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		business.ID,
		business.Name,
		business.Slug,
		business.Timezone,
		business.Currency,
		business.CreatedAt,
		business.UpdatedAt,
	).Error
}

func (r *repo) FindBusinessByID(ctx context.Context, db *gorm.DB, id string) (*domain.Business, error) {
	var business domain.Business
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, timezone, currency, created_at, updated_at
		 FROM businesses WHERE id = ?`,
		id,
	).Scan(&business).Error
	if err != nil {
		return nil, err
	}
	if business.ID == "" {
		return nil, nil
	}
	return &business, nil
}

func (r *repo) FindBusinessBySlug(ctx context.Context, db *gorm.DB, slug string) (*domain.Business, error) {
	var business domain.Business
	err := db.WithContext(ctx).Raw(
		`SELECT id, name, slug, timezone, currency, created_at, updated_at
		 FROM businesses WHERE slug = ?`,
		slug,
	).Scan(&business).Error
	if err != nil {
		return nil, err
	}
	if business.ID == "" {
		return nil, nil
	}
	return &business, nil
}

func (r *repo) UpsertMember(ctx context.Context, db *gorm.DB, member *domain.Member) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO business_members (id, business_id, user_id, role, created_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, user_id) DO UPDATE SET role = excluded.role`,
		member.ID,
		member.BusinessID,
		member.UserID,
		member.Role,
		member.CreatedAt,
	).Error
}

func (r *repo) FindMember(ctx context.Context, db *gorm.DB, businessID, userID string) (*domain.Member, error) {
	var member domain.Member
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, user_id, role, created_at
		 FROM business_members
		 WHERE business_id = ? AND user_id = ?`,
		businessID,
		userID,
	).Scan(&member).Error
	if err != nil {
		return nil, err
	}
	if member.ID == "" {
		return nil, nil
	}
	return &member, nil
}

func (r *repo) UpsertProcessorConfig(ctx context.Context, db *gorm.DB, cfg *domain.ProcessorConfig) error {
	return db.WithContext(ctx).Exec(
		`INSERT INTO processor_configs (id, business_id, processor, config, is_active, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (business_id, processor) DO UPDATE SET
			config = excluded.config,
			updated_at = excluded.updated_at`,
		cfg.ID,
		cfg.BusinessID,
		cfg.Processor,
		cfg.Config,
		cfg.IsActive,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	).Error
}

func (r *repo) FindProcessorConfig(ctx context.Context, db *gorm.DB, businessID, processor string) (*domain.ProcessorConfig, error) {
	var cfg domain.ProcessorConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, processor, config, is_active, created_at, updated_at
		 FROM processor_configs
		 WHERE business_id = ? AND processor = ?`,
		businessID,
		processor,
	).Scan(&cfg).Error
	if err != nil {
		return nil, err
	}
	if cfg.ID == "" {
		return nil, nil
	}
	return &cfg, nil
}

func (r *repo) ListActiveProcessorConfigs(ctx context.Context, db *gorm.DB, processor string) ([]domain.ProcessorConfig, error) {
	var rows []domain.ProcessorConfig
	err := db.WithContext(ctx).Raw(
		`SELECT id, business_id, processor, config, is_active, created_at, updated_at
		 FROM processor_configs
		 WHERE processor = ? AND is_active = TRUE
		 ORDER BY created_at ASC`,
		processor,
	).Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func (r *repo) SetProcessorConfigActive(ctx context.Context, db *gorm.DB, businessID, processor string, active bool, now time.Time) (bool, error) {
	res := db.WithContext(ctx).Exec(
		`UPDATE processor_configs
		 SET is_active = ?, updated_at = ?
		 WHERE business_id = ? AND processor = ?`,
		active,
		now,
		businessID,
		processor,
	)
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}
