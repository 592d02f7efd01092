package domain

import (
	"context"
	"time"

	"gorm.io/gorm"
)

type Repository interface {
	InsertBusiness(ctx context.Context, db *gorm.DB, business *Business) error
	FindBusinessByID(ctx context.Context, db *gorm.DB, id string) (*Business, error)
	FindBusinessBySlug(ctx context.Context, db *gorm.DB, slug string) (*Business, error)

	UpsertMember(ctx context.Context, db *gorm.DB, member *Member) error
	FindMember(ctx context.Context, db *gorm.DB, businessID, userID string) (*Member, error)

	UpsertProcessorConfig(ctx context.Context, db *gorm.DB, cfg *ProcessorConfig) error
	FindProcessorConfig(ctx context.Context, db *gorm.DB, businessID, processor string) (*ProcessorConfig, error)
	ListActiveProcessorConfigs(ctx context.Context, db *gorm.DB, processor string) ([]ProcessorConfig, error)
	SetProcessorConfigActive(ctx context.Context, db *gorm.DB, businessID, processor string, active bool, now time.Time) (bool, error)
}
