// Package seed bootstraps the records a fresh install needs to take bookings.
package seed

import (
	"context"
	"errors"
	"strings"

	"github.com/gosimple/slug"
	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/config"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	defaultBusinessName = "Main Studio"
	defaultTimezone     = "UTC"
)

// EnsureDefaultBusiness creates the bootstrap business when no business owns
// its slug yet, and grants the configured owner the owner role. It is safe to
// run on every start.
func EnsureDefaultBusiness(
	ctx context.Context,
	db *gorm.DB,
	repo businessdomain.Repository,
	svc businessdomain.Service,
	cfg config.BootstrapConfig,
	log *zap.Logger,
) (businessdomain.Business, bool, error) {
	if db == nil {
		return businessdomain.Business{}, false, errors.New("seed database handle is required")
	}

	name := strings.TrimSpace(cfg.BusinessName)
	if name == "" {
		name = defaultBusinessName
	}
	timezone := strings.TrimSpace(cfg.BusinessTimezone)
	if timezone == "" {
		timezone = defaultTimezone
	}
	owner := strings.TrimSpace(cfg.OwnerUserID)

	existing, err := repo.FindBusinessBySlug(ctx, db, slug.Make(name))
	if err != nil {
		return businessdomain.Business{}, false, err
	}
	if existing != nil {
		if owner != "" {
			if _, err := svc.AddMember(ctx, existing.ID, owner, businessdomain.RoleOwner); err != nil {
				return businessdomain.Business{}, false, err
			}
		}
		return *existing, false, nil
	}

	business, err := svc.Create(ctx, businessdomain.CreateBusinessRequest{
		Name:        name,
		Timezone:    timezone,
		OwnerUserID: owner,
	})
	if err != nil {
		return businessdomain.Business{}, false, err
	}
	if log != nil {
		log.Info("default business created",
			zap.String("business_id", business.ID),
			zap.String("slug", business.Slug),
			zap.Bool("owner_assigned", owner != ""),
		)
	}
	return business, true, nil
}
