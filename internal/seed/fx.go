package seed

import (
	"context"

	businessdomain "github.com/smallbiznis/appointly/internal/business/domain"
	"github.com/smallbiznis/appointly/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Module seeds the default business when BOOTSTRAP_DEFAULT_BUSINESS is set.
// Register it after the migrations module.
var Module = fx.Module("seed",
	fx.Invoke(func(conn *gorm.DB, cfg config.Config, repo businessdomain.Repository, svc businessdomain.Service, log *zap.Logger) error {
		if !cfg.Bootstrap.EnsureDefaultBusiness {
			return nil
		}
		_, _, err := EnsureDefaultBusiness(context.Background(), conn, repo, svc, cfg.Bootstrap, log.Named("seed"))
		return err
	}),
)
