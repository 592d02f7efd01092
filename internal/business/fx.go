package business

import (
	"github.com/smallbiznis/appointly/internal/business/repository"
	"github.com/smallbiznis/appointly/internal/business/service"
	"go.uber.org/fx"
)

var Module = fx.Module("business.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
