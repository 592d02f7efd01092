package invoice

import (
	"github.com/smallbiznis/appointly/internal/invoice/repository"
	"github.com/smallbiznis/appointly/internal/invoice/service"
	"go.uber.org/fx"
)

var Module = fx.Module("invoice.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
)
