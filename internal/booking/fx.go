package booking

import (
	"github.com/smallbiznis/appointly/internal/booking/lifecycle"
	"github.com/smallbiznis/appointly/internal/booking/repository"
	"github.com/smallbiznis/appointly/internal/booking/service"
	"go.uber.org/fx"
)

var Module = fx.Module("booking.service",
	fx.Provide(repository.Provide),
	fx.Provide(service.New),
	fx.Provide(lifecycle.NewDispatcher),
)
