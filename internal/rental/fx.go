package rental

import (
	"github.com/linkrent/linkrent/internal/rental/service"
	"go.uber.org/fx"
)

var Module = fx.Module("rental.service",
	fx.Provide(service.NewService),
)
