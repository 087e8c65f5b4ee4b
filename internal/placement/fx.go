package placement

import (
	"github.com/linkrent/linkrent/internal/placement/service"
	"go.uber.org/fx"
)

var Module = fx.Module("placement.service",
	fx.Provide(service.NewService),
)
