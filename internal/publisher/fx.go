package publisher

import (
	"github.com/linkrent/linkrent/internal/publisher/service"
	"go.uber.org/fx"
)

var Module = fx.Module("publisher",
	fx.Provide(service.NewWordPressGateway),
	fx.Provide(service.NewWebhookDispatcher),
)
