package notification

import (
	"github.com/linkrent/linkrent/internal/config"
	"github.com/linkrent/linkrent/internal/notification/service"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
)

var Module = fx.Module("notification.service",
	fx.Provide(ProvideRedis),
	fx.Provide(service.NewService),
)

// ProvideRedis returns a redis client when an address is configured, nil
// otherwise. Dedupe falls back to the database without it.
func ProvideRedis(cfg config.Config) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}
