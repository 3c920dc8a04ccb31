package cache

import (
	redis "github.com/redis/go-redis/v9"
	"github.com/tiemposla/bancaledger/internal/config"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Module provides the closing-balance cache and the optional redis locker.
// Without REDIS_ADDR the in-process cache is used.
var Module = fx.Module("cache",
	fx.Provide(NewRedisClient),
	fx.Provide(NewClosingBalanceCache),
	fx.Provide(NewLocker),
)

// NewRedisClient returns nil when redis is not configured.
func NewRedisClient(cfg config.Config, log *zap.Logger) *redis.Client {
	if cfg.RedisAddr == "" {
		return nil
	}
	log.Info("redis cache enabled", zap.String("addr", cfg.RedisAddr))
	return redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
}

// NewClosingBalanceCache picks the redis implementation when available.
func NewClosingBalanceCache(client *redis.Client) ClosingBalanceCache {
	if client != nil {
		return NewRedisClosingCache(client)
	}
	return NewMemoryClosingCache()
}
