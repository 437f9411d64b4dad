package healthlog

import (
	"fmt"

	"github.com/redis/go-redis/v9"

	"auction-batch/internal/config"
)

// Open returns the health log selected by HEALTH_LOG_BACKEND.
func Open(cfg config.Config) (Log, error) {
	switch cfg.HealthLogBackend {
	case "", "file":
		return NewFileLog(cfg.HealthLogDir), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLog(client, cfg.HealthLogRetention), nil
	default:
		return nil, fmt.Errorf("unknown health log backend %q", cfg.HealthLogBackend)
	}
}
