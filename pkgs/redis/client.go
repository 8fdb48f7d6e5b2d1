package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	log "github.com/sirupsen/logrus"
)

// ClientConfig carries the Redis connection parameters.
type ClientConfig struct {
	Host     string
	Port     string
	Password string
	DB       int
	PoolSize int
}

// NewClient connects to Redis and verifies the connection.
func NewClient(cfg ClientConfig) (*redis.Client, error) {
	if cfg.PoolSize <= 0 {
		cfg.PoolSize = 10
	}

	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%s", cfg.Host, cfg.Port),
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s:%s: %w", cfg.Host, cfg.Port, err)
	}

	log.Infof("Connected to Redis at %s:%s (db %d)", cfg.Host, cfg.Port, cfg.DB)
	return client, nil
}
