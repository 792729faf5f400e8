package queue

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// ParseRedisURL converts the shared Redis URL into asynq connection options.
// It accepts redis://, rediss:// (TLS) and a bare host:port.
func ParseRedisURL(redisURL string) (asynq.RedisClientOpt, error) {
	if !strings.Contains(redisURL, "://") {
		return asynq.RedisClientOpt{Addr: redisURL}, nil
	}

	u, err := url.Parse(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("invalid redis URL: %w", err)
	}
	if u.Hostname() == "" {
		return asynq.RedisClientOpt{}, fmt.Errorf("redis URL missing host")
	}

	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return asynq.RedisClientOpt{}, fmt.Errorf("invalid redis URL: %w", err)
	}

	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}
