package app

import (
	"strings"

	"github.com/finovant/paydesk/internal/cache"
)

// RedisClientConfig maps the cache section of the configuration onto the
// client's own config type, trimming operator-supplied whitespace.
func (c CacheConfig) RedisClientConfig() cache.RedisConfig {
	return cache.RedisConfig{
		Address:  strings.TrimSpace(c.Redis.Address),
		Username: strings.TrimSpace(c.Redis.Username),
		Password: c.Redis.Password,
		DB:       c.Redis.DB,
		TLS:      c.Redis.TLS,
		Timeout:  c.Redis.Timeout,
	}
}
