package ratelimit

import (
	"time"

	"github.com/Carrie-PLH/plus/internal/storage"
)

// NewStore picks the counter backend. Redis is used whenever a client is
// available; otherwise windows live in process memory.
func NewStore(redis *storage.RedisClient, size int, ttl time.Duration) Store {
	if redis != nil {
		return NewRedisStore(redis)
	}
	return NewMemoryStore(size, ttl)
}
