package redis

import (
	"errors"

	redis "github.com/redis/go-redis/v9"
)

// IsNil reports whether err is a cache miss.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
