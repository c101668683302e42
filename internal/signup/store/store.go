// Package store holds wizard sessions between requests.
package store

import (
	redis "github.com/redis/go-redis/v9"

	"github.com/smallbiznis/tumblebus/internal/clock"
	"github.com/smallbiznis/tumblebus/internal/signup/domain"
)

// New picks Redis when a client is configured.
func New(client *redis.Client, clk clock.Clock) domain.Store {
	if client == nil {
		return NewMemory(clk)
	}
	return NewRedis(client)
}
