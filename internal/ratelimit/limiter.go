package ratelimit

import (
	"fmt"
	"strings"

	redis "github.com/redis/go-redis/v9"
	limiter "github.com/ulule/limiter/v3"
	"github.com/ulule/limiter/v3/drivers/store/memory"
	limiterredis "github.com/ulule/limiter/v3/drivers/store/redis"
)

const storePrefix = "invoice:ratelimit"

// New builds a limiter from a formatted rate such as "30-M". A Redis client
// shares counters across replicas; without one an in-process store is used.
func New(rate string, rdb *redis.Client) (*limiter.Limiter, error) {
	parsed, err := limiter.NewRateFromFormatted(strings.TrimSpace(rate))
	if err != nil {
		return nil, fmt.Errorf("parse rate %q: %w", rate, err)
	}
	store, err := newStore(rdb)
	if err != nil {
		return nil, err
	}
	return limiter.New(store, parsed), nil
}

func newStore(rdb *redis.Client) (limiter.Store, error) {
	opts := limiter.StoreOptions{Prefix: storePrefix}
	if rdb == nil {
		return memory.NewStoreWithOptions(opts), nil
	}
	store, err := limiterredis.NewStoreWithOptions(rdb, opts)
	if err != nil {
		return nil, fmt.Errorf("redis limiter store: %w", err)
	}
	return store, nil
}
