package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog"

	"paywall-access/internal/domain/model"
	"paywall-access/internal/domain/ports/repository"
	"paywall-access/internal/infra/metrics"
	red "paywall-access/internal/infra/redis"
)

var _ repository.ResourceRepository = (*resourceRepoCacheDecorator)(nil)

type resourceRepoCacheDecorator struct {
	inner repository.ResourceRepository
	cache red.RedisClient
	ttl   time.Duration
	log   *zerolog.Logger
}

// NewResourceRepoCacheDecorator caches catalog lookups in Redis. Cache failures fall
// through to inner.
func NewResourceRepoCacheDecorator(inner repository.ResourceRepository, cache red.RedisClient, ttl time.Duration, logger *zerolog.Logger) repository.ResourceRepository {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	l := logger.With().Str("component", "ResourceCache").Logger()
	return &resourceRepoCacheDecorator{inner: inner, cache: cache, ttl: ttl, log: &l}
}

func resourceKey(id string) string { return fmt.Sprintf("resource:%s", id) }

func (d *resourceRepoCacheDecorator) FindByID(ctx context.Context, tx repository.Tx, id string) (*model.Resource, error) {
	key := resourceKey(id)
	val, err := d.cache.Get(ctx, key)
	if err == nil {
		var res model.Resource
		if json.Unmarshal([]byte(val), &res) == nil {
			metrics.IncCacheRequest("resource", "hit")
			return &res, nil
		}
	} else if !errors.Is(err, redis.Nil) {
		d.log.Warn().Err(err).Str("key", key).Msg("resource cache read failed")
	}

	metrics.IncCacheRequest("resource", "miss")
	res, err := d.inner.FindByID(ctx, tx, id)
	if err != nil {
		return nil, err
	}
	if b, err := json.Marshal(res); err == nil {
		if err := d.cache.Set(ctx, key, b, d.ttl); err != nil {
			d.log.Warn().Err(err).Str("key", key).Msg("resource cache write failed")
		}
	}
	return res, nil
}
