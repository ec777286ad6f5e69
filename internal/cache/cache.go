/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
)

// ErrCacheMiss is returned by Get when the key is absent or expired.
var ErrCacheMiss = errors.New("cache: key is missing")

// Cache is the short-lived store used for provider access tokens.
type Cache interface {
	// Set stores value under key for ttl. A non-positive ttl is rejected.
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error

	// Get decodes the value stored under key into data, or returns ErrCacheMiss.
	Get(ctx context.Context, key string, data interface{}) error

	Delete(ctx context.Context, key string) error
}

// cacheSize defines the size of the local cache (in number of entries).
const cacheSize = 10000

// TieredCache keeps a TinyLFU in-process layer in front of an optional redis layer.
type TieredCache struct {
	cache *cache.Cache
}

// NewCache builds a cache backed by redis when client is non-nil and purely in-process otherwise.
// localTTL bounds how long an entry may live in the in-process layer.
func NewCache(client redis.UniversalClient, localTTL time.Duration) *TieredCache {
	opts := &cache.Options{
		LocalCache: cache.NewTinyLFU(cacheSize, localTTL),
	}
	if client != nil {
		opts.Redis = client
	}
	return &TieredCache{cache: cache.New(opts)}
}

func (c *TieredCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		return errors.New("cache: ttl must be positive")
	}
	return c.cache.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (c *TieredCache) Get(ctx context.Context, key string, data interface{}) error {
	err := c.cache.Get(ctx, key, data)
	if errors.Is(err, cache.ErrCacheMiss) {
		return ErrCacheMiss
	}
	return err
}

func (c *TieredCache) Delete(ctx context.Context, key string) error {
	err := c.cache.Delete(ctx, key)
	if errors.Is(err, cache.ErrCacheMiss) {
		return nil
	}
	return err
}
