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

package redis_db

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
)

// Redis wraps the client shared by the in-flight lock, the token cache and the task queue.
type Redis struct {
	addresses []string
	client    redis.UniversalClient
}

// ParseRedisURL accepts bare host:port pairs as well as redis:// and rediss:// URLs.
// A URL carrying only a password before '@' is normalized to the ":password@" form.
func ParseRedisURL(rawURL string, skipTLSVerify bool) (*redis.Options, error) {
	rawURL = strings.TrimSpace(rawURL)
	if rawURL == "" {
		return nil, errors.New("redis address cannot be empty")
	}

	if !strings.Contains(rawURL, "//") && !strings.Contains(rawURL, "@") {
		return &redis.Options{Addr: rawURL}, nil
	}

	if !strings.Contains(rawURL, "//") {
		rawURL = "redis://" + rawURL
	}

	scheme, rest, _ := strings.Cut(rawURL, "//")
	if userinfo, host, found := strings.Cut(rest, "@"); found && !strings.Contains(userinfo, ":") {
		rawURL = fmt.Sprintf("%s//:%s@%s", scheme, userinfo, host)
	}

	opts, err := redis.ParseURL(rawURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis url: %w", err)
	}

	if opts.TLSConfig != nil && skipTLSVerify {
		opts.TLSConfig = &tls.Config{InsecureSkipVerify: true} // #nosec G402
	}
	return opts, nil
}

// NewRedisClient connects to a standalone instance when one address is given and to a cluster otherwise.
func NewRedisClient(addresses []string, skipTLSVerify bool) (*Redis, error) {
	if len(addresses) == 0 {
		return nil, errors.New("redis addresses list cannot be empty")
	}

	var client redis.UniversalClient
	if len(addresses) == 1 {
		opts, err := ParseRedisURL(addresses[0], skipTLSVerify)
		if err != nil {
			return nil, err
		}
		client = redis.NewClient(opts)
	} else {
		var clusterAddrs []string
		var password string
		var tlsConfig *tls.Config
		for _, addr := range addresses {
			opts, err := ParseRedisURL(addr, skipTLSVerify)
			if err != nil {
				return nil, err
			}
			clusterAddrs = append(clusterAddrs, opts.Addr)
			if password == "" {
				password = opts.Password
			}
			if opts.TLSConfig != nil && tlsConfig == nil {
				tlsConfig = &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: skipTLSVerify} // #nosec G402
			}
		}
		client = redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:     clusterAddrs,
			Password:  password,
			TLSConfig: tlsConfig,
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &Redis{addresses: addresses, client: client}, nil
}

// Client returns the underlying universal client.
func (r *Redis) Client() redis.UniversalClient {
	return r.client
}

// AsynqConnOpt builds the asynq connection options for the same redis deployment.
func AsynqConnOpt(dns string, skipTLSVerify bool) (asynq.RedisConnOpt, error) {
	opts, err := ParseRedisURL(dns, skipTLSVerify)
	if err != nil {
		return nil, err
	}
	return asynq.RedisClientOpt{
		Addr:      opts.Addr,
		Username:  opts.Username,
		Password:  opts.Password,
		DB:        opts.DB,
		TLSConfig: opts.TLSConfig,
	}, nil
}
