package redlock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// ErrLockHeld is returned when another holder owns the key.
var ErrLockHeld = errors.New("lock is already held")

const releaseScript = "if redis.call('get', KEYS[1]) == ARGV[1] then return redis.call('del', KEYS[1]) else return 0 end"

// Locker is a single-key SETNX lock. Only the holder of value may release it.
type Locker struct {
	client redis.UniversalClient
	key    string
	value  string
}

func NewLocker(client redis.UniversalClient, key, value string) *Locker {
	return &Locker{
		client: client,
		key:    key,
		value:  value,
	}
}

func (l *Locker) Lock(ctx context.Context, ttl time.Duration) error {
	acquired, err := l.client.SetNX(ctx, l.key, l.value, ttl).Result()
	if err != nil {
		return err
	}
	if !acquired {
		return fmt.Errorf("%w: %s", ErrLockHeld, l.key)
	}
	return nil
}

func (l *Locker) Unlock(ctx context.Context) error {
	result, err := l.client.Eval(ctx, releaseScript, []string{l.key}, l.value).Result()
	if err != nil {
		return err
	}
	if result == int64(0) {
		return fmt.Errorf("unlock failed, either lock expired or you're not the lock holder for key %s", l.key)
	}
	return nil
}

// InflightLocks hands out short-lived locks keyed by partner and client request id.
// They only narrow the race window before the provider call; the storage unique constraint stays authoritative.
type InflightLocks struct {
	client   redis.UniversalClient
	prefix   string
	newToken func() string
}

func NewInflightLocks(client redis.UniversalClient) *InflightLocks {
	return &InflightLocks{
		client:   client,
		prefix:   "disburse:inflight",
		newToken: uuid.NewString,
	}
}

// Key returns the redis key guarding one idempotency key.
func (i *InflightLocks) Key(partnerID, clientRequestID string) string {
	return fmt.Sprintf("%s:%s:%s", i.prefix, partnerID, clientRequestID)
}

// Acquire takes the lock for ttl and returns a release func. ErrLockHeld means a concurrent request owns it.
func (i *InflightLocks) Acquire(ctx context.Context, partnerID, clientRequestID string, ttl time.Duration) (func(context.Context) error, error) {
	locker := NewLocker(i.client, i.Key(partnerID, clientRequestID), i.newToken())
	if err := locker.Lock(ctx, ttl); err != nil {
		return nil, err
	}
	return locker.Unlock, nil
}
