// Package lock holds the Redis implementation of the edit lock protocol,
// for deployments that run several engine instances against one database.
package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/nexuscrm/tablekit/internal/config"
	"github.com/nexuscrm/tablekit/internal/domain/models"
	"github.com/nexuscrm/tablekit/internal/domain/ports"
	"github.com/nexuscrm/tablekit/pkg/errors"
)

const keyPrefix = "tablekit:lock:"

// acquireScript sets the lock when it is free or already ours and otherwise
// returns the current holder
var acquireScript = redis.NewScript(`
	local cur = redis.call("get", KEYS[1])
	if (not cur) or cur == ARGV[1] then
		redis.call("set", KEYS[1], ARGV[1], "PX", ARGV[2])
		return ""
	end
	return cur
`)

// renewScript extends the lock if it is ours: 1 renewed, 0 missing, or
// the other holder
var renewScript = redis.NewScript(`
	local cur = redis.call("get", KEYS[1])
	if not cur then
		return 0
	end
	if cur == ARGV[1] then
		redis.call("pexpire", KEYS[1], ARGV[2])
		return 1
	end
	return cur
`)

var releaseScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisLock implements the lock protocol with SET PX and Lua scripts, so
// only the holder can renew or release a lock. Expiry is left to Redis.
type RedisLock struct {
	client *redis.Client
	now    func() time.Time
}

var _ ports.LockProtocol = (*RedisLock)(nil)

// NewRedisClient connects to Redis and verifies the connection
func NewRedisClient(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}

// NewRedisLock creates a RedisLock on client
func NewRedisLock(client *redis.Client) *RedisLock {
	return &RedisLock{client: client, now: time.Now}
}

func key(table, rowID string) string {
	return keyPrefix + table + ":" + rowID
}

func (l *RedisLock) Acquire(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error) {
	expires := l.now().UTC().Add(ttl)
	res, err := acquireScript.Run(ctx, l.client, []string{key(table, rowID)}, holder, ttl.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("acquire lock %s/%s: %w", table, rowID, err)
	}
	if current, _ := res.(string); current != "" {
		return nil, errors.NewConflictError(table, rowID, current)
	}
	return &models.Lock{Table: table, RowID: rowID, Holder: holder, ExpiresAt: expires}, nil
}

func (l *RedisLock) Renew(ctx context.Context, table, rowID, holder string, ttl time.Duration) (*models.Lock, error) {
	expires := l.now().UTC().Add(ttl)
	res, err := renewScript.Run(ctx, l.client, []string{key(table, rowID)}, holder, ttl.Milliseconds()).Result()
	if err != nil {
		return nil, fmt.Errorf("renew lock %s/%s: %w", table, rowID, err)
	}
	switch v := res.(type) {
	case int64:
		if v == 0 {
			return nil, errors.NewNotFoundError("lock", rowID)
		}
		return &models.Lock{Table: table, RowID: rowID, Holder: holder, ExpiresAt: expires}, nil
	case string:
		return nil, errors.NewConflictError(table, rowID, v)
	}
	return nil, fmt.Errorf("renew lock %s/%s: unexpected reply %T", table, rowID, res)
}

func (l *RedisLock) Release(ctx context.Context, table, rowID, holder string) error {
	if err := releaseScript.Run(ctx, l.client, []string{key(table, rowID)}, holder).Err(); err != nil {
		return fmt.Errorf("release lock %s/%s: %w", table, rowID, err)
	}
	return nil
}

func (l *RedisLock) Holder(ctx context.Context, table, rowID string) (string, error) {
	holder, err := l.client.Get(ctx, key(table, rowID)).Result()
	if err == redis.Nil {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read lock %s/%s: %w", table, rowID, err)
	}
	return holder, nil
}

// Close closes the Redis client
func (l *RedisLock) Close() error {
	return l.client.Close()
}
