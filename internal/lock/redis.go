package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

const keyPrefix = "sessiongen:artifact:"

var luaUnlock = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

// Redis shares claims between replicas that write to one session volume.
type Redis struct {
	cli *redis.Client
	ttl time.Duration
}

// NewRedis parses url (redis://...) and pings the server.
func NewRedis(ctx context.Context, url, password string, db int, ttl time.Duration) (*Redis, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		// plain host:port
		opts = &redis.Options{Addr: url}
	}
	if password != "" {
		opts.Password = password
	}
	if db != 0 {
		opts.DB = db
	}
	cli := redis.NewClient(opts)
	if err := cli.Ping(ctx).Err(); err != nil {
		_ = cli.Close()
		return nil, fmt.Errorf("lock: redis ping: %w", err)
	}
	return NewRedisWithClient(cli, ttl), nil
}

// NewRedisWithClient wraps an existing client.
func NewRedisWithClient(cli *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &Redis{cli: cli, ttl: ttl}
}

// TryLock implements Locker with SET NX and a random token.
func (r *Redis) TryLock(ctx context.Context, key string) (Release, error) {
	token := uuid.NewString()
	rkey := keyPrefix + key
	ok, err := r.cli.SetNX(ctx, rkey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("lock: redis setnx: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}
	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = luaUnlock.Run(ctx, r.cli, []string{rkey}, token).Err()
		})
		return err
	}, nil
}

// Ping reports redis availability.
func (r *Redis) Ping(ctx context.Context) error {
	return r.cli.Ping(ctx).Err()
}

func (r *Redis) Close() error { return r.cli.Close() }
