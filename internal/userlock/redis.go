package userlock

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	defaultKeyPrefix  = "chatlock:"
	defaultRetryDelay = 50 * time.Millisecond
	releaseTimeout    = 3 * time.Second
)

// releaseScript deletes the lock only while it is still owned by the caller.
const releaseScript = `if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
end
return 0`

// redisAPI is the subset of *redis.Client used by Redis.
type redisAPI interface {
	SetNX(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.BoolCmd
	Eval(ctx context.Context, script string, keys []string, args ...interface{}) *redis.Cmd
}

// Redis is a lock shared by every replica pointed at the same Redis. Locks
// expire after ttl so a crashed holder cannot wedge a user.
type Redis struct {
	client     redisAPI
	ttl        time.Duration
	retryDelay time.Duration
	prefix     string
	newToken   func() string
	logger     *slog.Logger
}

func NewRedis(client redisAPI, ttl time.Duration, logger *slog.Logger) (*Redis, error) {
	if client == nil {
		return nil, errors.New("userlock: redis client must not be nil")
	}
	if ttl <= 0 {
		return nil, errors.New("userlock: ttl must be positive")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{
		client:     client,
		ttl:        ttl,
		retryDelay: defaultRetryDelay,
		prefix:     defaultKeyPrefix,
		newToken:   uuid.NewString,
		logger:     logger,
	}, nil
}

// ConnectRedis parses a redis:// URL and verifies the server answers.
func ConnectRedis(ctx context.Context, redisURL string) (*redis.Client, error) {
	if strings.TrimSpace(redisURL) == "" {
		return nil, errors.New("userlock: redis url must not be empty")
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("userlock: parse redis url: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	client := redis.NewClient(opt)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("userlock: ping redis: %w", err)
	}
	return client, nil
}

// Lock polls SET NX until the key is acquired or ctx is done.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	redisKey := r.prefix + key
	token := r.newToken()

	for {
		ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
		if err != nil {
			return nil, fmt.Errorf("userlock: acquire %q: %w", key, err)
		}
		if ok {
			return r.unlocker(redisKey, token), nil
		}

		timer := time.NewTimer(r.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("userlock: acquire %q: %w", key, ctx.Err())
		case <-timer.C:
		}
	}
}

func (r *Redis) unlocker(redisKey, token string) func() {
	released := false
	return func() {
		if released {
			return
		}
		released = true

		ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
		defer cancel()
		if err := r.client.Eval(ctx, releaseScript, []string{redisKey}, token).Err(); err != nil {
			// The key still expires after ttl.
			r.logger.Warn("release user lock failed", "key", redisKey, "err", err)
		}
	}
}
