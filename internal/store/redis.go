package store

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/sweeney/fioul-boiler/internal/accum"
)

// DefaultRedisURL is used when the redis backend is selected without a DSN.
const DefaultRedisURL = "redis://localhost:6379/0"

// redisKeyPrefix namespaces the per-bucket hashes.
const redisKeyPrefix = "fioul:accum:"

// RedisStore persists each bucket as a hash with value, key and updated_at fields.
type RedisStore struct {
	client *redis.Client
	logger *slog.Logger
}

var _ accum.Store = (*RedisStore)(nil) // Compile-time check

// NewRedisStore connects to the server at url (redis://[:password@]host:port/db).
func NewRedisStore(ctx context.Context, url string, logger *slog.Logger) (*RedisStore, error) {
	if url == "" {
		url = DefaultRedisURL
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis at %s: %w", opts.Addr, err)
	}

	logger.Info("accumulator store ready", "backend", BackendRedis, "addr", opts.Addr)
	return newRedisStoreFromClient(client, logger), nil
}

func newRedisStoreFromClient(client *redis.Client, logger *slog.Logger) *RedisStore {
	return &RedisStore{client: client, logger: logger}
}

func redisKey(name string) string {
	return redisKeyPrefix + name
}

// Load returns the record for name.
func (r *RedisStore) Load(ctx context.Context, name string) (accum.Record, bool, error) {
	fields, err := r.client.HMGet(ctx, redisKey(name), "value", "key").Result()
	if errors.Is(err, redis.Nil) {
		return accum.Record{}, false, nil
	}
	if err != nil {
		return accum.Record{}, false, fmt.Errorf("load %s: %w", name, err)
	}

	raw, ok := fields[0].(string)
	if !ok {
		// Missing hash or missing value field.
		return accum.Record{}, false, nil
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return accum.Record{}, false, fmt.Errorf("load %s: %w: %q", name, accum.ErrMalformedValue, raw)
	}

	key, _ := fields[1].(string)
	return accum.Record{Value: v, Key: key}, true, nil
}

// Save writes the record for name.
func (r *RedisStore) Save(ctx context.Context, name string, rec accum.Record) error {
	err := r.client.HSet(ctx, redisKey(name),
		"value", strconv.FormatFloat(rec.Value, 'g', -1, 64),
		"key", rec.Key,
		"updated_at", strconv.FormatInt(time.Now().Unix(), 10),
	).Err()
	if err != nil {
		return fmt.Errorf("save %s: %w", name, err)
	}
	return nil
}

// Close closes the client.
func (r *RedisStore) Close() error {
	return r.client.Close()
}
