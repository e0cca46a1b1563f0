package cache

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
	"golang.org/x/crypto/blake2b"

	"github.com/fluxbase-eu/bundlecheck/cli/bundler"
)

const defaultRedisPrefix = "bundlecheck:cache:"

// RedisStore implements Store on Redis (or a compatible server such as
// Dragonfly or Valkey) so CI runners can share results.
//
// Each entry is a hash; a sorted set scored by insertion time drives
// eviction and listing.
type RedisStore struct {
	client     *redis.Client
	prefix     string
	maxEntries int
}

// NewRedisStore connects to url, e.g. redis://:password@localhost:6379/1
func NewRedisStore(url string, maxEntries int) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	log.Debug().Str("addr", opts.Addr).Msg("Connected to Redis result cache")

	return newRedisStore(client, defaultRedisPrefix, maxEntries), nil
}

func newRedisStore(client *redis.Client, prefix string, maxEntries int) *RedisStore {
	if maxEntries <= 0 {
		maxEntries = DefaultMaxEntries
	}
	return &RedisStore{client: client, prefix: prefix, maxEntries: maxEntries}
}

func (s *RedisStore) indexKey() string {
	return s.prefix + "index"
}

func (s *RedisStore) entryKey(id string) string {
	return s.prefix + "entry:" + id
}

func entryID(key NormalizedKey) string {
	sum := blake2b.Sum256([]byte(key.String()))
	return hex.EncodeToString(sum[:])
}

// Get retrieves a result by key
func (s *RedisStore) Get(ctx context.Context, key NormalizedKey) (*bundler.Result, error) {
	payload, err := s.client.HGet(ctx, s.entryKey(entryID(key)), "result").Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeResult(payload)
}

// Set upserts a result and evicts the oldest entries beyond the cap
func (s *RedisStore) Set(ctx context.Context, key NormalizedKey, result *bundler.Result, at time.Time) (int64, error) {
	payload, err := json.Marshal(result)
	if err != nil {
		return 0, fmt.Errorf("failed to encode result: %w", err)
	}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return 0, fmt.Errorf("failed to encode key: %w", err)
	}

	id := entryID(key)
	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.entryKey(id), "key", keyJSON, "result", payload, "created_at", at.UnixNano())
	pipe.ZAdd(ctx, s.indexKey(), redis.Z{Score: float64(at.UnixMicro()), Member: id})
	card := pipe.ZCard(ctx, s.indexKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("failed to store result: %w", err)
	}

	excess := card.Val() - int64(s.maxEntries)
	if excess <= 0 {
		return 0, nil
	}

	oldest, err := s.client.ZRange(ctx, s.indexKey(), 0, excess-1).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read eviction candidates: %w", err)
	}
	if err := s.remove(ctx, oldest); err != nil {
		return 0, fmt.Errorf("failed to evict entries: %w", err)
	}
	return int64(len(oldest)), nil
}

func (s *RedisStore) remove(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	keys := make([]string, len(ids))
	members := make([]any, len(ids))
	for i, id := range ids {
		keys[i] = s.entryKey(id)
		members[i] = id
	}
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, keys...)
	pipe.ZRem(ctx, s.indexKey(), members...)
	_, err := pipe.Exec(ctx)
	return err
}

// Clear removes all entries
func (s *RedisStore) Clear(ctx context.Context) error {
	ids, err := s.client.ZRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list entries: %w", err)
	}
	if err := s.remove(ctx, ids); err != nil {
		return fmt.Errorf("failed to clear cache: %w", err)
	}
	return nil
}

// Count returns the number of entries
func (s *RedisStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, s.indexKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to count entries: %w", err)
	}
	return int(n), nil
}

// Entries lists entries newest first
func (s *RedisStore) Entries(ctx context.Context) ([]Entry, error) {
	ids, err := s.client.ZRevRange(ctx, s.indexKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list entries: %w", err)
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(ids))
	for i, id := range ids {
		cmds[i] = pipe.HMGet(ctx, s.entryKey(id), "key", "result", "created_at")
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read entries: %w", err)
	}

	entries := make([]Entry, 0, len(ids))
	for _, cmd := range cmds {
		vals := cmd.Val()
		if len(vals) != 3 || vals[0] == nil || vals[1] == nil {
			continue
		}
		keyStr, _ := vals[0].(string)
		resultStr, _ := vals[1].(string)
		createdStr, _ := vals[2].(string)

		var key NormalizedKey
		if err := json.Unmarshal([]byte(keyStr), &key); err != nil {
			return nil, fmt.Errorf("failed to decode key: %w", err)
		}
		result, err := decodeResult([]byte(resultStr))
		if err != nil {
			return nil, err
		}
		nanos, _ := strconv.ParseInt(createdStr, 10, 64)
		entries = append(entries, Entry{Key: key, Result: result, CreatedAt: time.Unix(0, nanos)})
	}
	return entries, nil
}

// Close closes the Redis client
func (s *RedisStore) Close() error {
	return s.client.Close()
}
