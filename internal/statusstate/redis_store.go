package statusstate

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisConfig configures Redis access for status persistence.
type RedisConfig struct {
	Addr      string
	Password  string
	DB        int
	KeyPrefix string
	KeyTTL    time.Duration
}

// newerWins stores ARGV[1] observed at ARGV[2] (unix millis) unless the hash
// already holds a non-zero observation at or after it.
var newerWins = redis.NewScript(`
local cur = redis.call('HGET', KEYS[1], 'observed')
if cur and tonumber(cur) ~= 0 and tonumber(ARGV[2]) <= tonumber(cur) then
  return 0
end
redis.call('HSET', KEYS[1], 'status', ARGV[1], 'observed', ARGV[2])
if tonumber(ARGV[3]) > 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
return 1
`)

// RedisStore keeps one hash per device.
type RedisStore struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisStore constructs a Redis-backed status store.
func NewRedisStore(cfg RedisConfig) (*RedisStore, error) {
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = "127.0.0.1:6379"
	}
	if strings.TrimSpace(cfg.KeyPrefix) == "" {
		cfg.KeyPrefix = "topograph:status"
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("ping redis status store: %w", err)
	}

	return &RedisStore{client: client, prefix: strings.TrimSpace(cfg.KeyPrefix), ttl: cfg.KeyTTL}, nil
}

// Lookup implements Store.
func (s *RedisStore) Lookup(ctx context.Context, device string) (Record, bool, error) {
	hash, err := s.client.HGetAll(ctx, s.deviceKey(device)).Result()
	if err != nil {
		return Record{}, false, fmt.Errorf("read status for %s: %w", device, err)
	}
	if len(hash) == 0 {
		return Record{}, false, nil
	}
	rec := Record{Status: Status(hash["status"])}
	if rec.Status != Down {
		rec.Status = Up
	}
	if ms, _ := strconv.ParseInt(hash["observed"], 10, 64); ms > 0 {
		rec.Observed = time.UnixMilli(ms).UTC()
	}
	return rec, true, nil
}

// Update implements Store.
func (s *RedisStore) Update(ctx context.Context, device string, rec Record) (bool, error) {
	var observed int64
	if !rec.Observed.IsZero() {
		observed = rec.Observed.UnixMilli()
	}
	n, err := newerWins.Run(ctx, s.client, []string{s.deviceKey(device)},
		string(rec.Status), observed, s.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("write status for %s: %w", device, err)
	}
	return n == 1, nil
}

// Close closes Redis resources.
func (s *RedisStore) Close() error {
	if s == nil || s.client == nil {
		return nil
	}
	return s.client.Close()
}

func (s *RedisStore) deviceKey(device string) string {
	return s.prefix + ":device:" + device
}
