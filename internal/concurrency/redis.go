package concurrency

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	redisKeyPrefix = "campaignd:calls:"
	redisCompanies = "campaignd:call_companies"
)

// reserveScript checks and reserves a slot in one round trip.
// KEYS[1] company zset, KEYS[2] company set; ARGV call id, score, since, limit, company.
var reserveScript = redis.NewScript(`
if redis.call('ZSCORE', KEYS[1], ARGV[1]) then
	return 1
end
local limit = tonumber(ARGV[4])
if limit > 0 and redis.call('ZCOUNT', KEYS[1], '(' .. ARGV[3], '+inf') >= limit then
	return 0
end
redis.call('ZADD', KEYS[1], ARGV[2], ARGV[1])
redis.call('SADD', KEYS[2], ARGV[5])
return 1
`)

// RedisStore keeps reservations in one sorted set per company, scored by
// start time in milliseconds. Nodes sharing the redis share the limits.
type RedisStore struct {
	client *redis.Client
}

// RedisOptions contains redis connection settings
type RedisOptions struct {
	Address     string
	Password    string
	DB          int
	DialTimeout time.Duration
}

// NewRedisStore connects to redis and verifies the connection
func NewRedisStore(ctx context.Context, opts RedisOptions) (*RedisStore, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 5 * time.Second
	}
	client := redis.NewClient(&redis.Options{
		Addr:        opts.Address,
		Password:    opts.Password,
		DB:          opts.DB,
		DialTimeout: opts.DialTimeout,
		MaxRetries:  1,
	})

	pingCtx, cancel := context.WithTimeout(ctx, opts.DialTimeout)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", opts.Address, err)
	}
	return &RedisStore{client: client}, nil
}

func companyKey(companyID string) string {
	return redisKeyPrefix + companyID
}

func score(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *RedisStore) Reserve(ctx context.Context, companyID, callID string, at, since time.Time, limit int) (bool, error) {
	res, err := reserveScript.Run(ctx, s.client,
		[]string{companyKey(companyID), redisCompanies},
		callID, score(at), score(since), limit, companyID).Int()
	if err != nil {
		return false, fmt.Errorf("failed to reserve call slot: %w", err)
	}
	return res == 1, nil
}

func (s *RedisStore) Release(ctx context.Context, companyID, callID string) error {
	if err := s.client.ZRem(ctx, companyKey(companyID), callID).Err(); err != nil {
		return fmt.Errorf("failed to release call slot: %w", err)
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, companyID string, since time.Time) ([]Reservation, error) {
	entries, err := s.client.ZRangeByScoreWithScores(ctx, companyKey(companyID), &redis.ZRangeBy{
		Min: "(" + score(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list call slots: %w", err)
	}
	out := make([]Reservation, 0, len(entries))
	for _, z := range entries {
		id, _ := z.Member.(string)
		out = append(out, Reservation{CallID: id, StartedAt: time.UnixMilli(int64(z.Score)).UTC()})
	}
	return out, nil
}

func (s *RedisStore) ReleaseBefore(ctx context.Context, cutoff time.Time) (int, error) {
	companies, err := s.client.SMembers(ctx, redisCompanies).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list companies with calls: %w", err)
	}
	released := 0
	for _, company := range companies {
		n, err := s.client.ZRemRangeByScore(ctx, companyKey(company), "-inf", "("+score(cutoff)).Result()
		if err != nil {
			return released, fmt.Errorf("failed to release stale call slots: %w", err)
		}
		released += int(n)
	}
	return released, nil
}

func (s *RedisStore) CountAll(ctx context.Context, since time.Time) (int, error) {
	companies, err := s.client.SMembers(ctx, redisCompanies).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to list companies with calls: %w", err)
	}
	total := 0
	for _, company := range companies {
		n, err := s.client.ZCount(ctx, companyKey(company), "("+score(since), "+inf").Result()
		if err != nil {
			return 0, fmt.Errorf("failed to count call slots: %w", err)
		}
		total += int(n)
	}
	return total, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
