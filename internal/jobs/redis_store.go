package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"github.com/toricodesthings/text-extraction-service/internal/types"
)

const (
	redisJobPrefix  = "textextract:job:"
	redisCreatedKey = "textextract:jobs:created"
)

// RedisStore keeps each job as a JSON string with a TTL of one retention
// window, plus a sorted set of IDs scored by creation time for the sweep.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisStore connects to url (redis://[:password@]host:port[/db]) and
// pings it.
func NewRedisStore(url string, ttl time.Duration) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Info().Str("addr", opts.Addr).Msg("connected to redis job store")
	return &RedisStore{client: client, ttl: ttl}, nil
}

func jobKey(id string) string { return redisJobPrefix + id }

func (s *RedisStore) Create(ctx context.Context, job *types.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := s.client.TxPipeline()
	pipe.Set(ctx, jobKey(job.ID), b, s.ttl)
	pipe.ZAdd(ctx, redisCreatedKey, redis.Z{Score: float64(job.CreatedAt.UnixMilli()), Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (s *RedisStore) Get(ctx context.Context, id string) (*types.Job, error) {
	b, err := s.client.Get(ctx, jobKey(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, err
	}
	var j types.Job
	if err := json.Unmarshal(b, &j); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return &j, nil
}

// Update overwrites an existing job and keeps its TTL.
func (s *RedisStore) Update(ctx context.Context, job *types.Job) error {
	b, err := json.Marshal(job)
	if err != nil {
		return err
	}
	ok, err := s.client.SetXX(ctx, jobKey(job.ID), b, redis.KeepTTL).Result()
	if err != nil {
		return err
	}
	if !ok {
		return ErrJobNotFound
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, id string) error {
	pipe := s.client.TxPipeline()
	pipe.Del(ctx, jobKey(id))
	pipe.ZRem(ctx, redisCreatedKey, id)
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListExpired(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.client.ZRangeByScore(ctx, redisCreatedKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(cutoff.UnixMilli(), 10),
	}).Result()
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
