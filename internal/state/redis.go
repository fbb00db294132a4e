/*
Copyright (C) 2026 Tidecast Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package state

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// incrBoundedPairScript guards both counters under one atomic step.
// Returns 0 on success, 1 when the first counter is at its bound,
// 2 when the second is.
const incrBoundedPairScript = `
local a = tonumber(redis.call("GET", KEYS[1]) or "0")
local b = tonumber(redis.call("GET", KEYS[2]) or "0")
if b >= tonumber(ARGV[2]) then
	return 2
end
if a >= tonumber(ARGV[1]) then
	return 1
end
redis.call("INCR", KEYS[1])
redis.call("INCR", KEYS[2])
if tonumber(ARGV[3]) > 0 then
	redis.call("EXPIRE", KEYS[1], ARGV[3])
	redis.call("EXPIRE", KEYS[2], ARGV[3])
end
return 0
`

// compareAndDelScript deletes KEYS[1] only while it holds ARGV[1].
const compareAndDelScript = `
if redis.call("get", KEYS[1]) == ARGV[1] then
	return redis.call("del", KEYS[1])
else
	return 0
end
`

// RedisStore implements Store over a redis server.
type RedisStore struct {
	client *redis.Client
	logger zerolog.Logger
}

// NewRedisStore connects to the redis state store and verifies the link.
func NewRedisStore(url string, logger zerolog.Logger) (*RedisStore, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse state store url: %w", err)
	}
	opts.DialTimeout = 5 * time.Second
	opts.ReadTimeout = 3 * time.Second
	opts.WriteTimeout = 3 * time.Second

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("state store ping: %w", err)
	}

	logger.Info().Str("addr", opts.Addr).Msg("state store connected")

	return &RedisStore{
		client: client,
		logger: logger.With().Str("component", "state").Logger(),
	}, nil
}

// Client exposes the raw connection for callers that need it (tests, CLI).
func (s *RedisStore) Client() *redis.Client { return s.client }

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	val, err := s.client.Get(ctx, key).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	return s.client.Set(ctx, key, value, ttl).Err()
}

func (s *RedisStore) SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	return s.client.SetNX(ctx, key, value, ttl).Result()
}

func (s *RedisStore) Del(ctx context.Context, keys ...string) error {
	return s.client.Del(ctx, keys...).Err()
}

func (s *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Expire(ctx, key, ttl).Err()
}

func (s *RedisStore) IncrBy(ctx context.Context, key string, delta int64) (int64, error) {
	return s.client.IncrBy(ctx, key, delta).Result()
}

func (s *RedisStore) CompareAndDel(ctx context.Context, key, expect string) (bool, error) {
	res, err := s.client.Eval(ctx, compareAndDelScript, []string{key}, expect).Int64()
	if err != nil {
		return false, err
	}
	return res == 1, nil
}

func (s *RedisStore) IncrBoundedPair(ctx context.Context, keyA, keyB string, boundA, boundB int64, ttl time.Duration) (BoundedResult, error) {
	res, err := s.client.Eval(ctx, incrBoundedPairScript,
		[]string{keyA, keyB}, boundA, boundB, int64(ttl.Seconds())).Int64()
	if err != nil {
		return BoundedOK, err
	}
	switch res {
	case 1:
		return BoundedLimitA, nil
	case 2:
		return BoundedLimitB, nil
	default:
		return BoundedOK, nil
	}
}

func (s *RedisStore) ListPrepend(ctx context.Context, key, value string, maxLen int64, ttl time.Duration) error {
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, value)
	pipe.LTrim(ctx, key, 0, maxLen-1)
	if ttl > 0 {
		pipe.Expire(ctx, key, ttl)
	}
	_, err := pipe.Exec(ctx)
	return err
}

func (s *RedisStore) ListRange(ctx context.Context, key string, start, stop int64) ([]string, error) {
	return s.client.LRange(ctx, key, start, stop).Result()
}

func (s *RedisStore) SetAdd(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SAdd(ctx, key, args...).Err()
}

func (s *RedisStore) SetRemove(ctx context.Context, key string, members ...string) error {
	args := make([]interface{}, len(members))
	for i, m := range members {
		args[i] = m
	}
	return s.client.SRem(ctx, key, args...).Err()
}

func (s *RedisStore) SetMembers(ctx context.Context, key string) ([]string, error) {
	return s.client.SMembers(ctx, key).Result()
}

func (s *RedisStore) SetCard(ctx context.Context, key string) (int64, error) {
	return s.client.SCard(ctx, key).Result()
}

func (s *RedisStore) Publish(ctx context.Context, channel, payload string) error {
	return s.client.Publish(ctx, channel, payload).Err()
}

func (s *RedisStore) Subscribe(ctx context.Context, channels ...string) (Subscription, error) {
	pubsub := s.client.Subscribe(ctx, channels...)
	// Force the subscription onto the wire before returning so publishes
	// after this call are observed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe: %w", err)
	}

	sub := &redisSubscription{
		pubsub: pubsub,
		out:    make(chan Message, 64),
	}
	go sub.pump()
	return sub, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}

type redisSubscription struct {
	pubsub *redis.PubSub
	out    chan Message
}

func (r *redisSubscription) pump() {
	defer close(r.out)
	for msg := range r.pubsub.Channel() {
		r.out <- Message{Channel: msg.Channel, Payload: msg.Payload}
	}
}

func (r *redisSubscription) Messages() <-chan Message { return r.out }

func (r *redisSubscription) Close() error { return r.pubsub.Close() }
