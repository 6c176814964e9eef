// Package queue provides the durable FIFO command queues and the keyed
// distributed lock backing the keeper, both on top of redis.
package queue

import (
	"context"
	"errors"

	"github.com/go-redis/redis/v8"
)

// ErrEmpty is returned by Pop when the queue holds no entries.
var ErrEmpty = errors.New("queue is empty")

// Queue is an ordered, durable FIFO channel keyed by name. Push appends to
// the tail and returns once the entries are accepted; Pop atomically removes
// and returns the head without blocking. Each entry is delivered to exactly
// one consumer.
type Queue interface {
	Push(ctx context.Context, key string, payloads ...[]byte) error
	Pop(ctx context.Context, key string) ([]byte, error)
	Len(ctx context.Context, key string) (int64, error)
}

// Redis implements Queue on a redis list (RPUSH/LPOP). Redis serializes list
// operations, which gives FIFO across any number of concurrent producers and
// pop-once across any number of consumers.
type Redis struct {
	rdb redis.UniversalClient
}

var _ Queue = (*Redis)(nil)

func NewRedis(rdb redis.UniversalClient) *Redis {
	return &Redis{rdb: rdb}
}

func (q *Redis) Push(ctx context.Context, key string, payloads ...[]byte) error {
	if len(payloads) == 0 {
		return nil
	}
	vals := make([]interface{}, len(payloads))
	for i, p := range payloads {
		vals[i] = p
	}
	return q.rdb.RPush(ctx, key, vals...).Err()
}

func (q *Redis) Pop(ctx context.Context, key string) ([]byte, error) {
	data, err := q.rdb.LPop(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrEmpty
	}
	if err != nil {
		return nil, err
	}
	return data, nil
}

func (q *Redis) Len(ctx context.Context, key string) (int64, error) {
	return q.rdb.LLen(ctx, key).Result()
}
