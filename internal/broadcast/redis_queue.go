package broadcast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"
)

// blockInterval bounds each BLPOP so a cancelled context is noticed
// promptly.
const blockInterval = 5 * time.Second

// RedisQueue is the list-backed queue profile: producers RPUSH serialized
// batches, workers block-pop them. Delivery is at-most-once; a worker
// crash loses the claimed batch.
type RedisQueue struct {
	client *redis.Client
	key    string
	logger *zap.Logger
}

func NewRedisQueue(client *redis.Client, key string, logger *zap.Logger) *RedisQueue {
	return &RedisQueue{client: client, key: key, logger: logger}
}

func (q *RedisQueue) Enqueue(ctx context.Context, batch *Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	if err := q.client.RPush(ctx, q.key, payload).Err(); err != nil {
		return fmt.Errorf("rpush batch: %w", err)
	}
	return nil
}

func (q *RedisQueue) Dequeue(ctx context.Context) (*Batch, Ack, error) {
	for {
		res, err := q.client.BLPop(ctx, blockInterval, q.key).Result()
		if errors.Is(err, redis.Nil) {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, nil, ctx.Err()
			}
			return nil, nil, fmt.Errorf("blpop: %w", err)
		}

		// BLPOP returns [key, value].
		var batch Batch
		if err := json.Unmarshal([]byte(res[1]), &batch); err != nil {
			q.logger.Error("Dropping undecodable broadcast batch", zap.Error(err))
			continue
		}
		return &batch, noopAck, nil
	}
}

func (q *RedisQueue) Close() error { return nil }
