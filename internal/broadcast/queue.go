package broadcast

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
)

// Ack confirms a dequeued batch was fully handled. Queue drivers without
// explicit acknowledgment return a no-op.
type Ack func(ctx context.Context) error

// Queue is the durable transport for broadcast micro-batches. Two drivers
// exist: a Redis list (blocking pop, at-most-once) and a Kafka consumer
// group (committed offsets, at-least-once with horizontal partitioning).
type Queue interface {
	Enqueue(ctx context.Context, batch *Batch) error
	Dequeue(ctx context.Context) (*Batch, Ack, error)
	Close() error
}

// NewQueue builds the queue named by the configured driver.
func NewQueue(cfg *config.Config, redisClient *redis.Client, logger *zap.Logger) (Queue, error) {
	switch cfg.Queue.Driver {
	case "redis":
		return NewRedisQueue(redisClient, cfg.Queue.Name, logger), nil
	case "kafka":
		return NewKafkaQueue(&cfg.Kafka, logger), nil
	default:
		return nil, fmt.Errorf("unknown queue driver %q", cfg.Queue.Driver)
	}
}

func noopAck(context.Context) error { return nil }
