package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/sabnode/messaging-engine/internal/config"
)

// KafkaQueue is the consumer-group queue profile. Offsets are committed
// only after the batch has been dispatched, so an unacked batch is
// redelivered to another worker in the group.
type KafkaQueue struct {
	writer *kafka.Writer
	reader *kafka.Reader
	logger *zap.Logger
}

func NewKafkaQueue(cfg *config.KafkaConfig, logger *zap.Logger) *KafkaQueue {
	writer := &kafka.Writer{
		Addr:                   kafka.TCP(cfg.Brokers...),
		Topic:                  cfg.Topic,
		Balancer:               &kafka.LeastBytes{},
		RequiredAcks:           kafka.RequireAll,
		AllowAutoTopicCreation: true,
	}

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     cfg.Brokers,
		Topic:       cfg.Topic,
		GroupID:     cfg.GroupID,
		MinBytes:    1,
		MaxBytes:    10e6,
		MaxWait:     500 * time.Millisecond,
		StartOffset: kafka.FirstOffset,
	})

	return &KafkaQueue{writer: writer, reader: reader, logger: logger}
}

func (q *KafkaQueue) Enqueue(ctx context.Context, batch *Batch) error {
	payload, err := json.Marshal(batch)
	if err != nil {
		return fmt.Errorf("marshal batch: %w", err)
	}
	msg := kafka.Message{
		Key:   []byte(fmt.Sprintf("%d", batch.JobDetails.ID)),
		Value: payload,
	}
	if err := q.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write batch: %w", err)
	}
	return nil
}

func (q *KafkaQueue) Dequeue(ctx context.Context) (*Batch, Ack, error) {
	for {
		msg, err := q.reader.FetchMessage(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("fetch batch: %w", err)
		}

		var batch Batch
		if err := json.Unmarshal(msg.Value, &batch); err != nil {
			q.logger.Error("Dropping undecodable broadcast batch",
				zap.Int64("offset", msg.Offset), zap.Error(err))
			if err := q.reader.CommitMessages(ctx, msg); err != nil {
				return nil, nil, fmt.Errorf("commit poison batch: %w", err)
			}
			continue
		}

		ack := func(ctx context.Context) error {
			return q.reader.CommitMessages(ctx, msg)
		}
		return &batch, ack, nil
	}
}

func (q *KafkaQueue) Close() error {
	if err := q.writer.Close(); err != nil {
		q.logger.Warn("Failed to close kafka writer", zap.Error(err))
	}
	return q.reader.Close()
}
