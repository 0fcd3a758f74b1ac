// Package consumer wraps franz-go group consumption behind a small Handler
// interface so domain packages never touch Kafka types directly. Delivery is
// at-least-once: offsets are committed only after the handler returns nil.
package consumer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Config describes the consumer group membership.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
}

// Message is the transport-agnostic view of a Kafka record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Headers   map[string]string
}

// Handler processes a single message. Returning an error leaves the offset
// uncommitted so the message is redelivered.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// Consumer polls a consumer group and dispatches records to a Handler.
type Consumer struct {
	client  *kgo.Client
	handler Handler
	logger  *slog.Logger
}

// New builds a group consumer. Autocommit is disabled; Run commits explicitly
// after successful handling.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Consumer, error) {
	if handler == nil {
		return nil, fmt.Errorf("consumer handler is required")
	}
	if len(cfg.Topics) == 0 {
		return nil, fmt.Errorf("at least one topic is required")
	}

	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}

	return &Consumer{client: client, handler: handler, logger: logger}, nil
}

// Run polls until ctx is cancelled. Within a partition, processing stops at
// the first handler failure so later offsets are never committed past a
// failed record.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.ErrorContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err.Error(),
			)
		})

		var succeeded []*kgo.Record
		fetches.EachPartition(func(p kgo.FetchTopicPartition) {
			for _, record := range p.Records {
				if err := c.handler.Handle(ctx, toMessage(record)); err != nil {
					c.logger.ErrorContext(ctx, "message handling failed, leaving uncommitted",
						"topic", record.Topic,
						"partition", record.Partition,
						"offset", record.Offset,
						"error", err.Error(),
					)
					return
				}
				succeeded = append(succeeded, record)
			}
		})

		if len(succeeded) > 0 {
			if err := c.client.CommitRecords(ctx, succeeded...); err != nil {
				c.logger.ErrorContext(ctx, "offset commit failed",
					"error", err.Error(),
				)
			}
		}
	}
}

// Close tears down the underlying client.
func (c *Consumer) Close() {
	c.client.Close()
}

func toMessage(record *kgo.Record) *Message {
	headers := make(map[string]string, len(record.Headers))
	for _, h := range record.Headers {
		headers[h.Key] = string(h.Value)
	}
	return &Message{
		Topic:     record.Topic,
		Partition: record.Partition,
		Offset:    record.Offset,
		Key:       record.Key,
		Value:     record.Value,
		Headers:   headers,
	}
}
