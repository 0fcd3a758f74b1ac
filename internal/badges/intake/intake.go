// Package intake is the boundary between the event bus and the badge engine:
// it decodes inbound bus records, filters them against the configured event
// vocabulary, deduplicates redeliveries, and feeds the engine.
package intake

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"insignia/internal/events"
	"insignia/internal/platform/kafka/consumer"
	derrors "insignia/pkg/domain-errors"
	"insignia/pkg/keypath"
)

// Header carrying the event type on bus records, CloudEvents style. Records
// without it fall back to the topic name.
const typeHeader = "ce_type"

// idHeader keys deduplication. Records without it are deduplicated on a
// content hash instead.
const idHeader = "ce_id"

// EventProcessor is the engine entry point the intake feeds.
type EventProcessor interface {
	ProcessEvent(ctx context.Context, eventType string, payload keypath.Value) error
}

// Deduper remembers which event IDs were already processed. Seen returns
// true when the key was recorded before.
type Deduper interface {
	Seen(ctx context.Context, key string) (bool, error)
}

// Handler adapts bus records into engine calls. It implements
// consumer.Handler.
//
// Error policy mirrors the engine's: undeliverable events (unknown type,
// malformed payload, unresolvable user) are logged and dropped so they never
// wedge the partition; everything else is returned for redelivery.
type Handler struct {
	processor EventProcessor
	registry  *events.Registry
	deduper   Deduper
	logger    *slog.Logger
}

// HandlerOption configures optional Handler collaborators.
type HandlerOption func(*Handler)

// WithDeduper enables best-effort duplicate suppression. Without it every
// delivery reaches the engine, which is still safe: fulfillment writes are
// idempotent.
func WithDeduper(deduper Deduper) HandlerOption {
	return func(h *Handler) { h.deduper = deduper }
}

func NewHandler(processor EventProcessor, registry *events.Registry, logger *slog.Logger, opts ...HandlerOption) (*Handler, error) {
	if processor == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "event processor is required")
	}
	if registry == nil {
		return nil, derrors.New(derrors.CodeInvalidInput, "event registry is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	h := &Handler{processor: processor, registry: registry, logger: logger}
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Handle processes one bus record.
func (h *Handler) Handle(ctx context.Context, msg *consumer.Message) error {
	eventType := msg.Headers[typeHeader]
	if eventType == "" {
		eventType = msg.Topic
	}

	if !h.registry.Known(eventType) {
		h.logger.DebugContext(ctx, "event type outside configured vocabulary, dropping",
			"event_type", eventType,
			"topic", msg.Topic,
		)
		return nil
	}

	if h.deduper != nil {
		seen, err := h.deduper.Seen(ctx, h.dedupKey(msg))
		if err != nil {
			// Dedup is an optimization. Processing stays idempotent
			// without it, so degrade instead of stalling the partition.
			h.logger.WarnContext(ctx, "event dedup check failed, processing anyway",
				"event_type", eventType,
				"error", err.Error(),
			)
		} else if seen {
			h.logger.DebugContext(ctx, "duplicate event delivery, dropping",
				"event_type", eventType,
			)
			return nil
		}
	}

	payload, err := keypath.DecodeJSON(msg.Value)
	if err != nil {
		h.logger.ErrorContext(ctx, "undecodable event payload, dropping",
			"event_type", eventType,
			"topic", msg.Topic,
			"offset", msg.Offset,
			"error", err.Error(),
		)
		return nil
	}

	err = h.processor.ProcessEvent(ctx, eventType, payload)
	if derrors.HasCode(err, derrors.CodeUnresolvedUser) {
		h.logger.WarnContext(ctx, "event carries no resolvable user, dropping",
			"event_type", eventType,
		)
		return nil
	}
	return err
}

func (h *Handler) dedupKey(msg *consumer.Message) string {
	if id := msg.Headers[idHeader]; id != "" {
		return id
	}
	sum := sha256.Sum256(msg.Value)
	return hex.EncodeToString(sum[:])
}

// RedisDeduper records event IDs in Redis with a TTL. SET NX makes the
// check-and-record a single atomic step.
type RedisDeduper struct {
	setter SetNXer
	ttl    time.Duration
}

// SetNXer is the one Redis command the deduper needs. *redis.Client
// satisfies it.
type SetNXer interface {
	SetNX(ctx context.Context, key string, value any, expiration time.Duration) *redis.BoolCmd
}

func NewRedisDeduper(setter SetNXer, ttl time.Duration) *RedisDeduper {
	return &RedisDeduper{setter: setter, ttl: ttl}
}

func (d *RedisDeduper) Seen(ctx context.Context, key string) (bool, error) {
	created, err := d.setter.SetNX(ctx, "insignia:event:"+key, 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup setnx: %w", err)
	}
	return !created, nil
}
