package kafkaconsumer

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
)

type evictFunc func(context.Context, *sarama.ConsumerMessage) error

// evictionHandler feeds one claim at a time into the evict func and records how long each
// eviction took and how far the partition still lags behind.
type evictionHandler struct {
	evict  evictFunc
	logger *slog.Logger
	now    func() time.Time
}

func newEvictionHandler(evict evictFunc, l *slog.Logger) *evictionHandler {
	if l == nil {
		l = slog.Default()
	}
	return &evictionHandler{evict: evict, logger: l, now: time.Now}
}

func (h *evictionHandler) Setup(sess sarama.ConsumerGroupSession) error {
	h.logger.InfoContext(sess.Context(), "partitions assigned",
		"member", sess.MemberID(), "generation", sess.GenerationID(), "claims", sess.Claims())
	return nil
}

func (h *evictionHandler) Cleanup(sess sarama.ConsumerGroupSession) error {
	h.logger.DebugContext(sess.Context(), "partitions released", "generation", sess.GenerationID())
	return nil
}

// ConsumeClaim marks an offset only after its layer was evicted, so a failed eviction is
// redelivered after the next rebalance.
func (h *evictionHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			start := h.now()
			err := h.evict(ctx, msg)
			took := h.now().Sub(start).Seconds()
			if err != nil {
				observability.ObserveEviction("error", took)
				return fmt.Errorf("evict failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			observability.ObserveEviction("ok", took)
			sess.MarkMessage(msg, "")
			if hwm := claim.HighWaterMarkOffset(); hwm > 0 {
				observability.SetConsumerLag(msg.Topic, msg.Partition, hwm-msg.Offset-1)
			}
		}
	}
}
