// Package kafkaconsumer applies dataset-update events from Kafka to the layer cache.
package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/IBM/sarama"
	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/mohammed-shakir/buurtweg-monitor/internal/core/observability"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/invalidation"
	"github.com/mohammed-shakir/buurtweg-monitor/internal/logger"
)

// Evictor drops the cached body of one configured layer URL.
type Evictor interface {
	InvalidateLayer(ctx context.Context, rawURL string) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	evict  Evictor
	seen   *revisions
}

func New(cfg Config, l *slog.Logger, evict Evictor) *Consumer {
	if l == nil {
		l = slog.Default()
	}
	return &Consumer{
		cfg:    cfg,
		logger: l,
		evict:  evict,
		seen:   newRevisions(cfg.DedupeSize),
	}
}

// Start blocks consuming the topic until ctx is cancelled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.evict == nil {
		return errors.New("kafkaconsumer: missing layer cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTimeout
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTimeout
	if c.cfg.InitialOffsetOldest {
		cfg.Consumer.Offsets.Initial = sarama.OffsetOldest
	} else {
		cfg.Consumer.Offsets.Initial = sarama.OffsetNewest
	}
	cfg.Consumer.Offsets.AutoCommit.Enable = true

	group, err := sarama.NewConsumerGroup(c.cfg.Brokers, c.cfg.GroupID, cfg)
	if err != nil {
		return fmt.Errorf("create consumer group: %w", err)
	}
	defer func() { _ = group.Close() }()

	ctx = logger.WithComponent(ctx, "invalidation")
	handler := newEvictionHandler(c.ProcessOne, c.logger)

	c.logger.InfoContext(ctx, "layer invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil && ctx.Err() == nil {
			observability.IncConsumerError("consume")
			c.logger.ErrorContext(ctx, "kafka consumer error", "topic", c.cfg.Topic, "err", err)
			select {
			case <-ctx.Done():
			case <-time.After(2 * time.Second):
			}
		}
		if ctx.Err() != nil {
			c.logger.InfoContext(ctx, "layer invalidation consumer shutting down")
			return nil
		}
	}
}

// ProcessOne evicts the layer named by one message. Undecodable or invalid events are logged
// and skipped so a poison message cannot stall the partition; eviction failures are returned
// so the offset is not committed.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		observability.IncConsumerError("decode")
		c.logger.WarnContext(ctx, "skipping undecodable event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		observability.IncConsumerError("invalid")
		c.logger.WarnContext(ctx, "skipping invalid event",
			"topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset, "err", err)
		return nil
	}

	if !c.seen.fresh(ev.URL, ev.Revision) {
		observability.ObserveInvalidation(ev.Op, "stale")
		c.logger.DebugContext(ctx, "stale event ignored", "url", ev.URL, "revision", ev.Revision)
		return nil
	}

	if err := c.evict.InvalidateLayer(ctx, ev.URL); err != nil {
		observability.IncConsumerError("evict")
		observability.ObserveInvalidation(ev.Op, "error")
		return fmt.Errorf("invalidate %s: %w", ev.URL, err)
	}
	c.seen.commit(ev.URL, ev.Revision)

	observability.ObserveInvalidation(ev.Op, "applied")
	c.logger.InfoContext(ctx, "layer evicted", "op", ev.Op, "layer", ev.Layer, "url", ev.URL)
	return nil
}

// revisions remembers the last applied revision per URL.
type revisions struct {
	mu  sync.Mutex
	lru *lru.Cache[string, uint64]
}

func newRevisions(size int) *revisions {
	if size <= 0 {
		size = 256
	}
	c, _ := lru.New[string, uint64](size)
	return &revisions{lru: c}
}

// unversioned events are always fresh
func (r *revisions) fresh(key string, v uint64) bool {
	if v == 0 {
		return true
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	last, ok := r.lru.Get(key)
	return !ok || v > last
}

func (r *revisions) commit(key string, v uint64) {
	if v == 0 {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if last, ok := r.lru.Get(key); ok && last >= v {
		return
	}
	r.lru.Add(key, v)
}
