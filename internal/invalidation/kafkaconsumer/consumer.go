package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/connected-systems/internal/cache"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	obs "github.com/mohammed-shakir/connected-systems/internal/core/observability"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation"
)

type Invalidator interface {
	Invalidate(ctx context.Context, ts ...model.EntityType) error
}

type Consumer struct {
	cfg    Config
	logger *slog.Logger
	cache  Invalidator
	// source is this instance's id; its own events were applied when published
	source string
}

func New(cfg Config, logger *slog.Logger, c Invalidator, source string) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, cache: c, source: source}
}

// Start consumes change events until ctx is done
func (c *Consumer) Start(ctx context.Context) error {
	if c.cache == nil {
		return errors.New("kafkaconsumer: missing cache")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_1_0_0
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

	handler := &groupHandler{process: c.ProcessOne, log: c.logger}

	c.logger.Info("kafka invalidation consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("kafka invalidation consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				obs.IncKafkaConsumerError("consume")
				c.logger.Error("kafka consumer error", "err", err,
					"brokers", c.cfg.Brokers, "topic", c.cfg.Topic)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

// ProcessOne applies one change event. Malformed events are counted and
// skipped; a failing cache is returned so the message is redelivered.
func (c *Consumer) ProcessOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	start := time.Now()

	var ev invalidation.Event
	if err := json.Unmarshal(msg.Value, &ev); err != nil {
		c.skip("decode", msg, err)
		return nil
	}
	if err := ev.Validate(); err != nil {
		c.skip("validate", msg, err)
		return nil
	}
	if c.source != "" && ev.Source == c.source {
		return nil
	}

	affected := cache.Affected(ev.Type())
	if err := c.cache.Invalidate(ctx, affected...); err != nil {
		obs.IncKafkaConsumerError("invalidate")
		obs.ObserveInvalidation(ev.EntityType, err, time.Since(start).Seconds())
		return fmt.Errorf("invalidate %s: %w", ev.EntityType, err)
	}

	obs.ObserveInvalidation(ev.EntityType, nil, time.Since(start).Seconds())
	c.logger.Debug("listing cache invalidated",
		"op", ev.Op, "entityType", ev.EntityType, "ids", len(ev.IDs),
		"cells", len(ev.Cells), "types", len(affected))
	return nil
}

func (c *Consumer) skip(kind string, msg *sarama.ConsumerMessage, err error) {
	obs.IncKafkaConsumerError(kind)
	c.logger.Warn("skipping change event",
		"kind", kind, "topic", msg.Topic, "partition", msg.Partition,
		"offset", msg.Offset, "err", err)
}
