package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/springfiles/edgecache/internal/config"
	"github.com/springfiles/edgecache/internal/model"
)

// HandleFunc processes one delivered SyncRequest. Returning nil acks the
// message; returning an error leaves it unacked so the queue redelivers.
type HandleFunc func(ctx context.Context, req model.SyncRequest) error

type Consumer struct {
	cfg    config.QueueCfg
	logger *slog.Logger
	handle HandleFunc
}

func NewConsumer(cfg config.QueueCfg, logger *slog.Logger, handle HandleFunc) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{cfg: cfg, logger: logger, handle: handle}
}

// Start consumes sync requests until ctx is canceled.
func (c *Consumer) Start(ctx context.Context) error {
	if c.handle == nil {
		return errors.New("kafka consumer: handler is required")
	}

	cfg := sarama.NewConfig()
	cfg.Version = sarama.V2_5_0_0
	cfg.Consumer.Group.Session.Timeout = c.cfg.SessionTO
	cfg.Consumer.Group.Heartbeat.Interval = c.cfg.Heartbeat
	cfg.Consumer.Group.Rebalance.Timeout = c.cfg.RebalanceTO
	if c.cfg.FromOldest {
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

	handler := &groupHandler{process: c.processOne}

	c.logger.Info("sync request consumer starting",
		"brokers", c.cfg.Brokers, "topic", c.cfg.Topic, "group", c.cfg.GroupID)

	for {
		select {
		case <-ctx.Done():
			c.logger.Info("sync request consumer shutting down")
			return nil
		default:
			if err := group.Consume(ctx, []string{c.cfg.Topic}, handler); err != nil {
				c.logger.Error("consumer error", "err", err)
				time.Sleep(2 * time.Second)
			}
		}
	}
}

func (c *Consumer) processOne(ctx context.Context, msg *sarama.ConsumerMessage) error {
	var req model.SyncRequest
	if err := json.Unmarshal(msg.Value, &req); err != nil {
		// Undecodable payloads can never succeed; log and ack.
		c.logger.Error("sync request decode, dropping",
			"err", err, "topic", msg.Topic, "partition", msg.Partition, "offset", msg.Offset)
		return nil
	}
	if err := req.Validate(); err != nil {
		c.logger.Error("sync request invalid, dropping", "err", err)
		return nil
	}
	return c.handle(ctx, req)
}

type messageProcessor func(context.Context, *sarama.ConsumerMessage) error

type groupHandler struct {
	process messageProcessor
}

func (h *groupHandler) Setup(sarama.ConsumerGroupSession) error   { return nil }
func (h *groupHandler) Cleanup(sarama.ConsumerGroupSession) error { return nil }

func (h *groupHandler) ConsumeClaim(sess sarama.ConsumerGroupSession, claim sarama.ConsumerGroupClaim) error {
	ctx := sess.Context()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("claim context done: %w", ctx.Err())
		case msg, ok := <-claim.Messages():
			if !ok {
				return nil
			}
			if err := h.process(ctx, msg); err != nil {
				return fmt.Errorf("process failed (topic=%s, part=%d, off=%d): %w",
					msg.Topic, msg.Partition, msg.Offset, err)
			}
			sess.MarkMessage(msg, "")
		}
	}
}
