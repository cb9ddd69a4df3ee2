// Package feed consumes paid orders from Kafka.
package feed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"rpn/internal/model"
)

// Handler processes one order. A returned error stops the consumer and the
// message stays uncommitted, so it is delivered again after a restart.
type Handler func(ctx context.Context, o model.Order) error

// consumer abstracts ck.Consumer for testability.
type consumer interface {
	SubscribeTopics(topics []string, cb ck.RebalanceCb) error
	ReadMessage(timeout time.Duration) (*ck.Message, error)
	CommitMessage(m *ck.Message) ([]ck.TopicPartition, error)
	Close() error
}

type Consumer struct {
	c     consumer
	topic string
	poll  time.Duration
	log   *slog.Logger
}

// NewConsumer joins groupID on the given brokers. Offsets are committed by
// hand and only committed transactions are read, since the canonicalize
// stage writes the topic transactionally.
func NewConsumer(bootstrap, groupID, topic string, log *slog.Logger) (*Consumer, error) {
	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return nil, fmt.Errorf("consumer: %w", err)
	}
	return NewConsumerWith(c, topic, log), nil
}

// NewConsumerWith is only for tests to inject a fake consumer.
func NewConsumerWith(c consumer, topic string, log *slog.Logger) *Consumer {
	if log == nil {
		log = slog.Default()
	}
	return &Consumer{c: c, topic: topic, poll: time.Second, log: log.With("topic", topic)}
}

func (c *Consumer) Close() error { return c.c.Close() }

// Run reads until ctx ends or h fails. A message is committed only after h
// returns nil. Malformed payloads are logged and committed so they cannot
// block the partition.
func (c *Consumer) Run(ctx context.Context, h Handler) error {
	if err := c.c.SubscribeTopics([]string{c.topic}, nil); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	c.log.Info("feed started")
	for ctx.Err() == nil {
		msg, err := c.c.ReadMessage(c.poll)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) {
				if kerr.IsTimeout() {
					continue
				}
				if kerr.IsFatal() {
					return fmt.Errorf("read: %w", err)
				}
			}
			c.log.Warn("read failed", "err", err)
			continue
		}

		var o model.Order
		if err := json.Unmarshal(msg.Value, &o); err != nil {
			c.log.Warn("skipping malformed order", "offset", msg.TopicPartition.Offset.String(), "err", err)
			if err := c.commit(msg); err != nil {
				return err
			}
			continue
		}
		if err := h(ctx, o); err != nil {
			return fmt.Errorf("handle order %s: %w", o.OrderNumber, err)
		}
		if err := c.commit(msg); err != nil {
			return err
		}
	}
	c.log.Info("feed stopped")
	return nil
}

func (c *Consumer) commit(msg *ck.Message) error {
	if _, err := c.c.CommitMessage(msg); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}
