package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"rpn/internal/config"
	"rpn/internal/logging"
	"rpn/internal/metrics"
	"rpn/internal/model"
)

func main() {
	var (
		cfgPath  string
		topicIn  string
		txID     string
		groupID  string
		httpAddr string
	)
	flag.StringVar(&cfgPath, "config", "", "config file (yaml)")
	flag.StringVar(&topicIn, "topic-in", "rpn.orders.raw", "topic with orders as the order API emits them")
	flag.StringVar(&txID, "tx-id", "rpn-canonicalize-1", "transactional id")
	flag.StringVar(&groupID, "group-id", "rpn-canonicalize", "consumer group id")
	flag.StringVar(&httpAddr, "http", "", "serve /metrics on this address")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "canonicalize:", err)
		os.Exit(1)
	}
	log := logging.Init("canonicalize", cfg.Log.Level)
	if cfg.Kafka.Bootstrap == "" {
		log.Error("kafka.bootstrap is required")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, topicIn, groupID, txID, httpAddr, log); err != nil {
		log.Error("canonicalize failed", "err", err)
		os.Exit(1)
	}
}

// canonicalize rewrites one order record so every item carries its canonical
// variant name, a unit price and the recomputed total.
func canonicalize(value []byte, menu model.Menu) (key, out []byte, err error) {
	var o model.Order
	if err := json.Unmarshal(value, &o); err != nil {
		return nil, nil, err
	}
	if o.OrderNumber == "" {
		return nil, nil, errors.New("order without order_number")
	}
	out, err = json.Marshal(model.Normalize(o, menu))
	if err != nil {
		return nil, nil, err
	}
	return []byte(o.OrderNumber), out, nil
}

func run(ctx context.Context, cfg config.Config, topicIn, groupID, txID, httpAddr string, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	if httpAddr != "" {
		srv := &http.Server{Addr: httpAddr, Handler: reg.Handler(), ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
		defer srv.Close()
	}
	topicOut := cfg.Kafka.TopicOrders

	p, err := ck.NewProducer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.Kafka.Bootstrap,
		"enable.idempotence": true,
		"acks":               "all",
		"transactional.id":   txID,
	})
	if err != nil {
		return fmt.Errorf("producer: %w", err)
	}
	defer p.Close()
	go func() {
		for e := range p.Events() {
			if m, ok := e.(*ck.Message); ok && m.TopicPartition.Error != nil {
				log.Warn("delivery failed", "err", m.TopicPartition.Error)
			}
		}
	}()

	c, err := ck.NewConsumer(&ck.ConfigMap{
		"bootstrap.servers":  cfg.Kafka.Bootstrap,
		"group.id":           groupID,
		"enable.auto.commit": false,
		"isolation.level":    "read_committed",
		"auto.offset.reset":  "earliest",
	})
	if err != nil {
		return fmt.Errorf("consumer: %w", err)
	}
	defer c.Close()

	if err := c.SubscribeTopics([]string{topicIn}, nil); err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	if err := p.InitTransactions(ctx); err != nil {
		return fmt.Errorf("init tx: %w", err)
	}
	log.Info("canonicalize started", "in", topicIn, "out", topicOut)

	for ctx.Err() == nil {
		// Read first so no transaction is opened while the input is idle.
		msg, err := c.ReadMessage(5 * time.Second)
		if err != nil {
			var kerr ck.Error
			if errors.As(err, &kerr) && kerr.IsFatal() {
				return fmt.Errorf("read: %w", err)
			}
			continue
		}

		t0 := time.Now()
		if err := p.BeginTransaction(); err != nil {
			return fmt.Errorf("begin tx: %w", err)
		}
		key, val, cerr := canonicalize(msg.Value, cfg.Menu)
		if cerr != nil {
			// Skipped records still move the group offset inside the transaction.
			log.Warn("skipping malformed order", "offset", msg.TopicPartition.Offset.String(), "err", cerr)
		} else if err := p.Produce(&ck.Message{
			TopicPartition: ck.TopicPartition{Topic: &topicOut, Partition: ck.PartitionAny},
			Key:            key,
			Value:          val,
		}, nil); err != nil {
			return abort(p, reg, log, err)
		}

		next := msg.TopicPartition
		next.Offset++
		meta, err := c.GetConsumerGroupMetadata()
		if err != nil {
			return abort(p, reg, log, err)
		}
		if err := p.SendOffsetsToTransaction(ctx, []ck.TopicPartition{next}, meta); err != nil {
			return abort(p, reg, log, err)
		}
		if err := p.CommitTransaction(ctx); err != nil {
			return abort(p, reg, log, err)
		}
		reg.TxProduced.Inc()
		reg.TxLatencySec.Observe(time.Since(t0).Seconds())
	}
	return nil
}

// abort rolls back the open transaction. The consumer has already moved past
// the record, so the stage stops and a restart resumes from the last
// committed offset.
func abort(p *ck.Producer, reg *metrics.Registry, log *slog.Logger, cause error) error {
	reg.TxAborted.Inc()
	if err := p.AbortTransaction(context.Background()); err != nil {
		log.Error("abort transaction", "err", err)
	}
	return fmt.Errorf("transaction aborted: %w", cause)
}
