package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"rpn/internal/agent"
	"rpn/internal/bluetooth"
	"rpn/internal/changelog"
	"rpn/internal/config"
	"rpn/internal/feed"
	"rpn/internal/ledger"
	"rpn/internal/logging"
	"rpn/internal/manifest"
	"rpn/internal/metrics"
	"rpn/internal/printer"
	"rpn/internal/restore"
	"rpn/internal/snapshot"
	"rpn/internal/state"
)

func main() {
	cfgPath := flag.String("config", "", "config file (yaml)")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "printagent:", err)
		os.Exit(1)
	}
	log := logging.Init("printagent", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx, cfg, log); err != nil {
		log.Error("printagent failed", "err", err)
		os.Exit(1)
	}
}

// countingWriter tracks the changelog offset when Kafka is the only sink.
type countingWriter struct {
	w changelog.Writer
	n atomic.Int64
}

func (c *countingWriter) Append(ctx context.Context, e changelog.Entry) error {
	if err := c.w.Append(ctx, e); err != nil {
		return err
	}
	c.n.Add(1)
	return nil
}

func fileSink(s string) bool  { return s == "file" || s == "both" }
func kafkaSink(s string) bool { return s == "kafka" || s == "both" }

func run(ctx context.Context, cfg config.Config, log *slog.Logger) error {
	reg := metrics.NewRegistry()
	brokers := changelog.Brokers(cfg.Kafka.Bootstrap)

	st, err := state.Open(cfg.State.Backend, cfg.State.Dir)
	if err != nil {
		return err
	}
	defer st.Close()

	snaps := snapshot.NewFilesystemSnapshotter(cfg.Snapshot.Dir)
	maniFS := manifest.NewFilesystemManifest(cfg.Snapshot.Dir)
	var pub manifest.Publisher = maniFS
	var maniReader manifest.Reader = maniFS
	if len(brokers) > 0 {
		maniK := manifest.NewKafkaManifest(cfg.Kafka.Bootstrap, cfg.Kafka.TopicSnapshots, manifest.DefaultKey)
		pub = manifest.NewMultiPublisher(maniFS, maniK)
		if kafkaSink(cfg.Changelog.Sink) && !fileSink(cfg.Changelog.Sink) {
			maniReader = manifest.NewKafkaReader(brokers, cfg.Kafka.TopicSnapshots, manifest.DefaultKey)
		}
	}

	// Rebuild tallies before taking new orders.
	src := restore.Source{Path: filepath.Join(cfg.Changelog.Dir, changelog.FileName)}
	if !fileSink(cfg.Changelog.Sink) && kafkaSink(cfg.Changelog.Sink) {
		src = restore.Source{Brokers: brokers, Topic: cfg.Kafka.TopicChangelog}
	}
	res, err := restore.NewRestorer(st, snaps, maniReader, log, reg).RestoreAndReplay(ctx, src)
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	kafkaStart := res.LastOffset + 1

	var offset func() int64
	var writers []changelog.Writer
	if fileSink(cfg.Changelog.Sink) {
		fw, err := changelog.NewFileWriter(cfg.Changelog.Dir, changelog.FileName)
		if err != nil {
			return fmt.Errorf("open changelog: %w", err)
		}
		writers = append(writers, fw)
		offset = fw.Offset
	}
	var counter *countingWriter
	if kafkaSink(cfg.Changelog.Sink) {
		kw := changelog.NewKafkaWriter(cfg.Kafka.Bootstrap, cfg.Kafka.TopicChangelog)
		defer kw.Close()
		writers = append(writers, kw)
	}
	var clog changelog.Writer = changelog.Discard{}
	if len(writers) > 0 {
		clog = changelog.NewMultiWriter(writers...)
	}
	if offset == nil && kafkaSink(cfg.Changelog.Sink) {
		counter = &countingWriter{w: clog}
		clog = counter
		offset = func() int64 { return kafkaStart + counter.n.Load() }
	}

	var led ledger.Ledger = ledger.NewMemoryLedger(cfg.Redis.TTL)
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		led = ledger.NewRedisLedger(rdb, cfg.Redis.TTL)
	}

	filter := printer.DefaultFilter()
	filter.Address = cfg.Printer.Address
	filter.NamePrefix = cfg.Printer.NamePrefix
	prn := printer.New(bluetooth.New(cfg.Printer.ScanTimeout, log), printer.Options{
		Filter:    filter,
		ChunkSize: cfg.Printer.ChunkSize,
		Logger:    log,
		Metrics:   reg,
	})
	spool := agent.NewSpooler(16)
	defer spool.Close()

	svc := agent.NewService(agent.Options{
		StoreName: cfg.Store.Name,
		Menu:      cfg.Menu,
		Store:     st,
		Ledger:    led,
		Changelog: clog,
		Printer:   prn,
		Spooler:   spool,
		Logger:    log,
		Metrics:   reg,
	})

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           agent.NewRouter(agent.NewHandler(svc), reg),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 2)
	go func() {
		log.Info("http listening", "addr", cfg.HTTP.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http: %w", err)
		}
	}()

	feedCtx, stopFeed := context.WithCancel(ctx)
	defer stopFeed()
	feedDone := make(chan struct{})
	if len(brokers) > 0 {
		c, err := feed.NewConsumer(cfg.Kafka.Bootstrap, cfg.Kafka.GroupID, cfg.Kafka.TopicOrders, log)
		if err != nil {
			return err
		}
		defer c.Close()
		go func() {
			defer close(feedDone)
			if err := c.Run(feedCtx, svc.FeedHandler()); err != nil && !errors.Is(err, context.Canceled) {
				errCh <- fmt.Errorf("order feed: %w", err)
			}
		}()
	} else {
		close(feedDone)
		log.Info("no kafka bootstrap, taking orders over http only")
	}

	var tick <-chan time.Time
	if cfg.Snapshot.Interval > 0 {
		t := time.NewTicker(cfg.Snapshot.Interval)
		defer t.Stop()
		tick = t.C
	}
	if offset == nil {
		offset = func() int64 { return 0 }
	}

	var runErr error
loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case runErr = <-errCh:
			break loop
		case <-tick:
			if _, err := svc.Snapshot(ctx, snaps, pub, offset); err != nil {
				log.Error("snapshot failed", "err", err)
			}
		}
	}

	stopFeed()
	<-feedDone

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", "err", err)
	}
	if cfg.Snapshot.Interval > 0 {
		if _, err := svc.Snapshot(shutdownCtx, snaps, pub, offset); err != nil {
			log.Error("final snapshot failed", "err", err)
		}
	}
	log.Info("printagent stopped")
	return runErr
}
