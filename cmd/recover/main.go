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
	"path/filepath"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"

	"rpn/internal/changelog"
	"rpn/internal/config"
	"rpn/internal/logging"
	"rpn/internal/manifest"
	"rpn/internal/metrics"
	"rpn/internal/restore"
	"rpn/internal/sales"
	"rpn/internal/snapshot"
	"rpn/internal/state"
)

func main() {
	var (
		cfgPath  string
		source   string
		day      string
		httpAddr string
		poll     time.Duration
	)
	flag.StringVar(&cfgPath, "config", "", "config file (yaml)")
	flag.StringVar(&source, "source", "file", "changelog and manifest source: file|kafka")
	flag.StringVar(&day, "day", time.Now().Format("2006-01-02"), "sales day to summarize")
	flag.StringVar(&httpAddr, "http", "", "serve /metrics on this address while polling")
	flag.DurationVar(&poll, "poll", 0, "restore again at this interval; 0 restores once")
	flag.Parse()

	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "recover:", err)
		os.Exit(1)
	}
	log := logging.Init("recover", cfg.Log.Level)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := metrics.NewRegistry()
	if httpAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", reg.Handler())
			srv := &http.Server{Addr: httpAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("metrics server", "err", err)
			}
		}()
	}

	for {
		if err := cycle(ctx, cfg, source, day, reg, log); err != nil {
			log.Error("recovery failed", "err", err)
			if poll <= 0 {
				os.Exit(1)
			}
		}
		if poll <= 0 {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(poll):
		}
	}
}

// cycle rebuilds the tallies into a fresh in-memory store and prints the
// summary of day as JSON.
func cycle(ctx context.Context, cfg config.Config, source, day string, reg *metrics.Registry, log *slog.Logger) error {
	st := state.NewInMemoryStore()
	snaps := snapshot.NewFilesystemSnapshotter(cfg.Snapshot.Dir)

	var mr manifest.Reader = manifest.NewFilesystemManifest(cfg.Snapshot.Dir)
	src := restore.Source{Path: filepath.Join(cfg.Changelog.Dir, changelog.FileName)}
	brokers := changelog.Brokers(cfg.Kafka.Bootstrap)
	if source == "kafka" {
		if len(brokers) == 0 {
			return errors.New("source kafka needs kafka.bootstrap")
		}
		mr = manifest.NewKafkaReader(brokers, cfg.Kafka.TopicSnapshots, manifest.DefaultKey)
		src = restore.Source{Brokers: brokers, Topic: cfg.Kafka.TopicChangelog}
	}

	res, err := restore.NewRestorer(st, snaps, mr, log, reg).RestoreAndReplay(ctx, src)
	if err != nil {
		return err
	}
	if source == "kafka" {
		if head := headOffset(ctx, cfg.Kafka.TopicChangelog, brokers[0]); head >= 0 && res.LastOffset >= 0 {
			reg.Lag.Set(float64(head - res.LastOffset))
		}
	}

	sum, err := sales.Summarize(st, day)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(sum)
}

// headOffset returns the offset of the last record in partition 0 of topic,
// or -1 when it cannot be read.
func headOffset(ctx context.Context, topic, bootstrap string) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	conn, err := kafka.DialLeader(ctx, "tcp", bootstrap, topic, 0)
	if err != nil {
		return -1
	}
	defer conn.Close()
	off, err := conn.ReadLastOffset()
	if err != nil {
		return -1
	}
	return off - 1
}
