// Package restore rebuilds the tally store from the latest snapshot and the
// changelog written after it.
package restore

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/segmentio/kafka-go"

	"rpn/internal/changelog"
	"rpn/internal/manifest"
	"rpn/internal/metrics"
	"rpn/internal/snapshot"
	"rpn/internal/state"
)

type Restorer struct {
	stateStore     state.Store
	snapshots      snapshot.Loader
	manifestReader manifest.Reader
	log            *slog.Logger
	m              *metrics.Registry

	// openKafka is replaced in tests.
	openKafka func(brokers []string, topic string) kafkaMessageReader
	// kafkaIdle ends a Kafka replay when no record arrives for this long.
	kafkaIdle time.Duration
}

type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func NewRestorer(st state.Store, snaps snapshot.Loader, mr manifest.Reader, log *slog.Logger, m *metrics.Registry) *Restorer {
	if log == nil {
		log = slog.Default()
	}
	return &Restorer{
		stateStore:     st,
		snapshots:      snaps,
		manifestReader: mr,
		log:            log,
		m:              m,
		openKafka: func(brokers []string, topic string) kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		kafkaIdle: 5 * time.Second,
	}
}

type RestoreResult struct {
	SnapshotID string
	FromOffset int64
	// LastOffset is the Kafka offset of the last record read, -1 if none.
	LastOffset int64
	Applied    int
	Skipped    int
	Error      error
}

// Source names where the changelog lives: a JSONL file, or a Kafka topic
// when Path is empty.
type Source struct {
	Path    string
	Brokers []string
	Topic   string
}

// RestoreFromSnapshot loads snapshotID into the store. An empty id or a
// missing snapshot leaves the store as is.
func (r *Restorer) RestoreFromSnapshot(snapshotID string) error {
	if snapshotID == "" {
		return nil
	}
	dump, err := r.snapshots.LoadSnapshot(snapshotID)
	if errors.Is(err, snapshot.ErrNotFound) {
		r.log.Warn("snapshot not found, skipping", "snapshot_id", snapshotID)
		return nil
	}
	if err != nil {
		return err
	}
	if err := r.stateStore.LoadAll(dump); err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	r.log.Info("snapshot loaded", "snapshot_id", snapshotID, "keys", len(dump))
	return nil
}

// apply replays one entry. An entry whose guard is already in the store is
// skipped, whatever its seq.
func (r *Restorer) apply(e changelog.Entry, size int) (bool, error) {
	ok, err := r.stateStore.ApplyOnce(e.Guard, e.Seq, e.Deltas)
	if err != nil {
		return false, err
	}
	if r.m != nil {
		r.m.ReplayBytes.Add(float64(size))
		if ok {
			r.m.Applied.Inc()
		} else {
			r.m.Skipped.Inc()
		}
	}
	return ok, nil
}

// ReplayChangelog applies every line after the first fromOffset lines of
// the file at changelogPath. A missing file replays nothing.
func (r *Restorer) ReplayChangelog(ctx context.Context, changelogPath string, fromOffset int64) RestoreResult {
	res := RestoreResult{FromOffset: fromOffset, LastOffset: -1}
	file, err := os.Open(changelogPath)
	if errors.Is(err, os.ErrNotExist) {
		return res
	}
	if err != nil {
		res.Error = fmt.Errorf("open changelog: %w", err)
		return res
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64<<10), 1<<20)
	lineNum := int64(0)
	for scanner.Scan() {
		lineNum++
		if lineNum <= fromOffset {
			continue
		}
		if err := ctx.Err(); err != nil {
			res.Error = err
			return res
		}
		var e changelog.Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err != nil {
			res.Error = fmt.Errorf("unmarshal line %d: %w", lineNum, err)
			return res
		}
		ok, err := r.apply(e, len(scanner.Bytes()))
		if err != nil {
			res.Error = fmt.Errorf("apply line %d: %w", lineNum, err)
			return res
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
	if err := scanner.Err(); err != nil {
		res.Error = fmt.Errorf("scan changelog: %w", err)
	}
	return res
}

// ReplayChangelogKafka consumes entries from the topic (partition 0) and
// applies them. fromOffset is the number of records to skip. The replay ends
// once the topic has been idle for the configured wait.
func (r *Restorer) ReplayChangelogKafka(ctx context.Context, brokers []string, topic string, fromOffset int64) RestoreResult {
	res := RestoreResult{FromOffset: fromOffset, LastOffset: -1}
	rd := r.openKafka(brokers, topic)
	defer rd.Close()

	idx := int64(0)
	for {
		readCtx, cancel := context.WithTimeout(ctx, r.kafkaIdle)
		m, err := rd.ReadMessage(readCtx)
		idle := errors.Is(readCtx.Err(), context.DeadlineExceeded)
		cancel()
		if err != nil {
			if ctx.Err() != nil {
				res.Error = ctx.Err()
			} else if !idle && !errors.Is(err, io.EOF) {
				res.Error = fmt.Errorf("read kafka: %w", err)
			}
			return res
		}
		idx++
		res.LastOffset = m.Offset
		if idx <= fromOffset {
			continue
		}
		var e changelog.Entry
		if err := json.Unmarshal(m.Value, &e); err != nil {
			res.Error = fmt.Errorf("unmarshal entry at %d: %w", m.Offset, err)
			return res
		}
		ok, err := r.apply(e, len(m.Value))
		if err != nil {
			res.Error = fmt.Errorf("apply: %w", err)
			return res
		}
		if ok {
			res.Applied++
		} else {
			res.Skipped++
		}
	}
}

// RestoreAndReplay reads the latest manifest, loads its snapshot and replays
// src from the manifest offset. Without a manifest the whole changelog is
// replayed into the store as is.
func (r *Restorer) RestoreAndReplay(ctx context.Context, src Source) (RestoreResult, error) {
	start := time.Now()
	m, err := r.manifestReader.ReadLatest(ctx)
	switch {
	case errors.Is(err, manifest.ErrNoManifest):
		r.log.Info("no manifest, replaying full changelog")
	case err != nil:
		return RestoreResult{}, fmt.Errorf("read manifest: %w", err)
	default:
		if r.m != nil {
			r.m.LastManifestAgeSec.Set(m.Age(time.Now()).Seconds())
		}
		if err := r.RestoreFromSnapshot(m.SnapshotID); err != nil {
			return RestoreResult{}, fmt.Errorf("restore snapshot: %w", err)
		}
	}

	var res RestoreResult
	if src.Path != "" {
		res = r.ReplayChangelog(ctx, src.Path, m.LastChangelogOffset)
	} else {
		res = r.ReplayChangelogKafka(ctx, src.Brokers, src.Topic, m.LastChangelogOffset)
	}
	res.SnapshotID = m.SnapshotID
	if r.m != nil {
		r.m.TTRSec.Set(time.Since(start).Seconds())
	}
	r.log.Info("restore finished",
		"snapshot_id", m.SnapshotID, "from_offset", m.LastChangelogOffset,
		"applied", res.Applied, "skipped", res.Skipped, "took", time.Since(start).String())
	return res, res.Error
}
