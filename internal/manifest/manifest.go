// Package manifest points at the latest snapshot and the changelog offset
// it covers.
package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/segmentio/kafka-go"

	"rpn/internal/changelog"
)

const (
	fileName = "manifest.latest.json"
	// DefaultKey is the record key of the manifest on its compacted topic.
	DefaultKey = "rpn-manifest-latest"
)

var ErrNoManifest = errors.New("manifest: none published")

type Manifest struct {
	SnapshotID           string `json:"snapshotId"`
	LastChangelogOffset  int64  `json:"lastChangelogOffset"`
	CreatedAtEpochSecond int64  `json:"createdAt"`
}

// Age is how old the manifest is at now.
func (m Manifest) Age(now time.Time) time.Duration {
	return now.Sub(time.Unix(m.CreatedAtEpochSecond, 0))
}

// NowUnix returns current time in epoch seconds. Split for testability.
var NowUnix = func() int64 { return time.Now().UTC().Unix() }

func newManifest(snapshotID string, offset int64) Manifest {
	return Manifest{SnapshotID: snapshotID, LastChangelogOffset: offset, CreatedAtEpochSecond: NowUnix()}
}

type Publisher interface {
	PublishLatest(ctx context.Context, snapshotID string, lastChangelogOffset int64) error
}

type Reader interface {
	ReadLatest(ctx context.Context) (Manifest, error)
}

// MultiPublisher writes to multiple publishers sequentially.
type MultiPublisher struct {
	pubs []Publisher
}

func NewMultiPublisher(pubs ...Publisher) *MultiPublisher {
	return &MultiPublisher{pubs: pubs}
}

func (m *MultiPublisher) PublishLatest(ctx context.Context, snapshotID string, lastChangelogOffset int64) error {
	for _, p := range m.pubs {
		if err := p.PublishLatest(ctx, snapshotID, lastChangelogOffset); err != nil {
			return err
		}
	}
	return nil
}

type FilesystemManifest struct {
	baseDir string
}

func NewFilesystemManifest(baseDir string) *FilesystemManifest {
	return &FilesystemManifest{baseDir: baseDir}
}

func (f *FilesystemManifest) PublishLatest(_ context.Context, snapshotID string, lastChangelogOffset int64) error {
	if err := os.MkdirAll(f.baseDir, 0o755); err != nil {
		return fmt.Errorf("mkdir: %w", err)
	}
	m := newManifest(snapshotID, lastChangelogOffset)
	b, err := json.MarshalIndent(&m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	file := filepath.Join(f.baseDir, fileName)
	tmp := file + ".tmp"
	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	return os.Rename(tmp, file)
}

func (f *FilesystemManifest) ReadLatest(context.Context) (Manifest, error) {
	data, err := os.ReadFile(filepath.Join(f.baseDir, fileName))
	if errors.Is(err, os.ErrNotExist) {
		return Manifest{}, ErrNoManifest
	}
	if err != nil {
		return Manifest{}, fmt.Errorf("read manifest: %w", err)
	}
	var m Manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("unmarshal manifest: %w", err)
	}
	return m, nil
}

// KafkaManifest publishes manifest.latest as a compacted Kafka record.
type KafkaManifest struct {
	writer kafkaMessageWriter
	key    []byte
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// NewKafkaManifest creates a Kafka manifest publisher.
// bootstrap can be comma-separated brokers.
func NewKafkaManifest(bootstrap string, topic string, key string) *KafkaManifest {
	return &KafkaManifest{writer: &kafka.Writer{
		Addr:         kafka.TCP(changelog.Brokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}, key: []byte(key)}
}

func (k *KafkaManifest) PublishLatest(ctx context.Context, snapshotID string, lastChangelogOffset int64) error {
	m := newManifest(snapshotID, lastChangelogOffset)
	b, err := json.Marshal(&m)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: k.key, Value: b})
}

// NewKafkaManifestWith is only for tests to inject a fake writer.
func NewKafkaManifestWith(w kafkaMessageWriter, key string) *KafkaManifest {
	return &KafkaManifest{writer: w, key: []byte(key)}
}

// KafkaReader reads the latest manifest record from a compacted Kafka topic.
type KafkaReader struct {
	open    func() kafkaMessageReader
	key     []byte
	timeout time.Duration
}

type kafkaMessageReader interface {
	ReadMessage(ctx context.Context) (kafka.Message, error)
	Close() error
}

func NewKafkaReader(brokers []string, topic string, key string) *KafkaReader {
	return &KafkaReader{
		open: func() kafkaMessageReader {
			return kafka.NewReader(kafka.ReaderConfig{
				Brokers:   brokers,
				Topic:     topic,
				Partition: 0,
				MinBytes:  1,
				MaxBytes:  10e6,
			})
		},
		key:     []byte(key),
		timeout: 10 * time.Second,
	}
}

// NewKafkaReaderWith is only for tests to inject a fake reader.
func NewKafkaReaderWith(r kafkaMessageReader, key string, timeout time.Duration) *KafkaReader {
	return &KafkaReader{open: func() kafkaMessageReader { return r }, key: []byte(key), timeout: timeout}
}

// ReadLatest scans the topic from the start and keeps the last record for
// the key. The topic is compacted, so the scan is short. The scan ends when
// no record arrives within the reader timeout.
func (k *KafkaReader) ReadLatest(ctx context.Context) (Manifest, error) {
	r := k.open()
	defer r.Close()

	ctx, cancel := context.WithTimeout(ctx, k.timeout)
	defer cancel()

	var last Manifest
	found := false
	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return Manifest{}, fmt.Errorf("read kafka: %w", err)
		}
		if string(m.Key) != string(k.key) {
			continue
		}
		var man Manifest
		if err := json.Unmarshal(m.Value, &man); err != nil {
			return Manifest{}, fmt.Errorf("unmarshal kafka manifest: %w", err)
		}
		last, found = man, true
	}
	if !found {
		return Manifest{}, ErrNoManifest
	}
	return last, nil
}
