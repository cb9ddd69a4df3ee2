// Package changelog records every counted order so state can be rebuilt
// from a snapshot plus the entries written after it.
package changelog

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/segmentio/kafka-go"

	"rpn/internal/state"
)

// FileName is the changelog file inside the changelog directory.
const FileName = "tallies.jsonl"

// Entry is the record of one counted order. Replay applies Deltas only while
// Guard is absent from the store, so a repeated entry is harmless.
type Entry struct {
	Guard       string     `json:"guard"`
	Seq         int64      `json:"seq"`
	OrderNumber string     `json:"order_number,omitempty"`
	Deltas      []state.Op `json:"deltas"`
	TS          int64      `json:"ts"`
}

type Writer interface {
	Append(ctx context.Context, e Entry) error
}

// MultiWriter fans out writes to multiple underlying writers.
type MultiWriter struct {
	writers []Writer
}

func NewMultiWriter(ws ...Writer) *MultiWriter {
	return &MultiWriter{writers: ws}
}

func (m *MultiWriter) Append(ctx context.Context, e Entry) error {
	for _, w := range m.writers {
		if err := w.Append(ctx, e); err != nil {
			return err
		}
	}
	return nil
}

// Discard drops every entry. Used when no sink is configured.
type Discard struct{}

func (Discard) Append(context.Context, Entry) error { return nil }

// FileWriter appends entries as JSON lines. Each Append is synced before it
// returns. The offset of a file changelog is its line count.
type FileWriter struct {
	mu     sync.Mutex
	path   string
	offset int64
}

func NewFileWriter(dir string, filename string) (*FileWriter, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("mkdir: %w", err)
	}
	w := &FileWriter{path: filepath.Join(dir, filename)}
	n, err := CountLines(w.path)
	if err != nil {
		return nil, err
	}
	w.offset = n
	return w, nil
}

func (w *FileWriter) Path() string { return w.path }

// Offset is the number of entries written so far.
func (w *FileWriter) Offset() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.offset
}

func (w *FileWriter) Append(_ context.Context, e Entry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	f, err := os.OpenFile(w.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open: %w", err)
	}
	if err := json.NewEncoder(f).Encode(&e); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode: %w", err)
	}
	if err := f.Sync(); err != nil {
		_ = f.Close()
		return fmt.Errorf("sync: %w", err)
	}
	if err := f.Close(); err != nil {
		return err
	}
	w.offset++
	return nil
}

// CountLines returns the number of newline-terminated lines in path, or 0
// when it does not exist.
func CountLines(path string) (int64, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("open: %w", err)
	}
	defer f.Close()
	var n int64
	buf := make([]byte, 32<<10)
	for {
		c, err := f.Read(buf)
		n += int64(bytes.Count(buf[:c], []byte{'\n'}))
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("read: %w", err)
		}
	}
}

// KafkaWriter publishes entries to a Kafka topic, keyed by guard. Pure-Go client (segmentio/kafka-go).
type KafkaWriter struct {
	writer kafkaMessageWriter
}

// kafkaMessageWriter abstracts kafka.Writer for testability.
type kafkaMessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Brokers splits a comma-separated bootstrap list.
func Brokers(bootstrap string) []string {
	var brokers []string
	for _, a := range strings.Split(bootstrap, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			brokers = append(brokers, a)
		}
	}
	return brokers
}

// NewKafkaWriter creates a Kafka writer.
// bootstrap can be a comma-separated list of host:port.
func NewKafkaWriter(bootstrap string, topic string) *KafkaWriter {
	return &KafkaWriter{writer: &kafka.Writer{
		Addr:         kafka.TCP(Brokers(bootstrap)...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		Async:        false,
	}}
}

func (k *KafkaWriter) Append(ctx context.Context, e Entry) error {
	b, err := json.Marshal(&e)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	return k.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.Guard), Value: b})
}

func (k *KafkaWriter) Close() error {
	if c, ok := k.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}

// NewKafkaWriterWith is only for tests to inject a fake writer.
func NewKafkaWriterWith(w kafkaMessageWriter) *KafkaWriter {
	return &KafkaWriter{writer: w}
}
