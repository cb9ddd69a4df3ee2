package manifest

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
)

func TestPublishAndReadLatest(t *testing.T) {
	old := NowUnix
	defer func() { NowUnix = old }()
	NowUnix = func() int64 { return 1000 }

	ctx := context.Background()
	dir := t.TempDir()
	m := NewFilesystemManifest(dir)
	if _, err := m.ReadLatest(ctx); !errors.Is(err, ErrNoManifest) {
		t.Fatalf("empty dir: %v", err)
	}
	if err := m.PublishLatest(ctx, "sid-123", 42); err != nil {
		t.Fatalf("PublishLatest error: %v", err)
	}
	got, err := m.ReadLatest(ctx)
	if err != nil {
		t.Fatalf("ReadLatest error: %v", err)
	}
	if got != (Manifest{SnapshotID: "sid-123", LastChangelogOffset: 42, CreatedAtEpochSecond: 1000}) {
		t.Fatalf("unexpected manifest: %+v", got)
	}
	if age := got.Age(time.Unix(1060, 0)); age != time.Minute {
		t.Fatalf("age = %v", age)
	}
}

// fakeKafkaWriter implements kafkaMessageWriter for tests
type fakeKafkaWriter struct {
	msgs []kafka.Message
	fail bool
}

func (f *fakeKafkaWriter) WriteMessages(ctx context.Context, msgs ...kafka.Message) error {
	if f.fail {
		return errors.New("fail")
	}
	f.msgs = append(f.msgs, msgs...)
	return nil
}

func TestKafkaManifest_PublishLatest(t *testing.T) {
	fk := &fakeKafkaWriter{}
	km := NewKafkaManifestWith(fk, DefaultKey)
	if err := km.PublishLatest(context.Background(), "sid-abc", 99); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(fk.msgs) != 1 || string(fk.msgs[0].Key) != DefaultKey {
		t.Fatalf("bad messages: %+v", fk.msgs)
	}

	fk.fail = true
	if err := km.PublishLatest(context.Background(), "sid-abc", 99); err == nil {
		t.Fatalf("expected error")
	}
}

func TestMultiPublisher(t *testing.T) {
	a, b := &fakeKafkaWriter{}, &fakeKafkaWriter{}
	mp := NewMultiPublisher(NewKafkaManifestWith(a, "k"), NewKafkaManifestWith(b, "k"))
	if err := mp.PublishLatest(context.Background(), "sid", 1); err != nil {
		t.Fatalf("publish: %v", err)
	}
	if len(a.msgs) != 1 || len(b.msgs) != 1 {
		t.Fatalf("fan-out missing: %d %d", len(a.msgs), len(b.msgs))
	}
}

// fakeKafkaReader replays msgs, then blocks until the context ends.
type fakeKafkaReader struct {
	msgs   []kafka.Message
	closed bool
}

func (f *fakeKafkaReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	if len(f.msgs) > 0 {
		m := f.msgs[0]
		f.msgs = f.msgs[1:]
		return m, nil
	}
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeKafkaReader) Close() error { f.closed = true; return nil }

func record(t *testing.T, key string, m Manifest) kafka.Message {
	t.Helper()
	b, err := json.Marshal(m)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Key: []byte(key), Value: b}
}

func TestKafkaReader_KeepsLastForKey(t *testing.T) {
	fr := &fakeKafkaReader{msgs: []kafka.Message{
		record(t, DefaultKey, Manifest{SnapshotID: "s1", LastChangelogOffset: 1}),
		record(t, "other", Manifest{SnapshotID: "x"}),
		record(t, DefaultKey, Manifest{SnapshotID: "s2", LastChangelogOffset: 7}),
	}}
	got, err := NewKafkaReaderWith(fr, DefaultKey, 50*time.Millisecond).ReadLatest(context.Background())
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if got.SnapshotID != "s2" || got.LastChangelogOffset != 7 {
		t.Fatalf("got %+v", got)
	}
	if !fr.closed {
		t.Fatalf("reader not closed")
	}
}

func TestKafkaReader_NoRecord(t *testing.T) {
	fr := &fakeKafkaReader{}
	_, err := NewKafkaReaderWith(fr, DefaultKey, 20*time.Millisecond).ReadLatest(context.Background())
	if !errors.Is(err, ErrNoManifest) {
		t.Fatalf("err = %v", err)
	}
}
