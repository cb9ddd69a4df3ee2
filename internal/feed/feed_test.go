package feed

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	ck "github.com/confluentinc/confluent-kafka-go/v2/kafka"

	"rpn/internal/model"
)

// fakeConsumer serves queued messages, then timeouts until cancel is called.
type fakeConsumer struct {
	queue     []*ck.Message
	errs      []error
	committed []ck.Offset
	topics    []string
	cancel    context.CancelFunc
}

func (f *fakeConsumer) SubscribeTopics(topics []string, _ ck.RebalanceCb) error {
	f.topics = topics
	return nil
}

func (f *fakeConsumer) ReadMessage(time.Duration) (*ck.Message, error) {
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	if len(f.queue) == 0 {
		f.cancel()
		return nil, ck.NewError(ck.ErrTimedOut, "timed out", false)
	}
	m := f.queue[0]
	f.queue = f.queue[1:]
	return m, nil
}

func (f *fakeConsumer) CommitMessage(m *ck.Message) ([]ck.TopicPartition, error) {
	f.committed = append(f.committed, m.TopicPartition.Offset)
	return []ck.TopicPartition{m.TopicPartition}, nil
}

func (f *fakeConsumer) Close() error { return nil }

func msgAt(t *testing.T, off int64, v any) *ck.Message {
	t.Helper()
	var b []byte
	switch x := v.(type) {
	case string:
		b = []byte(x)
	default:
		var err error
		if b, err = json.Marshal(x); err != nil {
			t.Fatal(err)
		}
	}
	topic := "rpn.orders.paid"
	return &ck.Message{TopicPartition: ck.TopicPartition{Topic: &topic, Offset: ck.Offset(off)}, Value: b}
}

func TestRun_CommitsAfterHandlerAndSkipsMalformed(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeConsumer{
		cancel: cancel,
		errs:   []error{ck.NewError(ck.ErrTransport, "broker down", false)},
		queue: []*ck.Message{
			msgAt(t, 0, model.Order{ID: 1, OrderNumber: "RPN-1"}),
			msgAt(t, 1, "{not json"),
			msgAt(t, 2, model.Order{ID: 2, OrderNumber: "RPN-2"}),
		},
	}
	var seen []string
	c := NewConsumerWith(fc, "rpn.orders.paid", nil)
	err := c.Run(ctx, func(_ context.Context, o model.Order) error {
		seen = append(seen, o.OrderNumber)
		return nil
	})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(seen) != 2 || seen[0] != "RPN-1" || seen[1] != "RPN-2" {
		t.Fatalf("handled %v", seen)
	}
	if len(fc.committed) != 3 {
		t.Fatalf("committed %v", fc.committed)
	}
	if fc.topics[0] != "rpn.orders.paid" {
		t.Fatalf("subscribed to %v", fc.topics)
	}
}

func TestRun_HandlerErrorLeavesMessageUncommitted(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeConsumer{cancel: cancel, queue: []*ck.Message{msgAt(t, 5, model.Order{ID: 1, OrderNumber: "RPN-1"})}}
	boom := errors.New("state store closed")
	err := NewConsumerWith(fc, "rpn.orders.paid", nil).Run(ctx, func(context.Context, model.Order) error { return boom })
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v", err)
	}
	if len(fc.committed) != 0 {
		t.Fatalf("failed message was committed")
	}
}

func TestRun_FatalReadError(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	fc := &fakeConsumer{cancel: cancel, errs: []error{ck.NewError(ck.ErrFatal, "fenced", true)}}
	if err := NewConsumerWith(fc, "t", nil).Run(ctx, nil); err == nil {
		t.Fatalf("expected fatal error")
	}
}
