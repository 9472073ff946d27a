package kafkaconsumer

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation"
)

type fakeCache struct {
	failFirst atomic.Bool
	mu        sync.Mutex
	bumped    []model.EntityType
}

func (f *fakeCache) Invalidate(_ context.Context, ts ...model.EntityType) error {
	if f.failFirst.Load() {
		f.failFirst.Store(false)
		return errors.New("boom")
	}
	f.mu.Lock()
	f.bumped = append(f.bumped, ts...)
	f.mu.Unlock()
	return nil
}

type sess struct {
	ctx    context.Context
	mu     sync.Mutex
	marked []int64
}

func (s *sess) Claims() map[string][]int32 { return nil }
func (s *sess) MemberID() string           { return "" }
func (s *sess) GenerationID() int32        { return 0 }
func (s *sess) MarkMessage(m *sarama.ConsumerMessage, _ string) {
	s.mu.Lock()
	s.marked = append(s.marked, m.Offset)
	s.mu.Unlock()
}
func (s *sess) ResetOffset(_ string, _ int32, _ int64, _ string) {}
func (s *sess) MarkOffset(_ string, _ int32, _ int64, _ string)  {}
func (s *sess) Context() context.Context                         { return s.ctx }
func (s *sess) Errors() <-chan error                             { return nil }
func (s *sess) Commit()                                          {}

type claim struct {
	part int32
	msgs chan *sarama.ConsumerMessage
}

func (c *claim) Topic() string                            { return "csa-entity-changes" }
func (c *claim) Partition() int32                         { return c.part }
func (c *claim) InitialOffset() int64                     { return 0 }
func (c *claim) HighWaterMarkOffset() int64               { return 0 }
func (c *claim) Messages() <-chan *sarama.ConsumerMessage { return c.msgs }

func eventBytes(entityType, source string) []byte {
	ev := invalidation.Event{
		Version: 1, Op: invalidation.OpCreate, EntityType: entityType,
		IDs: []string{"id-1"}, TS: time.Now().UTC(), Source: source,
	}
	b, _ := json.Marshal(ev)
	return b
}

func newConsumerForTest(fc Invalidator) *Consumer {
	cfg := Config{Brokers: []string{"x"}, Topic: "csa-entity-changes", GroupID: "g"}
	return New(cfg, slog.New(slog.NewTextHandler(io.Discard, nil)), fc, "self")
}

func TestSinglePartition_OrderAndCommitAfterWork(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)

	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}
	ch := make(chan *sarama.ConsumerMessage, 2)
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 10, Value: eventBytes("systems", "other")}
	ch <- &sarama.ConsumerMessage{Partition: 0, Offset: 11, Value: eventBytes("procedures", "other")}
	close(ch)

	if err := g.ConsumeClaim(s, &claim{part: 0, msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim: %v", err)
	}
	if len(s.marked) != 2 || s.marked[0] != 10 || s.marked[1] != 11 {
		t.Fatalf("marked offsets=%v want [10 11]", s.marked)
	}
	want := []model.EntityType{model.Systems, model.Deployments, model.SamplingFeatures, model.Procedures}
	if len(fc.bumped) != len(want) {
		t.Fatalf("bumped=%v want %v", fc.bumped, want)
	}
	for i := range want {
		if fc.bumped[i] != want[i] {
			t.Fatalf("bumped=%v want %v", fc.bumped, want)
		}
	}
}

func TestRetry_CommitOnceAfterSuccess(t *testing.T) {
	fc := &fakeCache{}
	fc.failFirst.Store(true)
	c := newConsumerForTest(fc)
	ctx := context.Background()

	msg := &sarama.ConsumerMessage{Partition: 0, Offset: 5, Value: eventBytes("properties", "")}
	s := &sess{ctx: ctx}
	g := &groupHandler{process: c.ProcessOne}

	ch := make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err == nil {
		t.Fatalf("expected error on first attempt")
	}
	if len(s.marked) != 0 {
		t.Fatalf("failed message must not be marked, marked=%v", s.marked)
	}

	ch = make(chan *sarama.ConsumerMessage, 1)
	ch <- msg
	close(ch)
	if err := g.ConsumeClaim(s, &claim{msgs: ch}); err != nil {
		t.Fatalf("ConsumeClaim second attempt: %v", err)
	}
	if len(s.marked) != 1 || s.marked[0] != 5 {
		t.Fatalf("offset was not marked after success; marked=%v", s.marked)
	}
}

func TestPoisonMessagesAreSkipped(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	ctx := context.Background()

	for _, v := range [][]byte{[]byte("{"), []byte(`{"version":1,"op":"create","entityType":"things","ids":["x"],"ts":"2025-01-01T00:00:00Z"}`)} {
		if err := c.ProcessOne(ctx, &sarama.ConsumerMessage{Value: v}); err != nil {
			t.Fatalf("poison message must be skipped, got %v", err)
		}
	}
	if len(fc.bumped) != 0 {
		t.Fatalf("bumped=%v want none", fc.bumped)
	}
}

func TestOwnEventsAreIgnored(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	if err := c.ProcessOne(context.Background(), &sarama.ConsumerMessage{Value: eventBytes("systems", "self")}); err != nil {
		t.Fatalf("ProcessOne: %v", err)
	}
	if len(fc.bumped) != 0 {
		t.Fatalf("own event bumped %v", fc.bumped)
	}
}

func TestMultiPartition_Parallel_NoCrossOrdering(t *testing.T) {
	fc := &fakeCache{}
	c := newConsumerForTest(fc)
	g := &groupHandler{process: c.ProcessOne}
	s := &sess{ctx: t.Context()}

	p0 := make(chan *sarama.ConsumerMessage, 2)
	p1 := make(chan *sarama.ConsumerMessage, 2)
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 1, Value: eventBytes("systems", "")}
	p0 <- &sarama.ConsumerMessage{Partition: 0, Offset: 2, Value: eventBytes("systems", "")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 1, Value: eventBytes("datastreams", "")}
	p1 <- &sarama.ConsumerMessage{Partition: 1, Offset: 2, Value: eventBytes("datastreams", "")}
	close(p0)
	close(p1)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 0, msgs: p0}) }()
	go func() { defer wg.Done(); _ = g.ConsumeClaim(s, &claim{part: 1, msgs: p1}) }()
	wg.Wait()

	if len(s.marked) != 4 {
		t.Fatalf("expected 4 marks total; got %v", s.marked)
	}
}
