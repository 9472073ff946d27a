package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"

	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation"
	h3mapper "github.com/mohammed-shakir/connected-systems/internal/mapper/h3"
)

func quiet() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func TestPublisher_ProducesJSONEvent(t *testing.T) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Errors = true
	prod := mocks.NewAsyncProducer(t, cfg)
	prod.ExpectInputWithCheckerFunctionAndSucceed(func(b []byte) error {
		var ev invalidation.Event
		if err := json.Unmarshal(b, &ev); err != nil {
			return err
		}
		if ev.EntityType != "systems" || ev.Op != invalidation.OpCreate || len(ev.IDs) != 1 {
			return errors.New("unexpected event payload")
		}
		return nil
	})

	p := newPublisher(quiet(), prod, "t", 4)
	p.Publish(invalidation.Event{Version: 1, Op: invalidation.OpCreate, EntityType: "systems", IDs: []string{"s1"}, TS: time.Now()})
	if err := p.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

type recordingSink struct{ got []invalidation.Event }

func (b *recordingSink) Publish(ev invalidation.Event) { b.got = append(b.got, ev) }

func TestPublisher_DropsWhenQueueFull(t *testing.T) {
	p := &Publisher{events: make(chan invalidation.Event, 1)}
	p.Publish(invalidation.Event{Op: invalidation.OpCreate})
	done := make(chan struct{})
	go func() {
		p.Publish(invalidation.Event{Op: invalidation.OpCreate})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("Publish blocked on a full queue")
	}
	if len(p.events) != 1 {
		t.Fatalf("queued=%d want 1", len(p.events))
	}
}

func TestEmitter_TagsCellsFromGeometryOrPosition(t *testing.T) {
	sink := &recordingSink{}
	e := NewEmitter(quiet(), sink, h3mapper.New(), 7, "replica-a")
	e.now = func() time.Time { return time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC) }

	bodies := []map[string]any{
		{"name": "a", "position": map[string]any{"type": "Point", "coordinates": []any{18.0686, 59.3293}}},
		{"name": "b", "geometry": map[string]any{"type": "Point", "coordinates": []any{18.0686, 59.3293}}},
		{"name": "c"},
	}
	e.Emit(context.Background(), invalidation.OpCreate, model.Systems, []string{"a", "b", "c"}, bodies)

	if len(sink.got) != 1 {
		t.Fatalf("events=%d want 1", len(sink.got))
	}
	ev := sink.got[0]
	if err := ev.Validate(); err != nil {
		t.Fatalf("emitted invalid event: %v", err)
	}
	if len(ev.Cells) != 1 {
		t.Fatalf("cells=%v want one shared cell", ev.Cells)
	}
	if ev.Source != "replica-a" || ev.EntityType != "systems" {
		t.Fatalf("event=%+v", ev)
	}
}

func TestEmitter_FallsBackToBBox(t *testing.T) {
	sink := &recordingSink{}
	m := h3mapper.New()
	e := NewEmitter(quiet(), sink, m, 7, "replica-a")

	box := []any{18.0, 59.3, 18.1, 59.4}
	e.Emit(context.Background(), invalidation.OpUpdate, model.SamplingFeatures, []string{"sf"},
		[]map[string]any{{"name": "area", "bbox": box}})

	want, err := m.CellsForBBox(model.BBox{X1: 18.0, Y1: 59.3, X2: 18.1, Y2: 59.4}, 7)
	if err != nil || len(want) == 0 {
		t.Fatalf("CellsForBBox=%v err=%v", want, err)
	}
	if len(sink.got) != 1 || len(sink.got[0].Cells) != len(want) {
		t.Fatalf("events=%+v want %d cells", sink.got, len(want))
	}

	sink.got = nil
	e.Emit(context.Background(), invalidation.OpUpdate, model.SamplingFeatures, []string{"sf"},
		[]map[string]any{{
			"bbox":     box,
			"geometry": map[string]any{"type": "Point", "coordinates": []any{18.0686, 59.3293}},
		}})
	if len(sink.got[0].Cells) != 1 {
		t.Fatalf("geometry must win over bbox, cells=%v", sink.got[0].Cells)
	}

	sink.got = nil
	e.Emit(context.Background(), invalidation.OpUpdate, model.SamplingFeatures, []string{"sf"},
		[]map[string]any{{"bbox": []any{18.0, "x", 18.1, 59.4}}})
	if len(sink.got[0].Cells) != 0 {
		t.Fatalf("malformed bbox cells=%v", sink.got[0].Cells)
	}
}

func TestEmitter_NilIsNoop(t *testing.T) {
	var e *Emitter
	e.Emit(context.Background(), invalidation.OpDelete, model.Systems, []string{"x"}, nil)
}
