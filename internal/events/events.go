// Package events publishes entity change events to Kafka.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/IBM/sarama"

	"github.com/mohammed-shakir/connected-systems/internal/core/config"
	"github.com/mohammed-shakir/connected-systems/internal/core/model"
	obs "github.com/mohammed-shakir/connected-systems/internal/core/observability"
	"github.com/mohammed-shakir/connected-systems/internal/invalidation"
	"github.com/mohammed-shakir/connected-systems/internal/mapper"
)

type Publisher struct {
	topic   string
	events  chan invalidation.Event
	prod    sarama.AsyncProducer
	log     *slog.Logger
	stopped chan struct{}
}

func NewPublisher(logger *slog.Logger, cfg config.EventsCfg) (*Publisher, error) {
	sc := sarama.NewConfig()
	sc.Version = sarama.V2_5_0_0
	sc.Producer.Return.Errors = true
	sc.Producer.Return.Successes = false

	prod, err := sarama.NewAsyncProducer(cfg.Brokers, sc)
	if err != nil {
		return nil, fmt.Errorf("events: create async producer: %w", err)
	}
	return newPublisher(logger, prod, cfg.Topic, cfg.QueueSize), nil
}

func newPublisher(logger *slog.Logger, prod sarama.AsyncProducer, topic string, queueSize int) *Publisher {
	if queueSize <= 0 {
		queueSize = 1024
	}
	p := &Publisher{
		topic:   topic,
		events:  make(chan invalidation.Event, queueSize),
		prod:    prod,
		log:     logger,
		stopped: make(chan struct{}),
	}

	go func() {
		defer close(p.stopped)
		for ev := range p.events {
			b, err := json.Marshal(ev)
			if err != nil {
				p.log.Error("events: marshal", "err", err)
				continue
			}
			p.prod.Input() <- &sarama.ProducerMessage{
				Topic: p.topic,
				// same entity type, same partition: consumers see its events in order
				Key:   sarama.StringEncoder(ev.EntityType),
				Value: sarama.ByteEncoder(b),
			}
		}
	}()

	go func() {
		for err := range p.prod.Errors() {
			if err != nil {
				obs.IncEntityEvent("produce", "error")
				p.log.Warn("events: producer error", "err", err)
			}
		}
	}()

	return p
}

// Publish never blocks. Events are dropped when the queue is full.
func (p *Publisher) Publish(ev invalidation.Event) {
	select {
	case p.events <- ev:
		obs.IncEntityEvent(ev.Op, "queued")
	default:
		obs.IncEntityEvent(ev.Op, "dropped")
	}
}

func (p *Publisher) Close() error {
	close(p.events)
	<-p.stopped

	if err := p.prod.Close(); err != nil {
		return fmt.Errorf("events: close producer: %w", err)
	}
	return nil
}

type Sink interface {
	Publish(ev invalidation.Event)
}

// Emitter turns successful mutations into events tagged with H3 cells
type Emitter struct {
	sink   Sink
	mapper mapper.Interface
	res    int
	source string
	now    func() time.Time
	log    *slog.Logger
}

func NewEmitter(logger *slog.Logger, sink Sink, m mapper.Interface, res int, source string) *Emitter {
	return &Emitter{sink: sink, mapper: m, res: res, source: source, now: time.Now, log: logger}
}

// Emit publishes one event for ids. bodies are the written payloads, when
// known, and only serve to derive cells.
func (e *Emitter) Emit(ctx context.Context, op string, t model.EntityType, ids []string, bodies []map[string]any) {
	if e == nil || len(ids) == 0 {
		return
	}
	e.sink.Publish(invalidation.Event{
		Version:    1,
		Op:         op,
		EntityType: t.String(),
		IDs:        ids,
		TS:         e.now().UTC(),
		Cells:      e.cells(ctx, bodies),
		Source:     e.source,
	})
}

func (e *Emitter) cells(ctx context.Context, bodies []map[string]any) []string {
	if e.mapper == nil {
		return nil
	}
	seen := map[string]struct{}{}
	var out []string
	for _, b := range bodies {
		cells, err := e.cellsOf(b)
		if err != nil {
			e.log.DebugContext(ctx, "events: no cells for geometry", "err", err)
			continue
		}
		for _, c := range cells {
			if _, ok := seen[c]; !ok {
				seen[c] = struct{}{}
				out = append(out, c)
			}
		}
	}
	return out
}

// cellsOf covers the body's geometry, falling back to its GeoJSON bbox member
func (e *Emitter) cellsOf(body map[string]any) (model.Cells, error) {
	if g := geometryOf(body); g != nil {
		raw, err := json.Marshal(g)
		if err != nil {
			return nil, fmt.Errorf("marshal geometry: %w", err)
		}
		return e.mapper.CellsForGeometry(raw, e.res)
	}
	if bb, ok := bboxOf(body); ok {
		return e.mapper.CellsForBBox(bb, e.res)
	}
	return nil, nil
}

// bboxOf reads a 2D or 3D GeoJSON bbox array
func bboxOf(body map[string]any) (model.BBox, bool) {
	arr, ok := body["bbox"].([]any)
	if !ok || (len(arr) != 4 && len(arr) != 6) {
		return model.BBox{}, false
	}
	nums := make([]float64, len(arr))
	for i, v := range arr {
		f, ok := v.(float64)
		if !ok {
			return model.BBox{}, false
		}
		nums[i] = f
	}
	if len(nums) == 6 {
		return model.BBox{X1: nums[0], Y1: nums[1], Z1: nums[2], X2: nums[3], Y2: nums[4], Z2: nums[5], HasZ: true}, true
	}
	return model.BBox{X1: nums[0], Y1: nums[1], X2: nums[2], Y2: nums[3]}, true
}

func geometryOf(body map[string]any) any {
	for _, k := range []string{"geometry", "position"} {
		if g, ok := body[k].(map[string]any); ok {
			if _, typed := g["type"]; typed {
				return g
			}
		}
	}
	return nil
}
