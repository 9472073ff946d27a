// Package expdecay scores keys with an exponentially decaying request count.
package expdecay

import (
	"math"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/mohammed-shakir/connected-systems/internal/hotness"
)

const numShards = 64

// coldScore is the score below which a counter may be dropped when its shard is full
const coldScore = 0.05

type Tracker struct {
	HalfLife time.Duration
	// ShardCap bounds the counters kept per shard; cold ones are dropped first
	ShardCap int

	now func() time.Time

	shards [numShards]shard
}

type shard struct {
	mu sync.RWMutex
	m  map[string]*counter
}

type counter struct {
	score float64
	last  time.Time
}

var _ hotness.Interface = (*Tracker)(nil)

func New(halfLife time.Duration, shardCap int) *Tracker {
	if halfLife <= 0 {
		halfLife = time.Minute
	}
	if shardCap <= 0 {
		shardCap = 1024
	}
	t := &Tracker{HalfLife: halfLife, ShardCap: shardCap, now: time.Now}
	for i := range t.shards {
		t.shards[i].m = make(map[string]*counter)
	}
	return t
}

func (t *Tracker) Inc(key string) {
	if key == "" {
		return
	}
	s := t.pick(key)
	n := t.now()

	s.mu.Lock()
	defer s.mu.Unlock()

	c := s.m[key]
	if c == nil {
		if len(s.m) >= t.ShardCap {
			t.evictCold(s, n)
		}
		s.m[key] = &counter{score: 1, last: n}
		return
	}
	c.score = decay(c.score, n.Sub(c.last).Seconds(), t.HalfLife.Seconds()) + 1.0
	c.last = n
}

// evictCold drops counters that decayed below coldScore. When none did, the
// coldest one goes. s must be locked.
func (t *Tracker) evictCold(s *shard, n time.Time) {
	hl := t.HalfLife.Seconds()
	coldest, coldestScore := "", math.Inf(1)
	for k, c := range s.m {
		sc := decay(c.score, n.Sub(c.last).Seconds(), hl)
		if sc < coldScore {
			delete(s.m, k)
			continue
		}
		if sc < coldestScore {
			coldest, coldestScore = k, sc
		}
	}
	if len(s.m) >= t.ShardCap && coldest != "" {
		delete(s.m, coldest)
	}
}

func (t *Tracker) Score(key string) float64 {
	if key == "" {
		return 0
	}
	s := t.pick(key)
	n := t.now()

	s.mu.RLock()
	c := s.m[key]
	if c == nil {
		s.mu.RUnlock()
		return 0
	}
	score, last := c.score, c.last
	s.mu.RUnlock()

	return decay(score, n.Sub(last).Seconds(), t.HalfLife.Seconds())
}

func (t *Tracker) Reset(keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		s := t.pick(key)
		s.mu.Lock()
		delete(s.m, key)
		s.mu.Unlock()
	}
}

// decay applies e^(-λt) with λ = ln2 / halfLife
func decay(score, dt, halfLife float64) float64 {
	if score == 0 || dt <= 0 || halfLife <= 0 {
		return score
	}
	return score * math.Exp(-math.Ln2/halfLife*dt)
}

func (t *Tracker) pick(key string) *shard {
	h := xxhash.Sum64String(key)
	return &t.shards[h&(numShards-1)]
}

func (t *Tracker) Size() int {
	total := 0
	for i := range t.shards {
		t.shards[i].mu.RLock()
		total += len(t.shards[i].m)
		t.shards[i].mu.RUnlock()
	}
	return total
}
