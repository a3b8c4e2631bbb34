package stream

import (
	"context"
	"log/slog"
	"sync"
)

// Sink consumes the normalized fact stream. Implementations must be safe for
// concurrent use; emission order per channel is the engine's responsibility.
type Sink interface {
	Emit(ctx context.Context, fact Fact) error
}

// Fanout delivers each fact to every sink in order. A failing sink is logged
// and skipped; one slow or broken consumer must not starve the others.
type Fanout struct {
	logger *slog.Logger
	sinks  []Sink
}

// NewFanout creates a fan-out sink over the given sinks.
func NewFanout(log *slog.Logger, sinks ...Sink) *Fanout {
	if log == nil {
		log = slog.Default()
	}
	return &Fanout{logger: log, sinks: sinks}
}

func (f *Fanout) Emit(ctx context.Context, fact Fact) error {
	for _, s := range f.sinks {
		if err := s.Emit(ctx, fact); err != nil {
			f.logger.Warn("sink emit failed", slog.String("kind", string(fact.Kind)), slog.Any("error", err))
		}
	}
	return nil
}

// Collector is an in-memory sink for tests and in-process consumers.
type Collector struct {
	mu    sync.Mutex
	facts []Fact
}

// NewCollector creates an empty collector.
func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Emit(ctx context.Context, fact Fact) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = append(c.facts, fact)
	return nil
}

// Facts returns a copy of everything emitted so far.
func (c *Collector) Facts() []Fact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Fact, len(c.facts))
	copy(out, c.facts)
	return out
}

// OfKind returns the emitted facts of the given kind, in emission order.
func (c *Collector) OfKind(kind Kind) []Fact {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []Fact
	for _, f := range c.facts {
		if f.Kind == kind {
			out = append(out, f)
		}
	}
	return out
}

// Reset drops all collected facts.
func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.facts = nil
}
