// Package eventbus wires parsed events to their consumers in process.
// It replaces the untyped-payload/wildcard-listener pattern (SPEC_FULL.md
// REDESIGN FLAG) with a closed wire.Event sum type and per-subscriber
// buffered channels; the only "see everything" listener is the metrics
// tap, which only counts events, never interprets payloads.
package eventbus

import (
	"sync"

	"github.com/pumpfun-superbot/ingestor/internal/wire"
)

// Subscriber receives every event published to the bus, in publish
// order. Consumers must drain Events() promptly: the channel is buffered
// to absorb bursts, and once it is full Publish drops events for this
// subscriber instead of waiting.
type Subscriber struct {
	name string
	ch   chan wire.Event
}

func (s *Subscriber) Events() <-chan wire.Event { return s.ch }
func (s *Subscriber) Name() string              { return s.name }

// Tap is invoked for every event published, regardless of kind. It is the
// one sanctioned "wildcard" -- used only for metrics counting.
type Tap func(wire.Event)

// Bus is an in-process publish/subscribe hub. One publisher (the Event
// Parser) and many subscribers (Trade Handler, Graduation Tracker, Pool
// State Store, ...), matching the data-flow described in spec section 2.
type Bus struct {
	mu          sync.RWMutex
	subscribers []*Subscriber
	taps        []Tap
	bufferSize  int
}

// New creates a Bus whose subscriber channels are buffered to bufferSize.
func New(bufferSize int) *Bus {
	if bufferSize <= 0 {
		bufferSize = 256
	}
	return &Bus{bufferSize: bufferSize}
}

// Subscribe registers a new named consumer and returns its channel
// handle. Subscribing after Publish calls have started is safe.
func (b *Bus) Subscribe(name string) *Subscriber {
	b.mu.Lock()
	defer b.mu.Unlock()
	s := &Subscriber{name: name, ch: make(chan wire.Event, b.bufferSize)}
	b.subscribers = append(b.subscribers, s)
	return s
}

// Tap registers a wildcard observer used only for metrics (never for
// business logic -- see package doc).
func (b *Bus) Tap(fn Tap) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.taps = append(b.taps, fn)
}

// Publish fans an event out to every subscriber and tap. It never blocks
// indefinitely: a subscriber whose channel is full misses the event, and
// the drop is neither counted nor reported to the caller (back-pressure at the
// bus level is intentionally absent -- the slow consumer is the
// Persistence Layer, which applies its own watermarks per spec 4.8).
func (b *Bus) Publish(evt wire.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for _, tap := range b.taps {
		tap(evt)
	}
	for _, s := range b.subscribers {
		select {
		case s.ch <- evt:
		default:
		}
	}
}

// Close closes every subscriber channel. Call once, after all publishers
// have stopped.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, s := range b.subscribers {
		close(s.ch)
	}
	b.subscribers = nil
}
