package events

import (
	"encoding/json"
	"sync"
	"time"
)

// Event is a single observability event published by the core.
type Event struct {
	Stream    string                 `json:"stream"`
	Type      string                 `json:"type"`
	Source    string                 `json:"source,omitempty"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
	Seq       uint64                 `json:"seq"`
}

// Marshal returns JSON for event payloads in logs or downstream sinks.
func (e Event) Marshal() []byte {
	b, _ := json.Marshal(e)
	return b
}

// Sink receives events published by core components. Components hold a Sink,
// never a concrete bus, so gateways can swap in their own delivery.
type Sink interface {
	Publish(evt Event)
}

// Bus provides in-memory pub/sub for core events with per-stream replay.
// It is handed to components at construction; there is no process-wide bus.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]map[chan Event]struct{}
	// per-stream ring buffer for replay support
	history  map[string]*ring
	capacity int
	closed   bool
}

// NewBus creates a bus whose replay rings hold capacity events per stream.
func NewBus(capacity int) *Bus {
	if capacity <= 0 {
		capacity = 256
	}
	return &Bus{
		subscribers: make(map[string]map[chan Event]struct{}),
		history:     make(map[string]*ring),
		capacity:    capacity,
	}
}

// Subscribe adds a subscriber channel for a stream; caller must drain and
// call Unsubscribe. An empty stream subscribes to all events.
func (b *Bus) Subscribe(stream string, buffer int) chan Event {
	ch := make(chan Event, buffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	subs := b.subscribers[stream]
	if subs == nil {
		subs = make(map[chan Event]struct{})
		b.subscribers[stream] = subs
	}
	subs[ch] = struct{}{}
	return ch
}

// Unsubscribe removes the subscriber channel and closes it.
func (b *Bus) Unsubscribe(stream string, ch chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if subs, ok := b.subscribers[stream]; ok {
		if _, ok := subs[ch]; !ok {
			return
		}
		delete(subs, ch)
		close(ch)
		if len(subs) == 0 {
			delete(b.subscribers, stream)
		}
	}
}

// Publish assigns a sequence number and delivers the event to stream
// subscribers and wildcard subscribers (non-blocking; slow readers drop).
func (b *Bus) Publish(evt Event) {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	rg := b.history[evt.Stream]
	if rg == nil {
		rg = newRing(b.capacity)
		b.history[evt.Stream] = rg
	}
	evt.Seq = rg.nextSeq
	rg.nextSeq++
	rg.push(evt)
	targets := make([]chan Event, 0, 4)
	for ch := range b.subscribers[evt.Stream] {
		targets = append(targets, ch)
	}
	if evt.Stream != "" {
		for ch := range b.subscribers[""] {
			targets = append(targets, ch)
		}
	}
	b.mu.Unlock()
	for _, ch := range targets {
		select {
		case ch <- evt:
		default:
			// Drop if subscriber is slow
		}
	}
}

// ReplaySince returns events on stream with Seq > since, best-effort within
// ring capacity. The lock is held across the ring scan; Publish mutates the
// ring under the same lock.
func (b *Bus) ReplaySince(stream string, since uint64) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	rg := b.history[stream]
	if rg == nil {
		return nil
	}
	return rg.since(since)
}

// Close unsubscribes every channel. Publish after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for stream, subs := range b.subscribers {
		for ch := range subs {
			close(ch)
		}
		delete(b.subscribers, stream)
	}
}

// ring is a fixed-capacity ring buffer of events.
type ring struct {
	buf     []Event
	start   int
	count   int
	nextSeq uint64
}

func newRing(capacity int) *ring { return &ring{buf: make([]Event, capacity)} }

func (r *ring) push(e Event) {
	if len(r.buf) == 0 {
		return
	}
	if r.count < len(r.buf) {
		r.buf[(r.start+r.count)%len(r.buf)] = e
		r.count++
		return
	}
	// overwrite oldest
	r.buf[r.start] = e
	r.start = (r.start + 1) % len(r.buf)
}

func (r *ring) since(seq uint64) []Event {
	if r.count == 0 {
		return nil
	}
	out := make([]Event, 0, r.count)
	for i := 0; i < r.count; i++ {
		ev := r.buf[(r.start+i)%len(r.buf)]
		if ev.Seq > seq {
			out = append(out, ev)
		}
	}
	return out
}

// NopSink discards all events; used where observability is disabled.
type NopSink struct{}

func (NopSink) Publish(Event) {}
