// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package event carries the domain events emitted by the oracle, pool and bridge.
package event

import (
	"sync"

	"github.com/google/uuid"

	"github.com/luxfi/swapbridge/clock"
)

// Event is implemented by every emitted event struct.
type Event interface {
	EventName() string
}

// Emitter accepts events.
type Emitter interface {
	Emit(Event)
}

// Record is an event stamped with an id and emission time.
type Record struct {
	ID    uuid.UUID
	Time  uint64
	Event Event
}

// Name returns the event name.
func (r Record) Name() string {
	return r.Event.EventName()
}

// DefaultCapacity bounds the number of retained records.
const DefaultCapacity = 4096

// Bus records events in memory and fans them out to subscribers.
type Bus struct {
	clock    clock.Clock
	capacity int

	records []Record
	subs    map[uint64]func(Record)
	nextSub uint64

	mu sync.RWMutex
}

// NewBus creates a bus retaining at most DefaultCapacity records.
func NewBus(c clock.Clock) *Bus {
	return &Bus{
		clock:    c,
		capacity: DefaultCapacity,
		records:  make([]Record, 0, 64),
		subs:     make(map[uint64]func(Record)),
	}
}

// Emit stamps e and delivers it. Subscribers run after the bus lock is released.
func (b *Bus) Emit(e Event) {
	rec := Record{ID: uuid.New(), Time: b.clock.Now(), Event: e}

	b.mu.Lock()
	if len(b.records) >= b.capacity {
		copy(b.records, b.records[1:])
		b.records = b.records[:len(b.records)-1]
	}
	b.records = append(b.records, rec)
	subs := make([]func(Record), 0, len(b.subs))
	for _, fn := range b.subs {
		subs = append(subs, fn)
	}
	b.mu.Unlock()

	for _, fn := range subs {
		fn(rec)
	}
}

// Subscribe registers fn for every future event and returns a cancel func.
func (b *Bus) Subscribe(fn func(Record)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextSub
	b.nextSub++
	b.subs[id] = fn
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.subs, id)
	}
}

// Records returns a copy of the retained records, oldest first.
func (b *Bus) Records() []Record {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]Record, len(b.records))
	copy(out, b.records)
	return out
}

// Last returns the most recent record with the given name.
func (b *Bus) Last(name string) (Record, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for i := len(b.records) - 1; i >= 0; i-- {
		if b.records[i].Name() == name {
			return b.records[i], true
		}
	}
	return Record{}, false
}

// Count returns how many retained records have the given name.
func (b *Bus) Count(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	n := 0
	for _, r := range b.records {
		if r.Name() == name {
			n++
		}
	}
	return n
}

// Discard drops every event.
type Discard struct{}

// Emit does nothing.
func (Discard) Emit(Event) {}

// Pending queues events raised while a component lock is held.
// Flush is deferred before the lock is taken so it runs after the unlock:
//
//	pending := event.NewPending(c.events)
//	defer pending.Flush()
//	c.mu.Lock()
//	defer c.mu.Unlock()
type Pending struct {
	to     Emitter
	events []Event
}

// NewPending creates an empty queue that flushes into to.
func NewPending(to Emitter) *Pending {
	return &Pending{to: to}
}

// Add queues e.
func (p *Pending) Add(e Event) {
	p.events = append(p.events, e)
}

// Flush emits the queued events in order.
func (p *Pending) Flush() {
	for _, e := range p.events {
		p.to.Emit(e)
	}
	p.events = nil
}
