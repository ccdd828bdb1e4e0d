// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package engine

import (
	"context"
	"sync"
	"sync/atomic"
)

// DefaultSubscriberBuffer is the per-subscriber queue length used when
// Subscribe is given a non-positive size.
const DefaultSubscriberBuffer = 16

// BroadcastSink fans cycle statistics out to live subscribers, such as the
// API's websocket stream.
//
// Record never blocks the engine: a subscriber whose queue is full misses
// that cycle and the drop is counted.
//
// Thread Safety: Safe for concurrent use.
type BroadcastSink struct {
	mu      sync.Mutex
	subs    map[uint64]chan CycleStats
	nextID  uint64
	closed  bool
	dropped atomic.Int64
}

// NewBroadcastSink returns a sink with no subscribers.
func NewBroadcastSink() *BroadcastSink {
	return &BroadcastSink{subs: make(map[uint64]chan CycleStats)}
}

// Name implements Sink.
func (b *BroadcastSink) Name() string { return "broadcast" }

// Subscribe registers a queue of the given size. The returned cancel func
// unregisters it and closes the channel; it is safe to call more than
// once. Subscribing to a closed sink returns an already closed channel.
func (b *BroadcastSink) Subscribe(buffer int) (<-chan CycleStats, func()) {
	if buffer <= 0 {
		buffer = DefaultSubscriberBuffer
	}
	ch := make(chan CycleStats, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *BroadcastSink) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped because a subscriber
// was behind.
func (b *BroadcastSink) Dropped() int64 { return b.dropped.Load() }

// Record implements Sink.
func (b *BroadcastSink) Record(_ context.Context, st CycleStats) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
			b.dropped.Add(1)
		}
	}
	return nil
}

// Close ends every subscription. Later Records are no-ops.
func (b *BroadcastSink) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
	return nil
}
