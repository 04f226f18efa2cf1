// SPDX-FileCopyrightText: SAP SE or an SAP affiliate company and Gardener contributors
//
// SPDX-License-Identifier: Apache-2.0

// Package events buffers and fans out the progress events of lab operations.
// It is transport-agnostic; the HTTP surface turns subscriptions into
// server-sent event streams.
package events

import (
	"context"
	"sync"
)

// EventType is the kind of a progress event. It becomes the event name on
// the wire.
type EventType string

const (
	// EventInfo is a progress message.
	EventInfo EventType = "info"
	// EventError is a recoverable error message; the operation continues or
	// fails with a later EventFailed.
	EventError EventType = "error"
	// EventComplete ends the stream of a successful operation.
	EventComplete EventType = "complete"
	// EventFailed ends the stream of a failed operation.
	EventFailed EventType = "failed"
)

// Event is one progress message of a lab operation.
type Event struct {
	// Type is the kind of the event.
	Type EventType `json:"-"`
	// Message is the human-readable progress message.
	Message string `json:"message"`
	// Progress is a rough progress percentage, zero when unknown.
	Progress int `json:"progress,omitempty"`
}

// Terminal reports whether the event ends its stream.
func (e Event) Terminal() bool {
	return e.Type == EventComplete || e.Type == EventFailed
}

// queueCapacity bounds every per-user event queue.
const queueCapacity = 100

type subscriber struct {
	cursor int
}

type queue struct {
	events      []Event
	subscribers map[*subscriber]struct{}
	wake        chan struct{}
	destroyed   bool
}

func newQueue() *queue {
	return &queue{
		subscribers: map[*subscriber]struct{}{},
		wake:        make(chan struct{}),
	}
}

// broadcast wakes all waiting subscribers. Must be called with the broker
// lock held.
func (q *queue) broadcast() {
	close(q.wake)
	q.wake = make(chan struct{})
}

// dropOldest removes the oldest non-terminal event and pulls back the
// cursors of subscribers that had already passed it. When every queued event
// is terminal the oldest one is dropped instead.
func (q *queue) dropOldest() {
	drop := 0
	for i, event := range q.events {
		if !event.Terminal() {
			drop = i
			break
		}
	}

	q.events = append(q.events[:drop], q.events[drop+1:]...)
	for sub := range q.subscribers {
		if sub.cursor > drop {
			sub.cursor--
		}
	}
}

// Broker buffers per-user event queues and replays them to subscribers.
type Broker struct {
	mutex  sync.Mutex
	queues map[string]*queue
}

// NewBroker returns a new empty Broker.
func NewBroker() *Broker {
	return &Broker{queues: map[string]*queue{}}
}

func (b *Broker) queue(username string) *queue {
	q, ok := b.queues[username]
	if !ok {
		q = newQueue()
		b.queues[username] = q
	}
	return q
}

// Append adds an event to the user's queue, dropping the oldest non-terminal
// event when the queue is full.
func (b *Broker) Append(username string, event Event) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q := b.queue(username)
	if len(q.events) >= queueCapacity {
		q.dropOldest()
	}
	q.events = append(q.events, event)
	q.broadcast()
}

// Clear empties the user's queue and resets all subscriber cursors, so that
// live subscriptions continue with the events of the next operation.
func (b *Broker) Clear(username string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[username]
	if !ok {
		return
	}

	q.events = nil
	for sub := range q.subscribers {
		sub.cursor = 0
	}
	q.broadcast()
}

// Destroy removes the user's queue and terminates all its subscriptions.
func (b *Broker) Destroy(username string) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	q, ok := b.queues[username]
	if !ok {
		return
	}

	q.destroyed = true
	q.broadcast()
	delete(b.queues, username)
}

// Subscribe replays the user's queued events in order and then streams new
// ones. The channel is closed after a terminal event has been delivered,
// when the queue is destroyed, when ctx ends, or when the returned cancel
// function is called.
func (b *Broker) Subscribe(ctx context.Context, username string) (<-chan Event, func()) {
	var (
		out      = make(chan Event)
		stop     = make(chan struct{})
		stopOnce sync.Once
		sub      = &subscriber{}
	)

	b.mutex.Lock()
	q := b.queue(username)
	q.subscribers[sub] = struct{}{}
	b.mutex.Unlock()

	go func() {
		defer close(out)
		defer func() {
			b.mutex.Lock()
			delete(q.subscribers, sub)
			b.mutex.Unlock()
		}()

		for {
			b.mutex.Lock()
			for sub.cursor < len(q.events) {
				event := q.events[sub.cursor]
				sub.cursor++
				b.mutex.Unlock()

				select {
				case out <- event:
				case <-ctx.Done():
					return
				case <-stop:
					return
				}
				if event.Terminal() {
					return
				}

				b.mutex.Lock()
			}
			destroyed, wake := q.destroyed, q.wake
			b.mutex.Unlock()

			if destroyed {
				return
			}
			select {
			case <-wake:
			case <-ctx.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	return out, func() { stopOnce.Do(func() { close(stop) }) }
}
