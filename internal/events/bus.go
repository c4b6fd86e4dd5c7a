// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package events provides the in-process signals that loosely couple the chat
// session to the rest of the client: starting a new chat, refreshing the
// thread history list, and stopping the active stream.
package events

import (
	"sync"
	"time"

	"go.uber.org/zap"
)

// Topic names a signal.
type Topic string

const (
	// TopicNewChat resets the session to an empty conversation.
	TopicNewChat Topic = "new-chat"
	// TopicRefreshHistory announces that the thread list changed.
	TopicRefreshHistory Topic = "refresh-husky-history"
	// TopicStopStream asks the active stream to stop.
	TopicStopStream Topic = "stop-stream"
)

// Event is one published signal.
type Event struct {
	Topic    Topic
	ThreadID string // optional
	At       time.Time
}

// Handler receives events for a topic.
type Handler func(Event)

type subscription struct {
	id int
	fn Handler
}

// Bus is a synchronous publish/subscribe hub. Handlers run on the publisher's
// goroutine, in subscription order, without the bus lock held, so a handler
// may publish or unsubscribe.
type Bus struct {
	mu     sync.RWMutex
	subs   map[Topic][]subscription
	nextID int
	logger *zap.Logger
}

// NewBus creates an empty bus. A nil logger discards panic reports.
func NewBus(logger *zap.Logger) *Bus {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bus{
		subs:   make(map[Topic][]subscription),
		logger: logger,
	}
}

// Subscribe registers fn for topic and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *Bus) Subscribe(topic Topic, fn Handler) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs[topic] = append(b.subs[topic], subscription{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(topic, id) })
	}
}

func (b *Bus) unsubscribe(topic Topic, id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[topic]
	for i, s := range subs {
		if s.id == id {
			// Copy so in-flight Publish snapshots stay intact.
			next := make([]subscription, 0, len(subs)-1)
			next = append(next, subs[:i]...)
			next = append(next, subs[i+1:]...)
			b.subs[topic] = next
			return
		}
	}
}

// Publish delivers ev to every current subscriber of ev.Topic. A zero At is
// stamped with the current time.
func (b *Bus) Publish(ev Event) {
	if ev.At.IsZero() {
		ev.At = time.Now()
	}

	b.mu.RLock()
	subs := b.subs[ev.Topic]
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s.fn, ev)
	}
}

// Emit publishes a bare event for topic.
func (b *Bus) Emit(topic Topic, threadID string) {
	b.Publish(Event{Topic: topic, ThreadID: threadID})
}

// SubscriberCount returns the number of handlers for topic.
func (b *Bus) SubscriberCount(topic Topic) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}

func (b *Bus) deliver(fn Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				zap.String("topic", string(ev.Topic)),
				zap.Any("panic", r))
		}
	}()
	fn(ev)
}
