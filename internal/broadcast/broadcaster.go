// Package broadcast implements the per-execution publish/subscribe fan-out
// for execution stream events.
package broadcast

import (
	"fmt"
	"log"
	"sync"

	"github.com/google/uuid"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// Subscriber receives stream events for one execution. A Send error marks the
// subscriber dead; the broadcaster removes it and keeps delivering to others.
type Subscriber interface {
	Send(event domain.StreamEvent) error
}

// Subscription is the handle returned by Subscribe, used to unsubscribe.
type Subscription struct {
	ID          string
	ExecutionID string
	sub         Subscriber
}

// Sink receives a copy of every published event, after sequence assignment.
// Used to archive the event log without coupling the broadcaster to storage.
type Sink func(event domain.StreamEvent)

// Broadcaster fans events out to all live subscribers of an execution.
// There is no buffering or replay: a subscriber that joins after an event was
// published never receives it. For a fixed execution, events published by its
// single driving goroutine are delivered to each subscriber in emission order.
type Broadcaster struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
	seq  map[string]int64
	sink Sink
}

// New creates a Broadcaster. sink may be nil.
func New(sink Sink) *Broadcaster {
	return &Broadcaster{
		subs: make(map[string][]*Subscription),
		seq:  make(map[string]int64),
		sink: sink,
	}
}

// Subscribe registers a subscriber for an execution and immediately delivers
// a connection acknowledgement to it. The ack is connection-scoped and is not
// sequenced or archived.
func (b *Broadcaster) Subscribe(executionID string, sub Subscriber) *Subscription {
	handle := &Subscription{
		ID:          uuid.NewString(),
		ExecutionID: executionID,
		sub:         sub,
	}

	b.mu.Lock()
	b.subs[executionID] = append(b.subs[executionID], handle)
	b.mu.Unlock()

	ack := domain.NewStreamEvent(domain.EventLogMessage, executionID, nil,
		fmt.Sprintf("Connected to execution %s", executionID))
	if err := sub.Send(ack); err != nil {
		b.Unsubscribe(handle)
	}
	return handle
}

// Unsubscribe removes a subscription. It is idempotent; removing the last
// subscriber for an execution frees that execution's subscriber set.
func (b *Broadcaster) Unsubscribe(handle *Subscription) {
	if handle == nil {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.subs[handle.ExecutionID]
	for i, s := range subs {
		if s.ID == handle.ID {
			b.subs[handle.ExecutionID] = append(subs[:i], subs[i+1:]...)
			break
		}
	}
	if len(b.subs[handle.ExecutionID]) == 0 {
		delete(b.subs, handle.ExecutionID)
	}
}

// SubscriberCount returns the number of live subscribers for an execution.
func (b *Broadcaster) SubscriberCount(executionID string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[executionID])
}

// Publish assigns the event its per-execution sequence number and delivers it
// to every currently registered subscriber of that execution, best-effort.
// A failed delivery removes that subscriber without affecting the others and
// never surfaces to the publisher.
func (b *Broadcaster) Publish(executionID string, event domain.StreamEvent) {
	b.mu.Lock()
	b.seq[executionID]++
	event.SeqNo = b.seq[executionID]
	targets := make([]*Subscription, len(b.subs[executionID]))
	copy(targets, b.subs[executionID])
	b.mu.Unlock()

	if b.sink != nil {
		b.sink(event)
	}

	var dead []*Subscription
	for _, s := range targets {
		if err := s.sub.Send(event); err != nil {
			log.Printf("broadcast: dropping subscriber %s for execution %s: %v", s.ID, executionID, err)
			dead = append(dead, s)
		}
	}
	for _, s := range dead {
		b.Unsubscribe(s)
	}
}

// Drop forgets the sequence counter for an execution. Called after the
// execution has been archived; subscriber sets clean themselves up as
// subscribers disconnect.
func (b *Broadcaster) Drop(executionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.seq, executionID)
}
