package broadcast

import (
	"errors"
	"sync"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// ErrSubscriberClosed is returned by Send after Close.
var ErrSubscriberClosed = errors.New("subscriber is closed")

// ErrSubscriberFull is returned by Send when the buffer is full. The
// broadcaster treats any Send error as a dead subscriber.
var ErrSubscriberFull = errors.New("subscriber buffer is full")

// ChanSubscriber delivers events over a buffered channel. It is the
// in-process transport used by tests and by any component that wants to
// observe an execution without a network connection.
type ChanSubscriber struct {
	mu     sync.Mutex
	ch     chan domain.StreamEvent
	closed bool
}

// NewChanSubscriber creates a subscriber with the given buffer size.
func NewChanSubscriber(buffer int) *ChanSubscriber {
	return &ChanSubscriber{ch: make(chan domain.StreamEvent, buffer)}
}

// Send delivers the event without blocking. A full buffer counts as a
// delivery failure so that a stalled consumer cannot stall the publisher.
func (s *ChanSubscriber) Send(event domain.StreamEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSubscriberClosed
	}
	select {
	case s.ch <- event:
		return nil
	default:
		return ErrSubscriberFull
	}
}

// Events returns the receive side of the subscriber.
func (s *ChanSubscriber) Events() <-chan domain.StreamEvent {
	return s.ch
}

// Close stops the subscriber. Subsequent Sends fail and the events channel
// is closed after in-flight deliveries complete.
func (s *ChanSubscriber) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}
