package broadcast

import (
	"testing"

	"github.com/autodev-labs/autodev-engine/internal/domain"
)

// drainAck consumes the connection acknowledgement sent on Subscribe.
func drainAck(t *testing.T, sub *ChanSubscriber) {
	t.Helper()
	select {
	case ev := <-sub.Events():
		if ev.Type != domain.EventLogMessage {
			t.Fatalf("ack event type = %q, want log_message", ev.Type)
		}
	default:
		t.Fatal("no connection ack delivered on subscribe")
	}
}

func TestBroadcaster_SubscribeDeliversAck(t *testing.T) {
	b := New(nil)
	sub := NewChanSubscriber(4)
	b.Subscribe("exec-1", sub)
	drainAck(t, sub)
}

func TestBroadcaster_PublishReachesAllSubscribers(t *testing.T) {
	b := New(nil)
	s1 := NewChanSubscriber(4)
	s2 := NewChanSubscriber(4)
	b.Subscribe("exec-1", s1)
	b.Subscribe("exec-1", s2)
	drainAck(t, s1)
	drainAck(t, s2)

	b.Publish("exec-1", domain.NewStreamEvent(domain.EventExecutionStarted, "exec-1", nil, ""))

	for i, sub := range []*ChanSubscriber{s1, s2} {
		select {
		case ev := <-sub.Events():
			if ev.Type != domain.EventExecutionStarted {
				t.Errorf("subscriber %d got %q, want execution_started", i, ev.Type)
			}
		default:
			t.Errorf("subscriber %d received nothing", i)
		}
	}
}

func TestBroadcaster_UnsubscribeStopsDelivery(t *testing.T) {
	b := New(nil)
	s1 := NewChanSubscriber(4)
	s2 := NewChanSubscriber(4)
	h1 := b.Subscribe("exec-1", s1)
	b.Subscribe("exec-1", s2)
	drainAck(t, s1)
	drainAck(t, s2)

	b.Unsubscribe(h1)
	b.Publish("exec-1", domain.NewStreamEvent(domain.EventLogMessage, "exec-1", nil, "hello"))

	select {
	case ev := <-s1.Events():
		t.Errorf("removed subscriber received %q", ev.Type)
	default:
	}
	select {
	case ev := <-s2.Events():
		if ev.Message != "hello" {
			t.Errorf("remaining subscriber got message %q, want hello", ev.Message)
		}
	default:
		t.Error("remaining subscriber received nothing")
	}

	// Unsubscribe is idempotent.
	b.Unsubscribe(h1)
	if n := b.SubscriberCount("exec-1"); n != 1 {
		t.Errorf("SubscriberCount = %d, want 1", n)
	}
}

func TestBroadcaster_IsolationAcrossExecutions(t *testing.T) {
	b := New(nil)
	s1 := NewChanSubscriber(4)
	s2 := NewChanSubscriber(4)
	b.Subscribe("exec-1", s1)
	b.Subscribe("exec-2", s2)
	drainAck(t, s1)
	drainAck(t, s2)

	b.Publish("exec-1", domain.NewStreamEvent(domain.EventExecutionStarted, "exec-1", nil, ""))

	select {
	case ev := <-s2.Events():
		t.Errorf("exec-2 subscriber received event for exec-1: %q", ev.Type)
	default:
	}
}

func TestBroadcaster_DeadSubscriberRemoved(t *testing.T) {
	b := New(nil)
	dead := NewChanSubscriber(4)
	live := NewChanSubscriber(4)
	b.Subscribe("exec-1", dead)
	b.Subscribe("exec-1", live)
	drainAck(t, dead)
	drainAck(t, live)
	dead.Close()

	b.Publish("exec-1", domain.NewStreamEvent(domain.EventLogMessage, "exec-1", nil, "ping"))

	if n := b.SubscriberCount("exec-1"); n != 1 {
		t.Errorf("SubscriberCount after dead removal = %d, want 1", n)
	}
	select {
	case ev := <-live.Events():
		if ev.Message != "ping" {
			t.Errorf("live subscriber got %q, want ping", ev.Message)
		}
	default:
		t.Error("live subscriber received nothing after dead peer removal")
	}
}

func TestBroadcaster_NoReplayForLateSubscriber(t *testing.T) {
	b := New(nil)
	b.Publish("exec-1", domain.NewStreamEvent(domain.EventExecutionStarted, "exec-1", nil, ""))

	late := NewChanSubscriber(4)
	b.Subscribe("exec-1", late)
	drainAck(t, late)

	select {
	case ev := <-late.Events():
		t.Errorf("late subscriber received replayed event %q", ev.Type)
	default:
	}
}

func TestBroadcaster_SequenceAndOrdering(t *testing.T) {
	b := New(nil)
	sub := NewChanSubscriber(16)
	b.Subscribe("exec-1", sub)
	drainAck(t, sub)

	messages := []string{"one", "two", "three", "four"}
	for _, m := range messages {
		b.Publish("exec-1", domain.NewStreamEvent(domain.EventLogMessage, "exec-1", nil, m))
	}

	var lastSeq int64
	for _, want := range messages {
		ev := <-sub.Events()
		if ev.Message != want {
			t.Errorf("delivery order: got %q, want %q", ev.Message, want)
		}
		if ev.SeqNo <= lastSeq {
			t.Errorf("seq %d not increasing after %d", ev.SeqNo, lastSeq)
		}
		lastSeq = ev.SeqNo
	}
}

func TestBroadcaster_SinkReceivesSequencedEvents(t *testing.T) {
	var archived []domain.StreamEvent
	b := New(func(ev domain.StreamEvent) { archived = append(archived, ev) })

	b.Publish("exec-1", domain.NewStreamEvent(domain.EventExecutionStarted, "exec-1", nil, ""))
	b.Publish("exec-1", domain.NewStreamEvent(domain.EventLogMessage, "exec-1", nil, "x"))

	if len(archived) != 2 {
		t.Fatalf("sink got %d events, want 2", len(archived))
	}
	if archived[0].SeqNo != 1 || archived[1].SeqNo != 2 {
		t.Errorf("sink seq = %d, %d, want 1, 2", archived[0].SeqNo, archived[1].SeqNo)
	}
}
