package eventbus

import (
	"testing"
	"time"
)

func TestPublishFanout(t *testing.T) {
	t.Parallel()
	b := New()

	ch1, unsub1 := b.Subscribe(4)
	ch2, unsub2 := b.Subscribe(4)
	defer unsub1()
	defer unsub2()

	b.Publish(Event{Type: "task.finished", Data: 42})

	for i, ch := range []<-chan Event{ch1, ch2} {
		select {
		case e := <-ch:
			if e.Type != "task.finished" {
				t.Fatalf("subscriber %d: Type = %q, want task.finished", i, e.Type)
			}
			if e.Time.IsZero() {
				t.Fatalf("subscriber %d: Time not stamped", i)
			}
		default:
			t.Fatalf("subscriber %d: no event delivered", i)
		}
	}
}

func TestSubscribeTypeFilter(t *testing.T) {
	t.Parallel()
	b := New()

	failures, unsub := b.Subscribe(4, "task.failed", "task.rejected")
	defer unsub()

	b.Publish(Event{Type: "task.finished"})
	b.Publish(Event{Type: "task.failed"})
	b.Publish(Event{Type: "task.rejected"})

	got := make([]string, 0, 2)
	for len(got) < 2 {
		select {
		case e := <-failures:
			got = append(got, e.Type)
		case <-time.After(time.Second):
			t.Fatalf("filtered subscriber received %d events, want 2", len(got))
		}
	}
	if got[0] != "task.failed" || got[1] != "task.rejected" {
		t.Fatalf("unexpected event order: %v", got)
	}
	select {
	case e := <-failures:
		t.Fatalf("filter leaked event %q", e.Type)
	default:
	}
}

func TestSlowSubscriberDrops(t *testing.T) {
	t.Parallel()
	b := New()

	_, unsub := b.Subscribe(1)
	defer unsub()

	b.Publish(Event{Type: "a"})
	b.Publish(Event{Type: "b"})
	b.Publish(Event{Type: "c"})

	if got := b.Dropped(); got != 2 {
		t.Fatalf("Dropped = %d, want 2", got)
	}
}

func TestUnsubscribeIdempotent(t *testing.T) {
	t.Parallel()
	b := New()

	ch, unsub := b.Subscribe(1)
	unsub()
	unsub()

	// Publishing after unsubscribe must not panic or deliver.
	b.Publish(Event{Type: "task.started"})
	if _, ok := <-ch; ok {
		t.Fatal("received event on closed subscription")
	}
}
