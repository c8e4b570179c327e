package engine

import "testing"

func TestBusPublishWithoutSubscriberDrops(t *testing.T) {
	b := NewBus()
	// Must not block.
	b.Publish("thread.run.queued", "x")
	b.Close()
}

func TestBusSubscribeReceivesInOrder(t *testing.T) {
	b := NewBus()
	ch, cancel := b.Subscribe()
	defer cancel()

	b.Publish("a", 1)
	b.Publish("b", 2)
	b.Close()

	var got []string
	for ev := range ch {
		got = append(got, ev.Name)
	}
	if len(got) != 2 || got[0] != "a" || got[1] != "b" {
		t.Fatalf("events = %v", got)
	}
}

func TestBusCancelDetaches(t *testing.T) {
	b := NewBus()
	_, cancel := b.Subscribe()
	cancel()
	cancel() // idempotent

	// Publishing after detach must not block even past the buffer.
	for i := 0; i < subscriberBuffer+10; i++ {
		b.Publish("n", i)
	}
	b.Close()
}

func TestBusSubscribeReplacesPrevious(t *testing.T) {
	b := NewBus()
	old, _ := b.Subscribe()
	next, cancel := b.Subscribe()
	defer cancel()

	b.Publish("a", nil)
	b.Close()

	if ev, ok := <-next; !ok || ev.Name != "a" {
		t.Fatalf("replacement subscriber got %v %v", ev, ok)
	}
	// The replaced reader gets nothing.
	select {
	case ev := <-old:
		t.Fatalf("replaced subscriber got event %v", ev)
	default:
	}
}

func TestBusSubscribeAfterClose(t *testing.T) {
	b := NewBus()
	b.Close()
	ch, cancel := b.Subscribe()
	defer cancel()
	if _, ok := <-ch; ok {
		t.Fatal("expected closed channel")
	}
}
