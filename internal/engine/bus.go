package engine

import "sync"

// Event is one streamed lifecycle or delta frame. Data is the entity
// snapshot (or delta body) serialized by the SSE writer.
type Event struct {
	Name string
	Data any
}

// subscriberBuffer bounds how far a streaming run may outpace its reader
// before the engine blocks at the emission point.
const subscriberBuffer = 64

type subscriber struct {
	ch   chan Event
	gone chan struct{}
}

// Bus is the per-run event channel: one producer (the run goroutine),
// zero or one subscriber (the SSE pump). A subscriber may attach at run
// creation or later, when tool output submission resumes streaming.
type Bus struct {
	mu     sync.Mutex
	sub    *subscriber
	closed bool
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe attaches the single reader, replacing any previous one. The
// returned cancel func detaches without closing the event channel; a
// closed channel always means the run reached a terminal state.
func (b *Bus) Subscribe() (<-chan Event, func()) {
	s := &subscriber{
		ch:   make(chan Event, subscriberBuffer),
		gone: make(chan struct{}),
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(s.ch)
		return s.ch, func() {}
	}
	if prev := b.sub; prev != nil {
		close(prev.gone)
	}
	b.sub = s
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(s.gone)
			b.mu.Lock()
			if b.sub == s {
				b.sub = nil
			}
			b.mu.Unlock()
		})
	}
	return s.ch, cancel
}

// Publish delivers an event to the subscriber, blocking on a full buffer
// until the reader catches up or detaches. With no subscriber the event
// is dropped; non-streaming runs pay nothing for the bus.
func (b *Bus) Publish(name string, data any) {
	b.mu.Lock()
	s := b.sub
	closed := b.closed
	b.mu.Unlock()
	if s == nil || closed {
		return
	}
	select {
	case s.ch <- Event{Name: name, Data: data}:
	case <-s.gone:
	}
}

// Close marks end-of-stream. Only the run goroutine calls this, after the
// terminal event.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	if b.sub != nil {
		close(b.sub.ch)
		b.sub = nil
	}
}
