package diagram

import (
	"sync"
	"time"
)

// ChangeOp is the kind of change a store event reports.
type ChangeOp int

const (
	// Added indicates new entities.
	Added ChangeOp = iota
	// Updated indicates patched entities.
	Updated
	// Removed indicates deleted entities.
	Removed
	// Replaced indicates the whole document was swapped by ReplaceAll.
	Replaced
)

// String returns the string representation of the change op.
func (o ChangeOp) String() string {
	switch o {
	case Added:
		return "Added"
	case Updated:
		return "Updated"
	case Removed:
		return "Removed"
	case Replaced:
		return "Replaced"
	default:
		return "Unknown"
	}
}

// ChangeEvent describes one mutation of the store.
type ChangeEvent struct {
	Op   ChangeOp
	Kind EntityKind
	IDs  []string
	Time time.Time
}

// eventBuffer keeps the most recent change events in a ring.
type eventBuffer struct {
	events []ChangeEvent
	head   int
	tail   int
	size   int
	cap    int
	mu     sync.Mutex
}

func newEventBuffer(capacity int) *eventBuffer {
	if capacity <= 0 {
		capacity = 256
	}
	return &eventBuffer{
		events: make([]ChangeEvent, capacity),
		cap:    capacity,
	}
}

// Push adds an event, dropping the oldest when full.
func (b *eventBuffer) Push(event ChangeEvent) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.events[b.tail] = event
	b.tail = (b.tail + 1) % b.cap

	if b.size < b.cap {
		b.size++
	} else {
		b.head = (b.head + 1) % b.cap
	}
}

// Size returns the number of buffered events.
func (b *eventBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Clear drops all buffered events.
func (b *eventBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.head = 0
	b.tail = 0
	b.size = 0
}

// ToSlice returns the buffered events oldest first.
func (b *eventBuffer) ToSlice() []ChangeEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.size == 0 {
		return nil
	}

	result := make([]ChangeEvent, b.size)
	for i := 0; i < b.size; i++ {
		result[i] = b.events[(b.head+i)%b.cap]
	}
	return result
}

// eventPump fans change events out to subscribers.
type eventPump struct {
	buffer    *eventBuffer
	listeners []chan<- ChangeEvent
	mu        sync.RWMutex
	closed    bool
}

func newEventPump(bufferSize int) *eventPump {
	return &eventPump{
		buffer:    newEventBuffer(bufferSize),
		listeners: make([]chan<- ChangeEvent, 0),
	}
}

// Subscribe adds a listener.
func (p *eventPump) Subscribe(ch chan<- ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.closed {
		p.listeners = append(p.listeners, ch)
	}
}

// Unsubscribe removes a listener.
func (p *eventPump) Unsubscribe(ch chan<- ChangeEvent) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for i, listener := range p.listeners {
		if listener == ch {
			p.listeners = append(p.listeners[:i], p.listeners[i+1:]...)
			break
		}
	}
}

// Publish delivers event to every listener without blocking.
func (p *eventPump) Publish(event ChangeEvent) {
	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		return
	}

	p.buffer.Push(event)

	listeners := make([]chan<- ChangeEvent, len(p.listeners))
	copy(listeners, p.listeners)
	p.mu.RUnlock()

	for _, ch := range listeners {
		select {
		case ch <- event:
		default:
			// Channel full, skip
		}
	}
}

// Recent returns the buffered history, oldest first.
func (p *eventPump) Recent() []ChangeEvent {
	return p.buffer.ToSlice()
}

// Close stops delivery and drops all listeners.
func (p *eventPump) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return
	}

	p.closed = true
	p.listeners = nil
	p.buffer.Clear()
}
