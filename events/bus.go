package events

import (
	"sync"

	"github.com/iyulab/ironbees/logger"
)

// Listener is a function that handles events. Listeners run off the
// publishing goroutine and must not assume ordering across publishes.
type Listener func(ExecutionEvent)

// Bus fans events out to listeners. Publishing never blocks the execution
// path: delivery happens on a background goroutine per publish, and a
// panicking listener is isolated from the others.
type Bus struct {
	mu              sync.RWMutex
	nextID          int
	listeners       map[Type]map[int]Listener
	globalListeners map[int]Listener
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{
		listeners:       make(map[Type]map[int]Listener),
		globalListeners: make(map[int]Listener),
	}
}

// Subscribe registers a listener for one event type and returns a function
// that removes it again.
func (b *Bus) Subscribe(eventType Type, listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	if b.listeners[eventType] == nil {
		b.listeners[eventType] = make(map[int]Listener)
	}
	b.listeners[eventType][id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.listeners[eventType], id)
	}
}

// SubscribeAll registers a listener for every event type and returns a
// function that removes it again.
func (b *Bus) SubscribeAll(listener Listener) func() {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.globalListeners[id] = listener

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		delete(b.globalListeners, id)
	}
}

// Publish sends an event to all registered listeners asynchronously.
func (b *Bus) Publish(event ExecutionEvent) {
	b.mu.RLock()
	targets := make([]Listener, 0, len(b.listeners[event.Type])+len(b.globalListeners))
	for _, l := range b.listeners[event.Type] {
		targets = append(targets, l)
	}
	for _, l := range b.globalListeners {
		targets = append(targets, l)
	}
	b.mu.RUnlock()

	if len(targets) == 0 {
		return
	}

	go func() {
		for _, listener := range targets {
			safeInvoke(listener, event)
		}
	}()
}

// Clear removes all listeners (primarily for tests).
func (b *Bus) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.listeners = make(map[Type]map[int]Listener)
	b.globalListeners = make(map[int]Listener)
}

func safeInvoke(listener Listener, event ExecutionEvent) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("event listener panicked", "event_type", string(event.Type), "panic", r)
		}
	}()
	listener(event)
}
