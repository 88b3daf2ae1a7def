package engine

import (
	"sync"

	"github.com/sssxyd/face-liveness-detector/internal/models"
)

// Listener receives every event published to the type it subscribed to.
type Listener func(models.Event)

// subscriptionID identifies a registered listener for Off.
type subscriptionID uint64

type subscription struct {
	id       subscriptionID
	listener Listener
	once     bool
}

// emitter is a minimal pub/sub registry mirroring the teacher's ws.Hub
// register/unregister/broadcast idiom, adapted from a channel-driven
// goroutine loop to direct synchronous dispatch — the engine's detection
// loop is itself single-threaded per spec §5, so no additional
// serialization is needed here beyond the mutex guarding the listener map.
type emitter struct {
	mu        sync.Mutex
	nextID    subscriptionID
	listeners map[models.EventType][]subscription
}

func newEmitter() *emitter {
	return &emitter{listeners: make(map[models.EventType][]subscription)}
}

// On registers listener for every event of the given type and returns a
// handle that Off accepts.
func (e *emitter) On(eventType models.EventType, listener Listener) subscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners[eventType] = append(e.listeners[eventType], subscription{id: id, listener: listener})
	return id
}

// Once registers listener to fire exactly once, then auto-unregister.
func (e *emitter) Once(eventType models.EventType, listener Listener) subscriptionID {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.nextID++
	id := e.nextID
	e.listeners[eventType] = append(e.listeners[eventType], subscription{id: id, listener: listener, once: true})
	return id
}

// Off removes a previously registered listener by its subscription handle.
func (e *emitter) Off(id subscriptionID) {
	e.mu.Lock()
	defer e.mu.Unlock()
	for t, subs := range e.listeners {
		for i, s := range subs {
			if s.id == id {
				e.listeners[t] = append(subs[:i], subs[i+1:]...)
				return
			}
		}
	}
}

// Emit dispatches ev to every listener registered for ev.Type, removing any
// once-listeners after they fire.
func (e *emitter) Emit(ev models.Event) {
	e.mu.Lock()
	subs := append([]subscription{}, e.listeners[ev.Type]...)
	var remaining []subscription
	for _, s := range e.listeners[ev.Type] {
		if !s.once {
			remaining = append(remaining, s)
		}
	}
	e.listeners[ev.Type] = remaining
	e.mu.Unlock()

	for _, s := range subs {
		s.listener(ev)
	}
}
