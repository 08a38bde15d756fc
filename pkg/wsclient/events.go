package wsclient

import "sync"

// Handler consumes a raw payload published on the bus.
type Handler func(payload []byte)

// Bus is a name-keyed callback registry. Publishing is synchronous and
// preserves registration order. Handlers that panic take the publishing
// goroutine down with them; keeping handlers safe is the caller's job.
type Bus struct {
	mu       sync.RWMutex
	handlers map[string][]Handler
}

func NewBus() *Bus {
	return &Bus{handlers: make(map[string][]Handler)}
}

// Subscribe appends a handler to the name's call list.
func (b *Bus) Subscribe(name string, h Handler) {
	if h == nil {
		return
	}
	b.mu.Lock()
	b.handlers[name] = append(b.handlers[name], h)
	b.mu.Unlock()
}

// Publish invokes every handler registered for name, in registration
// order. The handler list is snapshotted first so handlers may subscribe
// or unsubscribe without deadlocking.
func (b *Bus) Publish(name string, payload []byte) {
	b.mu.RLock()
	registered := b.handlers[name]
	snapshot := make([]Handler, len(registered))
	copy(snapshot, registered)
	b.mu.RUnlock()

	for _, h := range snapshot {
		h(payload)
	}
}

// UnsubscribeAll removes every handler registered for name.
func (b *Bus) UnsubscribeAll(name string) {
	b.mu.Lock()
	delete(b.handlers, name)
	b.mu.Unlock()
}

// Len reports how many handlers are registered for name.
func (b *Bus) Len(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
