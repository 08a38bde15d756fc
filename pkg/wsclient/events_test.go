package wsclient

import (
	"sync"
	"testing"
)

func TestBusPublishOrder(t *testing.T) {
	bus := NewBus()

	var order []int
	for i := 0; i < 4; i++ {
		i := i
		bus.Subscribe("tick", func([]byte) {
			order = append(order, i)
		})
	}
	bus.Publish("tick", nil)

	if len(order) != 4 {
		t.Fatalf("handler count mismatch: got %d want 4", len(order))
	}
	for i, got := range order {
		if got != i {
			t.Fatalf("handler %d ran out of order: got position %d", got, i)
		}
	}
}

func TestBusPublishPayload(t *testing.T) {
	bus := NewBus()

	var got []byte
	bus.Subscribe("tick", func(p []byte) { got = p })
	bus.Publish("tick", []byte("payload"))

	if string(got) != "payload" {
		t.Fatalf("payload mismatch: got %q want %q", got, "payload")
	}
}

func TestBusPublishUnknownEvent(t *testing.T) {
	bus := NewBus()
	bus.Publish("nobody-listens", []byte("x"))
}

func TestBusUnsubscribeAll(t *testing.T) {
	bus := NewBus()

	calls := 0
	bus.Subscribe("tick", func([]byte) { calls++ })
	bus.Subscribe("tick", func([]byte) { calls++ })
	bus.Subscribe("other", func([]byte) { calls++ })

	bus.UnsubscribeAll("tick")
	bus.Publish("tick", nil)
	bus.Publish("other", nil)

	if calls != 1 {
		t.Fatalf("only the untouched event should fire: got %d calls", calls)
	}
	if got := bus.Len("tick"); got != 0 {
		t.Fatalf("tick should have no handlers, got %d", got)
	}
}

func TestBusSubscribeDuringPublish(t *testing.T) {
	bus := NewBus()

	nested := false
	bus.Subscribe("tick", func([]byte) {
		bus.Subscribe("tick", func([]byte) { nested = true })
	})
	bus.Publish("tick", nil)

	if nested {
		t.Fatal("handler added mid-publish should not run in the same publish")
	}
	bus.Publish("tick", nil)
	if !nested {
		t.Fatal("handler added mid-publish should run in the next publish")
	}
}

func TestBusConcurrentPublish(t *testing.T) {
	bus := NewBus()

	var mu sync.Mutex
	calls := 0
	bus.Subscribe("tick", func([]byte) {
		mu.Lock()
		calls++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			bus.Publish("tick", nil)
		}()
	}
	wg.Wait()

	if calls != 16 {
		t.Fatalf("publish count mismatch: got %d want 16", calls)
	}
}
