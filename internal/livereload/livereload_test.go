package livereload

import (
	"context"
	"sync"
	"testing"
	"time"

	"brook/internal/event"
	"brook/internal/metrics"
)

func TestHubBroadcastsToClients(t *testing.T) {
	hub := NewHub(context.Background(), nil, &metrics.Registry{})
	defer hub.Close()

	first, cancelFirst := hub.Subscribe()
	defer cancelFirst()
	second, cancelSecond := hub.Subscribe()
	defer cancelSecond()
	if hub.Clients() != 2 {
		t.Fatalf("expected 2 clients, got %d", hub.Clients())
	}

	hub.Reload("index.html")

	for _, ch := range []<-chan Message{first, second} {
		message := event.Receive(t, ch, time.Second)
		if message.Type() != MessageTypeReload || len(message.Paths) != 1 || message.Paths[0] != "index.html" {
			t.Fatalf("unexpected message %+v", message)
		}
	}
}

func TestCoalescerBatchesWithinWindow(t *testing.T) {
	var mu sync.Mutex
	var batches [][]string
	sent := make(chan struct{}, 4)
	coalescer := NewCoalescer(30*time.Millisecond, func(paths ...string) {
		mu.Lock()
		batches = append(batches, paths)
		mu.Unlock()
		sent <- struct{}{}
	})
	defer coalescer.Close()

	coalescer.Notify("b.png")
	coalescer.Notify("a.png")
	coalescer.Notify("b.png")

	event.Receive(t, sent, time.Second)
	event.ExpectQuiet(t, sent, 80*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if len(batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(batches))
	}
	if len(batches[0]) != 2 || batches[0][0] != "a.png" || batches[0][1] != "b.png" {
		t.Fatalf("unexpected batch %v", batches[0])
	}
}

func TestCoalescerPacesBatches(t *testing.T) {
	window := 40 * time.Millisecond
	sent := make(chan time.Time, 4)
	coalescer := NewCoalescer(window, func(...string) {
		sent <- time.Now()
	})
	defer coalescer.Close()

	coalescer.Notify("a")
	first := event.Receive(t, sent, time.Second)
	coalescer.Notify("b")
	second := event.Receive(t, sent, time.Second)

	if gap := second.Sub(first); gap < window-5*time.Millisecond {
		t.Fatalf("expected batches at least %s apart, got %s", window, gap)
	}
}

func TestCoalescerCloseDropsPending(t *testing.T) {
	sent := make(chan struct{}, 1)
	coalescer := NewCoalescer(20*time.Millisecond, func(...string) {
		sent <- struct{}{}
	})
	coalescer.Notify("a")
	coalescer.Close()
	coalescer.Notify("b")

	event.ExpectQuiet(t, sent, 80*time.Millisecond)
}
