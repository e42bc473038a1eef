package dispatch

import (
	"context"
	"sync"
	"testing"
	"time"
)

func gateHandler(gate chan struct{}) Handler[string] {
	return func(context.Context, string) { <-gate }
}

func TestNilHandlerYieldsNilDispatcher(t *testing.T) {
	d := New[string](Config{BufferSize: 4}, nil)
	if d != nil {
		t.Fatal("expected nil dispatcher for nil handler")
	}
	if d.Enqueue(context.Background(), "x") {
		t.Fatal("expected nil dispatcher to refuse items")
	}
	d.Close()
	if d.Dropped() != 0 || d.Delivered() != 0 {
		t.Fatal("expected zero counters on nil dispatcher")
	}
}

func TestDeliversInOrderAndDrainsOnClose(t *testing.T) {
	var mu sync.Mutex
	var got []string
	d := New[string](Config{BufferSize: 16}, func(_ context.Context, item string) {
		mu.Lock()
		got = append(got, item)
		mu.Unlock()
	})

	for _, item := range []string{"a", "b", "c", "d"} {
		if !d.Enqueue(context.Background(), item) {
			t.Fatalf("enqueue %q failed", item)
		}
	}
	d.Close()

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 4 || got[0] != "a" || got[3] != "d" {
		t.Fatalf("expected ordered delivery of 4 items, got %v", got)
	}
	if d.Delivered() != 4 {
		t.Fatalf("expected delivered=4, got %d", d.Delivered())
	}
}

func TestBufferFullDropIfFullDoesNotBlock(t *testing.T) {
	gate := make(chan struct{})
	d := New(Config{BufferSize: 1, DropIfFull: true}, gateHandler(gate))
	defer func() {
		close(gate)
		d.Close()
	}()

	d.Enqueue(context.Background(), "e1")
	d.Enqueue(context.Background(), "e2")

	start := time.Now()
	d.Enqueue(context.Background(), "e3")
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("expected non-blocking enqueue when DropIfFull is true")
	}
	if d.Dropped() == 0 {
		t.Fatal("expected dropped counter to increment when queue is full")
	}
}

func TestBufferFullBlocksUntilSpace(t *testing.T) {
	gate := make(chan struct{})
	d := New(Config{BufferSize: 1}, gateHandler(gate))
	defer func() {
		close(gate)
		d.Close()
	}()

	d.Enqueue(context.Background(), "e1")
	d.Enqueue(context.Background(), "e2")

	done := make(chan struct{})
	go func() {
		d.Enqueue(context.Background(), "e3")
		close(done)
	}()

	select {
	case <-done:
		t.Fatal("expected enqueue to block while buffer is full")
	case <-time.After(150 * time.Millisecond):
	}

	gate <- struct{}{}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("expected blocked enqueue to proceed after space is available")
	}
}

func TestBlockedEnqueueHonoursContext(t *testing.T) {
	gate := make(chan struct{})
	d := New(Config{BufferSize: 1}, gateHandler(gate))
	defer func() {
		close(gate)
		d.Close()
	}()

	d.Enqueue(context.Background(), "e1")
	d.Enqueue(context.Background(), "e2")

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if d.Enqueue(ctx, "e3") {
		t.Fatal("expected enqueue to give up when ctx expires")
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped item, got %d", d.Dropped())
	}
}

func TestBlockedEnqueueGivesUpAfterEnqueueTimeout(t *testing.T) {
	gate := make(chan struct{})
	d := New(Config{BufferSize: 1, EnqueueTimeout: 20 * time.Millisecond}, gateHandler(gate))
	defer func() {
		close(gate)
		d.Close()
	}()

	d.Enqueue(context.Background(), "e1")
	d.Enqueue(context.Background(), "e2")

	start := time.Now()
	if d.Enqueue(context.Background(), "e3") {
		t.Fatal("expected enqueue to give up once the wait elapses")
	}
	if took := time.Since(start); took > time.Second {
		t.Fatalf("expected a bounded wait, took %s", took)
	}
	if d.Dropped() != 1 {
		t.Fatalf("expected one dropped item, got %d", d.Dropped())
	}
}

func TestCloseIdempotentAndEnqueueAfterCloseSafe(t *testing.T) {
	d := New(Config{BufferSize: 4, DropIfFull: true}, func(context.Context, string) {})

	d.Enqueue(context.Background(), "e1")
	d.Close()
	d.Close()
	if d.Enqueue(context.Background(), "e2") {
		t.Fatal("expected enqueue after close to be refused")
	}
}
