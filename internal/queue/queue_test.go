package queue

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/babblehq/babble/internal/protocol"
)

func TestEnqueueDequeueFIFO(t *testing.T) {
	q := New(4)
	for i := 1; i <= 3; i++ {
		if err := q.Enqueue(protocol.Command{Key: uint64(i)}); err != nil {
			t.Fatalf("Enqueue(%d): %v", i, err)
		}
	}
	for i := 1; i <= 3; i++ {
		cmd, err := q.Dequeue()
		if err != nil {
			t.Fatalf("Dequeue: %v", err)
		}
		if cmd.Key != uint64(i) {
			t.Fatalf("expected key %d, got %d", i, cmd.Key)
		}
	}
}

func TestEnqueueBlocksWhenFull(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(protocol.Command{Key: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(protocol.Command{Key: 2})
	}()

	select {
	case <-done:
		t.Fatalf("Enqueue on a full queue returned before space was freed")
	case <-time.After(50 * time.Millisecond):
	}

	if _, err := q.Dequeue(); err != nil {
		t.Fatalf("Dequeue: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked Enqueue never woke after space freed")
	}
}

func TestDequeueBlocksWhenEmpty(t *testing.T) {
	q := New(4)
	done := make(chan protocol.Command, 1)
	go func() {
		cmd, err := q.Dequeue()
		if err != nil {
			t.Errorf("Dequeue: %v", err)
		}
		done <- cmd
	}()

	select {
	case <-done:
		t.Fatalf("Dequeue returned before any item was enqueued")
	case <-time.After(50 * time.Millisecond):
	}

	if err := q.Enqueue(protocol.Command{Key: 7}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	select {
	case cmd := <-done:
		if cmd.Key != 7 {
			t.Fatalf("expected key 7, got %d", cmd.Key)
		}
	case <-time.After(time.Second):
		t.Fatalf("blocked Dequeue never woke after enqueue")
	}
}

func TestShutdownWakesBlockedProducersAndConsumers(t *testing.T) {
	q := New(1)
	if err := q.Enqueue(protocol.Command{Key: 1}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}

	empty := New(1)

	var wg sync.WaitGroup
	errs := make(chan error, 2)

	wg.Add(2)
	go func() {
		defer wg.Done()
		errs <- q.Enqueue(protocol.Command{Key: 2}) // blocks: queue full
	}()
	go func() {
		defer wg.Done()
		_, err := empty.Dequeue() // blocks: queue empty
		errs <- err
	}()

	time.Sleep(20 * time.Millisecond)
	q.Shutdown()
	empty.Shutdown()
	wg.Wait()
	close(errs)

	for err := range errs {
		if !errors.Is(err, ErrClosed) {
			t.Fatalf("expected ErrClosed after shutdown, got %v", err)
		}
	}

	// the one item enqueued before shutdown must still drain
	cmd, err := q.Dequeue()
	if err != nil {
		t.Fatalf("Dequeue after shutdown should still drain queued items: %v", err)
	}
	if cmd.Key != 1 {
		t.Fatalf("expected key 1, got %d", cmd.Key)
	}

	if _, err := q.Dequeue(); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed once drained, got %v", err)
	}
}
