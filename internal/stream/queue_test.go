package stream

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int](4)

	for i := 1; i <= 3; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) returned false", i)
		}
	}

	for i := 1; i <= 3; i++ {
		got, ok := q.Dequeue()
		if !ok || got != i {
			t.Errorf("Dequeue() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}

func TestQueue_GrowsUnderLoad(t *testing.T) {
	q := NewQueue[int](2)

	for i := 0; i < 100; i++ {
		if !q.Enqueue(i) {
			t.Fatalf("Enqueue(%d) returned false", i)
		}
	}

	if q.Len() != 100 {
		t.Errorf("Len = %d, want 100", q.Len())
	}

	// Order survives growth
	for i := 0; i < 100; i++ {
		got, ok := q.Dequeue()
		if !ok || got != i {
			t.Fatalf("Dequeue() = (%d, %v), want (%d, true)", got, ok, i)
		}
	}
}

func TestQueue_CloseDrains(t *testing.T) {
	q := NewQueue[string](4)
	q.Enqueue("a")
	q.Enqueue("b")
	q.Close()

	if q.Enqueue("c") {
		t.Error("Enqueue after Close returned true")
	}

	got, ok := q.Dequeue()
	if !ok || got != "a" {
		t.Errorf("Dequeue() = (%q, %v), want (a, true)", got, ok)
	}
	got, ok = q.Dequeue()
	if !ok || got != "b" {
		t.Errorf("Dequeue() = (%q, %v), want (b, true)", got, ok)
	}

	if _, ok := q.Dequeue(); ok {
		t.Error("Dequeue on closed empty queue returned ok")
	}
}

func TestQueue_BlockingDequeueWakesOnClose(t *testing.T) {
	q := NewQueue[int](2)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, ok := q.Dequeue(); ok {
			t.Error("Dequeue returned ok from closed empty queue")
		}
	}()

	q.Close()
	wg.Wait()
}

func TestQueue_ConcurrentProducersConsumers(t *testing.T) {
	q := NewQueue[int](8)
	const producers = 4
	const perProducer = 250

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Enqueue(i)
			}
		}()
	}

	received := make(chan int, producers*perProducer)
	var cwg sync.WaitGroup
	for c := 0; c < 2; c++ {
		cwg.Add(1)
		go func() {
			defer cwg.Done()
			for {
				v, ok := q.Dequeue()
				if !ok {
					return
				}
				received <- v
			}
		}()
	}

	wg.Wait()
	q.Close()
	cwg.Wait()
	close(received)

	count := 0
	for range received {
		count++
	}
	if count != producers*perProducer {
		t.Errorf("received %d items, want %d", count, producers*perProducer)
	}
}
