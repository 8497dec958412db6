// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package queue_test

import (
	"sync"
	"testing"
	"time"

	"code.hybscloud.com/wsreq/queue"
)

func TestDequeueReturnsEnqueuedItemFIFO(t *testing.T) {
	q := queue.New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.Enqueue(3)

	for _, want := range []int{1, 2, 3} {
		got, ok := q.Dequeue(time.Second)
		if !ok || got != want {
			t.Fatalf("got (%d, %v), want (%d, true)", got, ok, want)
		}
	}
}

func TestDequeueBlocksUntilEnqueue(t *testing.T) {
	q := queue.New[string]()
	resultCh := make(chan string, 1)
	go func() {
		v, ok := q.Dequeue(2 * time.Second)
		if !ok {
			resultCh <- "TIMED OUT"
			return
		}
		resultCh <- v
	}()

	time.Sleep(50 * time.Millisecond)
	q.Enqueue("payload")

	select {
	case v := <-resultCh:
		if v != "payload" {
			t.Fatalf("got %q, want %q", v, "payload")
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("dequeue never returned")
	}
}

func TestDequeueTimesOutWhenEmpty(t *testing.T) {
	q := queue.New[int]()
	start := time.Now()
	_, ok := q.Dequeue(50 * time.Millisecond)
	if ok {
		t.Fatalf("expected timeout, got a value")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Fatalf("returned too early after %v", elapsed)
	}
}

func TestKillWaitersWakesAllBlockedDequeues(t *testing.T) {
	q := queue.New[int]()
	const waiters = 8

	var wg sync.WaitGroup
	results := make(chan bool, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, ok := q.Dequeue(5 * time.Second)
			results <- ok
		}()
	}

	time.Sleep(50 * time.Millisecond)
	q.KillWaiters()

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("not all waiters woke up after KillWaiters")
	}
	close(results)
	for ok := range results {
		if ok {
			t.Fatalf("expected every waiter to see ok == false after kill")
		}
	}
}

func TestDequeueAfterKillReturnsImmediately(t *testing.T) {
	q := queue.New[int]()
	q.KillWaiters()

	start := time.Now()
	_, ok := q.Dequeue(5 * time.Second)
	if ok {
		t.Fatalf("expected ok == false on a killed queue")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dequeue on killed queue took %v, want promptly", elapsed)
	}
}

func TestDequeueAfterKillIgnoresItemsBufferedBeforeKill(t *testing.T) {
	q := queue.New[int]()
	q.Enqueue(1)
	q.Enqueue(2)
	q.KillWaiters()

	start := time.Now()
	_, ok := q.Dequeue(5 * time.Second)
	if ok {
		t.Fatalf("expected ok == false on a killed queue even with items still buffered")
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("dequeue on killed queue took %v, want promptly", elapsed)
	}
}

func TestEnqueueAfterKillIsDropped(t *testing.T) {
	q := queue.New[int]()
	q.KillWaiters()
	q.Enqueue(1)
	if n := q.Len(); n != 0 {
		t.Fatalf("expected 0 buffered items after enqueue-post-kill, got %d", n)
	}
}
