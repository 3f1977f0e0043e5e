// ABOUTME: Tests for the keyed worker pool
// ABOUTME: Verifies per-key ordering, stop semantics and panic isolation
package workers

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestPerKeyOrdering(t *testing.T) {
	p := NewPool(4, 8)

	var mu sync.Mutex
	seen := map[string][]int{}
	keys := []string{"grupo-1", "grupo-2", "dm:u1", "dm:u2", "grupo-3"}
	for i := 0; i < 50; i++ {
		for _, k := range keys {
			k, i := k, i
			if err := p.Dispatch(context.Background(), k, func() {
				mu.Lock()
				seen[k] = append(seen[k], i)
				mu.Unlock()
			}); err != nil {
				t.Fatalf("Dispatch() error = %v", err)
			}
		}
	}
	p.Stop()

	for _, k := range keys {
		got := seen[k]
		if len(got) != 50 {
			t.Fatalf("key %s ran %d tasks, want 50", k, len(got))
		}
		for i, v := range got {
			if v != i {
				t.Fatalf("key %s out of order at %d: %v", k, i, got)
			}
		}
	}
}

func TestWorkerForIsStable(t *testing.T) {
	p := NewPool(8, 1)
	defer p.Stop()
	for i := 0; i < 20; i++ {
		k := fmt.Sprintf("conv-%d", i)
		if p.WorkerFor(k) != p.WorkerFor(k) {
			t.Fatalf("WorkerFor(%s) not stable", k)
		}
		if w := p.WorkerFor(k); w < 0 || w >= p.Size() {
			t.Fatalf("WorkerFor(%s) = %d out of range", k, w)
		}
	}
}

func TestHashStringMatchesFNV1a(t *testing.T) {
	// Reference values of 32-bit FNV-1a
	if got := HashString(""); got != 2166136261 {
		t.Errorf("HashString(\"\") = %d", got)
	}
	if got := HashString("a"); got != 0xe40c292c {
		t.Errorf("HashString(\"a\") = %#x", got)
	}
}

func TestDispatchAfterStop(t *testing.T) {
	p := NewPool(1, 1)
	p.Stop()
	p.Stop()
	if err := p.Dispatch(context.Background(), "k", func() {}); !errors.Is(err, ErrStopped) {
		t.Errorf("Dispatch() error = %v, want ErrStopped", err)
	}
}

func TestDispatchRespectsContextWhenFull(t *testing.T) {
	p := NewPool(1, 1)
	release := make(chan struct{})
	started := make(chan struct{})
	_ = p.Dispatch(context.Background(), "k", func() { close(started); <-release })
	<-started
	_ = p.Dispatch(context.Background(), "k", func() {})

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := p.Dispatch(ctx, "k", func() {}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Dispatch() error = %v, want deadline exceeded", err)
	}
	close(release)
	p.Stop()
}

func TestPanicDoesNotKillWorker(t *testing.T) {
	p := NewPool(1, 4)
	done := make(chan struct{})
	_ = p.Dispatch(context.Background(), "k", func() { panic("boom") })
	_ = p.Dispatch(context.Background(), "k", func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not survive a panicking task")
	}
	p.Stop()
}
