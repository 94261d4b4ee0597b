package queue

import (
	"sync"
	"testing"
)

func TestNewRing(t *testing.T) {
	t.Run("with valid size", func(t *testing.T) {
		r := NewRing[int](100)
		if r.Cap() != 100 {
			t.Errorf("Cap() = %d, want 100", r.Cap())
		}
		if r.Len() != 0 {
			t.Errorf("Len() = %d, want 0", r.Len())
		}
	})

	t.Run("with zero size uses default", func(t *testing.T) {
		r := NewRing[int](0)
		if r.Cap() != 10000 {
			t.Errorf("Cap() = %d, want 10000 (default)", r.Cap())
		}
	})

	t.Run("with negative size uses default", func(t *testing.T) {
		r := NewRing[int](-5)
		if r.Cap() != 10000 {
			t.Errorf("Cap() = %d, want 10000 (default)", r.Cap())
		}
	})
}

func TestRing_PushOrder(t *testing.T) {
	r := NewRing[int](10)

	for i := 0; i < 5; i++ {
		if _, evicted := r.Push(i); evicted {
			t.Errorf("Push(%d) evicted below capacity", i)
		}
	}

	snap := r.Snapshot()
	if len(snap) != 5 {
		t.Fatalf("Snapshot() length = %d, want 5", len(snap))
	}
	for i, v := range snap {
		if v != i {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, v, i)
		}
	}
}

func TestRing_EvictsOldest(t *testing.T) {
	r := NewRing[int](3)

	for i := 0; i < 3; i++ {
		r.Push(i)
	}

	evicted, ok := r.Push(3)
	if !ok {
		t.Fatal("Push() at capacity did not evict")
	}
	if evicted != 0 {
		t.Errorf("evicted = %d, want 0 (oldest)", evicted)
	}
	if r.Len() != 3 {
		t.Errorf("Len() = %d, want 3", r.Len())
	}

	snap := r.Snapshot()
	want := []int{1, 2, 3}
	for i, v := range snap {
		if v != want[i] {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, v, want[i])
		}
	}

	stats := r.Stats()
	if stats.Evicted != 1 {
		t.Errorf("Stats().Evicted = %d, want 1", stats.Evicted)
	}
	if stats.Pushed != 4 {
		t.Errorf("Stats().Pushed = %d, want 4", stats.Pushed)
	}
}

func TestRing_BoundedUnderSustainedPush(t *testing.T) {
	r := NewRing[int](100)

	for i := 0; i < 10000; i++ {
		r.Push(i)
		if r.Len() > 100 {
			t.Fatalf("Len() = %d exceeds capacity after %d pushes", r.Len(), i+1)
		}
	}

	// Most recent 100 values survive, in order.
	snap := r.Snapshot()
	if len(snap) != 100 {
		t.Fatalf("Snapshot() length = %d, want 100", len(snap))
	}
	for i, v := range snap {
		if v != 9900+i {
			t.Errorf("Snapshot()[%d] = %d, want %d", i, v, 9900+i)
		}
	}
}

func TestRing_Latest(t *testing.T) {
	r := NewRing[string](3)

	if _, ok := r.Latest(); ok {
		t.Error("Latest() on empty ring returned ok")
	}

	r.Push("a")
	r.Push("b")
	if v, ok := r.Latest(); !ok || v != "b" {
		t.Errorf("Latest() = %q, %t, want \"b\", true", v, ok)
	}

	// Wrap around.
	r.Push("c")
	r.Push("d")
	if v, _ := r.Latest(); v != "d" {
		t.Errorf("Latest() after wrap = %q, want \"d\"", v)
	}
}

func TestRing_Reset(t *testing.T) {
	r := NewRing[int](5)
	for i := 0; i < 5; i++ {
		r.Push(i)
	}

	r.Reset()
	if r.Len() != 0 {
		t.Errorf("Len() after Reset = %d, want 0", r.Len())
	}

	r.Push(42)
	if v, _ := r.Latest(); v != 42 {
		t.Errorf("Latest() after Reset+Push = %d, want 42", v)
	}
}

func TestRing_Concurrent(t *testing.T) {
	r := NewRing[int](50)

	const writers = 8
	const pushesPerWriter = 500

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(base int) {
			defer wg.Done()
			for i := 0; i < pushesPerWriter; i++ {
				r.Push(base + i)
			}
		}(w * pushesPerWriter)
	}
	wg.Wait()

	if r.Len() != 50 {
		t.Errorf("Len() = %d, want 50", r.Len())
	}

	stats := r.Stats()
	if stats.Pushed != writers*pushesPerWriter {
		t.Errorf("Stats().Pushed = %d, want %d", stats.Pushed, writers*pushesPerWriter)
	}
	if stats.Evicted != writers*pushesPerWriter-50 {
		t.Errorf("Stats().Evicted = %d, want %d", stats.Evicted, writers*pushesPerWriter-50)
	}
}
