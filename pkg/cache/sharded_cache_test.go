package cache

import (
	"fmt"
	"sync"
	"testing"
)

func TestShardedRegistrySetGetDelete(t *testing.T) {
	r := NewShardedRegistry[string]()
	r.Set("a", "session-a")
	r.Set("b", "session-b")

	v, ok := r.Get("a")
	if !ok || v != "session-a" {
		t.Fatalf("got %q, %v", v, ok)
	}
	if r.Len() != 2 {
		t.Fatalf("expected len 2, got %d", r.Len())
	}

	r.Delete("a")
	if _, ok := r.Get("a"); ok {
		t.Fatal("expected a to be deleted")
	}
	if r.Len() != 1 {
		t.Fatalf("expected len 1, got %d", r.Len())
	}
}

func TestShardedRegistryConcurrentAccess(t *testing.T) {
	r := NewShardedRegistry[int]()
	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("session-%d", i)
			r.Set(key, i)
			if v, ok := r.Get(key); !ok || v != i {
				t.Errorf("session-%d: got %d, %v", i, v, ok)
			}
		}(i)
	}
	wg.Wait()
	if r.Len() != 200 {
		t.Fatalf("expected 200 entries, got %d", r.Len())
	}
}

func TestShardedRegistryEach(t *testing.T) {
	r := NewShardedRegistry[int]()
	for i := 0; i < 10; i++ {
		r.Set(fmt.Sprintf("k%d", i), i)
	}
	seen := 0
	sum := 0
	r.Each(func(key string, value int) {
		seen++
		sum += value
	})
	if seen != 10 {
		t.Fatalf("expected to visit 10 entries, visited %d", seen)
	}
	if sum != 45 {
		t.Fatalf("expected sum 45, got %d", sum)
	}
}
