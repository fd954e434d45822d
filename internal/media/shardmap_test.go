package media

import (
	"strconv"
	"sync"
	"testing"
)

func TestShardedMap_SetGet(t *testing.T) {
	sm := NewShardedMap[int]()
	sm.Set("a", 1)

	v, ok := sm.Get("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}

	if _, ok := sm.Get("missing"); ok {
		t.Fatal("expected missing key to report not found")
	}
}

func TestShardedMap_SetOverwrites(t *testing.T) {
	sm := NewShardedMap[string]()
	sm.Set("a", "first")
	sm.Set("a", "second")

	v, _ := sm.Get("a")
	if v != "second" {
		t.Fatalf("expected Set to overwrite, got %q", v)
	}
}

func TestShardedMap_SetIfAbsent(t *testing.T) {
	sm := NewShardedMap[int]()

	if !sm.SetIfAbsent("a", 1) {
		t.Fatal("expected first SetIfAbsent to succeed")
	}
	if sm.SetIfAbsent("a", 2) {
		t.Fatal("expected second SetIfAbsent on same key to fail")
	}

	v, _ := sm.Get("a")
	if v != 1 {
		t.Fatalf("expected value to remain 1, got %d", v)
	}
}

func TestShardedMap_Delete(t *testing.T) {
	sm := NewShardedMap[int]()
	sm.Set("a", 1)

	v, ok := sm.Delete("a")
	if !ok || v != 1 {
		t.Fatalf("expected (1, true), got (%d, %v)", v, ok)
	}
	if _, ok := sm.Delete("a"); ok {
		t.Fatal("expected second delete of same key to report not found")
	}
	if _, ok := sm.Get("a"); ok {
		t.Fatal("expected key to be gone after delete")
	}
}

func TestShardedMap_LenAndKeys(t *testing.T) {
	sm := NewShardedMap[int]()
	want := map[string]int{}
	for i := 0; i < 50; i++ {
		key := "key-" + strconv.Itoa(i)
		sm.Set(key, i)
		want[key] = i
	}

	if got := sm.Len(); got != len(want) {
		t.Fatalf("expected Len %d, got %d", len(want), got)
	}

	keys := sm.Keys()
	if len(keys) != len(want) {
		t.Fatalf("expected %d keys, got %d", len(want), len(keys))
	}
	for _, k := range keys {
		if _, ok := want[k]; !ok {
			t.Errorf("unexpected key %q in Keys()", k)
		}
	}
}

func TestShardedMap_Range(t *testing.T) {
	sm := NewShardedMap[int]()
	for i := 0; i < 10; i++ {
		sm.Set("key-"+strconv.Itoa(i), i)
	}

	seen := map[string]int{}
	sm.Range(func(key string, value int) {
		seen[key] = value
	})

	if len(seen) != 10 {
		t.Fatalf("expected Range to visit 10 entries, got %d", len(seen))
	}
}

func TestShardedMap_ConcurrentAccess(t *testing.T) {
	sm := NewShardedMap[int]()
	var wg sync.WaitGroup

	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			key := "key-" + strconv.Itoa(n%10)
			sm.Set(key, n)
			sm.Get(key)
			sm.Len()
		}(i)
	}
	wg.Wait()

	if sm.Len() > 10 {
		t.Fatalf("expected at most 10 distinct keys, got %d", sm.Len())
	}
}
