package core

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStorePutIfAbsent(t *testing.T) {
	s := NewStore[string, int]()
	assert.True(t, s.PutIfAbsent("a", 1))
	assert.False(t, s.PutIfAbsent("a", 2))
	v, ok := s.Get("a")
	require.True(t, ok)
	assert.Equal(t, 1, v)
}

func TestStoreConcurrentPutIfAbsent(t *testing.T) {
	s := NewStore[int, int]()
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.PutIfAbsent(7, i) {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
	assert.Equal(t, 1, s.Len())
}

func TestStoreSnapshotIsCopy(t *testing.T) {
	s := NewStore[int, string]()
	s.Set(1, "one")
	snap := s.Snapshot()
	s.Set(2, "two")
	_, _ = s.Delete(1)
	assert.Equal(t, map[int]string{1: "one"}, snap)
	assert.False(t, s.Has(1))
	assert.True(t, s.Has(2))
}

func TestStoreCompareAndDelete(t *testing.T) {
	s := NewStore[int, string]()
	s.Set(1, "one")
	assert.False(t, s.CompareAndDelete(1, func(v string) bool { return v == "uno" }))
	assert.True(t, s.CompareAndDelete(1, func(v string) bool { return v == "one" }))
	assert.False(t, s.Has(1))
}

func TestBusFanOutAndDrop(t *testing.T) {
	b := NewBus[int](1)
	a, cancelA := b.Subscribe()
	c, cancelC := b.Subscribe()
	defer cancelC()

	b.Publish(1)
	b.Publish(2) // buffers are full, dropped

	assert.Equal(t, 1, <-a)
	assert.Equal(t, 1, <-c)

	cancelA()
	cancelA()
	_, open := <-a
	assert.False(t, open)

	b.Publish(3)
	select {
	case v := <-c:
		assert.Equal(t, 3, v)
	case <-time.After(time.Second):
		t.Fatal("expected value")
	}

	b.Close()
	_, open = <-c
	assert.False(t, open)
}
