package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterAndGet(t *testing.T) {
	r := New[string, int]()
	assert.Equal(t, 0, r.Len())

	r.Register("one", 1)
	r.Register("one", 11)

	v, ok := r.Get("one")
	assert.True(t, ok)
	assert.Equal(t, 11, v)

	v, ok = r.Get("missing")
	assert.False(t, ok)
	assert.Equal(t, 0, v)
}

func TestRegisterIfAbsent(t *testing.T) {
	r := New[string, string]()

	assert.True(t, r.RegisterIfAbsent("buffer", "first"))
	assert.False(t, r.RegisterIfAbsent("buffer", "second"))

	v, _ := r.Get("buffer")
	assert.Equal(t, "first", v)
}

func TestDeleteAndClear(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", 2)

	r.Delete("a")
	assert.False(t, r.Has("a"))
	assert.True(t, r.Has("b"))

	r.Clear()
	assert.Equal(t, 0, r.Len())
	assert.Empty(t, r.Keys())
}

func TestUpdate(t *testing.T) {
	r := New[string, int]()

	got := r.Update("n", func(cur int, exists bool) int {
		assert.False(t, exists)
		return cur + 1
	})
	assert.Equal(t, 1, got)

	got = r.Update("n", func(cur int, exists bool) int {
		assert.True(t, exists)
		return cur + 1
	})
	assert.Equal(t, 2, got)
}

func TestUpdateConcurrent(t *testing.T) {
	r := New[string, int]()

	var wg sync.WaitGroup
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.Update("n", func(cur int, _ bool) int { return cur + 1 })
		}()
	}
	wg.Wait()

	v, _ := r.Get("n")
	assert.Equal(t, 100, v)
}

func TestGetOrCreateCallsFactoryOnce(t *testing.T) {
	r := New[string, int]()
	var calls atomic.Int32

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.GetOrCreate("k", func() int {
				calls.Add(1)
				return 7
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), calls.Load())
	v, ok := r.Get("k")
	require.True(t, ok)
	assert.Equal(t, 7, v)
}

func TestSnapshotIsolation(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)

	snap := r.Snapshot()
	r.Register("b", 2)
	snap["c"] = 3

	assert.Len(t, snap, 2)
	assert.Equal(t, 2, r.Len())
	assert.False(t, r.Has("c"))
}

func TestRangeAllowsMutation(t *testing.T) {
	r := New[string, int]()
	r.Register("a", 1)
	r.Register("b", -1)

	r.Range(func(k string, v int) bool {
		if v < 0 {
			r.Delete(k)
		}
		return true
	})

	assert.Equal(t, []string{"a"}, r.Keys())
}

func TestRangeStopsEarly(t *testing.T) {
	r := New[int, int]()
	for i := 0; i < 10; i++ {
		r.Register(i, i)
	}

	visited := 0
	r.Range(func(int, int) bool {
		visited++
		return visited < 3
	})
	assert.Equal(t, 3, visited)
}
