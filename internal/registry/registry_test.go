package registry_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/compresr/streamchat/internal/registry"
)

// countingHandle returns a handle plus a pointer to how many times its cancel ran.
func countingHandle() (*registry.Handle, *int) {
	n := 0
	return registry.NewHandle(func() { n++ }), &n
}

func TestRegistry_AddStop(t *testing.T) {
	r := registry.New()
	h, calls := countingHandle()

	key := r.Add(1, 42, h)
	assert.Equal(t, "1,42", key.String())
	assert.True(t, r.HasPending())

	r.Stop(1, 42)
	assert.Equal(t, 1, *calls)

	// Stopping again is harmless.
	r.Stop(1, 42)
	assert.Equal(t, 1, *calls)
}

func TestRegistry_RemoveThenStopIsNoop(t *testing.T) {
	r := registry.New()
	h, calls := countingHandle()

	r.Add(0, 7, h)
	r.Remove(0, 7)
	r.Stop(0, 7)

	assert.Equal(t, 0, *calls)
	assert.False(t, r.HasPending())

	// Removing a missing key is safe.
	r.Remove(3, 3)
}

func TestRegistry_AddReplaces(t *testing.T) {
	r := registry.New()
	first, firstCalls := countingHandle()
	second, secondCalls := countingHandle()

	r.Add(2, 1, first)
	r.Add(2, 1, second)
	assert.Equal(t, 1, r.Len())

	r.Stop(2, 1)
	assert.Equal(t, 0, *firstCalls)
	assert.Equal(t, 1, *secondCalls)
}

func TestRegistry_KeysDoNotCollide(t *testing.T) {
	r := registry.New()
	a, aCalls := countingHandle()
	b, bCalls := countingHandle()

	// "1,23" vs "12,3" would collide under naive concatenation.
	r.Add(1, 23, a)
	r.Add(12, 3, b)
	require.Equal(t, 2, r.Len())

	r.Stop(1, 23)
	assert.Equal(t, 1, *aCalls)
	assert.Equal(t, 0, *bCalls)
}

func TestRegistry_StopAllOnlyRegistered(t *testing.T) {
	r := registry.New()
	a, aCalls := countingHandle()
	b, bCalls := countingHandle()
	removed, removedCalls := countingHandle()

	r.Add(0, 1, a)
	r.Add(1, 1, b)
	r.Add(2, 1, removed)
	r.Remove(2, 1)

	r.StopAll()
	assert.Equal(t, 1, *aCalls)
	assert.Equal(t, 1, *bCalls)
	assert.Equal(t, 0, *removedCalls)
}

func TestRegistry_RemoveIfKeepsNewerHandle(t *testing.T) {
	r := registry.New()
	old, _ := countingHandle()
	newer, _ := countingHandle()

	key := r.Add(0, 9, old)
	r.Add(0, 9, newer)
	r.RemoveIf(key, old)

	got, ok := r.Get(0, 9)
	require.True(t, ok)
	assert.Same(t, newer, got)

	r.RemoveIf(key, newer)
	assert.False(t, r.HasPending())
}

func TestHandle_WithCancel(t *testing.T) {
	ctx, h := registry.WithCancel(context.Background())
	h.Cancel()

	<-ctx.Done()
	<-h.Cancelled()
	assert.ErrorIs(t, ctx.Err(), context.Canceled)
}

func TestRegistry_Concurrent(t *testing.T) {
	r := registry.New()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, h := registry.WithCancel(context.Background())
			r.Add(i%5, int64(i), h)
			r.Stop(i%5, int64(i))
			r.Remove(i%5, int64(i))
		}(i)
	}
	wg.Wait()
	assert.False(t, r.HasPending())
}
