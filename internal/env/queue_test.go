package env

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueFIFO(t *testing.T) {
	q := newObsQueue()

	assert.Equal(t, 1, q.Put([]float64{1}))
	assert.Equal(t, 2, q.Put([]float64{2}))
	assert.Equal(t, 3, q.Put([]float64{3}))
	assert.Equal(t, 3, q.Len())

	assert.Equal(t, []float64{1}, q.Get())
	assert.Equal(t, []float64{2}, q.Get())
	assert.Equal(t, []float64{3}, q.Get())
	assert.Equal(t, 0, q.Len())
}

func TestQueueGetBlocksUntilPut(t *testing.T) {
	q := newObsQueue()

	got := make(chan []float64)
	go func() { got <- q.Get() }()

	select {
	case <-got:
		t.Fatal("Get returned from an empty queue")
	case <-time.After(50 * time.Millisecond):
	}

	q.Put([]float64{42})

	select {
	case obs := <-got:
		assert.Equal(t, []float64{42}, obs)
	case <-time.After(time.Second):
		t.Fatal("Get did not wake up")
	}
}

func TestQueueConcurrentProducer(t *testing.T) {
	q := newObsQueue()

	const n = 100
	go func() {
		for i := 0; i < n; i++ {
			q.Put([]float64{float64(i)})
		}
	}()

	for i := 0; i < n; i++ {
		obs := q.Get()
		require.Equal(t, float64(i), obs[0], "observations must arrive in order, none dropped")
	}
}
