package pool

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type workerState struct {
	id    int
	calls *atomic.Int64
}

func newTestPool(t *testing.T, size int) (*Pool[*workerState], *atomic.Int64) {
	t.Helper()
	var inits atomic.Int64
	calls := new(atomic.Int64)
	p, err := New(size, func(id int) (*workerState, error) {
		inits.Add(1)
		return &workerState{id: id, calls: calls}, nil
	})
	require.NoError(t, err)
	require.Equal(t, int64(size), inits.Load(), "initializer must run once per worker")
	return p, calls
}

func TestMapPreservesInputOrder(t *testing.T) {
	p, _ := newTestPool(t, 4)
	defer p.Close()

	args := []int{9, 1, 7, 3, 5, 0, 8, 2}
	got, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) {
		// later arguments finish first
		time.Sleep(time.Duration(10-a) * time.Millisecond)
		return a * a, nil
	}, args)

	require.NoError(t, err)
	assert.Equal(t, []int{81, 1, 49, 9, 25, 0, 64, 4}, got)
}

func TestMapReturnsLowestFailingIndex(t *testing.T) {
	p, calls := newTestPool(t, 3)
	defer p.Close()

	boom := errors.New("boom")
	_, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) {
		w.calls.Add(1)
		if a%2 == 1 {
			return 0, boom
		}
		return a, nil
	}, []int{0, 2, 3, 4, 5})

	var taskErr *TaskError
	require.ErrorAs(t, err, &taskErr)
	assert.Equal(t, 2, taskErr.Index)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, int64(5), calls.Load(), "every submitted task must finish")
}

func TestMapRecoversWorkerPanic(t *testing.T) {
	p, _ := newTestPool(t, 2)
	defer p.Close()

	_, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) {
		if a == 1 {
			panic("bad plane")
		}
		return a, nil
	}, []int{0, 1})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad plane")

	// the pool stays usable after a panic
	got, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) { return a + 1, nil }, []int{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, got)
}

func TestMapEmptyArgs(t *testing.T) {
	p, _ := newTestPool(t, 2)
	defer p.Close()

	got, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) { return a, nil }, nil)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestCloseStopsWorkers(t *testing.T) {
	before := LiveWorkers()
	p, _ := newTestPool(t, 5)
	assert.Equal(t, before+5, LiveWorkers())

	p.Close()
	p.Close()
	assert.Equal(t, before, LiveWorkers())

	_, err := Map(context.Background(), p, func(w *workerState, a int) (int, error) { return a, nil }, []int{1})
	assert.ErrorIs(t, err, ErrClosed)
}

func TestNewFailsOnInitError(t *testing.T) {
	before := LiveWorkers()
	_, err := New(3, func(id int) (int, error) {
		if id == 2 {
			return 0, errors.New("no scratch memory")
		}
		return id, nil
	})
	require.Error(t, err)
	assert.Equal(t, before, LiveWorkers())

	_, err = New(0, func(id int) (int, error) { return id, nil })
	assert.Error(t, err)
}

func TestNewStopsAtFirstInitError(t *testing.T) {
	before := LiveWorkers()
	var called []int
	_, err := New(4, func(id int) (int, error) {
		called = append(called, id)
		// no worker goroutine exists while initializers run
		assert.Equal(t, before, LiveWorkers())
		if id == 1 {
			return 0, errors.New("no scratch memory")
		}
		return id, nil
	})
	require.ErrorContains(t, err, "worker 1")
	assert.Equal(t, []int{0, 1}, called)
	assert.Equal(t, before, LiveWorkers())
}

func TestDefaultSize(t *testing.T) {
	assert.GreaterOrEqual(t, DefaultSize(), 1)
}
