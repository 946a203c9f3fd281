package shutdown

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestShutdownRunsCallbacksInPriorityOrder(t *testing.T) {
	h := NewHandler(time.Second)

	var mu sync.Mutex
	var order []string
	record := func(name string) func(context.Context) error {
		return func(context.Context) error {
			mu.Lock()
			order = append(order, name)
			mu.Unlock()
			return nil
		}
	}

	h.Register(Callback{Name: "store", Priority: 2, Fn: record("store")})
	h.Register(Callback{Name: "scheduler", Priority: 1, Fn: record("scheduler")})
	h.Register(Callback{Name: "coordinator", Priority: 1, Fn: record("coordinator")})

	h.Shutdown()
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, order, 3)
	assert.Equal(t, "store", order[2], "lowest-priority-number callbacks must finish before higher ones start")
}

func TestShutdownIsIdempotent(t *testing.T) {
	h := NewHandler(time.Second)

	var calls int
	var mu sync.Mutex
	h.Register(Callback{Name: "once", Fn: func(context.Context) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return nil
	}})

	h.Shutdown()
	h.Shutdown()
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, calls)
}

func TestIsShuttingDownReflectsState(t *testing.T) {
	h := NewHandler(time.Second)
	assert.False(t, h.IsShuttingDown())

	h.Shutdown()
	h.Wait()
	assert.True(t, h.IsShuttingDown())
}

func TestShutdownTimesOutOnSlowCallback(t *testing.T) {
	h := NewHandler(10 * time.Millisecond)
	h.Register(Callback{Name: "slow", Fn: func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}})

	start := time.Now()
	h.Shutdown()
	h.Wait()

	assert.Less(t, time.Since(start), time.Second)
}

func TestShutdownContinuesPastFailingCallback(t *testing.T) {
	h := NewHandler(time.Second)

	var ran bool
	var mu sync.Mutex
	h.Register(Callback{Name: "failing", Priority: 1, Fn: func(context.Context) error {
		return assert.AnError
	}})
	h.Register(Callback{Name: "later", Priority: 2, Fn: func(context.Context) error {
		mu.Lock()
		ran = true
		mu.Unlock()
		return nil
	}})

	h.Shutdown()
	h.Wait()

	mu.Lock()
	defer mu.Unlock()
	assert.True(t, ran)
}
