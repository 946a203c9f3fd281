// Package coordinator provides cross-domain coordination of
// shared resources (DNS zones, account-level quotas, shared D1 databases)
// so two domains deploying concurrently never step on the same resource.
// Every Coordinator enforces single-writer-per-key: once a key is held, a
// second Acquire for the same key blocks until Release, whatever the
// backend. Alongside the locks, a shared-value namespace (Share/Await/
// Release) carries run-wide values such as the portfolio session token
// between pipelines, with the same single-writer rule per key. The default
// backend is in-process; EtcdCoordinator backs the same contract with a
// real distributed lock and key space for multi-instance operation.
package coordinator

import (
	"context"
	"sync"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// Coordinator grants exclusive, domain-scoped access to a shared resource
// key for the lifetime between Acquire and its returned release func.
type Coordinator interface {
	// Acquire blocks until key is free (or ctx is cancelled), then marks it
	// held by owner. The returned func releases it; calling it twice is a
	// no-op other than the second call being ignored.
	Acquire(ctx context.Context, key, owner string) (release func(), err error)

	// Holder returns the current owner of key, or "" if it's free.
	Holder(key string) string

	// Share publishes value under key for the other pipelines in the same
	// portfolio run (the run's session token, a shared dry-run flag). One
	// writer per key: sharing a key currently held by a different writer
	// fails with an invariant error, while the same writer may overwrite
	// its own value.
	Share(ctx context.Context, key, writer, value string) error

	// Await blocks until key has a shared value (or ctx is cancelled) and
	// returns it.
	Await(ctx context.Context, key string) (string, error)

	// Release withdraws key's shared value. Only its writer may do so;
	// releasing a key that isn't shared is a no-op.
	Release(key, writer string)
}

// waiter describes one goroutine waiting on a key.
type waiter struct {
	owner string
	ready chan struct{}
}

// InMemoryCoordinator is the default, process-local Coordinator: a mutex
// per key plus a FIFO wait queue, for the common single-instance case.
type InMemoryCoordinator struct {
	mu      sync.Mutex
	held    map[string]string // key -> owner
	waiters map[string][]*waiter
	shared  map[string]sharedEntry
	subs    map[string][]chan string
	logger  zerolog.Logger
}

type sharedEntry struct {
	writer string
	value  string
}

func NewInMemoryCoordinator() *InMemoryCoordinator {
	return &InMemoryCoordinator{
		held:    make(map[string]string),
		waiters: make(map[string][]*waiter),
		shared:  make(map[string]sharedEntry),
		subs:    make(map[string][]chan string),
		logger:  logging.WithComponent("coordinator.inmemory"),
	}
}

func (c *InMemoryCoordinator) Acquire(ctx context.Context, key, owner string) (func(), error) {
	for {
		c.mu.Lock()
		if current, ok := c.held[key]; !ok || current == "" {
			c.held[key] = owner
			c.mu.Unlock()
			c.logger.Debug().Str("key", key).Str("owner", owner).Msg("resource acquired")
			return func() { c.release(key, owner) }, nil
		}

		w := &waiter{owner: owner, ready: make(chan struct{})}
		c.waiters[key] = append(c.waiters[key], w)
		c.mu.Unlock()

		select {
		case <-w.ready:
			c.mu.Lock()
			c.held[key] = owner
			c.mu.Unlock()
			c.logger.Debug().Str("key", key).Str("owner", owner).Msg("resource acquired after wait")
			return func() { c.release(key, owner) }, nil
		case <-ctx.Done():
			c.removeWaiterLocked(key, w)
			return nil, errortypes.NewUserCancelled("acquire cancelled while waiting for resource").WithDomain(key, "")
		}
	}
}

func (c *InMemoryCoordinator) removeWaiterLocked(key string, target *waiter) {
	c.mu.Lock()
	defer c.mu.Unlock()
	list := c.waiters[key]
	for i, w := range list {
		if w == target {
			c.waiters[key] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

func (c *InMemoryCoordinator) release(key, owner string) {
	c.mu.Lock()
	if c.held[key] != owner {
		c.mu.Unlock()
		return
	}
	delete(c.held, key)

	list := c.waiters[key]
	if len(list) == 0 {
		c.mu.Unlock()
		c.logger.Debug().Str("key", key).Str("owner", owner).Msg("resource released")
		return
	}
	next := list[0]
	c.waiters[key] = list[1:]
	c.mu.Unlock()

	close(next.ready)
	c.logger.Debug().Str("key", key).Str("owner", owner).Msg("resource released, handed to next waiter")
}

func (c *InMemoryCoordinator) Holder(key string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.held[key]
}

func (c *InMemoryCoordinator) Share(ctx context.Context, key, writer, value string) error {
	c.mu.Lock()
	if entry, ok := c.shared[key]; ok && entry.writer != writer {
		c.mu.Unlock()
		return errortypes.NewInvariant("shared key already held by another writer").WithCode(key)
	}
	c.shared[key] = sharedEntry{writer: writer, value: value}
	subs := c.subs[key]
	delete(c.subs, key)
	c.mu.Unlock()

	for _, sub := range subs {
		sub <- value
	}
	c.logger.Debug().Str("key", key).Str("writer", writer).Msg("value shared")
	return nil
}

func (c *InMemoryCoordinator) Await(ctx context.Context, key string) (string, error) {
	c.mu.Lock()
	if entry, ok := c.shared[key]; ok {
		c.mu.Unlock()
		return entry.value, nil
	}
	sub := make(chan string, 1)
	c.subs[key] = append(c.subs[key], sub)
	c.mu.Unlock()

	select {
	case value := <-sub:
		return value, nil
	case <-ctx.Done():
		c.mu.Lock()
		list := c.subs[key]
		for i, s := range list {
			if s == sub {
				c.subs[key] = append(list[:i], list[i+1:]...)
				break
			}
		}
		c.mu.Unlock()
		return "", errortypes.NewUserCancelled("await cancelled").WithCode(key)
	}
}

func (c *InMemoryCoordinator) Release(key, writer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.shared[key]; ok && entry.writer == writer {
		delete(c.shared, key)
	}
}
