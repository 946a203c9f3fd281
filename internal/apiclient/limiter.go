package apiclient

import (
	"container/heap"
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"
)

// classLimiter holds a single API class's per-minute and per-hour token
// buckets and the time its last request was sent.
type classLimiter struct {
	perMinute *rate.Limiter
	perHour   *rate.Limiter
	cfg       ClassConfig
	lastSent  time.Time
}

// Limiter enforces the per-class quotas. It is safe for concurrent use:
// the token buckets are safe on their own, and mu guards the queue and
// each class's lastSent, which is stamped before the call is let through.
type Limiter struct {
	mu       sync.Mutex
	limiters map[Class]*classLimiter
	queue    priorityQueue
	notify   chan struct{}
	logger   zerolog.Logger
}

// NewLimiter builds a Limiter from the given per-class configuration
// (DefaultClassConfigs() unless the caller overrides it).
func NewLimiter(configs map[Class]ClassConfig) *Limiter {
	l := &Limiter{
		limiters: make(map[Class]*classLimiter, len(configs)),
		notify:   make(chan struct{}, 1),
		logger:   logging.WithComponent("api-limiter"),
	}
	for class, cfg := range configs {
		l.limiters[class] = &classLimiter{
			perMinute: rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), cfg.PerMinute),
			perHour:   rate.NewLimiter(rate.Limit(float64(cfg.PerHour)/3600.0), cfg.PerHour),
			cfg:       cfg,
		}
	}
	heap.Init(&l.queue)
	return l
}

// Acquire blocks until a slot for class is available or ctx is cancelled.
// It first takes a ticket from the priority queue: every call enqueues one
// item and immediately releases the highest-priority item present, so an
// item waits there only while other calls enqueue at the same moment. The
// per-minute, per-hour and minimum-spacing waits that follow are not
// ordered by priority.
func (l *Limiter) Acquire(ctx context.Context, class Class, priority Priority) error {
	cl := l.classOrDefault(class)

	ticket := make(chan struct{})
	l.mu.Lock()
	heap.Push(&l.queue, &queueItem{class: class, priority: priority, enqueuedAt: time.Now(), ready: ticket})
	l.mu.Unlock()
	l.pump()

	select {
	case <-ticket:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := cl.perMinute.Wait(ctx); err != nil {
		return err
	}
	if err := cl.perHour.Wait(ctx); err != nil {
		return err
	}

	l.mu.Lock()
	wait := cl.cfg.MinSpacing - time.Since(cl.lastSent)
	cl.lastSent = time.Now()
	l.mu.Unlock()
	if wait > 0 {
		t := time.NewTimer(wait)
		defer t.Stop()
		select {
		case <-t.C:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// pump pops and releases the highest-priority queued item; Acquire calls
// it once after every enqueue.
func (l *Limiter) pump() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.queue.Len() == 0 {
		return
	}
	item := heap.Pop(&l.queue).(*queueItem)
	close(item.ready)
}

// Allow reports, without blocking, whether a request in class may proceed
// right now.
func (l *Limiter) Allow(class Class) bool {
	cl := l.classOrDefault(class)
	return cl.perMinute.Allow() && cl.perHour.Allow()
}

// BackoffDelay computes the exponential-backoff-with-jitter delay for the
// given retry attempt (0-indexed) on class.
func (l *Limiter) BackoffDelay(class Class, attempt int) time.Duration {
	cl := l.classOrDefault(class)
	delay := cl.cfg.BaseDelay * time.Duration(1<<uint(attempt))
	if delay > cl.cfg.MaxDelay {
		delay = cl.cfg.MaxDelay
	}
	jitter := time.Duration(rand.Int63n(int64(time.Second)))
	return delay + jitter
}

// MaxAttempts returns the configured retry ceiling for class.
func (l *Limiter) MaxAttempts(class Class) int {
	return l.classOrDefault(class).cfg.MaxAttempts
}

func (l *Limiter) classOrDefault(class Class) *classLimiter {
	l.mu.Lock()
	defer l.mu.Unlock()
	if cl, ok := l.limiters[class]; ok {
		return cl
	}
	cfg := DefaultClassConfigs()[ClassGeneral]
	cl := &classLimiter{
		perMinute: rate.NewLimiter(rate.Limit(float64(cfg.PerMinute)/60.0), cfg.PerMinute),
		perHour:   rate.NewLimiter(rate.Limit(float64(cfg.PerHour)/3600.0), cfg.PerHour),
		cfg:       cfg,
	}
	l.limiters[class] = cl
	return cl
}

// queueItem is one pending Acquire call.
type queueItem struct {
	class      Class
	priority   Priority
	enqueuedAt time.Time
	ready      chan struct{}
	index      int
}

// priorityQueue orders by priority (desc) then FIFO within a priority
// class.
type priorityQueue []*queueItem

func (pq priorityQueue) Len() int { return len(pq) }
func (pq priorityQueue) Less(i, j int) bool {
	if pq[i].priority != pq[j].priority {
		return pq[i].priority > pq[j].priority
	}
	return pq[i].enqueuedAt.Before(pq[j].enqueuedAt)
}
func (pq priorityQueue) Swap(i, j int) {
	pq[i], pq[j] = pq[j], pq[i]
	pq[i].index = i
	pq[j].index = j
}
func (pq *priorityQueue) Push(x interface{}) {
	item := x.(*queueItem)
	item.index = len(*pq)
	*pq = append(*pq, item)
}
func (pq *priorityQueue) Pop() interface{} {
	old := *pq
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	*pq = old[:n-1]
	return item
}
