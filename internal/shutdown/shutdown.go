// Package shutdown runs registered cleanup callbacks in response to
// SIGINT/SIGTERM/SIGQUIT or an explicit Shutdown call. Callbacks register
// in priority tiers and run once, bounded by a deadline; what gets closed
// is whatever callers register. The package itself neither drains
// in-flight deployment batches nor cancels any context.
package shutdown

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// Callback is one resource's drain/flush step, run during shutdown.
// Lower Priority values run first (e.g. stop accepting new batches before
// flushing the log that records them).
type Callback struct {
	Name     string
	Priority int
	Fn       func(context.Context) error
}

// Handler coordinates an orderly shutdown across registered callbacks,
// bounded by an overall deadline.
type Handler struct {
	timeout   time.Duration
	mu        sync.Mutex
	callbacks []Callback
	triggered chan struct{}
	done      chan struct{}
	once      sync.Once
	logger    zerolog.Logger
}

func NewHandler(timeout time.Duration) *Handler {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Handler{
		timeout:   timeout,
		triggered: make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logging.WithComponent("shutdown"),
	}
}

// Register adds a callback, inserted in ascending priority order.
func (h *Handler) Register(cb Callback) {
	h.mu.Lock()
	defer h.mu.Unlock()

	idx := len(h.callbacks)
	for i, existing := range h.callbacks {
		if cb.Priority < existing.Priority {
			idx = i
			break
		}
	}
	h.callbacks = append(h.callbacks, Callback{})
	copy(h.callbacks[idx+1:], h.callbacks[idx:])
	h.callbacks[idx] = cb
}

// ListenForSignals triggers Shutdown on SIGINT/SIGTERM/SIGQUIT.
func (h *Handler) ListenForSignals() {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	go func() {
		sig := <-sigCh
		h.logger.Info().Str("signal", sig.String()).Msg("received shutdown signal")
		h.Shutdown()
	}()
}

// Shutdown runs every registered callback, in priority order but
// concurrently within a priority tier, bounded by the handler's timeout.
// Safe to call more than once or concurrently; only the first call acts.
func (h *Handler) Shutdown() {
	h.once.Do(func() {
		close(h.triggered)
		h.run()
		close(h.done)
	})
}

func (h *Handler) run() {
	ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
	defer cancel()

	h.mu.Lock()
	callbacks := make([]Callback, len(h.callbacks))
	copy(callbacks, h.callbacks)
	h.mu.Unlock()

	doneCh := make(chan struct{})
	go func() {
		h.runTiers(ctx, callbacks)
		close(doneCh)
	}()

	select {
	case <-doneCh:
		h.logger.Info().Msg("graceful shutdown completed")
	case <-ctx.Done():
		h.logger.Warn().Msg("graceful shutdown timed out, forcing exit")
	}
}

// runTiers runs callbacks is priority order: every callback sharing the
// lowest remaining priority runs concurrently, and the next tier does not
// start until that whole tier finishes (the same batch-then-barrier shape
// orchestrator/scheduler.go uses for deployment batches).
func (h *Handler) runTiers(ctx context.Context, callbacks []Callback) {
	for len(callbacks) > 0 {
		tierPriority := callbacks[0].Priority
		var tier []Callback
		var rest []Callback
		for _, cb := range callbacks {
			if cb.Priority == tierPriority {
				tier = append(tier, cb)
			} else {
				rest = append(rest, cb)
			}
		}
		callbacks = rest

		var wg sync.WaitGroup
		for _, cb := range tier {
			wg.Add(1)
			go func(cb Callback) {
				defer wg.Done()
				start := time.Now()
				if err := cb.Fn(ctx); err != nil {
					h.logger.Error().Str("callback", cb.Name).Err(err).Dur("elapsed", time.Since(start)).Msg("shutdown callback failed")
					return
				}
				h.logger.Info().Str("callback", cb.Name).Dur("elapsed", time.Since(start)).Msg("shutdown callback completed")
			}(cb)
		}
		wg.Wait()
	}
}

// Wait blocks until Shutdown has finished running every callback.
func (h *Handler) Wait() {
	<-h.done
}

// IsShuttingDown reports whether Shutdown has been triggered.
func (h *Handler) IsShuttingDown() bool {
	select {
	case <-h.triggered:
		return true
	default:
		return false
	}
}
