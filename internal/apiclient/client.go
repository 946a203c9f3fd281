package apiclient

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// Doer is the minimal transport the rate-limited client wraps. The real
// implementation (internal/platform) is the only component allowed to hold
// a *http.Client; everything else goes through this interface so it can be
// faked in tests.
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Client enforces Limiter quotas and retry policy around an arbitrary Doer.
type Client struct {
	doer    Doer
	limiter *Limiter
	logger  zerolog.Logger
}

func NewClient(doer Doer, limiter *Limiter) *Client {
	return &Client{doer: doer, limiter: limiter, logger: logging.WithComponent("api-client")}
}

// Do sends req in the given class/priority, retrying on rate-limit
// responses with exponential backoff+jitter up to the class's max attempts.
// Non-quota errors propagate immediately without retry.
func (c *Client) Do(ctx context.Context, class Class, priority Priority, req *http.Request) (*http.Response, error) {
	maxAttempts := c.limiter.MaxAttempts(class)

	for attempt := 0; ; attempt++ {
		if err := c.limiter.Acquire(ctx, class, priority); err != nil {
			return nil, errortypes.NewUserCancelled("rate limiter wait cancelled").WithCause(err)
		}

		resp, err := c.doer.Do(req)
		if err != nil {
			return nil, errortypes.NewTransient("upstream request failed").WithCause(err)
		}

		if !isRateLimited(resp) {
			return resp, nil
		}

		resp.Body.Close()
		if attempt+1 >= maxAttempts {
			return nil, errortypes.NewQuota("rate limit exhausted after max retries").
				WithDetail("class", string(class)).
				WithDetail("attempts", attempt+1)
		}

		delay := c.limiter.BackoffDelay(class, attempt)
		c.logger.Warn().Str("class", string(class)).Int("attempt", attempt+1).Dur("delay", delay).Msg("rate limited, backing off")

		timer := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
			case <-time.After(delay):
			}
			close(timer)
		}()
		<-timer
		if ctx.Err() != nil {
			return nil, errortypes.NewUserCancelled("cancelled during backoff").WithCause(ctx.Err())
		}
	}
}

func isRateLimited(resp *http.Response) bool {
	if resp.StatusCode == http.StatusTooManyRequests {
		return true
	}
	if resp.StatusCode >= 500 {
		return false
	}
	return strings.Contains(strings.ToLower(resp.Header.Get("X-RateLimit-Status")), "exceeded")
}
