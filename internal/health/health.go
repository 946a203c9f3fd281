// Package health implements post-deploy HTTP probing and a production
// test suite of lazily loaded sub-testers, the fixed check the
// orchestrator runs after every domain deploy.
package health

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/clodoworks/orchestrator/internal/errortypes"
	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/rs/zerolog"
)

// ProbeConfig controls the HTTP probe's deadlines and retry policy.
type ProbeConfig struct {
	InitialDelay time.Duration // wait before the first probe, letting the deploy propagate
	Timeout      time.Duration // per-attempt deadline
	MaxRetries   int
	RetryBackoff time.Duration
}

func DefaultProbeConfig() ProbeConfig {
	return ProbeConfig{
		InitialDelay: 10 * time.Second,
		Timeout:      10 * time.Second,
		MaxRetries:   3,
		RetryBackoff: 2 * time.Second,
	}
}

// ProbeResult is the outcome of probing one endpoint.
type ProbeResult struct {
	Endpoint   string
	Passed     bool
	StatusCode int
	Body       string
	Duration   time.Duration
	Error      string
}

// Checker performs post-deploy HTTP health probes.
type Checker struct {
	client *http.Client
	cfg    ProbeConfig
	logger zerolog.Logger
}

func NewChecker(client *http.Client, cfg ProbeConfig) *Checker {
	if client == nil {
		client = http.DefaultClient
	}
	return &Checker{client: client, cfg: cfg, logger: logging.WithComponent("health.checker")}
}

// ProbeAll probes each of endpoints (just "/health" when none are given),
// in order, waiting cfg.InitialDelay once before the first attempt across all
// endpoints (letting the deployment finish propagating).
func (c *Checker) ProbeAll(ctx context.Context, baseURL string, endpoints []string) []ProbeResult {
	if len(endpoints) == 0 {
		endpoints = []string{"/health"}
	}

	select {
	case <-time.After(c.cfg.InitialDelay):
	case <-ctx.Done():
	}

	results := make([]ProbeResult, 0, len(endpoints))
	for _, ep := range endpoints {
		results = append(results, c.probeWithRetry(ctx, baseURL+ep))
	}
	return results
}

func (c *Checker) probeWithRetry(ctx context.Context, url string) ProbeResult {
	var last ProbeResult
	for attempt := 0; attempt <= c.cfg.MaxRetries; attempt++ {
		last = c.probeOnce(ctx, url)
		if last.Passed {
			return last
		}
		if attempt < c.cfg.MaxRetries {
			c.logger.Debug().Str("url", url).Int("attempt", attempt+1).Msg("probe failed, retrying")
			select {
			case <-time.After(c.cfg.RetryBackoff):
			case <-ctx.Done():
				return last
			}
		}
	}
	return last
}

func (c *Checker) probeOnce(ctx context.Context, url string) ProbeResult {
	start := time.Now()
	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, url, nil)
	if err != nil {
		return ProbeResult{Endpoint: url, Error: err.Error(), Duration: time.Since(start)}
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return ProbeResult{Endpoint: url, Error: err.Error(), Duration: time.Since(start)}
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	result := ProbeResult{
		Endpoint:   url,
		StatusCode: resp.StatusCode,
		Body:       string(body),
		Duration:   time.Since(start),
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		result.Error = fmt.Sprintf("unexpected status %d", resp.StatusCode)
		return result
	}

	var parsed struct {
		Status string `json:"status"`
	}
	if json.Unmarshal(body, &parsed) == nil && parsed.Status != "" && parsed.Status != "ok" {
		result.Error = fmt.Sprintf("body status %q is not ok", parsed.Status)
		return result
	}

	result.Passed = true
	return result
}

// AllPassed reports whether every probe in results succeeded.
func AllPassed(results []ProbeResult) bool {
	for _, r := range results {
		if !r.Passed {
			return false
		}
	}
	return true
}

// FailureError turns failed probe results into a Transient error suitable
// for triggering rollback.
func FailureError(domainName string, results []ProbeResult) error {
	for _, r := range results {
		if !r.Passed {
			return errortypes.NewTransient("post-deploy health probe failed").
				WithDomain(domainName, "verify").
				WithDetail("endpoint", r.Endpoint).
				WithDetail("error", r.Error)
		}
	}
	return nil
}
