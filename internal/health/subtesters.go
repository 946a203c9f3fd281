package health

import (
	"context"
	"net/http"
	"time"
)

// NewAPISubTester probes a fixed list of API endpoints and checks both
// status code and response-time budget.
func NewAPISubTester(client *http.Client, endpoints []string) SubTester {
	return SubTesterFunc(func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
		result := SubTesterResult{Name: SubTesterAPI}
		for _, ep := range endpoints {
			check := timedGet(ctx, client, baseURL+ep, budgets.ResponseTimeThreshold)
			check.Name = "GET " + ep
			record(&result, check)
		}
		return result
	})
}

// NewAuthSubTester exercises a login-shaped endpoint against the auth flow
// time budget.
func NewAuthSubTester(client *http.Client, authEndpoint string) SubTester {
	return SubTesterFunc(func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
		result := SubTesterResult{Name: SubTesterAuth}
		check := timedGet(ctx, client, baseURL+authEndpoint, budgets.AuthFlowThreshold)
		check.Name = "auth flow"
		record(&result, check)
		return result
	})
}

// NewPerformanceSubTester repeats a probe N times and fails if any sample
// exceeds the response-time budget.
func NewPerformanceSubTester(client *http.Client, endpoint string, samples int) SubTester {
	return SubTesterFunc(func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
		result := SubTesterResult{Name: SubTesterPerformance}
		for i := 0; i < samples; i++ {
			check := timedGet(ctx, client, baseURL+endpoint, budgets.ResponseTimeThreshold)
			check.Name = "sample"
			record(&result, check)
		}
		return result
	})
}

// NewDBSubTester probes an endpoint that the service exposes to confirm its
// database binding is reachable (e.g. a "/health/db" route).
func NewDBSubTester(client *http.Client, dbHealthEndpoint string) SubTester {
	return SubTesterFunc(func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
		result := SubTesterResult{Name: SubTesterDB}
		check := timedGet(ctx, client, baseURL+dbHealthEndpoint, budgets.HealthCheckThreshold)
		check.Name = "db binding reachable"
		record(&result, check)
		return result
	})
}

// NewLoadSubTester fires concurrent requests at an endpoint and reports the
// failure count.
func NewLoadSubTester(client *http.Client, endpoint string, concurrency int) SubTester {
	return SubTesterFunc(func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
		result := SubTesterResult{Name: SubTesterLoad}
		outcomes := make(chan CheckOutcome, concurrency)

		for i := 0; i < concurrency; i++ {
			go func(n int) {
				check := timedGet(ctx, client, baseURL+endpoint, budgets.ResponseTimeThreshold)
				check.Name = "concurrent request"
				outcomes <- check
			}(i)
		}
		for i := 0; i < concurrency; i++ {
			record(&result, <-outcomes)
		}
		return result
	})
}

func timedGet(ctx context.Context, client *http.Client, url string, budget time.Duration) CheckOutcome {
	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return CheckOutcome{Passed: false, Message: err.Error(), Duration: time.Since(start)}
	}

	resp, err := client.Do(req)
	duration := time.Since(start)
	if err != nil {
		return CheckOutcome{Passed: false, Message: err.Error(), Duration: duration}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return CheckOutcome{Passed: false, Message: "unexpected status " + resp.Status, Duration: duration}
	}
	if budget > 0 && duration > budget {
		return CheckOutcome{Passed: false, Message: "exceeded response-time budget", Duration: duration}
	}
	return CheckOutcome{Passed: true, Duration: duration}
}

func record(result *SubTesterResult, check CheckOutcome) {
	result.Checks = append(result.Checks, check)
	if check.Passed {
		result.Passed++
	} else {
		result.Failed++
	}
}
