package orchestrator

import (
	"context"
	"sync"

	"github.com/clodoworks/orchestrator/internal/domain"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	batchesRun = promauto.NewCounter(prometheus.CounterOpts{
		Name: "orchestrator_batches_run_total",
		Help: "Total number of deployment batches run.",
	})
	domainsDeployed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "orchestrator_domains_deployed_total",
		Help: "Total per-domain deployment attempts by terminal status.",
	}, []string{"status"})
)

// runBatches runs deployFn concurrently for every domain within a batch,
// then blocks until the whole batch completes before starting the next
// one. This is the cross-batch synchronization barrier: no
// domain in batches[i+1] begins prepare before every domain in batches[i]
// reaches verify=ok, or the portfolio aborts when abortOnFailure is set,
// in which case batches[i+1:] never run at all.
func runBatches(ctx context.Context, batches [][]string, abortOnFailure bool, deployFn func(context.Context, string) domain.DomainResult) domain.PortfolioResult {
	portfolio := domain.PortfolioResult{Status: "success"}

	for _, batch := range batches {
		results := make([]domain.DomainResult, len(batch))
		var wg sync.WaitGroup
		wg.Add(len(batch))

		for i, domainName := range batch {
			go func(idx int, name string) {
				defer wg.Done()
				results[idx] = deployFn(ctx, name)
			}(i, domainName)
		}
		wg.Wait()
		batchesRun.Inc()

		batchFailed := false
		for _, r := range results {
			domainsDeployed.WithLabelValues(r.Status).Inc()
			portfolio.Results = append(portfolio.Results, r)
			switch r.Status {
			case "failed":
				portfolio.Status = "failed"
				batchFailed = true
			case "partially-rolled-back":
				if portfolio.Status != "failed" {
					portfolio.Status = "partially-rolled-back"
				}
				batchFailed = true
			}
		}

		if batchFailed && abortOnFailure {
			portfolio.Aborted = true
			break
		}
	}

	return portfolio
}
