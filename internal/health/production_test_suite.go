package health

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/clodoworks/orchestrator/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/common/expfmt"
	"github.com/rs/zerolog"
)

// SubTesterName enumerates the five production sub-testers.
type SubTesterName string

const (
	SubTesterAPI         SubTesterName = "api"
	SubTesterAuth        SubTesterName = "auth"
	SubTesterPerformance SubTesterName = "performance"
	SubTesterDB          SubTesterName = "db"
	SubTesterLoad        SubTesterName = "load"
)

// CheckOutcome is one assertion a sub-tester made.
type CheckOutcome struct {
	Name     string        `json:"name"`
	Passed   bool          `json:"passed"`
	Message  string        `json:"message,omitempty"`
	Duration time.Duration `json:"duration"`
}

// SubTesterResult is a sub-tester's full report.
type SubTesterResult struct {
	Name   SubTesterName  `json:"name"`
	Passed int            `json:"passed"`
	Failed int            `json:"failed"`
	Checks []CheckOutcome `json:"checks"`
}

// SubTester runs one category of production test against baseURL.
type SubTester interface {
	Run(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult
}

// SubTesterFunc adapts a function to SubTester.
type SubTesterFunc func(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult

func (f SubTesterFunc) Run(ctx context.Context, baseURL string, budgets Budgets) SubTesterResult {
	return f(ctx, baseURL, budgets)
}

// Budgets are the response-time thresholds sub-testers must honor.
type Budgets struct {
	ResponseTimeThreshold time.Duration
	HealthCheckThreshold  time.Duration
	AuthFlowThreshold     time.Duration
}

func DefaultBudgets() Budgets {
	return Budgets{
		ResponseTimeThreshold: 500 * time.Millisecond,
		HealthCheckThreshold:  2 * time.Second,
		AuthFlowThreshold:     3 * time.Second,
	}
}

// Report aggregates every sub-tester's result for one production test run.
type Report struct {
	Domain      string                            `json:"domain"`
	Timestamp   time.Time                         `json:"timestamp"`
	Results     map[SubTesterName]SubTesterResult `json:"results"`
	TotalPassed int                               `json:"total_passed"`
	TotalFailed int                               `json:"total_failed"`
	Duration    time.Duration                     `json:"duration"`
}

// Passed reports whether every sub-tester that ran had zero failures.
func (r Report) Passed() bool { return r.TotalFailed == 0 }

// ProductionTester lazily constructs and runs the registered sub-testers,
// persisting artifacts rather than serving an HTTP status endpoint.
type ProductionTester struct {
	mu        sync.Mutex
	factories map[SubTesterName]func() SubTester
	instances map[SubTesterName]SubTester
	budgets   Budgets
	logger    zerolog.Logger
}

func NewProductionTester(budgets Budgets) *ProductionTester {
	return &ProductionTester{
		factories: make(map[SubTesterName]func() SubTester),
		instances: make(map[SubTesterName]SubTester),
		budgets:   budgets,
		logger:    logging.WithComponent("health.production-tester"),
	}
}

// RegisterFactory lazily provides a SubTester the first time its name is
// requested; subsequent runs reuse the same instance.
func (p *ProductionTester) RegisterFactory(name SubTesterName, factory func() SubTester) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.factories[name] = factory
}

func (p *ProductionTester) resolve(name SubTesterName) (SubTester, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if inst, ok := p.instances[name]; ok {
		return inst, true
	}
	factory, ok := p.factories[name]
	if !ok {
		return nil, false
	}
	inst := factory()
	p.instances[name] = inst
	return inst, true
}

// Run executes the named sub-testers concurrently against baseURL and
// aggregates their results into a Report.
func (p *ProductionTester) Run(ctx context.Context, domainName, baseURL string, names []SubTesterName) Report {
	start := time.Now()
	report := Report{Domain: domainName, Timestamp: start, Results: make(map[SubTesterName]SubTesterResult)}

	var wg sync.WaitGroup
	var mu sync.Mutex

	for _, name := range names {
		tester, ok := p.resolve(name)
		if !ok {
			p.logger.Warn().Str("tester", string(name)).Msg("no sub-tester registered, skipping")
			continue
		}

		wg.Add(1)
		go func(n SubTesterName, t SubTester) {
			defer wg.Done()
			result := t.Run(ctx, baseURL, p.budgets)
			mu.Lock()
			report.Results[n] = result
			report.TotalPassed += result.Passed
			report.TotalFailed += result.Failed
			mu.Unlock()
		}(name, tester)
	}

	wg.Wait()
	report.Duration = time.Since(start)

	p.logger.Info().Str("domain", domainName).Int("passed", report.TotalPassed).
		Int("failed", report.TotalFailed).Msg("production test run complete")
	return report
}

// PersistArtifacts writes the JSON report and a companion metrics file
// keyed by timestamp into dir.
func PersistArtifacts(dir string, report Report) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create artifacts dir: %w", err)
	}

	stamp := report.Timestamp.UTC().Format("20060102T150405Z")

	reportPath := filepath.Join(dir, fmt.Sprintf("production-test-%s-%s.json", report.Domain, stamp))
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(reportPath, data, 0644); err != nil {
		return err
	}

	metricsPath := filepath.Join(dir, fmt.Sprintf("production-test-%s-%s.metrics", report.Domain, stamp))
	return writeMetricsFile(metricsPath, report)
}

// writeMetricsFile snapshots the report's totals into a one-shot Prometheus
// registry and writes it in text exposition format, so the artifact can be
// scraped or pushed as-is.
func writeMetricsFile(path string, report Report) error {
	registry := prometheus.NewRegistry()

	passed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "production_test_passed_total",
		Help: "Checks that passed in the production test run.",
	}, []string{"domain"})
	failed := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "production_test_failed_total",
		Help: "Checks that failed in the production test run.",
	}, []string{"domain"})
	duration := prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "production_test_duration_seconds",
		Help: "Wall-clock duration of the production test run.",
	}, []string{"domain"})
	registry.MustRegister(passed, failed, duration)

	passed.WithLabelValues(report.Domain).Set(float64(report.TotalPassed))
	failed.WithLabelValues(report.Domain).Set(float64(report.TotalFailed))
	duration.WithLabelValues(report.Domain).Set(report.Duration.Seconds())

	families, err := registry.Gather()
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	enc := expfmt.NewEncoder(&buf, expfmt.NewFormat(expfmt.TypeTextPlain))
	for _, family := range families {
		if err := enc.Encode(family); err != nil {
			return err
		}
	}
	return os.WriteFile(path, buf.Bytes(), 0644)
}
