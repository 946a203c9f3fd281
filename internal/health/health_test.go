package health

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerProbeAllSucceedsOnHealthyEndpoint(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"ok"}`))
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), ProbeConfig{InitialDelay: 0, Timeout: time.Second, MaxRetries: 1, RetryBackoff: time.Millisecond})
	results := checker.ProbeAll(context.Background(), srv.URL, []string{"/health"})

	require.Len(t, results, 1)
	assert.True(t, results[0].Passed)
	assert.True(t, AllPassed(results))
}

func TestCheckerProbeAllRetriesThenFails(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), ProbeConfig{InitialDelay: 0, Timeout: time.Second, MaxRetries: 2, RetryBackoff: time.Millisecond})
	results := checker.ProbeAll(context.Background(), srv.URL, []string{"/health"})

	require.Len(t, results, 1)
	assert.False(t, results[0].Passed)
	assert.Equal(t, 3, attempts) // initial + 2 retries
	assert.False(t, AllPassed(results))
}

func TestCheckerProbeFailsOnNonOkBodyStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer srv.Close()

	checker := NewChecker(srv.Client(), ProbeConfig{InitialDelay: 0, Timeout: time.Second, MaxRetries: 0, RetryBackoff: time.Millisecond})
	results := checker.ProbeAll(context.Background(), srv.URL, []string{"/health"})

	assert.False(t, results[0].Passed)
}

func TestFailureErrorNilWhenAllPassed(t *testing.T) {
	results := []ProbeResult{{Passed: true}}
	assert.NoError(t, FailureError("example.com", results))
}

func TestProductionTesterLazilyResolvesAndAggregates(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	tester := NewProductionTester(DefaultBudgets())
	constructed := 0
	tester.RegisterFactory(SubTesterAPI, func() SubTester {
		constructed++
		return NewAPISubTester(srv.Client(), []string{"/v1/ping"})
	})

	report1 := tester.Run(context.Background(), "example.com", srv.URL, []SubTesterName{SubTesterAPI})
	report2 := tester.Run(context.Background(), "example.com", srv.URL, []SubTesterName{SubTesterAPI})

	assert.Equal(t, 1, constructed, "factory should only construct the sub-tester once")
	assert.True(t, report1.Passed())
	assert.True(t, report2.Passed())
}

func TestProductionTesterSkipsUnregisteredSubTester(t *testing.T) {
	tester := NewProductionTester(DefaultBudgets())
	report := tester.Run(context.Background(), "example.com", "http://unused", []SubTesterName{SubTesterLoad})
	assert.Empty(t, report.Results)
}

func TestPersistArtifactsWritesReportAndMetrics(t *testing.T) {
	dir := t.TempDir()
	report := Report{Domain: "example.com", Timestamp: time.Date(2026, 7, 31, 0, 0, 0, 0, time.UTC), TotalPassed: 3, TotalFailed: 1}

	require.NoError(t, PersistArtifacts(dir, report))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)

	found := map[string]bool{}
	for _, e := range entries {
		found[filepath.Ext(e.Name())] = true
		if filepath.Ext(e.Name()) == ".metrics" {
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			require.NoError(t, err)
			assert.Contains(t, string(data), "# HELP production_test_passed_total")
			assert.Contains(t, string(data), `production_test_passed_total{domain="example.com"} 3`)
			assert.Contains(t, string(data), `production_test_failed_total{domain="example.com"} 1`)
		}
	}
	assert.True(t, found[".json"])
	assert.True(t, found[".metrics"])
}
