package scheduler

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/linkrent/linkrent/internal/clock"
	obsmetrics "github.com/linkrent/linkrent/internal/observability/metrics"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"go.uber.org/zap"
)

func TestRunJobTimeoutDoesNotReturnErrorAndIncrementsTimeout(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "timeout_job", 0, 5*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if got := getCounterValue(t, registry, "linkrent_scheduler_job_timeouts_total", map[string]string{
		"job": "timeout_job",
	}); got != 1 {
		t.Fatalf("expected timeout count 1, got %v", got)
	}
	if got := getCounterValue(t, registry, "linkrent_scheduler_job_errors_total", map[string]string{
		"job":        "timeout_job",
		"error_type": obsmetrics.SchedulerErrorTypeDeadlineExceeded,
	}); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestRunJobRealErrorSurfacesWithJobName(t *testing.T) {
	registry := prometheus.NewRegistry()
	restore := swapPrometheusRegistry(registry)
	defer restore()
	obsmetrics.ResetSchedulerMetricsForTest()

	node, err := snowflake.NewNode(1)
	if err != nil {
		t.Fatalf("snowflake node: %v", err)
	}

	boom := errors.New("claim failed")
	s := &Scheduler{log: zap.NewNop(), genID: node, clock: clock.NewFakeClock(time.Time{})}
	err = s.runJob(context.Background(), "broken_job", 0, time.Second, func(ctx context.Context) error {
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped error, got %v", err)
	}
	if !strings.Contains(err.Error(), "broken_job") {
		t.Fatalf("expected job name in error, got %q", err.Error())
	}

	if got := getCounterValue(t, registry, "linkrent_scheduler_job_errors_total", map[string]string{
		"job":        "broken_job",
		"error_type": obsmetrics.SchedulerErrorTypeDB,
	}); got != 1 {
		t.Fatalf("expected error count 1, got %v", got)
	}
}

func TestProcessChunkedIsolatesItemFailures(t *testing.T) {
	boom := errors.New("item 3 failed")
	var mu sync.Mutex
	var processed []int

	err := processChunked(context.Background(), 2, []int{1, 2, 3, 4, 5}, func(_ context.Context, item int) error {
		if item == 3 {
			return boom
		}
		mu.Lock()
		processed = append(processed, item)
		mu.Unlock()
		return nil
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected joined item error, got %v", err)
	}
	if len(processed) != 4 {
		t.Fatalf("expected 4 items processed despite one failure, got %d (%v)", len(processed), processed)
	}
}

func TestIsJobEnabled(t *testing.T) {
	all := &Scheduler{cfg: Config{}}
	if !all.isJobEnabled("renewal") || !all.isJobEnabled("expiration") || !all.isJobEnabled("reminders") {
		t.Fatal("empty EnabledJobs should enable every job")
	}

	restricted := &Scheduler{cfg: Config{EnabledJobs: []string{"Renewal"}}}
	if !restricted.isJobEnabled("renewal") {
		t.Fatal("job matching should be case-insensitive")
	}
	if restricted.isJobEnabled("expiration") {
		t.Fatal("expiration should be disabled when not listed")
	}
}

func swapPrometheusRegistry(registry *prometheus.Registry) func() {
	oldRegisterer := prometheus.DefaultRegisterer
	oldGatherer := prometheus.DefaultGatherer
	prometheus.DefaultRegisterer = registry
	prometheus.DefaultGatherer = registry
	return func() {
		prometheus.DefaultRegisterer = oldRegisterer
		prometheus.DefaultGatherer = oldGatherer
		obsmetrics.ResetSchedulerMetricsForTest()
	}
}

func getCounterValue(t *testing.T, registry *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()
	metricFamilies, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metricFamilies {
		if mf.GetName() != name {
			continue
		}
		for _, metric := range mf.Metric {
			if !labelsMatch(metric, labels) {
				continue
			}
			if metric.Counter == nil {
				t.Fatalf("metric %s is not a counter", name)
			}
			return metric.GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func labelsMatch(metric *dto.Metric, labels map[string]string) bool {
	if len(metric.Label) != len(labels) {
		return false
	}
	for _, label := range metric.Label {
		if labels[label.GetName()] != label.GetValue() {
			return false
		}
	}
	return true
}
