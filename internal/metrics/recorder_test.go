package metrics_test

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/tyemirov/boshpulse/internal/metrics"
	"github.com/tyemirov/boshpulse/internal/retry"
)

func gatheredValue(t *testing.T, recorder *metrics.Recorder, name string, labels map[string]string) float64 {
	t.Helper()
	families, err := recorder.Registry().Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, family := range families {
		if family.GetName() != name {
			continue
		}
		for _, metric := range family.GetMetric() {
			matches := true
			for _, label := range metric.GetLabel() {
				if expected, constrained := labels[label.GetName()]; constrained && expected != label.GetValue() {
					matches = false
				}
			}
			if !matches {
				continue
			}
			switch {
			case metric.GetCounter() != nil:
				return metric.GetCounter().GetValue()
			case metric.GetGauge() != nil:
				return metric.GetGauge().GetValue()
			case metric.GetHistogram() != nil:
				return float64(metric.GetHistogram().GetSampleCount())
			}
		}
	}
	t.Fatalf("metric %s with labels %v not found", name, labels)
	return 0
}

func TestRecorderCountsObservations(t *testing.T) {
	recorder := metrics.NewRecorder()
	recorder.ObserveExecution("success", 150*time.Millisecond)
	recorder.ObserveExecution("success", 2*time.Second)
	recorder.ObserveExecution("timeout", time.Minute)
	recorder.ObserveRetry(retry.Attempt{Operation: "listVms", Index: 1})
	recorder.ObserveToolCall("listVms", "success", time.Second)
	recorder.ObserveHealth(false, 3)

	testCases := []struct {
		name     string
		metric   string
		labels   map[string]string
		expected float64
	}{
		{name: "successful invocations", metric: "boshpulse_cli_invocations_total", labels: map[string]string{"outcome": "success"}, expected: 2},
		{name: "timed out invocations", metric: "boshpulse_cli_invocations_total", labels: map[string]string{"outcome": "timeout"}, expected: 1},
		{name: "invocation durations", metric: "boshpulse_cli_invocation_duration_seconds", labels: map[string]string{"outcome": "success"}, expected: 2},
		{name: "retries", metric: "boshpulse_retry_attempts_total", labels: map[string]string{"operation": "listVms"}, expected: 1},
		{name: "tool calls", metric: "boshpulse_tool_calls_total", labels: map[string]string{"tool": "listVms", "outcome": "success"}, expected: 1},
		{name: "health", metric: "boshpulse_director_healthy", expected: 0},
		{name: "probe failures", metric: "boshpulse_director_consecutive_probe_failures", expected: 3},
	}

	for _, testCase := range testCases {
		testCase := testCase
		t.Run(testCase.name, func(t *testing.T) {
			if actual := gatheredValue(t, recorder, testCase.metric, testCase.labels); actual != testCase.expected {
				t.Fatalf("expected %v, got %v", testCase.expected, actual)
			}
		})
	}

	recorder.ObserveHealth(true, 0)
	if actual := gatheredValue(t, recorder, "boshpulse_director_healthy", nil); actual != 1 {
		t.Fatalf("expected healthy gauge 1, got %v", actual)
	}
}

func TestHandlerExposesTextFormat(t *testing.T) {
	recorder := metrics.NewRecorder()
	recorder.ObserveExecution("non_zero_exit", time.Second)

	responseRecorder := httptest.NewRecorder()
	recorder.Handler().ServeHTTP(responseRecorder, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(responseRecorder.Result().Body)
	if !strings.Contains(string(body), `boshpulse_cli_invocations_total{outcome="non_zero_exit"} 1`) {
		t.Fatalf("expected invocation counter in exposition, got:\n%s", body)
	}
	if !strings.Contains(string(body), "go_goroutines") {
		t.Fatalf("expected runtime collector output")
	}
}
