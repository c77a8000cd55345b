package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetricsUpdates(t *testing.T) {
	m := New()

	m.ObserveCycleDuration(42 * time.Second)
	m.SetDays("minami", "available", 3)
	m.SetDays("minami", "unavailable", 20)
	m.AddImprovements("minami", 2)
	m.AddImprovements("minami", 0)
	m.IncFailures("kishi", "selector_not_found")
	m.IncDeliveries("success")
	m.IncCyclesSkipped()
	m.SetLastSuccessfulCycleTimestamp(time.Unix(100, 0))

	if got := testutil.ToFloat64(m.daysTotal.WithLabelValues("minami", "available")); got != 3 {
		t.Fatalf("expected available days 3, got %v", got)
	}
	if got := testutil.ToFloat64(m.daysTotal.WithLabelValues("minami", "unavailable")); got != 20 {
		t.Fatalf("expected unavailable days 20, got %v", got)
	}
	if got := testutil.ToFloat64(m.improvementsTotal.WithLabelValues("minami")); got != 2 {
		t.Fatalf("expected improvements 2, got %v", got)
	}
	if got := testutil.ToFloat64(m.failuresTotal.WithLabelValues("kishi", "selector_not_found")); got != 1 {
		t.Fatalf("expected failures 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.deliveriesTotal.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected deliveries 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.cyclesSkippedTotal); got != 1 {
		t.Fatalf("expected skipped cycles 1, got %v", got)
	}
	if got := testutil.ToFloat64(m.lastSuccessfulCycleGauge); got != 100 {
		t.Fatalf("expected last successful cycle 100, got %v", got)
	}
	if count := testutil.CollectAndCount(m.cycleDurationSeconds); count == 0 {
		t.Fatalf("expected cycle duration histogram to be collected")
	}
}

func TestMetricsNilSafe(t *testing.T) {
	var m *Metrics
	m.ObserveCycleDuration(time.Second)
	m.SetDays("a", "b", 1)
	m.AddImprovements("a", 1)
	m.IncFailures("a", "b")
	m.IncDeliveries("success")
	m.IncCyclesSkipped()
	m.SetLastSuccessfulCycleTimestamp(time.Now())
	if m.Handler() == nil {
		t.Fatalf("expected default handler for nil metrics")
	}
}

func TestMetricsHandler(t *testing.T) {
	m := New()
	m.AddImprovements("minami", 1)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	if !strings.Contains(string(body), `slot_sentinel_improvements_total{facility="minami"} 1`) {
		t.Fatalf("expected improvements series in output, got %s", body)
	}
}
