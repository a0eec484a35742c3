package metrics

import (
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"sendwatch/go-backend/internal/domains/sendresult"
)

func TestRecorderTracksWatchLifecycle(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := NewWithRegistry(reg, reg)

	r.WatchStarted()
	r.WatchStarted()
	if got := testutil.ToFloat64(r.active); got != 2 {
		t.Fatalf("expected 2 active watches, got %v", got)
	}
	r.WatchFinished(sendresult.OutcomeSuccess, 300*time.Millisecond)
	r.WatchFinished(sendresult.OutcomeCancelled, 500*time.Millisecond)
	r.ChangeIgnored(sendresult.IgnoredIrrelevant)

	if got := testutil.ToFloat64(r.active); got != 0 {
		t.Fatalf("expected no active watches, got %v", got)
	}
	if got := testutil.ToFloat64(r.outcomes.WithLabelValues("success")); got != 1 {
		t.Fatalf("expected 1 success, got %v", got)
	}
	if got := testutil.ToFloat64(r.outcomes.WithLabelValues("cancelled")); got != 1 {
		t.Fatalf("expected 1 cancelled, got %v", got)
	}
	if got := testutil.ToFloat64(r.ignored.WithLabelValues("irrelevant")); got != 1 {
		t.Fatalf("expected 1 ignored change, got %v", got)
	}
}

func TestRecorderHandlerExposesCollectors(t *testing.T) {
	r := New()
	r.RPCRequest("watch.start", true)
	r.RateLimited()

	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	text := string(body)
	for _, want := range []string{
		`sendwatch_rpc_requests_total{method="watch.start",result="ok"} 1`,
		"sendwatch_rpc_rate_limited_total 1",
		"go_goroutines",
	} {
		if !strings.Contains(text, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}
