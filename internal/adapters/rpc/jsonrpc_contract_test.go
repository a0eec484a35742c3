package rpc

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/benbjohnson/clock"

	"sendwatch/go-backend/internal/app"
	"sendwatch/go-backend/internal/platform/looper"
	"sendwatch/go-backend/internal/platform/metrics"
	"sendwatch/go-backend/internal/platform/ratelimiter"
	"sendwatch/go-backend/internal/storage"
	"sendwatch/go-backend/pkg/models"
)

const testToken = "secret-token"

type testDaemon struct {
	server  *Server
	service *app.WatchService
	store   *storage.MessageStore
	clock   *clock.Mock
	metrics *metrics.Recorder
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestDaemon(t *testing.T, mutate func(*Options)) *testDaemon {
	t.Helper()
	mock := clock.NewMock()
	loop := looper.New(mock, discardLogger())
	t.Cleanup(loop.Close)
	rec := metrics.New()
	store := storage.NewMessageStore()
	svc, err := app.NewWatchService(app.ServiceOptions{
		Store:    store,
		Executor: loop,
		Metrics:  rec,
		Logger:   discardLogger(),
		Now:      mock.Now,
		Defaults: app.WatchDefaults{SuccessTypes: []string{"sent"}},
	})
	if err != nil {
		t.Fatalf("new watch service: %v", err)
	}
	t.Cleanup(svc.Close)
	opts := Options{
		Token:        testToken,
		RequireToken: true,
		Metrics:      rec,
		Logger:       discardLogger(),
	}
	if mutate != nil {
		mutate(&opts)
	}
	s := NewServer(svc, opts)
	if s.initErr != nil {
		t.Fatalf("unexpected init error: %v", s.initErr)
	}
	return &testDaemon{server: s, service: svc, store: store, clock: mock, metrics: rec}
}

func rpcCall(t *testing.T, s *Server, body string, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/rpc", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set(tokenHeader, token)
	}
	rec := httptest.NewRecorder()
	s.HandleRPC(rec, req)
	return rec
}

func decodeRPCResponse(t *testing.T, rec *httptest.ResponseRecorder) rpcResponse {
	t.Helper()
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rec.Code, rec.Body.String())
	}
	var resp rpcResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode rpc response: %v", err)
	}
	return resp
}

func decodeResult[T any](t *testing.T, resp rpcResponse) T {
	t.Helper()
	if resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
	raw, err := json.Marshal(resp.Result)
	if err != nil {
		t.Fatalf("re-encode result: %v", err)
	}
	var out T
	if err := json.Unmarshal(raw, &out); err != nil {
		t.Fatalf("decode result: %v", err)
	}
	return out
}

func expectRPCError(t *testing.T, rec *httptest.ResponseRecorder, code int) {
	t.Helper()
	resp := decodeRPCResponse(t, rec)
	if resp.Error == nil {
		t.Fatalf("expected rpc error %d, got result %#v", code, resp.Result)
	}
	if resp.Error.Code != code {
		t.Fatalf("expected rpc code %d, got %d (%s)", code, resp.Error.Code, resp.Error.Message)
	}
}

func TestRPCHealthzContract(t *testing.T) {
	d := newTestDaemon(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	d.server.HandleHealth(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode health payload: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("expected status=ok, got %q", body["status"])
	}
}

func TestRPCRejectsUnauthorizedRequest(t *testing.T) {
	d := newTestDaemon(t, nil)
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"health_check","params":{}}`, "")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rec.Code)
	}
	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"health_check","params":{}}`, "wrong")
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d for wrong token, got %d", http.StatusUnauthorized, rec.Code)
	}
}

func TestRPCAuthAcceptedButServiceMissing(t *testing.T) {
	s := NewServer(nil, Options{Token: testToken, RequireToken: true, Logger: discardLogger()})
	rec := rpcCall(t, s, `{"jsonrpc":"2.0","id":1,"method":"health_check","params":{}}`, testToken)
	expectRPCError(t, rec, codeServiceUnavailable)
}

func TestRPCHealthCheckReportsActiveWatches(t *testing.T) {
	d := newTestDaemon(t, nil)
	if _, err := d.service.StartWatch(models.WatchRequest{Authorized: true}); err != nil {
		t.Fatalf("start watch: %v", err)
	}
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, testToken)
	result := decodeResult[map[string]any](t, decodeRPCResponse(t, rec))
	if result["status"] != "ok" {
		t.Fatalf("unexpected status %#v", result["status"])
	}
	if active, ok := result["active_watches"].(float64); !ok || active != 1 {
		t.Fatalf("expected 1 active watch, got %#v", result["active_watches"])
	}
}

func TestRPCEnvelopeErrors(t *testing.T) {
	d := newTestDaemon(t, nil)
	cases := []struct {
		name string
		body string
		code int
	}{
		{"parse error", `{"jsonrpc":`, codeParseError},
		{"wrong version", `{"jsonrpc":"1.0","id":1,"method":"health_check"}`, codeInvalidRequest},
		{"missing method", `{"jsonrpc":"2.0","id":1}`, codeInvalidRequest},
		{"trailing data", `{"jsonrpc":"2.0","id":1,"method":"health_check"} {}`, codeInvalidRequest},
		{"unknown method", `{"jsonrpc":"2.0","id":1,"method":"watch.explode"}`, codeMethodNotFound},
		{"future api version", `{"jsonrpc":"2.0","id":1,"method":"health_check","api_version":999}`, codeAPIVersionTooNew},
		{"retired api version", `{"jsonrpc":"2.0","id":1,"method":"health_check","api_version":0}`, codeAPIVersionRetired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			expectRPCError(t, rpcCall(t, d.server, tc.body, testToken), tc.code)
		})
	}
}

func TestRPCWatchLifecycle(t *testing.T) {
	d := newTestDaemon(t, nil)

	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":{"authorized":true,"success_types":["sent"],"filter":{"address":"+15550100"}}}`, testToken)
	started := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))
	if started.WatchID == "" || started.State != "armed" {
		t.Fatalf("unexpected start status %+v", started)
	}

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":2,"method":"store.put","params":{"id":"m1","address":"+15550100","type":4}}`, testToken)
	saved := decodeResult[models.SMSRecord](t, decodeRPCResponse(t, rec))
	if saved.ID != "m1" || saved.Timestamp.IsZero() {
		t.Fatalf("unexpected saved record %+v", saved)
	}

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":3,"method":"watch.status","params":["`+started.WatchID+`"]}`, testToken)
	status := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))
	if status.State != "armed" {
		t.Fatalf("outbox record must not finish the watch, got %+v", status)
	}

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":4,"method":"store.update_type","params":{"id":"m1","type":2}}`, testToken)
	updated := decodeResult[map[string]bool](t, decodeRPCResponse(t, rec))
	if !updated["updated"] {
		t.Fatal("expected update to report true")
	}

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":5,"method":"watch.await","params":{"watch_id":"`+started.WatchID+`","timeout_ms":2000}}`, testToken)
	done := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))
	if done.Outcome != "success" || done.Result == nil || !done.Result.Success {
		t.Fatalf("expected success, got %+v", done)
	}

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":6,"method":"store.latest","params":{"filter":{"address":"+15550100"}}}`, testToken)
	latest := decodeResult[latestRecordResult](t, decodeRPCResponse(t, rec))
	if !latest.Found || latest.Record.Type != 2 {
		t.Fatalf("unexpected latest %+v", latest)
	}
}

func TestRPCWatchStopAndUnknownIDs(t *testing.T) {
	d := newTestDaemon(t, nil)
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":[{"authorized":true,"timeout_ms":60000}]}`, testToken)
	started := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))

	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":2,"method":"watch.stop","params":{"watch_id":"`+started.WatchID+`"}}`, testToken)
	stopped := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))
	if stopped.State != "completed" || stopped.Result != nil {
		t.Fatalf("unexpected stop status %+v", stopped)
	}

	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":3,"method":"watch.status","params":["watch_missing"]}`, testToken), codeWatchNotFound)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":4,"method":"watch.stop","params":[]}`, testToken), codeInvalidParams)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":5,"method":"watch.await","params":{"watch_id":"x","timeout_ms":-5}}`, testToken), codeInvalidParams)
}

func TestRPCWatchAwaitTimesOut(t *testing.T) {
	d := newTestDaemon(t, nil)
	started, err := d.service.StartWatch(models.WatchRequest{Authorized: true})
	if err != nil {
		t.Fatalf("start watch: %v", err)
	}
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"watch.await","params":{"watch_id":"`+started.WatchID+`","timeout_ms":20}}`, testToken)
	expectRPCError(t, rec, codeAwaitTimeout)
}

func TestRPCWatchStartRejectsBadRequests(t *testing.T) {
	d := newTestDaemon(t, nil)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":"nope"}`, testToken), codeInvalidParams)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":2,"method":"watch.start","params":{"authorized":true,"success_types":["delivered"]}}`, testToken), codeInvalidParams)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":3,"method":"store.put","params":{"id":"m1"}}`, testToken), codeInvalidParams)
	expectRPCError(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":4,"method":"store.update_type","params":{"type":2}}`, testToken), codeInvalidParams)
}

func TestRPCStoreLatestOnEmptyStore(t *testing.T) {
	d := newTestDaemon(t, nil)
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"store.latest"}`, testToken)
	latest := decodeResult[latestRecordResult](t, decodeRPCResponse(t, rec))
	if latest.Found || latest.Record != nil {
		t.Fatalf("expected empty result, got %+v", latest)
	}
}

func TestRPCIdempotentWatchStart(t *testing.T) {
	d := newTestDaemon(t, nil)
	call := func(body, key string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		req.Header.Set(tokenHeader, testToken)
		req.Header.Set(rpcIdempotencyHeader, key)
		rec := httptest.NewRecorder()
		d.server.HandleRPC(rec, req)
		return rec
	}
	body := `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":{"authorized":true}}`
	first := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, call(body, "k1")))
	second := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, call(body, "k1")))
	if first.WatchID != second.WatchID {
		t.Fatalf("retry armed a second watch: %s vs %s", first.WatchID, second.WatchID)
	}
	if d.service.ActiveWatches() != 1 {
		t.Fatalf("expected 1 active watch, got %d", d.service.ActiveWatches())
	}
	other := `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":{"authorized":true,"timeout_ms":5}}`
	expectRPCError(t, call(other, "k1"), codeIdempotencyConflict)
}

func TestRPCIdempotencyKeyIgnoredOnReads(t *testing.T) {
	d := newTestDaemon(t, nil)
	call := func(body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(body))
		req.Header.Set(tokenHeader, testToken)
		req.Header.Set(rpcIdempotencyHeader, "same-key")
		rec := httptest.NewRecorder()
		d.server.HandleRPC(rec, req)
		return rec
	}
	status, err := d.service.StartWatch(models.WatchRequest{Authorized: true})
	if err != nil {
		t.Fatalf("start watch: %v", err)
	}
	body := `{"jsonrpc":"2.0","id":1,"method":"watch.status","params":{"watch_id":"` + status.WatchID + `"}}`
	before := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, call(body)))
	if before.State != "armed" {
		t.Fatalf("expected armed, got %+v", before)
	}
	if _, err := d.service.StopWatch(status.WatchID); err != nil {
		t.Fatalf("stop watch: %v", err)
	}
	after := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, call(body)))
	if after.State != "completed" {
		t.Fatalf("watch.status replayed a stale response: %+v", after)
	}
}

func TestValidateRPCAPIVersionPerMethod(t *testing.T) {
	rpcMethods["watch.preview"] = rpcMethodPolicy{since: 2}
	t.Cleanup(func() { delete(rpcMethods, "watch.preview") })

	v := func(n int) *int { return &n }
	cases := []struct {
		name    string
		version *int
		method  string
		code    int
	}{
		{"no version", nil, "watch.preview", 0},
		{"current version", v(1), "watch.start", 0},
		{"unknown method left to dispatch", v(1), "watch.explode", 0},
		{"method newer than request", v(1), "watch.preview", codeMethodNotInVersion},
		{"too new", v(2), "watch.start", codeAPIVersionTooNew},
		{"retired", v(0), "watch.start", codeAPIVersionRetired},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := validateRPCAPIVersion(tc.version, tc.method)
			if tc.code == 0 {
				if got != nil {
					t.Fatalf("unexpected error %+v", got)
				}
				return
			}
			if got == nil || got.Code != tc.code {
				t.Fatalf("expected code %d, got %+v", tc.code, got)
			}
		})
	}
}

func TestRPCVersionInfoListsMethods(t *testing.T) {
	info := rpcVersionInfo()
	methods, ok := info["methods"].([]string)
	if !ok || len(methods) != len(rpcMethods) {
		t.Fatalf("unexpected methods %#v", info["methods"])
	}
	for i := 1; i < len(methods); i++ {
		if methods[i-1] > methods[i] {
			t.Fatalf("methods not sorted: %v", methods)
		}
	}
	if !isMutatingMethod("watch.start") || isMutatingMethod("watch.await") || isMutatingMethod("nope") {
		t.Fatal("unexpected mutating classification")
	}
	if metricMethodLabel("nope") != "unknown" || metricMethodLabel("store.put") != "store.put" {
		t.Fatal("unexpected metric labels")
	}
}

func TestRPCRateLimit(t *testing.T) {
	d := newTestDaemon(t, func(o *Options) {
		o.RateLimit = ratelimiter.New(1, 2, time.Minute)
	})
	body := `{"jsonrpc":"2.0","id":1,"method":"health_check"}`
	for i := 0; i < 2; i++ {
		if rec := rpcCall(t, d.server, body, testToken); rec.Code != http.StatusOK {
			t.Fatalf("call %d: expected 200, got %d", i, rec.Code)
		}
	}
	if rec := rpcCall(t, d.server, body, testToken); rec.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", rec.Code)
	}
}

func TestMetricsEndpointCountsRPCRequests(t *testing.T) {
	d := newTestDaemon(t, nil)
	decodeRPCResponse(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, testToken))
	decodeRPCResponse(t, rpcCall(t, d.server, `{"jsonrpc":"2.0","id":2,"method":"no.such"}`, testToken))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	d.server.Handler().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	for _, want := range []string{
		`sendwatch_rpc_requests_total{method="health_check",result="ok"} 1`,
		`sendwatch_rpc_requests_total{method="unknown",result="error"} 1`,
	} {
		if !strings.Contains(body, want) {
			t.Fatalf("metrics output missing %q", want)
		}
	}
}

func TestDecodeAwaitParamsTimeoutBounds(t *testing.T) {
	cases := []struct {
		raw  string
		want time.Duration
	}{
		{`{"watch_id":"w","timeout_ms":250}`, 250 * time.Millisecond},
		{`{"watch_id":"w"}`, defaultAwaitTimeout},
		{`["w"]`, defaultAwaitTimeout},
		{`{"watch_id":"w","timeout_ms":10000000000000}`, maxAwaitTimeout},
		{`{"watch_id":"w","timeout_ms":9223372036854775807}`, maxAwaitTimeout},
	}
	for _, tc := range cases {
		id, wait, err := decodeAwaitParams([]byte(tc.raw))
		if err != nil || id != "w" {
			t.Fatalf("%s: unexpected decode result id=%q err=%v", tc.raw, id, err)
		}
		if wait != tc.want {
			t.Fatalf("%s: expected wait %v, got %v", tc.raw, tc.want, wait)
		}
	}
}

func TestRPCWatchStartWithHugeTimeoutStaysArmed(t *testing.T) {
	d := newTestDaemon(t, nil)
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"watch.start","params":{"authorized":true,"timeout_ms":10000000000000}}`, testToken)
	started := decodeResult[models.WatchStatus](t, decodeRPCResponse(t, rec))
	if started.State != "armed" {
		t.Fatalf("expected armed watch, got %+v", started)
	}
	rec = rpcCall(t, d.server, `{"jsonrpc":"2.0","id":2,"method":"watch.await","params":{"watch_id":"`+started.WatchID+`","timeout_ms":30}}`, testToken)
	expectRPCError(t, rec, codeAwaitTimeout)
}
