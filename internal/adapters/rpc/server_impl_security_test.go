package rpc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewServerRequiresTokenWhenConfigured(t *testing.T) {
	s := NewServer(nil, Options{RequireToken: true, Logger: discardLogger()})
	if s.initErr == nil {
		t.Fatal("expected init error without token")
	}
	if err := s.Run(context.Background()); err == nil {
		t.Fatal("expected Run to report the init error")
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected unconfigured handler to 404, got %d", rec.Code)
	}
}

func TestNewServerWithoutTokenInDevMode(t *testing.T) {
	d := newTestDaemon(t, func(o *Options) {
		o.Token = ""
		o.RequireToken = false
	})
	rec := rpcCall(t, d.server, `{"jsonrpc":"2.0","id":1,"method":"health_check"}`, "")
	if resp := decodeRPCResponse(t, rec); resp.Error != nil {
		t.Fatalf("unexpected rpc error: %+v", resp.Error)
	}
}

func TestExtractRPCToken_PrefersCustomHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/rpc", nil)
	req.Header.Set(tokenHeader, "header-token")
	req.Header.Set("Authorization", "Bearer bearer-token")

	s := &Server{}
	got := s.extractRPCToken(req)
	if got != "header-token" {
		t.Fatalf("expected header token, got %q", got)
	}
}

func TestExtractRPCToken_UsesBearerHeader(t *testing.T) {
	req := httptest.NewRequest("GET", "/rpc", nil)
	req.Header.Set("Authorization", "Bearer bearer-token")

	s := &Server{}
	got := s.extractRPCToken(req)
	if got != "bearer-token" {
		t.Fatalf("expected bearer token, got %q", got)
	}
}

func TestExtractRPCToken_QueryOnlyOnStream(t *testing.T) {
	s := &Server{}
	if got := s.extractRPCToken(httptest.NewRequest("GET", "/ws?token=q", nil)); got != "q" {
		t.Fatalf("expected query token on /ws, got %q", got)
	}
	if got := s.extractRPCToken(httptest.NewRequest("POST", "/rpc?token=q", nil)); got != "" {
		t.Fatalf("query token must be ignored on /rpc, got %q", got)
	}
}

func TestIsAllowedOrigin_LocalhostAndConfigured(t *testing.T) {
	s := &Server{origins: map[string]bool{"https://ops.example.org": true}}
	cases := []struct {
		origin string
		want   bool
	}{
		{"http://localhost:3000", true},
		{"https://127.0.0.1:8787", true},
		{"http://[::1]:8787", true},
		{"https://ops.example.org", true},
		{"https://example.com", false},
		{"not-a-url", false},
	}
	for _, tc := range cases {
		if got := s.isAllowedOrigin(tc.origin); got != tc.want {
			t.Fatalf("origin %q: got %v, want %v", tc.origin, got, tc.want)
		}
	}
}

func TestRPCRejectsForeignOrigin(t *testing.T) {
	d := newTestDaemon(t, nil)
	req := httptest.NewRequest(http.MethodPost, "/rpc", strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"health_check"}`))
	req.Header.Set("Origin", "https://evil.example")
	req.Header.Set(tokenHeader, testToken)
	rec := httptest.NewRecorder()
	d.server.HandleRPC(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodOptions, "/rpc", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	rec = httptest.NewRecorder()
	d.server.HandleRPC(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected preflight 204, got %d", rec.Code)
	}
	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "http://localhost:5173" {
		t.Fatalf("unexpected allow-origin %q", got)
	}
}

func TestRPCRateLimitKey(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/rpc", nil)
	req.RemoteAddr = "10.0.0.7:41234"
	if got := rpcRateLimitKey(req, ""); got != "ip:10.0.0.7" {
		t.Fatalf("unexpected ip key %q", got)
	}
	if got := rpcRateLimitKey(req, "tok"); got != "token:tok" {
		t.Fatalf("unexpected token key %q", got)
	}
	req.RemoteAddr = "garbage"
	if got := rpcRateLimitKey(req, ""); got != "ip:garbage" {
		t.Fatalf("unexpected fallback key %q", got)
	}
}

func TestStreamLimiterBoundsClients(t *testing.T) {
	l := newRPCStreamLimiter(StreamLimits{MaxGlobal: 2, MaxPerClient: 1})
	releaseA, ok := l.acquire("a")
	if !ok {
		t.Fatal("first acquire must succeed")
	}
	if _, ok := l.acquire("a"); ok {
		t.Fatal("per-client limit not enforced")
	}
	releaseB, ok := l.acquire("b")
	if !ok {
		t.Fatal("second client must fit")
	}
	if _, ok := l.acquire("c"); ok {
		t.Fatal("global limit not enforced")
	}
	releaseA()
	releaseA()
	if _, ok := l.acquire("c"); !ok {
		t.Fatal("release must free a global slot")
	}
	if _, ok := l.acquire("d"); ok {
		t.Fatal("double release must not free two slots")
	}
	releaseB()
}
