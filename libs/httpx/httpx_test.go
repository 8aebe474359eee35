package httpx

import (
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestRateLimiterFixedWindow(t *testing.T) {
	rl := NewRateLimiter(2, time.Minute)
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }
	h := rl.Middleware()(okHandler())

	for i, want := range []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests} {
		req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
		req.Header.Set("X-Forwarded-For", "203.0.113.7, 10.0.0.1")
		rw := httptest.NewRecorder()
		h.ServeHTTP(rw, req)
		if rw.Code != want {
			t.Fatalf("request %d: expected %d, got %d", i, want, rw.Code)
		}
	}

	now = now.Add(61 * time.Second)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
	req.Header.Set("X-Forwarded-For", "203.0.113.7")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK {
		t.Fatalf("expected window reset, got %d", rw.Code)
	}
}

func TestClientIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "198.51.100.4:51234"
	if got := ClientIP(req); got != "198.51.100.4" {
		t.Fatalf("expected remote host, got %q", got)
	}
	req.Header.Set("X-Real-Ip", "192.0.2.9")
	if got := ClientIP(req); got != "192.0.2.9" {
		t.Fatalf("expected X-Real-Ip, got %q", got)
	}
}

func TestCORSPreflight(t *testing.T) {
	h := WithCORS(CORSPolicy{
		AllowedOrigins: []string{"https://widget.example.com"},
		AllowedMethods: []string{"GET", "POST"},
		MaxAge:         10 * time.Minute,
	})(okHandler())

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/public/book", nil)
	req.Header.Set("Origin", "https://widget.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", rw.Code)
	}
	if rw.Header().Get("Access-Control-Allow-Origin") != "https://widget.example.com" {
		t.Fatalf("unexpected allow origin %q", rw.Header().Get("Access-Control-Allow-Origin"))
	}
	if rw.Header().Get("Access-Control-Max-Age") != "600" {
		t.Fatalf("unexpected max age %q", rw.Header().Get("Access-Control-Max-Age"))
	}
}

func TestRequestIDReplacesOversizedHeader(t *testing.T) {
	var seen string
	h := WithRequestID(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFromContext(r.Context())
	}))
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(RequestIDHeader, strings.Repeat("a", 200))
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if len(seen) != 32 {
		t.Fatalf("expected generated 32-char id, got %q", seen)
	}
	if rw.Header().Get(RequestIDHeader) != seen {
		t.Fatal("expected response header to echo generated id")
	}
}

func TestCORSDisabledAndSimpleRequests(t *testing.T) {
	if WithCORS(CORSPolicy{}) != nil {
		t.Fatal("expected nil middleware without origins")
	}
	h := Chain(okHandler(), WithCORS(CORSPolicy{
		AllowedOrigins: ParseList(" https://a.example.com , ,https://b.example.com"),
		ExposedHeaders: []string{RequestIDHeader},
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/public/slots", nil)
	req.Header.Set("Origin", "https://b.example.com")
	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Code != http.StatusOK || rw.Header().Get("Access-Control-Allow-Origin") != "https://b.example.com" {
		t.Fatalf("expected pass-through with allow origin, got %d %q", rw.Code, rw.Header().Get("Access-Control-Allow-Origin"))
	}
	if rw.Header().Get("Access-Control-Expose-Headers") != RequestIDHeader {
		t.Fatalf("expected exposed request id, got %q", rw.Header().Get("Access-Control-Expose-Headers"))
	}

	req = httptest.NewRequest(http.MethodOptions, "/api/v1/public/book", nil)
	req.Header.Set("Origin", "https://a.example.com")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if got := rw.Header().Get("Access-Control-Allow-Headers"); got != "Content-Type, X-Request-Id, X-Agent-Id, Idempotency-Key" {
		t.Fatalf("expected default allow headers, got %q", got)
	}

	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Origin", "https://evil.example.com")
	rw = httptest.NewRecorder()
	h.ServeHTTP(rw, req)
	if rw.Header().Get("Access-Control-Allow-Origin") != "" {
		t.Fatal("expected unknown origin to get no CORS headers")
	}
}

func TestRecoverAndNilMiddleware(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	panicky := http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") })
	h := Chain(panicky, WithRecover(logger), WithTimeout(0), WithBodyLimit(0))

	rw := httptest.NewRecorder()
	h.ServeHTTP(rw, httptest.NewRequest(http.MethodGet, "/", nil))
	if rw.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rw.Code)
	}
}
