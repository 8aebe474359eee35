package tz

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func fixedZone(z string) func() string {
	return func() string { return z }
}

func TestDetectUsesLookup(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"success","timezone":"Asia/Dhaka"}`))
	}))
	defer srv.Close()

	cache := NewMemoryCache(time.Hour)
	d := NewDetector(NewHTTPLookup(srv.URL+"/json/{ip}"), cache, testLogger(), DetectorConfig{SystemZone: fixedZone("UTC")})
	got := d.Detect(context.Background(), "203.0.113.10")
	if got.Zone != "Asia/Dhaka" || got.Source != SourceIP || got.Confidence != ConfidenceHigh {
		t.Fatalf("expected high confidence Asia/Dhaka from ip, got %+v", got)
	}
	if gotPath != "/json/203.0.113.10" {
		t.Fatalf("expected ip substituted in path, got %s", gotPath)
	}
	if _, ok, _ := cache.Get(context.Background(), "203.0.113.10"); !ok {
		t.Fatal("expected detection to be cached")
	}
}

func TestDetectFallsBackOnTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
		_, _ = w.Write([]byte(`{"timezone":"Asia/Tokyo"}`))
	}))
	defer srv.Close()

	d := NewDetector(NewHTTPLookup(srv.URL+"/{ip}"), nil, testLogger(), DetectorConfig{
		Timeout:    50 * time.Millisecond,
		SystemZone: fixedZone("Europe/Paris"),
	})
	start := time.Now()
	got := d.Detect(context.Background(), "198.51.100.7")
	if time.Since(start) > time.Second {
		t.Fatalf("expected lookup to be cut off by timeout, took %s", time.Since(start))
	}
	if got.Zone != "Europe/Paris" || got.Source != SourceSystem {
		t.Fatalf("expected system fallback, got %+v", got)
	}
}

func TestDetectRejectsUnknownZone(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"timezone":"Mars/Olympus"}`))
	}))
	defer srv.Close()

	d := NewDetector(NewHTTPLookup(srv.URL+"/{ip}"), nil, testLogger(), DetectorConfig{SystemZone: fixedZone("UTC")})
	if got := d.Detect(context.Background(), "198.51.100.7"); got.Zone != "UTC" || got.Source != SourceSystem {
		t.Fatalf("expected fallback for unknown zone, got %+v", got)
	}
}

func TestDetectSkipsPrivateAddresses(t *testing.T) {
	called := false
	lookup := lookupFunc(func(context.Context, string) (string, error) {
		called = true
		return "Asia/Tokyo", nil
	})
	d := NewDetector(lookup, nil, testLogger(), DetectorConfig{SystemZone: fixedZone("UTC")})
	for _, ip := range []string{"127.0.0.1", "10.1.2.3", "192.168.0.4", "::1", "", "garbage"} {
		if got := d.Detect(context.Background(), ip); got.Source != SourceSystem {
			t.Fatalf("%q: expected system source, got %+v", ip, got)
		}
	}
	if called {
		t.Fatal("expected no lookup for non-routable addresses")
	}
}

func TestDetectAsyncDeliversOnce(t *testing.T) {
	lookup := lookupFunc(func(context.Context, string) (string, error) {
		return "", errors.New("boom")
	})
	d := NewDetector(lookup, nil, testLogger(), DetectorConfig{SystemZone: fixedZone("UTC")})
	quick, ch := d.DetectAsync(context.Background(), "198.51.100.7")
	if quick.Source != SourceSystem {
		t.Fatalf("expected quick system result, got %+v", quick)
	}
	got, ok := <-ch
	if !ok || got.Zone != "UTC" {
		t.Fatalf("expected fallback on channel, got %+v ok=%v", got, ok)
	}
	if _, ok := <-ch; ok {
		t.Fatal("expected channel closed after one value")
	}
}

type lookupFunc func(ctx context.Context, ip string) (string, error)

func (f lookupFunc) LookupZone(ctx context.Context, ip string) (string, error) { return f(ctx, ip) }

func TestSessionManualSelectionWins(t *testing.T) {
	s := NewSession(Detection{Zone: "UTC", Source: SourceSystem, Confidence: ConfidenceLow})
	if err := s.SelectManual("Asia/Tokyo"); err != nil {
		t.Fatalf("select: %v", err)
	}
	if s.ApplyDetection(Detection{Zone: "Europe/Paris", Source: SourceIP, Confidence: ConfidenceHigh}) {
		t.Fatal("expected detection not to override manual choice")
	}
	if got := s.Current(); got.Zone != "Asia/Tokyo" || got.Source != SourceManual {
		t.Fatalf("expected manual Asia/Tokyo, got %+v", got)
	}
}

func TestSessionUpgradesOnHighConfidence(t *testing.T) {
	s := NewSession(Detection{Zone: "UTC", Source: SourceSystem, Confidence: ConfidenceLow})
	if s.ApplyDetection(Detection{Zone: "Asia/Dhaka", Source: SourceSystem, Confidence: ConfidenceLow}) {
		t.Fatal("expected low confidence result to be ignored")
	}
	if !s.ApplyDetection(Detection{Zone: "Asia/Dhaka", Source: SourceIP, Confidence: ConfidenceHigh}) {
		t.Fatal("expected high confidence result to change zone")
	}
	if s.Current().Zone != "Asia/Dhaka" {
		t.Fatalf("expected Asia/Dhaka, got %s", s.Current().Zone)
	}
}

func TestSessionRejectsInvalidManualZone(t *testing.T) {
	s := NewSession(Detection{})
	if err := s.SelectManual("Mars/Olympus"); !errors.Is(err, ErrInvalidTimezone) {
		t.Fatalf("expected ErrInvalidTimezone, got %v", err)
	}
	if !s.ApplyDetection(Detection{Zone: "UTC", Source: SourceSystem, Confidence: ConfidenceLow}) {
		t.Fatal("expected empty session to accept first detection")
	}
}
