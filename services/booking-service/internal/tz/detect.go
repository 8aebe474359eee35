package tz

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Source string

const (
	SourceIP     Source = "ip"
	SourceSystem Source = "system"
	SourceManual Source = "manual"
)

type Confidence string

const (
	ConfidenceLow  Confidence = "low"
	ConfidenceHigh Confidence = "high"
)

type Detection struct {
	Zone       string     `json:"zone"`
	Confidence Confidence `json:"confidence"`
	Source     Source     `json:"source"`
}

// Lookup resolves a client IP to an IANA zone id.
type Lookup interface {
	LookupZone(ctx context.Context, ip string) (string, error)
}

// Cache stores detection results per IP.
type Cache interface {
	Get(ctx context.Context, ip string) (Detection, bool, error)
	Set(ctx context.Context, ip string, d Detection) error
}

const DefaultLookupTimeout = 5 * time.Second

type Detector struct {
	lookup     Lookup
	cache      Cache
	logger     *slog.Logger
	timeout    time.Duration
	systemZone func() string
}

type DetectorConfig struct {
	Timeout time.Duration
	// SystemZone overrides OS zone discovery; nil uses SystemZone.
	SystemZone func() string
}

// NewDetector builds a detector. lookup and cache may be nil; without a lookup every
// detection resolves to the OS zone.
func NewDetector(lookup Lookup, cache Cache, logger *slog.Logger, cfg DetectorConfig) *Detector {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultLookupTimeout
	}
	if cfg.SystemZone == nil {
		cfg.SystemZone = SystemZone
	}
	return &Detector{
		lookup:     lookup,
		cache:      cache,
		logger:     logger,
		timeout:    cfg.Timeout,
		systemZone: cfg.SystemZone,
	}
}

// Quick returns the OS-reported zone without any I/O.
func (d *Detector) Quick() Detection {
	return Detection{Zone: d.systemZone(), Confidence: ConfidenceLow, Source: SourceSystem}
}

// Detect resolves the zone for ip, bounded by the configured timeout. Lookup failures,
// timeouts and zones rejected by IsValidZone fall back to Quick; they are never returned.
func (d *Detector) Detect(ctx context.Context, ip string) Detection {
	fallback := d.Quick()
	ip = strings.TrimSpace(ip)
	if d.lookup == nil || !routable(ip) {
		return fallback
	}

	if d.cache != nil {
		if cached, ok, err := d.cache.Get(ctx, ip); err != nil {
			d.logger.Warn("timezone cache read failed", "err", err)
		} else if ok && IsValidZone(cached.Zone) {
			return cached
		}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()
	zone, err := d.lookup.LookupZone(lookupCtx, ip)
	if err != nil {
		d.logger.Warn("timezone lookup failed; using system zone", "err", err, "fallback", fallback.Zone)
		return fallback
	}
	if !IsValidZone(zone) {
		d.logger.Warn("timezone lookup returned unknown zone; using system zone", "zone", zone, "fallback", fallback.Zone)
		return fallback
	}

	det := Detection{Zone: zone, Confidence: ConfidenceHigh, Source: SourceIP}
	if d.cache != nil {
		if err := d.cache.Set(ctx, ip, det); err != nil {
			d.logger.Warn("timezone cache write failed", "err", err)
		}
	}
	return det
}

// DetectAsync returns the quick result immediately and delivers the IP-based result on the
// channel once it is known. The channel is buffered and closed after one value.
func (d *Detector) DetectAsync(ctx context.Context, ip string) (Detection, <-chan Detection) {
	ch := make(chan Detection, 1)
	go func() {
		defer close(ch)
		ch <- d.Detect(ctx, ip)
	}()
	return d.Quick(), ch
}

// SystemZone reports the process zone: $TZ when valid, else time.Local, else UTC.
func SystemZone() string {
	if v := strings.TrimSpace(os.Getenv("TZ")); v != "" && IsValidZone(v) {
		return v
	}
	if name := time.Local.String(); IsValidZone(name) {
		return name
	}
	return "UTC"
}

func routable(ip string) bool {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return false
	}
	return !(parsed.IsPrivate() || parsed.IsLoopback() || parsed.IsUnspecified() || parsed.IsLinkLocalUnicast())
}

// HTTPLookup queries an IP geolocation endpoint that answers JSON with a "timezone" field,
// such as ip-api.com or ipapi.co. URLTemplate must contain "{ip}".
type HTTPLookup struct {
	URLTemplate string
	Client      *http.Client
}

func NewHTTPLookup(urlTemplate string) *HTTPLookup {
	return &HTTPLookup{
		URLTemplate: urlTemplate,
		Client:      &http.Client{Transport: otelhttp.NewTransport(http.DefaultTransport)},
	}
}

type lookupResponse struct {
	Status   string `json:"status"`
	Message  string `json:"message"`
	Timezone string `json:"timezone"`
}

func (l *HTTPLookup) LookupZone(ctx context.Context, ip string) (string, error) {
	if !strings.Contains(l.URLTemplate, "{ip}") {
		return "", errors.New("timezone lookup url must contain {ip}")
	}
	endpoint := strings.ReplaceAll(l.URLTemplate, "{ip}", url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", err
	}
	client := l.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("timezone lookup returned %d", resp.StatusCode)
	}
	var body lookupResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return "", fmt.Errorf("decode timezone lookup: %w", err)
	}
	if body.Status != "" && body.Status != "success" {
		return "", fmt.Errorf("timezone lookup failed: %s", body.Message)
	}
	if body.Timezone == "" {
		return "", errors.New("timezone lookup returned no zone")
	}
	return body.Timezone, nil
}
