package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
)

func rateLimitedHandler(cfg RateLimitConfig) echo.HandlerFunc {
	return RateLimit(cfg)(func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})
}

func callFrom(e *echo.Echo, h echo.HandlerFunc, ip string) (*httptest.ResponseRecorder, error) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = ip + ":1234"
	rec := httptest.NewRecorder()
	err := h(e.NewContext(req, rec))
	return rec, err
}

func TestRateLimit_WithinBurst(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 10, BurstSize: 5})

	for i := 0; i < 5; i++ {
		rec, err := callFrom(e, h, "10.0.0.1")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Code != http.StatusOK {
			t.Fatalf("request %d: expected 200, got %d", i+1, rec.Code)
		}
		if got := rec.Header().Get("X-RateLimit-Limit"); got != "10" {
			t.Errorf("request %d: expected X-RateLimit-Limit 10, got %q", i+1, got)
		}
	}
}

func TestRateLimit_ExceedsBurst(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 2})

	for i := 0; i < 2; i++ {
		if _, err := callFrom(e, h, "10.0.0.2"); err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
	}

	rec, err := callFrom(e, h, "10.0.0.2")
	var he *echo.HTTPError
	if !errors.As(err, &he) || he.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 HTTPError, got %v", err)
	}
	if got := rec.Header().Get("Retry-After"); got != "1" {
		t.Errorf("expected Retry-After 1, got %q", got)
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("expected X-RateLimit-Remaining 0, got %q", got)
	}
}

func TestRateLimit_PerClient(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{RequestsPerSecond: 1, BurstSize: 1})

	if _, err := callFrom(e, h, "10.0.0.3"); err != nil {
		t.Fatalf("first client: unexpected error %v", err)
	}
	if _, err := callFrom(e, h, "10.0.0.3"); err == nil {
		t.Fatal("first client: expected second request to be limited")
	}
	if _, err := callFrom(e, h, "10.0.0.4"); err != nil {
		t.Fatalf("second client should have its own bucket, got %v", err)
	}
}

func TestRateLimit_Disabled(t *testing.T) {
	e := echo.New()
	h := rateLimitedHandler(RateLimitConfig{})

	for i := 0; i < 50; i++ {
		rec, err := callFrom(e, h, "10.0.0.5")
		if err != nil {
			t.Fatalf("request %d: unexpected error %v", i+1, err)
		}
		if rec.Header().Get("X-RateLimit-Limit") != "" {
			t.Fatal("disabled limiter should not set headers")
		}
	}
}
