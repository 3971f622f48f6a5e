package middleware

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
)

func TestParseBodyLimit(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"1M", 1 << 20, false},
		{"10MB", 10 << 20, false},
		{"512K", 512 << 10, false},
		{"512kb", 512 << 10, false},
		{"1G", 1 << 30, false},
		{"1024", 1024, false},
		{"", 1 << 20, false},
		{"invalid", 0, true},
		{"0", 0, true},
		{"-5M", 0, true},
	}

	for _, tt := range tests {
		got, err := ParseBodyLimit(tt.input)
		if tt.wantErr {
			if err == nil {
				t.Errorf("ParseBodyLimit(%q): expected error", tt.input)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseBodyLimit(%q): unexpected error %v", tt.input, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseBodyLimit(%q) = %d, want %d", tt.input, got, tt.want)
		}
	}
}

func TestBodyLimit_AllowsSmallBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-documents", strings.NewReader(`{"firstName":"Jane"}`))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		b, err := io.ReadAll(c.Request().Body)
		if err != nil {
			t.Fatalf("failed to read body: %v", err)
		}
		if string(b) != `{"firstName":"Jane"}` {
			t.Errorf("unexpected body %q", b)
		}
		called = true
		return c.String(http.StatusOK, "ok")
	}

	if err := BodyLimit(1 << 20)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}

func TestBodyLimit_RejectsOversizedBody_ContentLength(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-documents", strings.NewReader(strings.Repeat("x", 100)))
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		t.Error("handler should not be called")
		return nil
	}

	if err := BodyLimit(10)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "maximum allowed size of 10 bytes") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestBodyLimit_EnforcesLimitDuringRead(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-documents/inspect", strings.NewReader(strings.Repeat("x", 100)))
	req.ContentLength = -1
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	handler := func(c echo.Context) error {
		_, err := io.ReadAll(c.Request().Body)
		return err
	}

	err := BodyLimit(10)(handler)(c)
	var he *echo.HTTPError
	if !errors.As(err, &he) {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", he.Code)
	}
}

func TestBodyLimit_SkipsNilBody(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Body = nil
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	called := false
	handler := func(c echo.Context) error {
		called = true
		return c.NoContent(http.StatusOK)
	}

	if err := BodyLimit(1)(handler)(c); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected handler to be called")
	}
}
