package ccda

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/goccy/go-json"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labccda/internal/platform/delivery"
)

func newTestHandler() *Handler {
	a := NewAssembler(
		WithClock(FixedClock(testNow)),
		WithIdentifierSource(NewSequenceSource("doc-123")),
	)
	return NewHandler(a, NewParser(), zerolog.Nop())
}

func doRequest(h echo.HandlerFunc, target, contentType, body string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set(echo.HeaderContentType, contentType)
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)
	c.Set("request_id", "req-1")
	_ = h(c)
	return rec
}

// =========== GenerateDocument ===========

func TestHandler_GenerateDocument(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h.GenerateDocument, "/api/v1/lab-documents", echo.MIMEApplicationJSON, validSubmissionJSON)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); ct != "application/xml" {
		t.Errorf("expected Content-Type application/xml, got %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); cd != "attachment; filename=lab-results-2024-03-10.xml" {
		t.Errorf("unexpected Content-Disposition %q", cd)
	}
	if id := rec.Header().Get(DocumentIDHeader); id != "doc-123" {
		t.Errorf("expected %s doc-123, got %q", DocumentIDHeader, id)
	}

	parsed, err := NewParser().Parse(rec.Body.Bytes())
	if err != nil {
		t.Fatalf("response is not a parseable document: %v", err)
	}
	if parsed.Patient.GivenName != "Jane" {
		t.Errorf("expected trimmed given name Jane, got %q", parsed.Patient.GivenName)
	}
	if parsed.Organization != "Quest" {
		t.Errorf("expected organization Quest, got %q", parsed.Organization)
	}
	if len(parsed.Results) != 2 {
		t.Errorf("expected 2 results, got %d", len(parsed.Results))
	}
}

func TestHandler_GenerateDocument_BadJSON(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h.GenerateDocument, "/api/v1/lab-documents", echo.MIMEApplicationJSON, `{not json`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var body map[string]interface{}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if _, ok := body["error"]; !ok {
		t.Error("expected error key in response")
	}
}

func TestHandler_GenerateDocument_ValidationFailure(t *testing.T) {
	h := newTestHandler()
	rec := doRequest(h.GenerateDocument, "/api/v1/lab-documents", echo.MIMEApplicationJSON,
		`{"firstName": "Jane", "labResults": [{"name": "Glucose", "value": "90"}]}`)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rec.Code)
	}
	var body struct {
		Error  string       `json:"error"`
		Fields []FieldError `json:"fields"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	if body.Error != "invalid submission" {
		t.Errorf("expected 'invalid submission', got %q", body.Error)
	}
	got := make(map[string]bool)
	for _, f := range body.Fields {
		got[f.Field] = true
	}
	for _, want := range []string{"lastName", "labResults[0].date"} {
		if !got[want] {
			t.Errorf("expected field error for %s, got %+v", want, body.Fields)
		}
	}
}

func TestHandler_GenerateDocument_Archives(t *testing.T) {
	archive := delivery.NewMemoryDeliverer()
	a := NewAssembler(
		WithClock(FixedClock(testNow)),
		WithIdentifierSource(NewSequenceSource("doc-123")),
	)
	h := NewHandler(a, NewParser(), zerolog.Nop(), WithArchive(archive))

	rec := doRequest(h.GenerateDocument, "/api/v1/lab-documents", echo.MIMEApplicationJSON, validSubmissionJSON)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}

	stored, err := archive.Get("doc-123.xml")
	if err != nil {
		t.Fatalf("expected archived document: %v", err)
	}
	if string(stored) != rec.Body.String() {
		t.Error("expected archived copy to match the response body")
	}
	if rec.Header().Get(DocumentHashHeader) == "" {
		t.Errorf("expected %s header", DocumentHashHeader)
	}
}

type failingDeliverer struct{}

func (failingDeliverer) Deliver(context.Context, string, []byte) (*delivery.Receipt, error) {
	return nil, errors.New("disk full")
}

func TestHandler_GenerateDocument_ArchiveFailure(t *testing.T) {
	h := NewHandler(NewAssembler(), NewParser(), zerolog.Nop(), WithArchive(failingDeliverer{}))
	rec := doRequest(h.GenerateDocument, "/api/v1/lab-documents", echo.MIMEApplicationJSON, validSubmissionJSON)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "ClinicalDocument") {
		t.Error("expected no document in the error response")
	}
}

type failingReader struct{ err error }

func (r failingReader) Read([]byte) (int, error) { return 0, r.err }

func TestHandler_GenerateDocument_PropagatesHTTPError(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/lab-documents",
		failingReader{err: echo.NewHTTPError(http.StatusRequestEntityTooLarge, "request body too large")})
	rec := httptest.NewRecorder()
	c := e.NewContext(req, rec)

	err := newTestHandler().GenerateDocument(c)
	he, ok := err.(*echo.HTTPError)
	if !ok {
		t.Fatalf("expected *echo.HTTPError, got %T (%v)", err, err)
	}
	if he.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("expected 413, got %d", he.Code)
	}
}

// =========== InspectDocument ===========

func TestHandler_InspectDocument(t *testing.T) {
	doc := NewAssembler(WithClock(FixedClock(testNow))).Assemble(testPatient(), testLabs())

	h := newTestHandler()
	rec := doRequest(h.InspectDocument, "/api/v1/lab-documents/inspect", echo.MIMEApplicationXML, doc.XML)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var parsed ParsedDocument
	if err := json.Unmarshal(rec.Body.Bytes(), &parsed); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if parsed.DocumentID != doc.DocumentID {
		t.Errorf("expected document id %s, got %s", doc.DocumentID, parsed.DocumentID)
	}
	if len(parsed.NarrativeRows) != len(testLabs()) {
		t.Errorf("expected %d rows, got %d", len(testLabs()), len(parsed.NarrativeRows))
	}
}

func TestHandler_InspectDocument_Invalid(t *testing.T) {
	h := newTestHandler()
	for _, body := range []string{"", "<ClinicalDocument>"} {
		rec := doRequest(h.InspectDocument, "/api/v1/lab-documents/inspect", echo.MIMEApplicationXML, body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("body %q: expected status 400, got %d", body, rec.Code)
		}
		if !strings.Contains(rec.Body.String(), "failed to parse document") {
			t.Errorf("body %q: unexpected error body %s", body, rec.Body.String())
		}
	}
}

// =========== RegisterRoutes ===========

func TestHandler_RegisterRoutes(t *testing.T) {
	e := echo.New()
	g := e.Group("/api/v1")
	newTestHandler().RegisterRoutes(g)

	want := map[string]bool{
		"POST:/api/v1/lab-documents":         false,
		"POST:/api/v1/lab-documents/inspect": false,
	}
	for _, r := range e.Routes() {
		key := r.Method + ":" + r.Path
		if _, ok := want[key]; ok {
			want[key] = true
		}
	}
	for route, found := range want {
		if !found {
			t.Errorf("missing route: %s", route)
		}
	}
}
