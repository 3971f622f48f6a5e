package ccda

import (
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/labccda/internal/platform/delivery"
)

const (
	// DocumentIDHeader carries the generated document identifier.
	DocumentIDHeader = "X-Document-ID"
	// DocumentHashHeader carries the SHA-256 of an archived document.
	DocumentHashHeader = "X-Document-SHA256"
)

// Handler provides HTTP endpoints for lab-results document generation and
// inspection.
type Handler struct {
	assembler *Assembler
	parser    *Parser
	archive   delivery.Deliverer
	logger    zerolog.Logger
}

// HandlerOption configures a Handler.
type HandlerOption func(*Handler)

// WithArchive keeps a copy of every generated document in d, named by its
// document identifier, before it is returned to the client.
func WithArchive(d delivery.Deliverer) HandlerOption {
	return func(h *Handler) { h.archive = d }
}

// NewHandler creates a new lab-results document handler.
func NewHandler(assembler *Assembler, parser *Parser, logger zerolog.Logger, opts ...HandlerOption) *Handler {
	h := &Handler{
		assembler: assembler,
		parser:    parser,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes registers endpoints on the provided route group.
//
//	POST /api/v1/lab-documents          - Generate a document from a JSON submission
//	POST /api/v1/lab-documents/inspect  - Summarize a generated document
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/lab-documents", h.GenerateDocument)
	g.POST("/lab-documents/inspect", h.InspectDocument)
}

// GenerateDocument handles POST /api/v1/lab-documents. The response is the
// XML document served as an attachment named after the document date.
func (h *Handler) GenerateDocument(c echo.Context) error {
	sub, err := DecodeSubmission(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	if err := sub.Validate(); err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			return c.JSON(http.StatusBadRequest, map[string]interface{}{
				"error":  "invalid submission",
				"fields": verr.Fields,
			})
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": err.Error(),
		})
	}

	doc := h.assembler.Assemble(sub.Patient(), sub.Labs())
	rid, _ := c.Get("request_id").(string)
	resp := c.Response()

	if h.archive != nil {
		receipt, err := h.archive.Deliver(c.Request().Context(), doc.DocumentID+".xml", []byte(doc.XML))
		if err != nil {
			h.logger.Error().Err(err).
				Str("request_id", rid).
				Str("document_id", doc.DocumentID).
				Msg("failed to archive document")
			return c.JSON(http.StatusInternalServerError, map[string]string{
				"error": "failed to archive document",
			})
		}
		resp.Header().Set(DocumentHashHeader, receipt.SHA256)
	}

	h.logger.Info().
		Str("request_id", rid).
		Str("document_id", doc.DocumentID).
		Str("filename", doc.Filename).
		Int("lab_results", len(sub.LabResults)).
		Msg("lab results document generated")

	disposition := mime.FormatMediaType("attachment", map[string]string{
		"filename": doc.Filename,
	})
	if disposition == "" {
		disposition = "attachment"
	}
	resp.Header().Set(echo.HeaderContentDisposition, disposition)
	resp.Header().Set(DocumentIDHeader, doc.DocumentID)
	return c.Blob(http.StatusOK, "application/xml", []byte(doc.XML))
}

// InspectDocument handles POST /api/v1/lab-documents/inspect.
// It accepts an XML body and returns the parsed summary as JSON.
func (h *Handler) InspectDocument(c echo.Context) error {
	body, err := io.ReadAll(c.Request().Body)
	if err != nil {
		var he *echo.HTTPError
		if errors.As(err, &he) {
			return he
		}
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to read request body",
		})
	}

	parsed, err := h.parser.Parse(body)
	if err != nil {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "failed to parse document: " + err.Error(),
		})
	}

	return c.JSON(http.StatusOK, parsed)
}
