package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docresearch/models"
)

// Ingestor is the slice of the ingestion pipeline the handlers call.
type Ingestor interface {
	Ingest(ctx context.Context, data []byte, filename, title string) (models.Document, error)
	RebuildEmbeddings(ctx context.Context, documentID string) error
}

// DocumentReader is the read side of the document store. Nil when the store
// is down; the handlers then degrade per endpoint.
type DocumentReader interface {
	GetDocument(ctx context.Context, id string) (models.Document, bool, error)
	ListDocuments(ctx context.Context) ([]models.Document, error)
}

// DocumentsHandler serves upload, listing and embedding maintenance.
type DocumentsHandler struct {
	Pipeline Ingestor
	Store    DocumentReader
}

func (h *DocumentsHandler) Register(g *echo.Group) {
	g.POST("/", h.upload)
	g.GET("/", h.list)
	g.GET("/:id", h.get)
	g.POST("/:id/rebuild-embeddings", h.rebuildEmbeddings)
}

func (h *DocumentsHandler) upload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "file is required")
	}
	title := c.FormValue("title")

	f, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error uploading document: %v", err))
	}
	defer f.Close()
	data, err := io.ReadAll(f)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error uploading document: %v", err))
	}

	doc, err := h.Pipeline.Ingest(c.Request().Context(), data, fileHeader.Filename, title)
	if err != nil {
		if errors.Is(err, models.ErrUnsupportedType) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error uploading document: %v", err))
	}
	return c.JSON(http.StatusCreated, doc.Summary())
}

// list never fails: store errors and a missing store both produce an empty
// array.
func (h *DocumentsHandler) list(c echo.Context) error {
	summaries := []models.DocumentSummary{}
	if h.Store == nil {
		return c.JSON(http.StatusOK, summaries)
	}
	docs, err := h.Store.ListDocuments(c.Request().Context())
	if err != nil {
		return c.JSON(http.StatusOK, summaries)
	}
	for _, doc := range docs {
		summaries = append(summaries, doc.Summary())
	}
	return c.JSON(http.StatusOK, summaries)
}

func (h *DocumentsHandler) get(c echo.Context) error {
	if h.Store == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Database service unavailable")
	}
	id := c.Param("id")
	doc, ok, err := h.Store.GetDocument(c.Request().Context(), id)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error getting document: %v", err))
	}
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Document with ID %s not found", id))
	}
	return c.JSON(http.StatusOK, doc.Summary())
}

func (h *DocumentsHandler) rebuildEmbeddings(c echo.Context) error {
	id := c.Param("id")
	err := h.Pipeline.RebuildEmbeddings(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, map[string]interface{}{
			"success": true,
			"message": fmt.Sprintf("Successfully rebuilt embeddings for document %s", id),
		})
	case errors.Is(err, models.ErrStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "Database service unavailable")
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Failed to rebuild embeddings for document %s", id))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error rebuilding embeddings: %v", err))
	}
}
