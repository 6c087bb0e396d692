package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/mohammad-safakhou/docresearch/models"
)

// Researcher is the slice of the retrieval pipeline the handlers call.
type Researcher interface {
	CreateQuery(ctx context.Context, text string) (models.Query, error)
	GetQuery(ctx context.Context, id string) (models.Query, error)
}

// QueriesHandler serves query submission and lookup.
type QueriesHandler struct {
	Pipeline Researcher
}

func (h *QueriesHandler) Register(g *echo.Group) {
	g.POST("/", h.create)
	g.GET("/:id", h.get)
}

func (h *QueriesHandler) create(c echo.Context) error {
	var req struct {
		Text string `json:"text"`
	}
	if err := c.Bind(&req); err != nil || strings.TrimSpace(req.Text) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "text required")
	}

	q, err := h.Pipeline.CreateQuery(c.Request().Context(), req.Text)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error processing query: %v", err))
	}
	return c.JSON(http.StatusCreated, q)
}

func (h *QueriesHandler) get(c echo.Context) error {
	id := c.Param("id")
	q, err := h.Pipeline.GetQuery(c.Request().Context(), id)
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, q)
	case errors.Is(err, models.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, fmt.Sprintf("Query with ID %s not found", id))
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("Error getting query: %v", err))
	}
}
