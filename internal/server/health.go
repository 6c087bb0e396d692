package server

import (
	"context"
	"fmt"
	"net/http"

	"github.com/labstack/echo/v4"
)

const apiVersion = "1.0.0"

// StorePinger checks document store reachability.
type StorePinger interface {
	Ping(ctx context.Context) error
}

// IndexCounter reports the number of indexed embeddings.
type IndexCounter interface {
	Count(ctx context.Context) (int, error)
}

// AvailabilityChecker probes the language model endpoint.
type AvailabilityChecker interface {
	IsAvailable(ctx context.Context) bool
}

// HealthHandler reports per-dependency status. Every sub-check is caught
// independently so the endpoint itself never fails.
type HealthHandler struct {
	Store StorePinger // nil when the store was unreachable at startup
	Index IndexCounter
	LLM   AvailabilityChecker
}

func (h *HealthHandler) health(c echo.Context) error {
	ctx := c.Request().Context()

	storeStatus := "not configured"
	if h.Store != nil {
		if err := h.Store.Ping(ctx); err != nil {
			storeStatus = fmt.Sprintf("error: %v", err)
		} else {
			storeStatus = "connected"
		}
	}

	var indexStatus string
	if n, err := h.Index.Count(ctx); err != nil {
		indexStatus = fmt.Sprintf("error: %v", err)
	} else {
		indexStatus = fmt.Sprintf("connected (documents: %d)", n)
	}

	ollamaStatus := "not available"
	if h.LLM.IsAvailable(ctx) {
		ollamaStatus = "available"
	}

	return c.JSON(http.StatusOK, map[string]string{
		"status":       "healthy",
		"store":        storeStatus,
		"vector_index": indexStatus,
		"ollama":       ollamaStatus,
		"version":      apiVersion,
	})
}
