// Package server exposes the ingestion and retrieval pipelines over HTTP.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mohammad-safakhou/docresearch/config"
	"github.com/mohammad-safakhou/docresearch/internal/extract"
	"github.com/mohammad-safakhou/docresearch/internal/ingest"
	"github.com/mohammad-safakhou/docresearch/internal/ocr"
	"github.com/mohammad-safakhou/docresearch/internal/research"
	"github.com/mohammad-safakhou/docresearch/internal/store"
	"github.com/mohammad-safakhou/docresearch/internal/vectorindex"
	ollama "github.com/mohammad-safakhou/docresearch/provider/ollama"
)

// Run wires the full service and blocks serving HTTP. A failed Postgres
// connection is logged and the service runs degraded; a failed vector index
// open is fatal since nothing works without it.
func Run(cfg *config.Config) error {
	logger := log.New(log.Writer(), "[SERVER] ", log.LstdFlags)
	ctx := context.Background()

	var st *store.Store
	dsn, err := cfg.Storage.Postgres.DSN()
	if err != nil {
		logger.Printf("document store not configured, running degraded: %v", err)
	} else if st, err = store.NewWithDSN(ctx, dsn); err != nil {
		logger.Printf("document store connection failed, running degraded: %v", err)
		st = nil
	}

	index, err := vectorindex.Open(cfg.Storage.VectorIndex.Path)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}

	llm := ollama.NewClient(cfg.Ollama.BaseURL, cfg.Ollama.Model, cfg.Ollama.EmbeddingModel, cfg.Ollama.Timeout, cfg.Ollama.ProbeTimeout)
	if !llm.IsAvailable(ctx) {
		logger.Printf("ollama is not available at %s (model %s), answers will degrade to previews", cfg.Ollama.BaseURL, cfg.Ollama.Model)
	}

	// A nil *store.Store must stay a nil interface inside the pipelines.
	var ingestStore ingest.DocumentStore
	var researchStore research.DocumentStore
	var reader DocumentReader
	if st != nil {
		ingestStore = st
		researchStore = st
		reader = st
	}

	ingestPipeline := ingest.New(ingestStore, index, llm, ocr.NewTesseract(), extract.NewPDFExtractor(), cfg.Uploads.Dir)
	researchPipeline := research.New(researchStore, index, llm, cfg.Search.TopK)

	e := newEcho()
	e.Use(middleware.BodyLimit(fmt.Sprintf("%d", cfg.Uploads.MaxSize)))

	e.GET("/", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"message": "Welcome to the Document Research API"})
	})
	if cfg.General.Metrics {
		e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))
	}

	hh := &HealthHandler{Index: index, LLM: llm}
	if st != nil {
		hh.Store = st
	}
	e.GET("/health", hh.health)

	api := e.Group("/api")
	dh := &DocumentsHandler{Pipeline: ingestPipeline, Store: reader}
	dh.Register(api.Group("/documents"))
	qh := &QueriesHandler{Pipeline: researchPipeline}
	qh.Register(api.Group("/queries"))

	logger.Printf("listening on %s", cfg.General.Listen)
	return e.Start(cfg.General.Listen)
}

// newEcho builds the router shared by Run and the handler tests.
func newEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	// Unified HTTP error handler with structured JSON and logging
	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}

	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie"},
		AllowCredentials: true,
	}))
	return e
}
