// Package httpapi provides the HTTP API for knowledged.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/brokerkit/knowledged/internal/ingest"
	"github.com/brokerkit/knowledged/internal/retrieval"
	"github.com/brokerkit/knowledged/internal/vectorstore"
)

// Server provides HTTP endpoints for knowledged.
type Server struct {
	echo         *echo.Echo
	pipeline     *ingest.Pipeline
	orchestrator *retrieval.Orchestrator
	store        vectorstore.Store
	logger       *zap.Logger
	config       *Config
}

// Config holds HTTP server configuration.
type Config struct {
	Host string
	Port int
}

// NewServer creates a new HTTP server.
func NewServer(pipeline *ingest.Pipeline, orchestrator *retrieval.Orchestrator, store vectorstore.Store, logger *zap.Logger, cfg *Config) (*Server, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline is required")
	}
	if orchestrator == nil {
		return nil, fmt.Errorf("orchestrator is required")
	}
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger is required for request tracking and debugging")
	}
	if cfg == nil {
		cfg = &Config{
			Host: "localhost",
			Port: 8090,
		}
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)
			duration := time.Since(start)

			logger.Info("http request",
				zap.String("method", c.Request().Method),
				zap.String("uri", c.Request().RequestURI),
				zap.Int("status", c.Response().Status),
				zap.Duration("duration", duration),
				zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			)

			return err
		}
	})

	s := &Server{
		echo:         e,
		pipeline:     pipeline,
		orchestrator: orchestrator,
		store:        store,
		logger:       logger,
		config:       cfg,
	}

	// Register routes
	s.registerRoutes()

	return s, nil
}

// registerRoutes sets up the HTTP endpoints.
func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)
	s.echo.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	v1 := s.echo.Group("/api/v1")
	v1.POST("/ingest", s.handleIngest)
	v1.POST("/query", s.handleQuery)
	v1.DELETE("/documents", s.handleDeleteDocuments)
}

// IngestRequest is the request body for POST /api/v1/ingest.
type IngestRequest struct {
	ClientID  string            `json:"client_id"`
	Documents []ingest.Document `json:"documents"`
}

// IngestResponse is the response body for POST /api/v1/ingest.
type IngestResponse struct {
	Results []DocumentResult `json:"results"`
	Failed  int              `json:"failed"`
}

// DocumentResult is one document's outcome. The pipeline error is flattened
// to a string for JSON.
type DocumentResult struct {
	Source string `json:"source"`
	State  string `json:"state"`
	Chunks int    `json:"chunks,omitempty"`
	Error  string `json:"error,omitempty"`
}

// QueryRequest is the request body for POST /api/v1/query.
type QueryRequest struct {
	ClientID   string `json:"client_id"`
	TenantName string `json:"tenant_name"`
	Query      string `json:"text"`
	TopK       int    `json:"top_k,omitempty"`
	ScopeID    string `json:"scope_id,omitempty"`
}

// DeleteRequest is the request body for DELETE /api/v1/documents.
type DeleteRequest struct {
	ClientID string `json:"client_id"`
	Source   string `json:"source"`
}

// HealthResponse is the response body for GET /health.
type HealthResponse struct {
	Status  string `json:"status"`
	Records int    `json:"records,omitempty"`
}

// handleHealth reports liveness and probes the vector store.
func (s *Server) handleHealth(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		s.logger.Warn("health probe failed", zap.Error(err))
		return c.JSON(http.StatusServiceUnavailable, HealthResponse{Status: "degraded"})
	}
	return c.JSON(http.StatusOK, HealthResponse{Status: "ok", Records: stats.RecordCount})
}

// handleIngest ingests a batch of documents for one tenant.
func (s *Server) handleIngest(c echo.Context) error {
	var req IngestRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid ingest request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ClientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id field is required")
	}
	if len(req.Documents) == 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "documents field is required")
	}

	results := s.pipeline.IngestBatch(c.Request().Context(), req.ClientID, req.Documents)

	resp := IngestResponse{Results: make([]DocumentResult, len(results))}
	for i, r := range results {
		dr := DocumentResult{
			Source: r.Source,
			State:  string(r.State),
			Chunks: r.Chunks,
		}
		if r.Err != nil {
			dr.Error = r.Err.Error()
			resp.Failed++
		}
		resp.Results[i] = dr
	}
	return c.JSON(http.StatusOK, resp)
}

// handleQuery answers a retrieval query.
func (s *Server) handleQuery(c echo.Context) error {
	var req QueryRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid query request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ClientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id field is required")
	}
	if req.Query == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "query field is required")
	}

	resp, err := s.orchestrator.Retrieve(c.Request().Context(), req.ClientID, req.TenantName, retrieval.Request{
		Query:   req.Query,
		TopK:    req.TopK,
		ScopeID: req.ScopeID,
	})
	if err != nil {
		if errors.Is(err, retrieval.ErrRetrievalUnavailable) {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "retrieval temporarily unavailable")
		}
		s.logger.Error("query failed", zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "query failed")
	}
	return c.JSON(http.StatusOK, resp)
}

// handleDeleteDocuments removes a tenant's records for one source.
func (s *Server) handleDeleteDocuments(c echo.Context) error {
	var req DeleteRequest
	if err := c.Bind(&req); err != nil {
		s.logger.Warn("invalid delete request", zap.Error(err))
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.ClientID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "client_id field is required")
	}
	if req.Source == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "source field is required")
	}

	if err := s.pipeline.DeleteSource(c.Request().Context(), req.ClientID, req.Source); err != nil {
		s.logger.Error("delete failed",
			zap.String("client_id", req.ClientID),
			zap.String("source", req.Source),
			zap.Error(err))
		return echo.NewHTTPError(http.StatusInternalServerError, "delete failed")
	}
	return c.NoContent(http.StatusNoContent)
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	addr := fmt.Sprintf("%s:%d", s.config.Host, s.config.Port)
	s.logger.Info("starting http server", zap.String("addr", addr))
	return s.echo.Start(addr)
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down http server")
	return s.echo.Shutdown(ctx)
}
