// Package api exposes the FHIR REST surface over echo.
package api

import (
	"context"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/fhird/fhird/internal/config"
	"github.com/fhird/fhird/internal/fhir"
	"github.com/fhird/fhird/internal/ops"
	"github.com/fhird/fhird/internal/platform/db"
	"github.com/fhird/fhird/internal/platform/middleware"
	"github.com/fhird/fhird/internal/platform/telemetry"
	"github.com/fhird/fhird/internal/search"
	"github.com/fhird/fhird/internal/store"
)

// Server wires the handlers, middleware, and routes.
type Server struct {
	echo     *echo.Echo
	cfg      *config.Config
	log      zerolog.Logger
	pool     *pgxpool.Pool
	store    *store.Store
	engine   *search.Engine
	registry *ops.Registry
	cap      *capabilityCache
	metrics  *telemetry.Provider
}

func New(cfg *config.Config, logger zerolog.Logger, pool *pgxpool.Pool, st *store.Store, engine *search.Engine, registry *ops.Registry, metrics *telemetry.Provider) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	s := &Server{
		echo:     e,
		cfg:      cfg,
		log:      logger,
		pool:     pool,
		store:    st,
		engine:   engine,
		registry: registry,
		cap:      newCapabilityCache(cfg.MetadataCacheTTL()),
		metrics:  metrics,
	}

	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.Recovery(logger))

	e.GET("/health", s.handleHealth)
	e.GET("/metrics", metrics.PrometheusHandler())

	g := e.Group("/fhir")
	g.GET("/metadata", s.handleMetadata)
	g.POST("", s.handleBundle)
	g.POST("/", s.handleBundle)
	g.GET("/_history", s.handleSystemHistory)

	g.GET("/:type", s.handleSearch)
	g.POST("/:type", s.handleCreate)
	g.POST("/:type/_search", s.handleSearch)
	g.GET("/:type/_history", s.handleTypeHistory)

	g.GET("/:type/:id", s.handleReadOrTypeOp)
	g.POST("/:type/:id", s.handlePostTypeOp)
	g.PUT("/:type/:id", s.handleUpdate)
	g.DELETE("/:type/:id", s.handleDelete)
	g.GET("/:type/:id/_history", s.handleInstanceHistory)
	g.GET("/:type/:id/_history/:vid", s.handleVRead)

	g.GET("/:type/:id/:op", s.handleInstanceOp)
	g.POST("/:type/:id/:op", s.handleInstanceOp)

	return s
}

// Start serves until the context is canceled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.echo.Start(":" + s.cfg.Port)
	}()
	s.log.Info().Str("port", s.cfg.Port).Str("base_url", s.cfg.BaseURL).Msg("server listening")

	select {
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	case <-ctx.Done():
		s.log.Info().Msg("shutting down")
		return s.echo.Shutdown(context.Background())
	}
}

func (s *Server) handleHealth(c echo.Context) error {
	h := db.Check(c.Request().Context(), s.pool)
	status := http.StatusOK
	if !h.OK {
		status = http.StatusServiceUnavailable
	}
	return c.JSON(status, h)
}

// fhirJSON writes a response with the FHIR JSON content type. Echo only
// sets Content-Type when it is unset, so presetting wins.
func fhirJSON(c echo.Context, status int, v any) error {
	c.Response().Header().Set(echo.HeaderContentType, fhir.MIMEType)
	return c.JSON(status, v)
}

// respondError maps an error to its status and OperationOutcome body.
func (s *Server) respondError(c echo.Context, err error) error {
	status := fhir.StatusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}
	return fhirJSON(c, status, fhir.OutcomeFor(err))
}
