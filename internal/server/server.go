package server

import (
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	appconfig "github.com/querycraft/querycraft/config"
	agentcore "github.com/querycraft/querycraft/internal/agent/core"
	agenttele "github.com/querycraft/querycraft/internal/agent/telemetry"
	"github.com/querycraft/querycraft/internal/capability"
	"github.com/querycraft/querycraft/internal/store"
)

// AnalyzeRequest is the payload for POST /api/analyze.
type AnalyzeRequest struct {
	Query string `json:"query"`
}

// Run starts the HTTP API on the given address.
func Run(addr string, cfg *appconfig.Config) error {
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
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	tele := agenttele.NewTelemetry(cfg.Telemetry)

	registry, err := capability.NewRegistry(capability.DefaultToolCards(), cfg.Capability.SigningSecret, cfg.Capability.RequiredTools)
	if err != nil {
		return err
	}

	sink, err := store.NewFileResultSink(cfg.Storage.File.ResultsDir)
	if err != nil {
		return err
	}

	analyzerLogger := log.New(log.Writer(), "[ANALYZER] ", log.LstdFlags)
	analyzer, err := agentcore.NewAnalyzer(cfg, analyzerLogger, tele, registry, sink)
	if err != nil {
		return err
	}

	registerRoutes(e, analyzer, tele)

	baseLogger.Printf("listening on %s", addr)
	return e.Start(addr)
}

func registerRoutes(e *echo.Echo, analyzer agentcore.AnalyzerInterface, tele *agenttele.Telemetry) {
	api := e.Group("/api")

	// Degradation is data: analyze always answers 200 with the canonical
	// result, even when the verdict could not be determined.
	api.POST("/analyze", func(c echo.Context) error {
		var req AnalyzeRequest
		if err := c.Bind(&req); err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
		}
		if strings.TrimSpace(req.Query) == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "query is required")
		}
		result := analyzer.Process(c.Request().Context(), req.Query)
		return c.JSON(http.StatusOK, result)
	})

	api.GET("/analyze/:id/status", func(c echo.Context) error {
		status, err := analyzer.GetStatus(c.Param("id"))
		if err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return c.JSON(http.StatusOK, status)
	})

	api.DELETE("/analyze/:id", func(c echo.Context) error {
		if err := analyzer.CancelProcessing(c.Param("id")); err != nil {
			return echo.NewHTTPError(http.StatusNotFound, err.Error())
		}
		return c.NoContent(http.StatusNoContent)
	})

	api.GET("/report", func(c echo.Context) error {
		return c.String(http.StatusOK, tele.GetPerformanceReport())
	})
}
