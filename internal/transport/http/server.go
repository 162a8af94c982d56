// Package http provides the HTTP server for the conductor service.
package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/xiaot623/conductor/internal/service"
	"github.com/xiaot623/conductor/internal/telemetry"
	v1 "github.com/xiaot623/conductor/internal/transport/http/v1"
)

// NewServer creates and configures the HTTP server.
func NewServer(svc *service.Service, buf *telemetry.Buffer, agg *telemetry.Aggregator) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Middleware
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	// Handlers
	v1Handler := v1.NewHandler(svc, buf, agg)
	v1Handler.RegisterRoutes(e)

	return e
}
