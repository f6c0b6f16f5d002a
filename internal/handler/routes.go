package handler

import (
	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"rfms-proxy-go/internal/config"
	"rfms-proxy-go/internal/metrics"
	"rfms-proxy-go/internal/service"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is registered only when metrics are enabled
// (m is nil otherwise). Anything not matched here falls through to the
// static SPA middleware installed on the server.
func RegisterRoutes(e *echo.Echo, auth *AuthHandler, proxy *ProxyHandler, health *HealthHandler, cfg *config.Config, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/proxy/status", health.Status)

	e.POST("/api/auth", auth.Handle)
	e.Any(service.RoutePrefix+"/*", proxy.Handle)

	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(
			promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{}),
		))
	}
}
