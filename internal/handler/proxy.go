package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"rfms-proxy-go/internal/model"
	"rfms-proxy-go/internal/service"
)

// requestFailedBody is the generic error message when a forwarded call fails
// without an upstream payload to relay.
const requestFailedBody = "Request Failed"

// ProxyHandler forwards API requests to the upstream RFMS API.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle proxies the request to the upstream RFMS API and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Path:   req.URL.Path,
		Query:  req.URL.Query(),
		Header: req.Header,
		Body:   req.Body,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return relay(c, resp, h.logger, requestFailedBody)
}

// mapError converts forwarding failures into JSON error responses. A missing
// token is the only locally detected failure; everything else is a transport
// error that never produced an upstream response.
func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("proxy error",
		"err", err,
		"path", c.Request().URL.Path,
	)

	if errors.Is(err, service.ErrMissingToken) {
		return c.JSON(http.StatusUnauthorized, map[string]string{
			"error": "Missing session token",
		})
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": requestFailedBody,
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": requestFailedBody,
	})
}
