package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"rfms-proxy-go/internal/service"
)

// authFailedBody is the generic error message when the session exchange
// fails without an upstream payload to relay.
const authFailedBody = "Auth Failed"

// AuthHandler exchanges the configured credentials for an upstream session.
type AuthHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewAuthHandler creates an AuthHandler.
func NewAuthHandler(svc *service.ProxyService, logger *slog.Logger) *AuthHandler {
	return &AuthHandler{
		service: svc,
		logger:  logger.With("component", "auth_handler"),
	}
}

// Handle serves POST /api/auth: it calls the upstream session-begin endpoint
// with the configured store/API-key pair and relays the result. The client
// sends no credentials of its own; the request body is ignored.
func (h *AuthHandler) Handle(c echo.Context) error {
	resp, err := h.service.BeginSession(c.Request().Context())
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	return relay(c, resp, h.logger, authFailedBody)
}

func (h *AuthHandler) mapError(c echo.Context, err error) error {
	h.logger.Error("session exchange error", "err", err)

	if errors.Is(err, context.DeadlineExceeded) {
		return c.JSON(http.StatusGatewayTimeout, map[string]string{
			"error": authFailedBody,
		})
	}

	return c.JSON(http.StatusInternalServerError, map[string]string{
		"error": authFailedBody,
	})
}
