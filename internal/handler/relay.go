package handler

import (
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"rfms-proxy-go/internal/model"
)

// maxErrorBodyBytes bounds how much of a non-JSON upstream failure body is
// echoed back to the client.
const maxErrorBodyBytes = 2000

// relay copies an upstream response to the client: status unchanged, body
// streamed verbatim. The one exception is a non-2xx response with a non-JSON
// Content-Type, which is wrapped as {"error": <raw body>} so clients always
// receive JSON; fallback is used when that raw body turns out empty.
func relay(c echo.Context, resp *model.ProxyResponse, logger *slog.Logger, fallback string) error {
	if !is2xx(resp.StatusCode) && !isJSON(resp.Header.Get("Content-Type")) {
		raw, err := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		if err != nil {
			logger.Error("reading upstream error body", "err", err)
			raw = nil
		}
		msg := strings.TrimSpace(string(raw))
		if msg == "" {
			msg = fallback
		}
		return c.JSON(resp.StatusCode, map[string]string{"error": msg})
	}

	for key, vals := range resp.Header {
		for _, v := range vals {
			c.Response().Header().Add(key, v)
		}
	}

	c.Response().WriteHeader(resp.StatusCode)

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. We log the error for observability.
	if _, err := io.Copy(c.Response(), resp.Body); err != nil {
		logger.Error("streaming response body",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return nil
}

func is2xx(status int) bool {
	return status >= http.StatusOK && status < http.StatusMultipleChoices
}

func isJSON(contentType string) bool {
	return strings.Contains(contentType, "application/json")
}
