// Package service implements the session exchange and forwarding logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"rfms-proxy-go/internal/auth"
	"rfms-proxy-go/internal/client"
	"rfms-proxy-go/internal/config"
	"rfms-proxy-go/internal/model"
)

// TokenHeader is the request header carrying the client's session token.
const TokenHeader = "x-rfms-token"

// RoutePrefix is the inbound path prefix stripped before forwarding upstream.
const RoutePrefix = "/api/rfms"

// ErrMissingToken is returned when a forwarded request has no session token header.
var ErrMissingToken = errors.New("session token required: send " + TokenHeader + " header")

// allowedUpstreamHosts restricts which hosts the proxy will forward to.
var allowedUpstreamHosts = map[string]bool{
	"api.rfms.online": true,
}

const userAgent = "rfms-proxy-go/1.0"

// forwardableResponseHeaders are the only response headers relayed to the client.
var forwardableResponseHeaders = map[string]bool{
	"Content-Type":     true,
	"Content-Length":   true,
	"Content-Encoding": true,
	"Cache-Control":    true,
	"Date":             true,
	"X-Request-Id":     true,
}

// ProxyService handles the session-begin exchange and transparent forwarding.
type ProxyService struct {
	client  *client.RFMSClient
	cfg     *config.Config
	logger  *slog.Logger
	baseURL *url.URL
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.RFMSClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	if !allowedUpstreamHosts[u.Hostname()] {
		return nil, fmt.Errorf("upstream host %q is not in the allowlist", u.Hostname())
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// NewProxyServiceForTest creates a ProxyService without host allowlist validation.
// This is intended only for tests that use httptest servers on localhost.
func NewProxyServiceForTest(c *client.RFMSClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	u, err := url.Parse(cfg.Upstream.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:  c,
		cfg:     cfg,
		logger:  logger.With("component", "proxy_service"),
		baseURL: u,
	}, nil
}

// BeginSession exchanges the configured store/API-key pair for an upstream
// session by calling POST {base}/session/begin. The upstream response is
// returned as-is; the caller is responsible for closing the body.
func (s *ProxyService) BeginSession(ctx context.Context) (*model.ProxyResponse, error) {
	u := *s.baseURL
	u.Path = joinPath(s.baseURL.Path, "session/begin")

	s.logger.Debug("beginning upstream session")

	resp, err := s.client.DoStream(ctx, http.MethodPost, u.String(), s.upstreamHeader(s.cfg.RFMS.APIKey), nil)
	if err != nil {
		return nil, fmt.Errorf("begin session: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// Forward sends a ProxyRequest to the upstream RFMS API and returns the response.
// The caller is responsible for closing the response body.
//
// The session token is read from the x-rfms-token header and becomes the
// secret half of the upstream Basic-Auth pair. A request without the header
// returns ErrMissingToken before any upstream call is made. A header that is
// present with an empty value is still forwarded: the token is opaque and the
// upstream decides its validity.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	vals := pr.Header.Values(TokenHeader)
	if len(vals) == 0 {
		return nil, ErrMissingToken
	}
	token := vals[0]

	upstreamURL := s.buildUpstreamURL(pr.Path, pr.Query)

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
	)

	resp, err := s.client.DoStream(pr.Ctx, pr.Method, upstreamURL, s.upstreamHeader(token), pr.Body)
	if err != nil {
		return nil, fmt.Errorf("forward to upstream: %w", err)
	}

	resp.Header = s.filterResponseHeaders(resp.Header)
	return resp, nil
}

// buildUpstreamURL strips the route prefix from the inbound path and rewrites
// the remainder onto the upstream base URL, preserving the query string.
func (s *ProxyService) buildUpstreamURL(path string, query url.Values) string {
	rest := strings.TrimPrefix(path, RoutePrefix)

	u := *s.baseURL
	u.Path = joinPath(s.baseURL.Path, rest)
	u.RawQuery = query.Encode()

	return u.String()
}

// upstreamHeader builds the complete outbound header set. Inbound headers are
// never passed through: the upstream sees exactly Authorization, Content-Type,
// and User-Agent.
func (s *ProxyService) upstreamHeader(secret string) http.Header {
	h := make(http.Header)
	h.Set("Authorization", auth.BasicHeader(s.cfg.RFMS.Store, secret))
	h.Set("Content-Type", "application/json")
	h.Set("User-Agent", userAgent)
	return h
}

func (s *ProxyService) filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header)
	for key, vals := range src {
		if forwardableResponseHeaders[http.CanonicalHeaderKey(key)] {
			dst[key] = vals
		}
	}
	return dst
}

// joinPath concatenates a base path and a sub path with exactly one slash.
func joinPath(base, rest string) string {
	return strings.TrimSuffix(base, "/") + "/" + strings.TrimPrefix(rest, "/")
}
