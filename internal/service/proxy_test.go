package service

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"rfms-proxy-go/internal/client"
	"rfms-proxy-go/internal/config"
	"rfms-proxy-go/internal/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig(baseURL string) *config.Config {
	return &config.Config{
		RFMS: config.RFMSConfig{Store: "S", APIKey: "K"},
		Upstream: config.UpstreamConfig{
			BaseURL:         baseURL,
			TimeoutSeconds:  10,
			IdleConnections: 10,
		},
	}
}

func newTestService(t *testing.T, baseURL string) *ProxyService {
	t.Helper()
	cfg := testConfig(baseURL)
	logger := discardLogger()
	c := client.NewRFMSClient(cfg, logger, nil)
	svc, err := NewProxyServiceForTest(c, cfg, logger)
	if err != nil {
		t.Fatalf("NewProxyServiceForTest: %v", err)
	}
	return svc
}

func basic(user, secret string) string {
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(user+":"+secret))
}

func TestUpstreamHeader(t *testing.T) {
	s := newTestService(t, "https://api.rfms.online/v2")

	h := s.upstreamHeader("token-1")

	if got, want := h.Get("Authorization"), basic("S", "token-1"); got != want {
		t.Errorf("Authorization = %q, want %q", got, want)
	}
	if got := h.Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q, want %q", got, "application/json")
	}
	if got := h.Get("User-Agent"); got != userAgent {
		t.Errorf("User-Agent = %q, want %q", got, userAgent)
	}
	if len(h) != 3 {
		t.Errorf("header count = %d, want exactly 3 (Authorization, Content-Type, User-Agent)", len(h))
	}
}

func TestBuildUpstreamURL(t *testing.T) {
	tests := []struct {
		name  string
		base  string
		path  string
		query url.Values
		want  string
	}{
		{
			name: "prefix stripped onto versioned base",
			base: "https://api.rfms.online/v2",
			path: "/api/rfms/opportunities/Measure",
			want: "https://api.rfms.online/v2/opportunities/Measure",
		},
		{
			name:  "query string preserved",
			base:  "https://api.rfms.online/v2",
			path:  "/api/rfms/customers/search",
			query: url.Values{"q": {"smith"}},
			want:  "https://api.rfms.online/v2/customers/search?q=smith",
		},
		{
			name: "base with trailing slash",
			base: "https://api.rfms.online/v2/",
			path: "/api/rfms/customers",
			want: "https://api.rfms.online/v2/customers",
		},
		{
			name: "nested path",
			base: "https://api.rfms.online/v2",
			path: "/api/rfms/a/b/c",
			want: "https://api.rfms.online/v2/a/b/c",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := newTestService(t, tt.base)
			got := s.buildUpstreamURL(tt.path, tt.query)
			if got != tt.want {
				t.Errorf("buildUpstreamURL(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestBeginSession(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %q, want POST", r.Method)
		}
		if r.URL.Path != "/v2/session/begin" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/v2/session/begin")
		}
		if got, want := r.Header.Get("Authorization"), basic("S", "K"); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"sessionToken":"abc"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL+"/v2")

	resp, err := svc.BeginSession(context.Background())
	if err != nil {
		t.Fatalf("BeginSession() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"sessionToken":"abc"}` {
		t.Errorf("body = %q, want %q", string(body), `{"sessionToken":"abc"}`)
	}
}

func TestBeginSession_UpstreamFailureRelayed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"bad credentials"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	resp, err := svc.BeginSession(context.Background())
	if err != nil {
		t.Fatalf("BeginSession() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
}

func TestForward_TranslatesTokenToBasicAuth(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Authorization"), basic("S", "abc"); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		// The token header itself must never travel upstream.
		if r.Header.Get(TokenHeader) != "" {
			t.Errorf("%s header should not be forwarded upstream", TokenHeader)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want %q", got, "application/json")
		}
		if r.URL.Path != "/opportunities/Measure" {
			t.Errorf("path = %q, want %q", r.URL.Path, "/opportunities/Measure")
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	header := http.Header{}
	header.Set(TokenHeader, "abc")

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/rfms/opportunities/Measure",
		Query:  url.Values{},
		Header: header,
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	body, _ := io.ReadAll(resp.Body)
	if string(body) != `{"result":"ok"}` {
		t.Errorf("body = %q, want %q", string(body), `{"result":"ok"}`)
	}
}

func TestForward_EmptyTokenStillForwards(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got, want := r.Header.Get("Authorization"), basic("S", ""); got != want {
			t.Errorf("Authorization = %q, want %q", got, want)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	// Header present with an empty value: the token is opaque, so it is
	// forwarded as-is rather than rejected.
	header := http.Header{}
	header.Set(TokenHeader, "")

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/rfms/customers",
		Query:  url.Values{},
		Header: header,
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestForward_MissingToken(t *testing.T) {
	upstreamCalled := false
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		upstreamCalled = true
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Path:   "/api/rfms/opportunities/Measure",
		Query:  url.Values{},
		Header: http.Header{},
	}

	_, err := svc.Forward(pr)
	if err == nil {
		t.Fatal("Forward() expected ErrMissingToken, got nil")
	}
	if !errors.Is(err, ErrMissingToken) {
		t.Errorf("Forward() error = %v, want ErrMissingToken", err)
	}
	if upstreamCalled {
		t.Error("upstream must not be called when the token header is absent")
	}
}

func TestForward_BodyAndMethodPreserved(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("method = %q, want PUT", r.Method)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != `{"name":"smith"}` {
			t.Errorf("body = %q, want %q", string(body), `{"name":"smith"}`)
		}
		if got := r.URL.Query().Get("storeNumber"); got != "1" {
			t.Errorf("storeNumber = %q, want %q", got, "1")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream.URL)

	header := http.Header{}
	header.Set(TokenHeader, "abc")

	pr := &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodPut,
		Path:   "/api/rfms/customers/7",
		Query:  url.Values{"storeNumber": {"1"}},
		Header: header,
		Body:   io.NopCloser(strings.NewReader(`{"name":"smith"}`)),
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestFilterResponseHeaders(t *testing.T) {
	s := &ProxyService{}
	src := http.Header{
		"Content-Type":           {"application/json"},
		"Content-Length":         {"42"},
		"Transfer-Encoding":      {"chunked"},
		"Set-Cookie":             {"session=abc"},
		"X-Content-Type-Options": {"nosniff"},
		"Date":                   {"Mon, 01 Jan 2025 00:00:00 GMT"},
	}

	dst := s.filterResponseHeaders(src)

	tests := []struct {
		name    string
		key     string
		wantLen int
	}{
		{"Content-Type forwarded", "Content-Type", 1},
		{"Content-Length forwarded", "Content-Length", 1},
		{"Date forwarded", "Date", 1},
		{"Set-Cookie stripped", "Set-Cookie", 0},
		{"X-Content-Type-Options stripped", "X-Content-Type-Options", 0},
		{"Transfer-Encoding stripped (hop-by-hop)", "Transfer-Encoding", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := len(dst.Values(tt.key))
			if got != tt.wantLen {
				t.Errorf("header %q: got %d values, want %d", tt.key, got, tt.wantLen)
			}
		})
	}
}

func TestNewProxyService_AllowlistRejectsUnknownHost(t *testing.T) {
	cfg := testConfig("https://evil.example.com")
	_, err := NewProxyService(nil, cfg, discardLogger())
	if err == nil {
		t.Fatal("NewProxyService() expected error for disallowed host, got nil")
	}
}

func TestNewProxyService_AllowlistAcceptsRFMS(t *testing.T) {
	cfg := testConfig("https://api.rfms.online/v2")
	svc, err := NewProxyService(nil, cfg, discardLogger())
	if err != nil {
		t.Fatalf("NewProxyService() error = %v", err)
	}
	if svc == nil {
		t.Fatal("NewProxyService() returned nil service")
	}
}
