package handler

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"

	"ollama-proxy-go/internal/auth"
	"ollama-proxy-go/internal/metrics"
	"ollama-proxy-go/internal/middleware"
)

// newTestProxy starts the full proxy stack in front of baseURL.
func newTestProxy(t *testing.T, baseURL string) (*httptest.Server, *metrics.Metrics) {
	t.Helper()
	cfg := testConfig(baseURL)
	m := metrics.New()
	logger := discardLogger()

	e := echo.New()
	e.Use(echomw.Recover())
	e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	e.Use(middleware.BearerAuth(auth.New(cfg.Auth.APIKey, cfg.Auth.ExemptPaths), m, logger))
	RegisterRoutes(e, cfg, m, newTestProxyHandler(t, cfg, m), NewInfoHandler(cfg, "test"))

	srv := httptest.NewServer(e)
	t.Cleanup(srv.Close)
	return srv, m
}

func doRequest(t *testing.T, method, url, token string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, url, body)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if token != "" {
		req.Header.Set("Authorization", token)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	return resp
}

func TestRegisterRoutes_Wiring(t *testing.T) {
	var hits atomic.Int32
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	tests := []struct {
		name         string
		method       string
		path         string
		token        string
		wantStatus   int
		wantUpstream bool
	}{
		{"GET / local", http.MethodGet, "/", "", http.StatusOK, false},
		{"POST / forwarded unauthenticated", http.MethodPost, "/", "", http.StatusOK, true},
		{"GET /docs local", http.MethodGet, "/docs", "", http.StatusOK, false},
		{"GET /openapi.json local", http.MethodGet, "/openapi.json", "", http.StatusOK, false},
		{"POST /docs forwarded unauthenticated", http.MethodPost, "/docs", "", http.StatusOK, true},
		{"PUT /openapi.json forwarded unauthenticated", http.MethodPut, "/openapi.json", "", http.StatusOK, true},
		{"GET /docs/oauth2-redirect requires auth", http.MethodGet, "/docs/oauth2-redirect", "", http.StatusUnauthorized, false},
		{"GET /proxy/status requires auth", http.MethodGet, "/proxy/status", "", http.StatusUnauthorized, false},
		{"GET /proxy/status", http.MethodGet, "/proxy/status", "Bearer supersecret", http.StatusOK, false},
		{"GET /metrics requires auth", http.MethodGet, "/metrics", "", http.StatusUnauthorized, false},
		{"GET /metrics", http.MethodGet, "/metrics", "Bearer supersecret", http.StatusOK, false},
		{"GET /api/tags missing header", http.MethodGet, "/api/tags", "", http.StatusUnauthorized, false},
		{"GET /api/tags basic scheme", http.MethodGet, "/api/tags", "Basic abc", http.StatusUnauthorized, false},
		{"GET /api/tags wrong token", http.MethodGet, "/api/tags", "Bearer nope", http.StatusUnauthorized, false},
		{"GET /api/tags", http.MethodGet, "/api/tags", "Bearer supersecret", http.StatusOK, true},
		{"lowercase scheme", http.MethodGet, "/api/tags", "bearer supersecret", http.StatusOK, true},
		{"DELETE /api/delete", http.MethodDelete, "/api/delete", "Bearer supersecret", http.StatusOK, true},
		{"PUT unknown path forwarded", http.MethodPut, "/some/other/path", "Bearer supersecret", http.StatusOK, true},
		{"GET /v1/models", http.MethodGet, "/v1/models", "Bearer supersecret", http.StatusOK, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := hits.Load()
			resp := doRequest(t, tt.method, srv.URL+tt.path, tt.token, nil)
			_, _ = io.Copy(io.Discard, resp.Body)
			_ = resp.Body.Close()

			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if reached := hits.Load() != before; reached != tt.wantUpstream {
				t.Errorf("upstream reached = %v, want %v", reached, tt.wantUpstream)
			}
		})
	}
}

func TestProxy_RootMessage(t *testing.T) {
	srv, _ := newTestProxy(t, "http://"+closedAddr(t))

	resp := doRequest(t, http.MethodGet, srv.URL+"/", "", nil)
	defer resp.Body.Close()

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["message"] != RootMessage {
		t.Errorf("message = %q, want %q", body["message"], RootMessage)
	}
}

func TestProxy_UnauthorizedBody(t *testing.T) {
	srv, _ := newTestProxy(t, "http://"+closedAddr(t))

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/generate", "", strings.NewReader(`{}`))
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusUnauthorized)
	}
	if got := resp.Header.Get("WWW-Authenticate"); got != "Bearer" {
		t.Errorf("WWW-Authenticate = %q, want Bearer", got)
	}
	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "Authorization header is missing" {
		t.Errorf("error = %q", body["error"])
	}
}

func TestProxy_StreamsChunksAsTheyArrive(t *testing.T) {
	chunks := []string{"a", "b", "c"}
	next := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range chunks {
			_, _ = w.Write([]byte(chunk))
			w.(http.Flusher).Flush()
			select {
			case <-next:
			case <-time.After(5 * time.Second):
				return
			}
		}
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/stream", "Bearer supersecret", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}

	buf := make([]byte, 1)
	for i, want := range chunks {
		// The upstream is blocked until this chunk has been seen.
		if _, err := io.ReadFull(resp.Body, buf); err != nil {
			t.Fatalf("chunk %d: %v", i, err)
		}
		if string(buf) != want {
			t.Fatalf("chunk %d = %q, want %q", i, buf, want)
		}
		next <- struct{}{}
	}

	rest, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read rest: %v", err)
	}
	if len(rest) != 0 {
		t.Errorf("unexpected trailing data %q", rest)
	}
}

func TestProxy_GenerateNDJSON(t *testing.T) {
	lines := []string{
		`{"model":"llama3","response":"Hel","done":false}`,
		`{"model":"llama3","response":"lo","done":false}`,
		`{"model":"llama3","response":"","done":true}`,
	}
	reqBody := `{"model":"llama3","prompt":"Say hello"}`

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/generate" {
			t.Errorf("got %s %s, want POST /api/generate", r.Method, r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != reqBody {
			t.Errorf("body = %q, want %q", body, reqBody)
		}
		if got := r.Header.Get("Content-Type"); got != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", got)
		}
		w.Header().Set("Content-Type", "application/x-ndjson")
		for _, line := range lines {
			_, _ = w.Write([]byte(line + "\n"))
			w.(http.Flusher).Flush()
		}
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/api/generate", strings.NewReader(reqBody))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer supersecret")
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if got := resp.Header.Get("Content-Type"); got != "application/x-ndjson" {
		t.Errorf("Content-Type = %q, want application/x-ndjson", got)
	}

	scanner := bufio.NewScanner(resp.Body)
	var got []string
	for scanner.Scan() {
		got = append(got, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		t.Fatalf("scan: %v", err)
	}
	if strings.Join(got, "\n") != strings.Join(lines, "\n") {
		t.Errorf("lines = %q, want %q", got, lines)
	}
}

func TestProxy_ChunkedResponseHasNoStaleContentLength(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		_, _ = w.Write([]byte("{}\n"))
		w.(http.Flusher).Flush()
		_, _ = w.Write([]byte("{}\n"))
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	resp := doRequest(t, http.MethodPost, srv.URL+"/api/chat", "Bearer supersecret", strings.NewReader(`{}`))
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(body) != "{}\n{}\n" {
		t.Errorf("body = %q", body)
	}
	if got := resp.Header.Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q, want none", got)
	}
	if resp.ContentLength != -1 {
		t.Errorf("ContentLength = %d, want -1", resp.ContentLength)
	}
}

func TestProxy_NoContentTypeIsNotSniffed(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header()["Content-Type"] = nil
		_, _ = w.Write([]byte("<html><body>hi</body></html>"))
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/raw", "Bearer supersecret", nil)
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if got := resp.Header.Get("Content-Type"); got != "" {
		t.Errorf("Content-Type = %q, want none", got)
	}
}

func TestProxy_UpstreamUnreachableMentionsURL(t *testing.T) {
	baseURL := "http://" + closedAddr(t)
	srv, m := newTestProxy(t, baseURL)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/tags", "Bearer supersecret", nil)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusBadGateway {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusBadGateway)
	}
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), baseURL) {
		t.Errorf("body = %q, want it to mention %q", body, baseURL)
	}
	if got := counterValue(t, m, "ollama_proxy_upstream_errors_total"); got != 1 {
		t.Errorf("upstream errors = %v, want 1", got)
	}
}

func TestProxy_ClientDisconnectCancelsUpstream(t *testing.T) {
	upstreamDone := make(chan struct{})

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer close(upstreamDone)
		_, _ = io.Copy(io.Discard, r.Body)
		_, _ = w.Write([]byte("first"))
		w.(http.Flusher).Flush()
		<-r.Context().Done()
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, srv.URL+"/api/generate", strings.NewReader(`{}`))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer supersecret")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}

	buf := make([]byte, len("first"))
	if _, err := io.ReadFull(resp.Body, buf); err != nil {
		t.Fatalf("read first chunk: %v", err)
	}
	cancel()
	_ = resp.Body.Close()

	select {
	case <-upstreamDone:
	case <-time.After(5 * time.Second):
		t.Fatal("upstream request was not canceled after the client disconnected")
	}
}

func TestProxy_UpstreamBreakAbortsClientStream(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("partial"))
		w.(http.Flusher).Flush()
		panic(http.ErrAbortHandler)
	}))
	defer upstream.Close()

	srv, _ := newTestProxy(t, upstream.URL)

	resp := doRequest(t, http.MethodGet, srv.URL+"/api/stream", "Bearer supersecret", nil)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err == nil {
		t.Fatal("expected a read error for a truncated stream, got a clean EOF")
	}
	if string(body) != "partial" {
		t.Errorf("body = %q, want %q", body, "partial")
	}
}
