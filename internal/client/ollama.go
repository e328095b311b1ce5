// Package client provides the upstream HTTP client for the Ollama server.
package client

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/metrics"
	"ollama-proxy-go/internal/model"
)

// OllamaClient sends requests to the upstream Ollama server.
// It is safe for concurrent use; the underlying transport pools connections.
type OllamaClient struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewOllamaClient creates an OllamaClient with connection pooling.
// No overall timeout is set: generation requests may legitimately stream for
// a long time, and cancellation is driven by the inbound request context.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewOllamaClient(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *OllamaClient {
	transport := &http.Transport{
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		DialContext: (&net.Dialer{
			Timeout:   time.Duration(cfg.Upstream.DialTimeoutSeconds) * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		// Bodies are relayed byte for byte; the client's Accept-Encoding is
		// forwarded and the transport must not decode on its behalf.
		DisableCompression: true,
	}

	return &OllamaClient{
		httpClient: &http.Client{
			Transport: transport,
			// Redirects are the caller's business.
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		baseURL: cfg.Upstream.BaseURL,
		logger:  logger.With("component", "ollama_client"),
		metrics: m,
	}
}

// Do executes an HTTP request against the upstream and returns the raw response.
// The caller is responsible for closing the response body.
// Failures are returned as *UpstreamError.
func (c *OllamaClient) Do(req *http.Request) (*model.ProxyResponse, error) {
	c.logger.Debug("upstream request",
		"method", req.Method,
		"path", req.URL.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via ProxyResponse
	duration := time.Since(start).Seconds()

	method := metrics.NormalizeMethod(req.Method)

	if err != nil {
		kind := Classify(err)
		if c.metrics != nil {
			c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
			c.metrics.UpstreamErrors.WithLabelValues(string(kind)).Inc()
		}
		return nil, &UpstreamError{Kind: kind, URL: c.baseURL, Err: err}
	}

	if c.metrics != nil {
		status := strconv.Itoa(resp.StatusCode)
		c.metrics.UpstreamDuration.WithLabelValues(method).Observe(duration)
		c.metrics.UpstreamResponses.WithLabelValues(method, status).Inc()
	}

	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}

// DoStream executes a request and returns the response body as a stream.
// The caller is responsible for closing the returned ReadCloser.
// The provided context controls the lifetime of the upstream request:
// when the context is canceled (e.g. client disconnects), the upstream
// request is also canceled.
//
// contentLength follows http.Request semantics: -1 (or 0 with a non-nil
// body) sends the body with chunked encoding.
func (c *OllamaClient) DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error) {
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header
	if body != nil && body != http.NoBody {
		req.ContentLength = contentLength
	}

	return c.Do(req)
}
