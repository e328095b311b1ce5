// Package service implements the core proxy forwarding logic.
package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"ollama-proxy-go/internal/client"
	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/model"
)

// Dispatcher sends a prepared request upstream. *client.OllamaClient implements it.
type Dispatcher interface {
	DoStream(ctx context.Context, method, url string, header http.Header, body io.Reader, contentLength int64) (*model.ProxyResponse, error)
}

var _ Dispatcher = (*client.OllamaClient)(nil)

// ProxyService handles the forwarding logic for proxy requests.
type ProxyService struct {
	client        Dispatcher
	logger        *slog.Logger
	baseURL       string // no trailing slash
	bufferRequest bool
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.OllamaClient, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	return newProxyService(c, cfg, logger)
}

func newProxyService(d Dispatcher, cfg *config.Config, logger *slog.Logger) (*ProxyService, error) {
	if _, err := url.Parse(cfg.Upstream.BaseURL); err != nil {
		return nil, fmt.Errorf("parse upstream base_url: %w", err)
	}

	return &ProxyService{
		client:        d,
		logger:        logger.With("component", "proxy_service"),
		baseURL:       strings.TrimRight(cfg.Upstream.BaseURL, "/"),
		bufferRequest: cfg.Upstream.BufferRequestBody,
	}, nil
}

// Forward sends a ProxyRequest to the upstream and returns the response.
// The caller is responsible for closing the response body.
//
// Method and query are preserved, hop-by-hop headers are dropped and the
// body is streamed unless request buffering is configured. Upstream failures
// are returned as *client.UpstreamError.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxyResponse, error) {
	target := s.TargetURL(pr.Path, pr.RawQuery)
	header := FilterHeaders(pr.Header)

	var body io.Reader = pr.Body
	length := pr.ContentLength
	if pr.Body == nil {
		body, length = http.NoBody, 0
	} else if s.bufferRequest {
		data, err := io.ReadAll(pr.Body)
		if err != nil {
			return nil, fmt.Errorf("read request body: %w", err)
		}
		body, length = bytes.NewReader(data), int64(len(data))
	}

	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"path", pr.Path,
		"buffered", s.bufferRequest,
	)

	return s.client.DoStream(pr.Ctx, pr.Method, target, header, body, length)
}

// TargetURL joins the upstream base, a single '/', the request path and the
// raw query string.
func (s *ProxyService) TargetURL(path, rawQuery string) string {
	target := s.baseURL + "/" + strings.TrimPrefix(path, "/")
	if rawQuery != "" {
		target += "?" + rawQuery
	}
	return target
}
