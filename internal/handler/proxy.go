package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/client"
	"ollama-proxy-go/internal/metrics"
	"ollama-proxy-go/internal/model"
	"ollama-proxy-go/internal/service"
)

// ProxyHandler forwards requests to the upstream Ollama server.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter is optional.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle proxies the request to the upstream and streams the response back.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:           req.Context(),
		Method:        req.Method,
		Path:          req.URL.EscapedPath(),
		RawQuery:      req.URL.RawQuery,
		Header:        req.Header,
		Body:          req.Body,
		ContentLength: req.ContentLength,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}

	h.relay(c, resp)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	path := c.Request().URL.Path

	var upErr *client.UpstreamError
	if !errors.As(err, &upErr) {
		h.logger.Error("proxy error", "err", err, "path", path)
		return c.JSON(http.StatusBadGateway, map[string]string{
			"error": "upstream request failed",
		})
	}

	if upErr.Kind == client.KindCanceled {
		// The caller is gone; the reply only feeds the access log.
		h.logger.Info("client disconnected before upstream responded", "path", path)
	} else {
		h.logger.Error("upstream error",
			"kind", upErr.Kind,
			"err", upErr.Err,
			"path", path,
		)
	}

	return c.JSON(upErr.StatusCode(), map[string]string{
		"error": upErr.Error(),
	})
}
