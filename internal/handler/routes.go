package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/config"
	"ollama-proxy-go/internal/metrics"
)

// proxyMethods are relayed to the upstream on every path without a local route.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodPost,
	http.MethodPut,
	http.MethodDelete,
	http.MethodPatch,
	http.MethodOptions,
	http.MethodHead,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// GET on /, /docs and /openapi.json is answered locally; other methods on
// those paths go upstream.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, m *metrics.Metrics, proxy *ProxyHandler, info *InfoHandler) {
	local := map[string]echo.HandlerFunc{
		"/":             info.Root,
		"/docs":         info.Docs,
		"/openapi.json": info.OpenAPI,
	}
	for path, h := range local {
		e.GET(path, h)
		e.Match(proxyMethods[1:], path, proxy.Handle)
	}

	e.GET("/proxy/status", info.Status)
	if cfg.Metrics.Enabled && m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(m.Handler()))
	}

	e.Match(proxyMethods, "/*", proxy.Handle)
}
