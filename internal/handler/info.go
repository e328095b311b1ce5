package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/config"
)

// RootMessage is the liveness reply served at GET /.
const RootMessage = "Ollama API Proxy is running. Authenticate with 'Bearer <API_KEY>' to use."

// Version is a string type for dependency injection of the build version.
type Version string

// InfoHandler serves the proxy's own endpoints.
type InfoHandler struct {
	cfg     *config.Config
	version Version
}

// NewInfoHandler creates an InfoHandler.
func NewInfoHandler(cfg *config.Config, v Version) *InfoHandler {
	return &InfoHandler{cfg: cfg, version: v}
}

// Root answers liveness probes without contacting the upstream.
func (h *InfoHandler) Root(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"message": RootMessage,
	})
}

// Status returns proxy status information.
func (h *InfoHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":       "ok",
		"version":      string(h.version),
		"upstream_url": h.cfg.Upstream.BaseURL,
	})
}
