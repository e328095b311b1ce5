package handler

import (
	_ "embed"
	"net/http"

	"github.com/labstack/echo/v4"
)

//go:embed docs.html
var docsHTML string

// docMethods are the operations listed for each forwarded path in the document.
var docMethods = []string{"get", "post", "put", "delete", "patch", "options", "head"}

// Docs serves the interactive API documentation page.
func (h *InfoHandler) Docs(c echo.Context) error {
	return c.HTML(http.StatusOK, docsHTML)
}

// OpenAPI serves the proxy's own OpenAPI 3.1 document.
func (h *InfoHandler) OpenAPI(c echo.Context) error {
	return c.JSON(http.StatusOK, h.openAPIDocument())
}

func (h *InfoHandler) openAPIDocument() map[string]any {
	errorResponse := func(desc string) map[string]any {
		return map[string]any{
			"description": desc,
			"content": map[string]any{
				"application/json": map[string]any{
					"schema": map[string]any{"$ref": "#/components/schemas/Error"},
				},
			},
		}
	}

	pathParam := map[string]any{
		"name":        "full_path",
		"in":          "path",
		"required":    true,
		"description": "Path forwarded verbatim to the upstream Ollama server.",
		"schema":      map[string]any{"type": "string"},
	}

	proxied := make(map[string]any, len(docMethods))
	for _, m := range docMethods {
		proxied[m] = map[string]any{
			"summary":     "Proxy To Ollama",
			"operationId": "proxy_to_ollama_" + m,
			"parameters":  []any{pathParam},
			"security":    []any{map[string]any{"bearerAuth": []any{}}},
			"responses": map[string]any{
				"200": map[string]any{"description": "Upstream response, streamed unchanged."},
				"401": errorResponse("Missing or invalid bearer token."),
				"502": errorResponse("Upstream unreachable."),
				"504": errorResponse("Upstream timed out or broke off."),
			},
		}
	}

	return map[string]any{
		"openapi": "3.1.0",
		"info": map[string]any{
			"title":   "Ollama API Proxy",
			"version": string(h.version),
		},
		"paths": map[string]any{
			"/": map[string]any{
				"get": map[string]any{
					"summary":     "Read Root",
					"operationId": "read_root",
					"responses": map[string]any{
						"200": map[string]any{
							"description": "Proxy is running.",
							"content": map[string]any{
								"application/json": map[string]any{
									"schema": map[string]any{"$ref": "#/components/schemas/Info"},
								},
							},
						},
					},
				},
			},
			"/{full_path}": proxied,
		},
		"components": map[string]any{
			"securitySchemes": map[string]any{
				"bearerAuth": map[string]any{
					"type":   "http",
					"scheme": "bearer",
				},
			},
			"schemas": map[string]any{
				"Info": map[string]any{
					"type":       "object",
					"properties": map[string]any{"message": map[string]any{"type": "string"}},
				},
				"Error": map[string]any{
					"type":       "object",
					"properties": map[string]any{"error": map[string]any{"type": "string"}},
				},
			},
		},
	}
}
