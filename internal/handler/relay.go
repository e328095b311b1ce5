package handler

import (
	"io"
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/model"
	"ollama-proxy-go/internal/service"
)

const relayBufferSize = 32 * 1024

// relay streams an upstream response to the client. Status and headers go out
// as soon as they are known; each body chunk is written and flushed as it
// arrives. The upstream body is always closed on return.
//
// If the upstream breaks mid-body the handler panics with http.ErrAbortHandler
// so the server drops the connection instead of terminating the chunked
// stream, which would make a truncated response look complete.
func (h *ProxyHandler) relay(c echo.Context, resp *model.ProxyResponse) {
	defer func() { _ = resp.Body.Close() }()

	req := c.Request()
	res := c.Response()

	header := res.Header()
	for key, vals := range service.FilterHeaders(resp.Header) {
		// Upstream values replace any set locally, such as X-Request-Id.
		header.Del(key)
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	if _, ok := resp.Header["Content-Type"]; !ok {
		// Keep net/http from sniffing a type the upstream never declared.
		header["Content-Type"] = nil
	}

	res.WriteHeader(resp.StatusCode)
	res.Flush()

	var relayed int64
	defer func() {
		if h.metrics != nil {
			h.metrics.RelayedBytes.Add(float64(relayed))
		}
	}()

	buf := make([]byte, relayBufferSize)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, err := res.Write(buf[:n]); err != nil {
				h.logger.Info("client disconnected mid-stream",
					"err", err,
					"path", req.URL.Path,
					"bytes", relayed,
				)
				return
			}
			res.Flush()
			relayed += int64(n)
		}

		if readErr == io.EOF {
			return
		}
		if readErr != nil {
			if req.Context().Err() != nil {
				h.logger.Info("client disconnected mid-stream",
					"path", req.URL.Path,
					"bytes", relayed,
				)
				return
			}
			h.logger.Error("upstream stream interrupted",
				"err", readErr,
				"path", req.URL.Path,
				"bytes", relayed,
			)
			panic(http.ErrAbortHandler)
		}
	}
}
