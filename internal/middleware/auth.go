package middleware

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"

	"ollama-proxy-go/internal/auth"
	"ollama-proxy-go/internal/metrics"
)

// BearerAuth returns an Echo middleware that rejects requests without a valid
// "Authorization: Bearer <key>" header. Exempt paths skip the check entirely.
// The metrics parameter is optional.
func BearerAuth(a *auth.Authenticator, m *metrics.Metrics, logger *slog.Logger) echo.MiddlewareFunc {
	logger = logger.With("component", "auth")

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if a.Exempt(req.URL.Path) {
				return next(c)
			}

			err := a.Check(req.Header.Get(echo.HeaderAuthorization))
			if err == nil {
				return next(c)
			}

			var authErr *auth.Error
			if !errors.As(err, &authErr) {
				return err
			}

			if m != nil {
				m.AuthFailures.WithLabelValues(string(authErr.Reason)).Inc()
			}
			// Never log the header value.
			logger.Warn("request rejected",
				"reason", authErr.Reason,
				"method", req.Method,
				"path", req.URL.Path,
				"remote_ip", c.RealIP(),
			)

			c.Response().Header().Set(echo.HeaderWWWAuthenticate, "Bearer")
			return c.JSON(http.StatusUnauthorized, map[string]string{
				"error":  authErr.Message(),
				"reason": string(authErr.Reason),
			})
		}
	}
}
