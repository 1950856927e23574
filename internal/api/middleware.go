package api

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/wenzhen/server/internal/auth"
)

const clientIDKey = "client_id"

// requireToken validates the bearer token when a secret is configured and
// stores its client id in the context. Browsers cannot set headers on
// WebSocket upgrades, so a "token" query parameter is accepted too.
func requireToken(secret []byte, logger *zap.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if len(secret) == 0 {
				return next(c)
			}

			token := bearerToken(c.Request().Header.Get(echo.HeaderAuthorization))
			if token == "" {
				token = c.QueryParam("token")
			}
			if token == "" {
				logger.Warn("Request rejected: missing token", zap.String("path", c.Path()))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "missing_token",
					Message: "JWT token is required in Authorization header",
				})
			}

			claims, err := auth.ValidateToken(secret, token)
			if err != nil {
				logger.Warn("Request rejected: invalid token", zap.Error(err))
				return c.JSON(http.StatusUnauthorized, ErrorResponse{
					Error:   "invalid_token",
					Message: "Invalid or expired JWT token",
				})
			}

			c.Set(clientIDKey, claims.ClientID)
			return next(c)
		}
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// clientID returns the authenticated client id, falling back to the caller's
// address when auth is disabled.
func clientID(c echo.Context) string {
	if id, ok := c.Get(clientIDKey).(string); ok && id != "" {
		return id
	}
	return c.RealIP()
}
