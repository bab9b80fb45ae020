package api

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
)

// keyError is the body of a rejected admin request. It names the kit so an
// operator talking to several devices can tell which one refused.
type keyError struct {
	Error string `json:"error"`
	KitID string `json:"kit_id"`
}

// APIKeyMiddleware guards the admin routes of kit kitID with apiKey, taken
// from the X-API-Key header or an "Authorization: Bearer" token. An empty
// key leaves the routes open.
func APIKeyMiddleware(kitID, apiKey string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		if apiKey == "" {
			return next
		}
		return func(c echo.Context) error {
			provided := presentedKey(c.Request())
			if provided == "" {
				return c.JSON(http.StatusUnauthorized, keyError{Error: "missing API key", KitID: kitID})
			}
			if subtle.ConstantTimeCompare([]byte(provided), []byte(apiKey)) != 1 {
				return c.JSON(http.StatusForbidden, keyError{Error: "API key rejected", KitID: kitID})
			}
			return next(c)
		}
	}
}

func presentedKey(r *http.Request) string {
	if key := r.Header.Get("X-API-Key"); key != "" {
		return key
	}
	if token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}
