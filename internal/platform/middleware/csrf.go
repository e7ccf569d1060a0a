package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
)

const (
	CSRFCookieName = "_csrf"
	CSRFHeader     = "X-CSRF-Token"
	csrfContextKey = "csrf"
)

// CSRF enforces the double-submit cookie pattern on unsafe methods: the
// value of the _csrf cookie must be echoed in the X-CSRF-Token header.
// Clients obtain the token from CSRFTokenHandler.
func CSRF(secure bool) echo.MiddlewareFunc {
	return echomw.CSRFWithConfig(echomw.CSRFConfig{
		Skipper: func(c echo.Context) bool {
			p := c.Request().URL.Path
			return isWebSocketPath(p) || strings.HasPrefix(p, "/health")
		},
		TokenLookup:    "header:" + CSRFHeader,
		ContextKey:     csrfContextKey,
		CookieName:     CSRFCookieName,
		CookiePath:     "/",
		CookieHTTPOnly: true,
		CookieSecure:   secure,
		CookieSameSite: http.SameSiteStrictMode,
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "CSRF token validation failed").SetInternal(err)
		},
	})
}

// CSRFTokenHandler returns the token bound to the caller's cookie.
func CSRFTokenHandler(c echo.Context) error {
	token, _ := c.Get(csrfContextKey).(string)
	return c.JSON(http.StatusOK, map[string]string{"csrfToken": token})
}
