package auth

import (
	"net/http"

	"github.com/labstack/echo/v4"
)

// publicRoutes lists route paths that bypass authentication. A nil method
// set means every method is public.
var publicRoutes = map[string]map[string]bool{
	"/health":                  nil,
	"/health/db":               nil,
	"/api/v1/catalog":          nil,
	"/api/v1/visits":           {http.MethodPost: true},
	"/api/v1/payments/webhook": {http.MethodPost: true},
}

// AuthSkipper returns true for requests whose route should skip
// authentication: health checks, the public catalog, page-visit tracking and
// the payment webhook (which carries its own signature).
func AuthSkipper(c echo.Context) bool {
	return IsPublicRoute(c.Request().Method, c.Path())
}

// IsPublicRoute reports whether method and route path are public.
func IsPublicRoute(method, path string) bool {
	methods, ok := publicRoutes[path]
	if !ok {
		return false
	}
	return methods == nil || methods[method]
}
