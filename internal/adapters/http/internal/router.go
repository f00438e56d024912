package internalhttp

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/example/orcid-service/internal/obs"
)

// Register attaches health and metrics endpoints at the server root.
func Register(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})
	e.GET("/metrics", echo.WrapHandler(obs.Handler()))
}
