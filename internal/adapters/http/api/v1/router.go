package v1

import (
	"github.com/labstack/echo/v4"

	"github.com/example/orcid-service/internal/adapters/http/api/v1/handlers"
)

type Router struct {
	handlers   *handlers.OrcidHandler
	sessionMW  echo.MiddlewareFunc
	optionalMW echo.MiddlewareFunc
}

func NewRouter(h *handlers.OrcidHandler, sessionMW, optionalMW echo.MiddlewareFunc) *Router {
	return &Router{handlers: h, sessionMW: sessionMW, optionalMW: optionalMW}
}

func (r *Router) Register(g *echo.Group) {
	orcid := g.Group("/orcid")
	orcid.GET("/authorize", r.handlers.Authorize, r.optionalMW)
	orcid.GET("/callback", r.handlers.Callback)
	orcid.GET("/authors/:id/verify", r.handlers.VerifyAuthor)

	protected := orcid.Group("", r.sessionMW)
	protected.POST("/authors/:id/verification", r.handlers.RequestAuthorVerification)

	internal := g.Group("/internal", r.sessionMW)
	internal.POST("/submissions/:id/deposit", r.handlers.DepositSubmission)
	internal.POST("/reviews/:id/deposit", r.handlers.DepositReview)
}
