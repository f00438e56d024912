package middleware

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"github.com/example/orcid-service/internal/tokenverify"
	"github.com/example/orcid-service/internal/usecase"
	res "github.com/example/orcid-service/pkg/http"
)

const sessionCookie = "session"

// SessionMiddleware resolves the host application's session into user_id.
type SessionMiddleware struct {
	verifier usecase.SessionVerifier
}

func NewSessionMiddleware(verifier usecase.SessionVerifier) *SessionMiddleware {
	return &SessionMiddleware{verifier: verifier}
}

// Handler rejects requests without a valid session.
func (m *SessionMiddleware) Handler(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		raw := sessionToken(c)
		if raw == "" {
			return res.ErrorJSON(c, http.StatusUnauthorized, "unauthorized", "missing session", res.TraceID(c), nil)
		}
		session, err := tokenverify.VerifySession(m.verifier, raw, nil)
		if err != nil {
			return res.ErrorJSON(c, http.StatusUnauthorized, "unauthorized", err.Error(), res.TraceID(c), nil)
		}
		c.Set("user_id", session.UserID)
		c.Set("email", session.Email)
		return next(c)
	}
}

// Optional sets user_id when a valid session is present and never rejects.
// The callback and author links are reached without one.
func (m *SessionMiddleware) Optional(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		if raw := sessionToken(c); raw != "" {
			if session, err := tokenverify.VerifySession(m.verifier, raw, nil); err == nil {
				c.Set("user_id", session.UserID)
				c.Set("email", session.Email)
			}
		}
		return next(c)
	}
}

func sessionToken(c echo.Context) string {
	authz := c.Request().Header.Get(echo.HeaderAuthorization)
	parts := strings.SplitN(authz, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return parts[1]
	}
	if ck, err := c.Cookie(sessionCookie); err == nil {
		return ck.Value
	}
	return ""
}
