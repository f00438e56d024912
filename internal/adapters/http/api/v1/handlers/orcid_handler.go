package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/usecase"
	res "github.com/example/orcid-service/pkg/http"
	pkglog "github.com/example/orcid-service/pkg/log"
)

// OrcidService is the handshake side of the use-case layer.
type OrcidService interface {
	AuthorizeURL(ctx context.Context, contextID string, op usecase.Operation) (string, error)
	AuthorizeReview(ctx context.Context, contextID, reviewAssignmentID, userID string) (string, error)
	Complete(ctx context.Context, code, state string) (*usecase.HandshakeResult, error)
	Deny(ctx context.Context, state string) error
	RequestAuthorVerification(ctx context.Context, authorID string) error
	ConfirmAuthorVerification(ctx context.Context, authorID, token string) (string, error)
}

// DepositService triggers aggregation for the host application.
type DepositService interface {
	DepositSubmission(ctx context.Context, submissionID string) error
	DepositReview(ctx context.Context, reviewAssignmentID string) error
}

type OrcidHandler struct {
	orcid    OrcidService
	deposits DepositService
	logger   pkglog.Logger
}

func NewOrcidHandler(o OrcidService, d DepositService, logger pkglog.Logger) *OrcidHandler {
	return &OrcidHandler{orcid: o, deposits: d, logger: pkglog.Component(logger, "http")}
}

func (h *OrcidHandler) Authorize(c echo.Context) error {
	ctx := c.Request().Context()
	contextID := c.QueryParam("context")
	if contextID == "" {
		return res.ErrorJSON(c, http.StatusBadRequest, "bad_request", "context is required", res.TraceID(c), nil)
	}
	userID, _ := c.Get("user_id").(string)

	var (
		target string
		err    error
	)
	switch op := c.QueryParam("op"); op {
	case usecase.OpRegister:
		target, err = h.orcid.AuthorizeURL(ctx, contextID, usecase.RegisterOp{})
	case usecase.OpProfile, usecase.OpReview:
		if userID == "" {
			return res.ErrorJSON(c, http.StatusUnauthorized, "unauthorized", "session required", res.TraceID(c), nil)
		}
		if op == usecase.OpProfile {
			target, err = h.orcid.AuthorizeURL(ctx, contextID, usecase.ProfileOp{UserID: userID})
			break
		}
		reviewID := c.QueryParam("review")
		if reviewID == "" {
			return res.ErrorJSON(c, http.StatusBadRequest, "bad_request", "review is required", res.TraceID(c), nil)
		}
		target, err = h.orcid.AuthorizeReview(ctx, contextID, reviewID, userID)
	default:
		return res.ErrorJSON(c, http.StatusBadRequest, "bad_request", "unknown op", res.TraceID(c), nil)
	}
	if err != nil {
		return h.handshakeError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *OrcidHandler) Callback(c echo.Context) error {
	ctx := c.Request().Context()
	state := c.QueryParam("state")
	if c.QueryParam("error") == "access_denied" {
		return h.handshakeError(c, h.orcid.Deny(ctx, state))
	}
	code := c.QueryParam("code")
	if code == "" || state == "" {
		return res.ErrorJSON(c, http.StatusBadRequest, "invalid_state", "code and state are required", res.TraceID(c), nil)
	}
	result, err := h.orcid.Complete(ctx, code, state)
	if err != nil {
		return h.handshakeError(c, err)
	}
	return res.JSONWithNotices(c, http.StatusOK, result, result.Notices)
}

func (h *OrcidHandler) RequestAuthorVerification(c echo.Context) error {
	id := c.Param("id")
	if err := h.orcid.RequestAuthorVerification(c.Request().Context(), id); err != nil {
		return h.handshakeError(c, err)
	}
	return res.JSON(c, http.StatusAccepted, map[string]string{"author_id": id})
}

func (h *OrcidHandler) VerifyAuthor(c echo.Context) error {
	target, err := h.orcid.ConfirmAuthorVerification(c.Request().Context(), c.Param("id"), c.QueryParam("token"))
	if err != nil {
		return h.handshakeError(c, err)
	}
	return c.Redirect(http.StatusFound, target)
}

func (h *OrcidHandler) DepositSubmission(c echo.Context) error {
	id := c.Param("id")
	if err := h.deposits.DepositSubmission(c.Request().Context(), id); err != nil {
		return h.depositError(c, err)
	}
	return res.JSON(c, http.StatusAccepted, map[string]string{"submission_id": id})
}

func (h *OrcidHandler) DepositReview(c echo.Context) error {
	id := c.Param("id")
	if err := h.deposits.DepositReview(c.Request().Context(), id); err != nil {
		return h.depositError(c, err)
	}
	return res.JSON(c, http.StatusAccepted, map[string]string{"review_assignment_id": id})
}

func (h *OrcidHandler) handshakeError(c echo.Context, err error) error {
	traceID := res.TraceID(c)
	switch {
	case errors.Is(err, domain.ErrAccessDenied):
		return res.ErrorJSON(c, http.StatusForbidden, "access_denied", "orcid access was denied", traceID, nil)
	case errors.Is(err, domain.ErrInvalidState):
		return res.ErrorJSON(c, http.StatusBadRequest, "invalid_state", "authorization request is invalid or expired", traceID, nil)
	case errors.Is(err, domain.ErrInvalidGrant):
		return res.ErrorJSON(c, http.StatusBadRequest, "invalid_grant", "authorization code was already used or is invalid", traceID, nil)
	case errors.Is(err, domain.ErrHandshakeFailed):
		return res.ErrorJSON(c, http.StatusBadGateway, "handshake_failed", "orcid authorization failed", traceID, nil)
	case errors.Is(err, domain.ErrOrcidDisabled):
		return res.ErrorJSON(c, http.StatusConflict, "orcid_disabled", "orcid is not enabled for this journal", traceID, nil)
	case errors.Is(err, domain.ErrNotFound):
		return res.ErrorJSON(c, http.StatusNotFound, "not_found", "resource not found", traceID, nil)
	default:
		h.logger.Error().Err(err).Str("path", c.Path()).Str("trace_id", traceID).Msg("request failed")
		return res.ErrorJSON(c, http.StatusInternalServerError, "internal", "internal error", traceID, nil)
	}
}

func (h *OrcidHandler) depositError(c echo.Context, err error) error {
	if errors.Is(err, domain.ErrSubmissionNotPublished) {
		return res.ErrorJSON(c, http.StatusConflict, "submission_not_published", "submission is not published", res.TraceID(c), nil)
	}
	return h.handshakeError(c, err)
}
