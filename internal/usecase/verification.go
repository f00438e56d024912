package usecase

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"net/url"

	"golang.org/x/crypto/bcrypt"

	"github.com/example/orcid-service/internal/domain"
)

// AuthorVerification is handed to the mail system, which sends Link to Email.
// It never travels back to the HTTP caller.
type AuthorVerification struct {
	AuthorID string `json:"author_id"`
	Email    string `json:"email"`
	Token    string `json:"-"`
	Link     string `json:"link"`
}

// Mailer delivers verification links out of band.
type Mailer interface {
	SendAuthorVerification(ctx context.Context, v AuthorVerification) error
}

// RequestAuthorVerification issues a single-use token for an author without
// an account and mails the link. Only the bcrypt hash is stored.
func (h *HandshakeCoordinator) RequestAuthorVerification(ctx context.Context, authorID string) error {
	author, err := h.submissions.FindAuthor(ctx, authorID)
	if err != nil {
		return notFound(err)
	}
	if author.Email == "" {
		return fmt.Errorf("author %s has no email", authorID)
	}
	raw, err := randomToken()
	if err != nil {
		return err
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return err
	}
	if err := h.identities.SetEmailVerificationToken(ctx, author.ID, string(hash)); err != nil {
		return fmt.Errorf("store verification token: %w", err)
	}
	link := fmt.Sprintf("%s%s/orcid/authors/%s/verify?token=%s",
		h.cfg.PublicURL, h.cfg.HTTPBasePath, url.PathEscape(author.ID), url.QueryEscape(raw))
	v := AuthorVerification{AuthorID: author.ID, Email: author.Email, Token: raw, Link: link}
	if err := h.mailer.SendAuthorVerification(ctx, v); err != nil {
		return fmt.Errorf("send verification mail: %w", err)
	}
	h.logger.Info().Str("author_id", author.ID).Msg("author verification mailed")
	return nil
}

// ConfirmAuthorVerification checks the mailed token and returns the authorize
// URL for the author's work handshake. The hash is cleared once the handshake succeeds.
func (h *HandshakeCoordinator) ConfirmAuthorVerification(ctx context.Context, authorID, token string) (string, error) {
	author, err := h.submissions.FindAuthor(ctx, authorID)
	if err != nil {
		return "", notFound(err)
	}
	if author.EmailVerificationToken == "" || token == "" {
		return "", fmt.Errorf("%w: no pending verification", domain.ErrInvalidState)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(author.EmailVerificationToken), []byte(token)); err != nil {
		return "", fmt.Errorf("%w: verification token mismatch", domain.ErrInvalidState)
	}
	pub, err := h.submissions.FindPublication(ctx, author.PublicationID)
	if err != nil {
		return "", notFound(err)
	}
	sub, err := h.submissions.FindSubmission(ctx, pub.SubmissionID)
	if err != nil {
		return "", notFound(err)
	}
	jctx, err := h.contexts.FindByID(ctx, sub.ContextID)
	if err != nil {
		return "", notFound(err)
	}
	return h.authorizeURL(jctx, WorkOp{PublicationID: pub.ID, AuthorID: author.ID})
}

func randomToken() (string, error) {
	b := make([]byte, 24)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
