package domain

import "errors"

var (
	ErrNotFound      = errors.New("not found")
	ErrInvalidState  = errors.New("invalid oauth state")
	ErrOrcidDisabled = errors.New("orcid integration disabled for context")

	// Handshake stage. Terminal: the person has to restart the OAuth flow.
	ErrHandshakeFailed        = errors.New("orcid handshake failed")
	ErrInvalidGrant           = errors.New("orcid authorization code is invalid or already used")
	ErrAccessDenied           = errors.New("orcid access denied")
	ErrSubmissionNotPublished = errors.New("submission not published")

	// Deposit stage. Only ever logged.
	ErrTokenExpired     = errors.New("orcid access token expired")
	ErrTokenRevoked     = errors.New("orcid access token revoked by registry")
	ErrDepositTransient = errors.New("orcid deposit failed, retryable")
	ErrDepositPermanent = errors.New("orcid deposit failed permanently")
)
