package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/example/orcid-service/config"
	repo "github.com/example/orcid-service/internal/adapters/postgres"
	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/obs"
	"github.com/example/orcid-service/internal/orcid"
	pkglog "github.com/example/orcid-service/pkg/log"
)

const (
	NoticeDuplicateOrcid         = "duplicate_orcid"
	NoticeSubmissionNotPublished = "submission_not_published"
)

// Registry is the part of the ORCID client the handshake talks to.
type Registry interface {
	AuthorizeURL(jctx *domain.Context, redirectURL, state string) string
	ExchangeCode(ctx context.Context, jctx *domain.Context, redirectURL, code string) (*orcid.TokenResponse, error)
	FetchProfile(ctx context.Context, jctx *domain.Context, orcidID, accessToken string) (*orcid.Profile, error)
	Endpoints(t domain.APIType) orcid.Endpoints
}

// Depositor is the aggregation side invoked after work and review handshakes.
type Depositor interface {
	DepositWork(ctx context.Context, pub *domain.Publication, jctx *domain.Context) error
	DepositReview(ctx context.Context, reviewAssignmentID string) error
}

type HandshakeResult struct {
	Op             string         `json:"op"`
	Orcid          string         `json:"orcid"`
	URI            string         `json:"uri"`
	DuplicateOrcid bool           `json:"duplicate_orcid"`
	Profile        *orcid.Profile `json:"profile,omitempty"`
	Notices        []string       `json:"notices,omitempty"`
}

type HandshakeCoordinator struct {
	cfg         *config.Config
	logger      pkglog.Logger
	registry    Registry
	signer      StateSigner
	contexts    repo.ContextRepository
	identities  repo.IdentityRepository
	submissions repo.SubmissionRepository
	deposits    Depositor
	mailer      Mailer
	now         func() time.Time
}

func NewHandshakeCoordinator(cfg *config.Config, logger pkglog.Logger, registry Registry, signer StateSigner, contexts repo.ContextRepository, identities repo.IdentityRepository, submissions repo.SubmissionRepository, deposits Depositor, mailer Mailer) *HandshakeCoordinator {
	return &HandshakeCoordinator{
		cfg:         cfg,
		logger:      pkglog.Component(logger, "handshake"),
		registry:    registry,
		signer:      signer,
		contexts:    contexts,
		identities:  identities,
		submissions: submissions,
		deposits:    deposits,
		mailer:      mailer,
		now:         time.Now,
	}
}

// AuthorizeURL signs a state for op and returns the registry URL the person is sent to.
func (h *HandshakeCoordinator) AuthorizeURL(ctx context.Context, contextID string, op Operation) (string, error) {
	jctx, err := h.contexts.FindByID(ctx, contextID)
	if err != nil {
		return "", notFound(err)
	}
	return h.authorizeURL(jctx, op)
}

// AuthorizeReview is AuthorizeURL for a review handshake. Only the assigned
// reviewer may start it.
func (h *HandshakeCoordinator) AuthorizeReview(ctx context.Context, contextID, reviewAssignmentID, userID string) (string, error) {
	ra, err := h.submissions.FindReviewAssignment(ctx, reviewAssignmentID)
	if err != nil {
		return "", notFound(err)
	}
	if ra.ReviewerID != userID {
		return "", fmt.Errorf("%w: not the assigned reviewer", domain.ErrAccessDenied)
	}
	return h.AuthorizeURL(ctx, contextID, ReviewOp{ReviewAssignmentID: ra.ID})
}

func (h *HandshakeCoordinator) authorizeURL(jctx *domain.Context, op Operation) (string, error) {
	if !jctx.OrcidEnabled {
		return "", domain.ErrOrcidDisabled
	}
	state, err := h.signer.Sign(State{ContextID: jctx.ID, Op: op})
	if err != nil {
		return "", err
	}
	return h.registry.AuthorizeURL(jctx, h.cfg.CallbackURL(), state), nil
}

// Complete handles the registry redirect carrying code and state.
func (h *HandshakeCoordinator) Complete(ctx context.Context, code, stateToken string) (*HandshakeResult, error) {
	st, err := h.signer.Parse(stateToken)
	if err != nil {
		return nil, err
	}
	jctx, err := h.contexts.FindByID(ctx, st.ContextID)
	if err != nil {
		return nil, notFound(err)
	}
	ident, err := h.identityFor(ctx, st.Op)
	if err != nil {
		return nil, err
	}
	return h.Execute(ctx, code, ident, jctx, st.Op)
}

// Deny records a registry redirect that carried error=access_denied.
// The sticky marker is set and any stored token is cleared.
func (h *HandshakeCoordinator) Deny(ctx context.Context, stateToken string) error {
	st, err := h.signer.Parse(stateToken)
	if err != nil {
		return err
	}
	name := OperationName(st.Op)
	obs.ObserveHandshake(name, "denied")
	ident, err := h.identityFor(ctx, st.Op)
	if err != nil {
		return err
	}
	if ident != nil {
		if err := h.identities.MarkAccessDenied(ctx, ident.Ref()); err != nil {
			return fmt.Errorf("mark access denied: %w", err)
		}
		h.logger.Info().Str("op", name).Str("identity", ident.Ref().String()).Msg("orcid access denied by person")
	}
	return domain.ErrAccessDenied
}

// Execute trades the authorization code for a token and runs the operation's side effect.
// The code is single-use: it is sent exactly once and never retried.
func (h *HandshakeCoordinator) Execute(ctx context.Context, code string, ident domain.Identity, jctx *domain.Context, op Operation) (*HandshakeResult, error) {
	name := OperationName(op)
	log := h.logger.With().Str("op", name).Str("context_id", jctx.ID).Logger()

	if _, isRegister := op.(RegisterOp); !isRegister && ident == nil {
		return nil, fmt.Errorf("%w: no identity for %s", domain.ErrInvalidState, name)
	}

	tok, err := h.registry.ExchangeCode(ctx, jctx, h.cfg.CallbackURL(), code)
	if err != nil {
		status, errCode := 0, ""
		var xerr *orcid.ExchangeError
		if errors.As(err, &xerr) {
			status, errCode = xerr.Status, xerr.Code
		}
		outcome := "failed"
		if errors.Is(err, domain.ErrInvalidGrant) {
			outcome = "invalid_grant"
		}
		obs.ObserveHandshake(name, outcome)
		log.Warn().Err(err).Int("status", status).Str("error_code", errCode).Msg("orcid token exchange failed")
		return nil, err
	}

	uri := h.registry.Endpoints(jctx.OrcidAPIType).URI(tok.Orcid)
	res := &HandshakeResult{Op: name, Orcid: tok.Orcid, URI: uri}

	if _, isRegister := op.(RegisterOp); isRegister {
		profile, err := h.registry.FetchProfile(ctx, jctx, tok.Orcid, tok.AccessToken)
		if err != nil {
			obs.ObserveHandshake(name, "failed")
			log.Warn().Err(err).Str("orcid", tok.Orcid).Msg("orcid profile fetch failed")
			return nil, fmt.Errorf("%w: %v", domain.ErrHandshakeFailed, err)
		}
		res.Profile = profile
		obs.ObserveHandshake(name, "success")
		return res, nil
	}

	prev := ident.Token()
	if prev.URI != "" && orcid.ParseID(prev.URI) != tok.Orcid {
		res.DuplicateOrcid = true
		res.Notices = append(res.Notices, NoticeDuplicateOrcid)
		log.Warn().Str("identity", ident.Ref().String()).Str("previous", prev.URI).Str("orcid", tok.Orcid).Msg("identity relinked to a different orcid")
	}

	expires := h.now().Add(time.Duration(tok.ExpiresIn) * time.Second)
	rec := domain.TokenRecord{
		URI:             uri,
		Verified:        true,
		AccessToken:     tok.AccessToken,
		Scope:           tok.Scope,
		RefreshToken:    tok.RefreshToken,
		AccessExpiresOn: &expires,
	}
	if err := h.identities.SaveToken(ctx, ident.Ref(), rec); err != nil {
		obs.ObserveHandshake(name, "failed")
		return nil, fmt.Errorf("save orcid token: %w", err)
	}
	log.Info().Str("identity", ident.Ref().String()).Str("orcid", tok.Orcid).Time("expires_on", expires).Msg("orcid token stored")

	switch op := op.(type) {
	case ProfileOp:
	case WorkOp:
		if notice := h.depositWork(ctx, jctx, op); notice != "" {
			res.Notices = append(res.Notices, notice)
		}
	case ReviewOp:
		if err := h.deposits.DepositReview(ctx, op.ReviewAssignmentID); err != nil {
			log.Error().Err(err).Str("review_assignment_id", op.ReviewAssignmentID).Msg("review deposit not scheduled")
		}
	default:
		return nil, fmt.Errorf("unknown operation %T", op)
	}

	obs.ObserveHandshake(name, "success")
	return res, nil
}

func (h *HandshakeCoordinator) depositWork(ctx context.Context, jctx *domain.Context, op WorkOp) string {
	pub, err := h.submissions.FindPublication(ctx, op.PublicationID)
	if err != nil {
		h.logger.Error().Err(err).Str("publication_id", op.PublicationID).Msg("publication lookup failed")
		return ""
	}
	if !pub.Published() {
		return NoticeSubmissionNotPublished
	}
	if err := h.deposits.DepositWork(ctx, pub, jctx); err != nil {
		h.logger.Error().Err(err).Str("publication_id", pub.ID).Msg("work deposit not scheduled")
	}
	return ""
}

// identityFor resolves the identity an operation acts on. Register has none.
func (h *HandshakeCoordinator) identityFor(ctx context.Context, op Operation) (domain.Identity, error) {
	switch op := op.(type) {
	case RegisterOp:
		return nil, nil
	case ProfileOp:
		return h.load(ctx, domain.IdentityRef{Kind: domain.IdentityUser, ID: op.UserID})
	case WorkOp:
		return h.load(ctx, domain.IdentityRef{Kind: domain.IdentityAuthor, ID: op.AuthorID})
	case ReviewOp:
		ra, err := h.submissions.FindReviewAssignment(ctx, op.ReviewAssignmentID)
		if err != nil {
			return nil, notFound(err)
		}
		return h.load(ctx, domain.IdentityRef{Kind: domain.IdentityUser, ID: ra.ReviewerID})
	default:
		return nil, fmt.Errorf("unknown operation %T", op)
	}
}

func (h *HandshakeCoordinator) load(ctx context.Context, ref domain.IdentityRef) (domain.Identity, error) {
	ident, err := h.identities.Load(ctx, ref)
	if err != nil {
		return nil, notFound(err)
	}
	return ident, nil
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return fmt.Errorf("%w: %v", domain.ErrNotFound, err)
	}
	return err
}
