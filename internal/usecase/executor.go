package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"gorm.io/gorm"

	repo "github.com/example/orcid-service/internal/adapters/postgres"
	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/orcid"
	"github.com/example/orcid-service/internal/tokenverify"
	pkglog "github.com/example/orcid-service/pkg/log"
)

// Writer is the member-API surface used to create and update record items.
type Writer interface {
	Create(ctx context.Context, jctx *domain.Context, kind domain.DepositKind, orcidID, accessToken string, payload json.RawMessage) (string, error)
	Update(ctx context.Context, jctx *domain.Context, kind domain.DepositKind, orcidID, accessToken, putCode string, payload json.RawMessage) error
}

// Executor performs one deposit unit as the contributor it targets.
// It never writes token fields; revocations go through the gate.
type Executor struct {
	logger     pkglog.Logger
	contexts   repo.ContextRepository
	identities repo.IdentityRepository
	putCodes   repo.PutCodeRepository
	writer     Writer
	gate       *tokenverify.Gate
}

func NewExecutor(logger pkglog.Logger, contexts repo.ContextRepository, identities repo.IdentityRepository, putCodes repo.PutCodeRepository, writer Writer, gate *tokenverify.Gate) *Executor {
	return &Executor{
		logger:     pkglog.Component(logger, "executor"),
		contexts:   contexts,
		identities: identities,
		putCodes:   putCodes,
		writer:     writer,
		gate:       gate,
	}
}

// Execute returns StateSucceeded, StateFailedTransient or StateFailedPermanent.
// Failed states come with an error wrapping ErrDepositTransient or ErrDepositPermanent.
func (e *Executor) Execute(ctx context.Context, unit domain.DepositUnit) (domain.DepositState, error) {
	log := e.logger.With().Str("unit_id", unit.ID).Str("kind", string(unit.Kind)).
		Str("orcid", unit.Orcid).Str("identity", unit.Identity.String()).Logger()

	jctx, err := e.contexts.FindByID(ctx, unit.ContextID)
	if err != nil {
		return lookupFailure("load context", err)
	}
	if !jctx.CanDeposit() {
		return permanent(domain.ErrOrcidDisabled)
	}
	ident, err := e.identities.Load(ctx, unit.Identity)
	if err != nil {
		return lookupFailure("load identity", err)
	}
	ok, err := e.gate.Check(ctx, ident)
	if err != nil {
		return transient(err)
	}
	if !ok {
		return permanent(domain.ErrTokenExpired)
	}
	token := ident.Token().AccessToken

	putCode, err := e.putCodes.Find(ctx, unit.Kind, unit.EntityID, unit.Orcid)
	if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
		return transient(fmt.Errorf("load put-code: %w", err))
	}

	if putCode != "" {
		err := e.writer.Update(ctx, jctx, unit.Kind, unit.Orcid, token, putCode, unit.Payload)
		if err == nil {
			log.Info().Str("put_code", putCode).Msg("orcid item updated")
			return domain.StateSucceeded, nil
		}
		var aerr *orcid.APIError
		if !errors.As(err, &aerr) || aerr.Status != http.StatusNotFound {
			return e.classify(ctx, unit, err)
		}
		// The person deleted the item on ORCID; forget it and create a fresh one.
		log.Warn().Str("put_code", putCode).Msg("stale put-code, re-creating")
		if err := e.putCodes.Delete(ctx, unit.Kind, unit.EntityID, unit.Orcid); err != nil {
			return transient(fmt.Errorf("drop put-code: %w", err))
		}
	}

	code, err := e.writer.Create(ctx, jctx, unit.Kind, unit.Orcid, token, unit.Payload)
	if err != nil {
		return e.classify(ctx, unit, err)
	}
	if err := e.putCodes.Save(ctx, unit.Kind, unit.EntityID, unit.Orcid, code); err != nil {
		log.Error().Err(err).Str("put_code", code).Msg("put-code not stored, next deposit will create again")
	}
	log.Info().Str("put_code", code).Msg("orcid item created")
	return domain.StateSucceeded, nil
}

func (e *Executor) classify(ctx context.Context, unit domain.DepositUnit, err error) (domain.DepositState, error) {
	var aerr *orcid.APIError
	if !errors.As(err, &aerr) {
		return transient(err)
	}
	switch {
	case aerr.Status == http.StatusUnauthorized || aerr.Status == http.StatusForbidden:
		if rerr := e.gate.Revoke(ctx, unit.Identity); rerr != nil {
			e.logger.Error().Err(rerr).Str("unit_id", unit.ID).Msg("revoked token not cleared")
		}
		return permanent(fmt.Errorf("%w: %w", domain.ErrTokenRevoked, err))
	case aerr.Status == http.StatusTooManyRequests || aerr.Status >= 500:
		return transient(err)
	default:
		return permanent(err)
	}
}

func lookupFailure(what string, err error) (domain.DepositState, error) {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return permanent(fmt.Errorf("%s: %w", what, domain.ErrNotFound))
	}
	return transient(fmt.Errorf("%s: %w", what, err))
}

func transient(err error) (domain.DepositState, error) {
	return domain.StateFailedTransient, fmt.Errorf("%w: %w", domain.ErrDepositTransient, err)
}

func permanent(err error) (domain.DepositState, error) {
	return domain.StateFailedPermanent, fmt.Errorf("%w: %w", domain.ErrDepositPermanent, err)
}
