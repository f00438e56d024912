package tokenverify

import (
	"context"
	"time"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/obs"
	pkglog "github.com/example/orcid-service/pkg/log"
)

const (
	ReasonExpired = "expired"
	ReasonRevoked = "revoked"
)

// Usable reports whether an ORCID access token may be used at instant now.
// A record without an access token is never usable.
func Usable(rec domain.TokenRecord, now time.Time) bool {
	if rec.AccessToken == "" || rec.AccessExpiresOn == nil {
		return false
	}
	return now.Before(*rec.AccessExpiresOn)
}

// Clearer is the write side of the token store used by the cleanup path.
type Clearer interface {
	ClearToken(ctx context.Context, ref domain.IdentityRef) error
}

// Gate evaluates token usability right before a deposit unit is built and
// clears tokens that turn out to be expired.
type Gate struct {
	tokens Clearer
	logger pkglog.Logger
	nowFn  func() time.Time
}

func NewGate(tokens Clearer, logger pkglog.Logger, nowFn func() time.Time) *Gate {
	if nowFn == nil {
		nowFn = time.Now
	}
	return &Gate{tokens: tokens, logger: logger, nowFn: nowFn}
}

// Check never caches: the clock is read on every call.
func (g *Gate) Check(ctx context.Context, ident domain.Identity) (bool, error) {
	rec := ident.Token()
	if Usable(rec, g.nowFn()) {
		return true, nil
	}
	if !rec.HasToken() {
		return false, nil
	}
	if err := g.clear(ctx, ident.Ref(), ReasonExpired); err != nil {
		return false, err
	}
	return false, nil
}

// Revoke clears a token the registry rejected mid-flight.
func (g *Gate) Revoke(ctx context.Context, ref domain.IdentityRef) error {
	return g.clear(ctx, ref, ReasonRevoked)
}

func (g *Gate) clear(ctx context.Context, ref domain.IdentityRef, reason string) error {
	if err := g.tokens.ClearToken(ctx, ref); err != nil {
		g.logger.Error().Err(err).Str("identity", ref.String()).Str("reason", reason).Msg("orcid token clear failed")
		return err
	}
	obs.ObserveTokenCleared(reason)
	g.logger.Info().Str("identity", ref.String()).Str("reason", reason).Msg("orcid token cleared")
	return nil
}
