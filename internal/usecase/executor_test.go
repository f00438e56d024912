package usecase

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/orcid"
	pkglog "github.com/example/orcid-service/pkg/log"
)

func newExecutorFixture(t *testing.T) (*Executor, *memStore, *fakeWriter, domain.DepositUnit) {
	t.Helper()
	store := newMemStore()
	jctx, sub, _ := store.seedJournal(true)
	author := store.addAuthor("a-1", 0, usableToken(orcidA))
	writer := &fakeWriter{}
	exec := NewExecutor(pkglog.Nop(), store, store, putCodeStore{m: store}, writer, newGate(store))
	unit := domain.DepositUnit{
		ID:        "unit-1",
		Kind:      domain.DepositWork,
		Identity:  author.Ref(),
		Orcid:     orcidA,
		ContextID: jctx.ID,
		EntityID:  sub.ID,
		Payload:   []byte(`{"type":"journal-article"}`),
	}
	return exec, store, writer, unit
}

func TestExecuteCreatesThenUpdates(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	ctx := context.Background()

	state, err := exec.Execute(ctx, unit)
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, state)
	require.Equal(t, 1, writer.creates)
	require.Equal(t, "1001", store.putCodes[putCodeKey(domain.DepositWork, unit.EntityID, orcidA)])

	state, err = exec.Execute(ctx, unit)
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, state)
	require.Equal(t, 1, writer.creates)
	require.Equal(t, []string{"1001"}, writer.updates)
}

func TestExecuteRevokedTokenIsPermanentAndCleared(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	writer.createErr = &orcid.APIError{Status: http.StatusUnauthorized, Body: "invalid_token"}

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedPermanent, state)
	require.ErrorIs(t, err, domain.ErrDepositPermanent)
	require.ErrorIs(t, err, domain.ErrTokenRevoked)
	require.Empty(t, store.author("a-1").Orcid.AccessToken)
}

func TestExecuteServerErrorIsTransient(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	writer.createErr = &orcid.APIError{Status: http.StatusServiceUnavailable}

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedTransient, state)
	require.ErrorIs(t, err, domain.ErrDepositTransient)
	require.NotEmpty(t, store.author("a-1").Orcid.AccessToken)
}

func TestExecuteNetworkErrorIsTransient(t *testing.T) {
	exec, _, writer, unit := newExecutorFixture(t)
	writer.createErr = context.DeadlineExceeded

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedTransient, state)
	require.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestExecuteClientErrorIsPermanent(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	writer.createErr = &orcid.APIError{Status: http.StatusBadRequest, Body: "invalid work"}

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedPermanent, state)
	require.NotErrorIs(t, err, domain.ErrTokenRevoked)
	require.NotEmpty(t, store.author("a-1").Orcid.AccessToken)
}

func TestExecuteStalePutCodeRecreates(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	store.putCodes[putCodeKey(domain.DepositWork, unit.EntityID, orcidA)] = "77"
	writer.updateErr = &orcid.APIError{Status: http.StatusNotFound}

	state, err := exec.Execute(context.Background(), unit)
	require.NoError(t, err)
	require.Equal(t, domain.StateSucceeded, state)
	require.Equal(t, []string{"77"}, writer.updates)
	require.Equal(t, 1, writer.creates)
	require.Equal(t, "1001", store.putCodes[putCodeKey(domain.DepositWork, unit.EntityID, orcidA)])
}

func TestExecuteExpiredTokenSkipsRegistry(t *testing.T) {
	exec, store, writer, unit := newExecutorFixture(t)
	store.authors["a-1"].Orcid.AccessExpiresOn = at(-time.Second)

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedPermanent, state)
	require.ErrorIs(t, err, domain.ErrTokenExpired)
	require.Zero(t, writer.creates)
	require.Empty(t, store.author("a-1").Orcid.AccessToken)
}

func TestExecuteMissingIdentityIsPermanent(t *testing.T) {
	exec, _, _, unit := newExecutorFixture(t)
	unit.Identity.ID = "gone"

	state, err := exec.Execute(context.Background(), unit)
	require.Equal(t, domain.StateFailedPermanent, state)
	require.ErrorIs(t, err, domain.ErrNotFound)
}
