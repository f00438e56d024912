package usecase

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/orcid"
	pkglog "github.com/example/orcid-service/pkg/log"
)

// fakeRegistry issues one token per code and answers invalid_grant on replay,
// with HTTP 200 as the registry does.
type fakeRegistry struct {
	mu    sync.Mutex
	codes map[string]string
	used  map[string]bool
}

func (f *fakeRegistry) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	switch r.URL.Path {
	case "/oauth/token":
		_ = r.ParseForm()
		code := r.PostForm.Get("code")
		f.mu.Lock()
		orcidID, ok := f.codes[code]
		replay := f.used[code]
		f.used[code] = true
		f.mu.Unlock()
		if !ok || replay {
			_, _ = io.WriteString(w, `{"error":"invalid_grant","error_description":"Invalid authorization code"}`)
			return
		}
		_, _ = io.WriteString(w, `{"access_token":"tok-`+orcidID+`","token_type":"bearer","refresh_token":"ref","expires_in":3600,"scope":"/read-limited /activities/update","name":"Josiah Carberry","orcid":"`+orcidID+`"}`)
	case "/v3.0/" + orcidA + "/person":
		_, _ = io.WriteString(w, `{"name":{"given-names":{"value":"Josiah"},"family-name":{"value":"Carberry"}}}`)
	case "/v3.0/" + orcidA + "/employments":
		_, _ = io.WriteString(w, `{"affiliation-group":[]}`)
	default:
		http.NotFound(w, r)
	}
}

type handshakeFixture struct {
	coord    *HandshakeCoordinator
	store    *memStore
	deposits *recordingDepositor
	mails    *captureMailer
	signer   StateSigner
	siteURL  string
	jctx     *domain.Context
	registry *fakeRegistry
}

func newHandshakeFixture(t *testing.T) *handshakeFixture {
	t.Helper()
	reg := &fakeRegistry{codes: map[string]string{"code-a": orcidA, "code-b": orcidB}, used: map[string]bool{}}
	srv := httptest.NewServer(reg)
	t.Cleanup(srv.Close)

	client := orcid.NewClient(2*time.Second, orcid.WithEndpoints(func(domain.APIType) orcid.Endpoints {
		return orcid.Endpoints{Site: srv.URL, API: srv.URL}
	}))
	cfg := testConfig()
	signer, err := NewStateSigner(cfg)
	require.NoError(t, err)

	store := newMemStore()
	jctx, _, _ := store.seedJournal(true)
	store.users["u-1"] = &domain.User{ID: "u-1", Email: "u@example.com"}
	deposits := &recordingDepositor{}
	mails := &captureMailer{}

	coord := NewHandshakeCoordinator(cfg, pkglog.Nop(), client, signer, store, store, store, deposits, mails)
	coord.now = func() time.Time { return testNow }
	return &handshakeFixture{coord: coord, store: store, deposits: deposits, mails: mails, signer: signer, siteURL: srv.URL, jctx: jctx, registry: reg}
}

func (f *handshakeFixture) state(t *testing.T, op Operation) string {
	t.Helper()
	st, err := f.signer.Sign(State{ContextID: f.jctx.ID, Op: op})
	require.NoError(t, err)
	return st
}

func TestHandshakeProfileStoresToken(t *testing.T) {
	f := newHandshakeFixture(t)

	res, err := f.coord.Complete(context.Background(), "code-a", f.state(t, ProfileOp{UserID: "u-1"}))
	require.NoError(t, err)
	require.Equal(t, orcidA, res.Orcid)
	require.False(t, res.DuplicateOrcid)

	rec := f.store.user("u-1").Orcid
	require.Equal(t, f.siteURL+"/"+orcidA, rec.URI)
	require.True(t, rec.Verified)
	require.Equal(t, "tok-"+orcidA, rec.AccessToken)
	require.Equal(t, "ref", rec.RefreshToken)
	require.Equal(t, "/read-limited /activities/update", rec.Scope)
	require.NotNil(t, rec.AccessExpiresOn)
	require.True(t, rec.AccessExpiresOn.Equal(testNow.Add(time.Hour)))
}

func TestHandshakeReplayedCodeIsInvalidGrant(t *testing.T) {
	f := newHandshakeFixture(t)
	ctx := context.Background()

	_, err := f.coord.Complete(ctx, "code-a", f.state(t, ProfileOp{UserID: "u-1"}))
	require.NoError(t, err)
	require.Equal(t, 1, f.store.tokenWrites)

	_, err = f.coord.Complete(ctx, "code-a", f.state(t, ProfileOp{UserID: "u-1"}))
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
	require.Equal(t, 1, f.store.tokenWrites)
}

func TestHandshakeInvalidGrantLeavesTokenUnchanged(t *testing.T) {
	f := newHandshakeFixture(t)
	before := usableToken(orcidC)
	f.store.users["u-1"].Orcid = before

	_, err := f.coord.Complete(context.Background(), "never-issued", f.state(t, ProfileOp{UserID: "u-1"}))
	require.ErrorIs(t, err, domain.ErrInvalidGrant)
	require.Equal(t, before, f.store.user("u-1").Orcid)
	require.Zero(t, f.store.tokenWrites)
}

func TestHandshakeDuplicateOrcidIsAWarning(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.users["u-1"].Orcid = usableToken(orcidC)

	res, err := f.coord.Complete(context.Background(), "code-b", f.state(t, ProfileOp{UserID: "u-1"}))
	require.NoError(t, err)
	require.True(t, res.DuplicateOrcid)
	require.Contains(t, res.Notices, NoticeDuplicateOrcid)
	require.Equal(t, f.siteURL+"/"+orcidB, f.store.user("u-1").Orcid.URI)
}

func TestHandshakeClearsAccessDeniedAndVerificationToken(t *testing.T) {
	f := newHandshakeFixture(t)
	a := f.store.addAuthor("a-1", 0, domain.TokenRecord{AccessDenied: true})
	a.EmailVerificationToken = "hash"
	f.store.pubs["pub-1"].Status = "queued"

	res, err := f.coord.Complete(context.Background(), "code-a", f.state(t, WorkOp{PublicationID: "pub-1", AuthorID: "a-1"}))
	require.NoError(t, err)
	require.Contains(t, res.Notices, NoticeSubmissionNotPublished)
	require.Empty(t, f.deposits.works)

	author := f.store.author("a-1")
	require.False(t, author.Orcid.AccessDenied)
	require.Empty(t, author.EmailVerificationToken)
	require.Equal(t, "tok-"+orcidA, author.Orcid.AccessToken)
}

func TestHandshakeWorkDepositsPublishedPublication(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.addAuthor("a-1", 0, domain.TokenRecord{})

	res, err := f.coord.Complete(context.Background(), "code-a", f.state(t, WorkOp{PublicationID: "pub-1", AuthorID: "a-1"}))
	require.NoError(t, err)
	require.Empty(t, res.Notices)
	require.Equal(t, []string{"pub-1"}, f.deposits.works)
}

func TestHandshakeReviewDepositsAssignment(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.reviews["ra-1"] = &domain.ReviewAssignment{ID: "ra-1", SubmissionID: "sub-1", ReviewerID: "u-1", Method: domain.ReviewOpen}

	_, err := f.coord.Complete(context.Background(), "code-a", f.state(t, ReviewOp{ReviewAssignmentID: "ra-1"}))
	require.NoError(t, err)
	require.Equal(t, []string{"ra-1"}, f.deposits.reviews)
	require.Equal(t, "tok-"+orcidA, f.store.user("u-1").Orcid.AccessToken)
}

func TestHandshakeRegisterReturnsProfileOnly(t *testing.T) {
	f := newHandshakeFixture(t)

	res, err := f.coord.Complete(context.Background(), "code-a", f.state(t, RegisterOp{}))
	require.NoError(t, err)
	require.NotNil(t, res.Profile)
	require.Equal(t, "Josiah", res.Profile.GivenName)
	require.Equal(t, "Carberry", res.Profile.FamilyName)
	require.Zero(t, f.store.tokenWrites)
}

func TestCompleteRejectsTamperedState(t *testing.T) {
	f := newHandshakeFixture(t)
	st := f.state(t, ProfileOp{UserID: "u-1"})

	_, err := f.coord.Complete(context.Background(), "code-a", st+"x")
	require.ErrorIs(t, err, domain.ErrInvalidState)
	require.Zero(t, f.store.tokenWrites)

	f.registry.mu.Lock()
	require.False(t, f.registry.used["code-a"])
	f.registry.mu.Unlock()
}

func TestDenyMarksAccessDenied(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.users["u-1"].Orcid = usableToken(orcidA)

	err := f.coord.Deny(context.Background(), f.state(t, ProfileOp{UserID: "u-1"}))
	require.ErrorIs(t, err, domain.ErrAccessDenied)

	rec := f.store.user("u-1").Orcid
	require.True(t, rec.AccessDenied)
	require.Empty(t, rec.AccessToken)
}

func TestAuthorizeURLCarriesSignedState(t *testing.T) {
	f := newHandshakeFixture(t)

	raw, err := f.coord.AuthorizeURL(context.Background(), f.jctx.ID, ProfileOp{UserID: "u-1"})
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	require.Equal(t, "/oauth/authorize", u.Path)
	require.Equal(t, "http://orcid.test/api/v1/orcid/callback", u.Query().Get("redirect_uri"))

	st, err := f.signer.Parse(u.Query().Get("state"))
	require.NoError(t, err)
	require.Equal(t, ProfileOp{UserID: "u-1"}, st.Op)
}

func TestAuthorizeURLDisabledContext(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.contexts["ctx-1"].OrcidEnabled = false

	_, err := f.coord.AuthorizeURL(context.Background(), "ctx-1", RegisterOp{})
	require.ErrorIs(t, err, domain.ErrOrcidDisabled)
}

func TestAuthorizeReviewOnlyForAssignedReviewer(t *testing.T) {
	f := newHandshakeFixture(t)
	f.store.reviews["ra-1"] = &domain.ReviewAssignment{ID: "ra-1", SubmissionID: "sub-1", ReviewerID: "u-1", Method: domain.ReviewOpen}

	_, err := f.coord.AuthorizeReview(context.Background(), "ctx-1", "ra-1", "someone-else")
	require.ErrorIs(t, err, domain.ErrAccessDenied)

	raw, err := f.coord.AuthorizeReview(context.Background(), "ctx-1", "ra-1", "u-1")
	require.NoError(t, err)
	u, err := url.Parse(raw)
	require.NoError(t, err)
	st, err := f.signer.Parse(u.Query().Get("state"))
	require.NoError(t, err)
	require.Equal(t, ReviewOp{ReviewAssignmentID: "ra-1"}, st.Op)
}
