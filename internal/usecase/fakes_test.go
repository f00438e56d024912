package usecase

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/example/orcid-service/config"
	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/orcid"
	"github.com/example/orcid-service/internal/tokenverify"
	pkglog "github.com/example/orcid-service/pkg/log"
)

const (
	orcidA = "0000-0002-1825-0097"
	orcidB = "0000-0001-5109-3700"
	orcidC = "0000-0003-1415-9269"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func testConfig() *config.Config {
	return &config.Config{
		AppName:      "orcid-service",
		PublicURL:    "http://orcid.test",
		HTTPBasePath: "/api/v1",
		StateSecret:  "state-secret",
		StateTTL:     time.Minute,
	}
}

func at(d time.Duration) *time.Time {
	t := testNow.Add(d)
	return &t
}

func usableToken(orcidID string) domain.TokenRecord {
	return domain.TokenRecord{
		URI:             "https://sandbox.orcid.org/" + orcidID,
		Verified:        true,
		AccessToken:     "tok-" + orcidID,
		Scope:           "/read-limited /activities/update",
		AccessExpiresOn: at(time.Hour),
	}
}

// memStore backs every repository interface with maps.
type memStore struct {
	mu sync.Mutex

	contexts map[string]*domain.Context
	users    map[string]*domain.User
	authors  map[string]*domain.Author
	groups   map[string]*domain.UserGroup
	subs     map[string]*domain.Submission
	pubs     map[string]*domain.Publication
	reviews  map[string]*domain.ReviewAssignment
	putCodes map[string]string

	tokenWrites  int
	groupLookups int
}

func newMemStore() *memStore {
	return &memStore{
		contexts: map[string]*domain.Context{},
		users:    map[string]*domain.User{},
		authors:  map[string]*domain.Author{},
		groups:   map[string]*domain.UserGroup{},
		subs:     map[string]*domain.Submission{},
		pubs:     map[string]*domain.Publication{},
		reviews:  map[string]*domain.ReviewAssignment{},
		putCodes: map[string]string{},
	}
}

// seedJournal adds a member-API context with one published article.
func (m *memStore) seedJournal(enabled bool) (*domain.Context, *domain.Submission, *domain.Publication) {
	published := testNow.Add(-24 * time.Hour)
	jctx := &domain.Context{ID: "ctx-1", Path: "jt", Name: "Journal of Tests", ISSN: "1234-5678",
		OrcidEnabled: enabled, OrcidAPIType: domain.APIMemberSandbox, OrcidClientID: "APP-TEST", OrcidClientSecret: "s3cret"}
	sub := &domain.Submission{ID: "sub-1", ContextID: jctx.ID, CurrentPublicationID: "pub-1", Kind: "article"}
	pub := &domain.Publication{ID: "pub-1", SubmissionID: sub.ID, Version: 1, Title: "On Testing", Status: domain.StatusPublished, DatePublished: &published}
	m.contexts[jctx.ID] = jctx
	m.subs[sub.ID] = sub
	m.pubs[pub.ID] = pub
	return jctx, sub, pub
}

func (m *memStore) addAuthor(id string, seq int, rec domain.TokenRecord) *domain.Author {
	a := &domain.Author{ID: id, PublicationID: "pub-1", Seq: seq, GivenName: "Author", FamilyName: id, Email: id + "@example.com", Orcid: rec}
	m.authors[id] = a
	return a
}

func (m *memStore) author(id string) domain.Author {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.authors[id]
}

func (m *memStore) user(id string) domain.User {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.users[id]
}

func (m *memStore) FindByID(_ context.Context, id string) (*domain.Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.contexts[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *memStore) Load(_ context.Context, ref domain.IdentityRef) (domain.Identity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	switch ref.Kind {
	case domain.IdentityUser:
		u, ok := m.users[ref.ID]
		if !ok {
			return nil, gorm.ErrRecordNotFound
		}
		cp := *u
		return &cp, nil
	case domain.IdentityAuthor:
		a, ok := m.authors[ref.ID]
		if !ok {
			return nil, gorm.ErrRecordNotFound
		}
		cp := *a
		return &cp, nil
	}
	return nil, fmt.Errorf("unknown identity kind %q", ref.Kind)
}

func (m *memStore) record(ref domain.IdentityRef) (*domain.TokenRecord, *domain.Author, error) {
	switch ref.Kind {
	case domain.IdentityUser:
		if u, ok := m.users[ref.ID]; ok {
			return &u.Orcid, nil, nil
		}
	case domain.IdentityAuthor:
		if a, ok := m.authors[ref.ID]; ok {
			return &a.Orcid, a, nil
		}
	}
	return nil, nil, gorm.ErrRecordNotFound
}

func (m *memStore) SaveToken(_ context.Context, ref domain.IdentityRef, rec domain.TokenRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, author, err := m.record(ref)
	if err != nil {
		return err
	}
	rec.AccessDenied = false
	*cur = rec
	if author != nil {
		author.EmailVerificationToken = ""
	}
	m.tokenWrites++
	return nil
}

func (m *memStore) ClearToken(_ context.Context, ref domain.IdentityRef) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _, err := m.record(ref)
	if err != nil {
		return err
	}
	cur.AccessToken, cur.Scope, cur.RefreshToken, cur.AccessExpiresOn = "", "", "", nil
	return nil
}

func (m *memStore) MarkAccessDenied(ctx context.Context, ref domain.IdentityRef) error {
	if err := m.ClearToken(ctx, ref); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, _, _ := m.record(ref)
	cur.AccessDenied = true
	return nil
}

func (m *memStore) SetEmailVerificationToken(_ context.Context, authorID, hash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authors[authorID]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	a.EmailVerificationToken = hash
	return nil
}

func (m *memStore) FindSubmission(_ context.Context, id string) (*domain.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memStore) FindPublication(_ context.Context, id string) (*domain.Publication, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.pubs[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *p
	return &cp, nil
}

func (m *memStore) FindAuthor(_ context.Context, id string) (*domain.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.authors[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *memStore) ListAuthors(_ context.Context, publicationID string) ([]domain.Author, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.Author
	for _, a := range m.authors {
		if a.PublicationID == publicationID {
			out = append(out, *a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Seq < out[j].Seq })
	return out, nil
}

func (m *memStore) FindUserGroup(_ context.Context, id string) (*domain.UserGroup, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.groupLookups++
	g, ok := m.groups[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *memStore) FindReviewAssignment(_ context.Context, id string) (*domain.ReviewAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.reviews[id]
	if !ok {
		return nil, gorm.ErrRecordNotFound
	}
	cp := *ra
	return &cp, nil
}

func (m *memStore) ListReviewAssignments(_ context.Context, submissionID string) ([]domain.ReviewAssignment, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.ReviewAssignment
	for _, ra := range m.reviews {
		if ra.SubmissionID == submissionID {
			out = append(out, *ra)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func putCodeKey(kind domain.DepositKind, entityID, orcidID string) string {
	return string(kind) + "|" + entityID + "|" + orcidID
}

// putCodeStore is separate from memStore because Find/Save/Delete collide
// with the other repository method sets.
type putCodeStore struct{ m *memStore }

func (p putCodeStore) Find(_ context.Context, kind domain.DepositKind, entityID, orcidID string) (string, error) {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	code, ok := p.m.putCodes[putCodeKey(kind, entityID, orcidID)]
	if !ok {
		return "", gorm.ErrRecordNotFound
	}
	return code, nil
}

func (p putCodeStore) Save(_ context.Context, kind domain.DepositKind, entityID, orcidID, code string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	p.m.putCodes[putCodeKey(kind, entityID, orcidID)] = code
	return nil
}

func (p putCodeStore) Delete(_ context.Context, kind domain.DepositKind, entityID, orcidID string) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	delete(p.m.putCodes, putCodeKey(kind, entityID, orcidID))
	return nil
}

type captureQueue struct {
	mu    sync.Mutex
	units []domain.DepositUnit
	fail  map[string]error
}

func (q *captureQueue) Enqueue(_ context.Context, unit domain.DepositUnit) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if err := q.fail[unit.Identity.ID]; err != nil {
		return err
	}
	q.units = append(q.units, unit)
	return nil
}

func (q *captureQueue) ofKind(kind domain.DepositKind) []domain.DepositUnit {
	q.mu.Lock()
	defer q.mu.Unlock()
	var out []domain.DepositUnit
	for _, u := range q.units {
		if u.Kind == kind {
			out = append(out, u)
		}
	}
	return out
}

type fakeWriter struct {
	mu        sync.Mutex
	creates   int
	updates   []string
	createErr error
	updateErr error
}

func (w *fakeWriter) Create(_ context.Context, _ *domain.Context, _ domain.DepositKind, _, _ string, _ json.RawMessage) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.createErr != nil {
		return "", w.createErr
	}
	w.creates++
	return fmt.Sprintf("%d", 1000+w.creates), nil
}

func (w *fakeWriter) Update(_ context.Context, _ *domain.Context, _ domain.DepositKind, _, _, putCode string, _ json.RawMessage) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.updates = append(w.updates, putCode)
	return w.updateErr
}

type recordingDepositor struct {
	works   []string
	reviews []string
}

func (d *recordingDepositor) DepositWork(_ context.Context, pub *domain.Publication, _ *domain.Context) error {
	d.works = append(d.works, pub.ID)
	return nil
}

func (d *recordingDepositor) DepositReview(_ context.Context, id string) error {
	d.reviews = append(d.reviews, id)
	return nil
}

type captureMailer struct {
	sent []AuthorVerification
	err  error
}

func (m *captureMailer) SendAuthorVerification(_ context.Context, v AuthorVerification) error {
	if m.err != nil {
		return m.err
	}
	m.sent = append(m.sent, v)
	return nil
}

func newGate(store *memStore) *tokenverify.Gate {
	return tokenverify.NewGate(store, pkglog.Nop(), func() time.Time { return testNow })
}

func newDepositService(store *memStore, queue Queue) *DepositService {
	b := orcid.NewPayloadBuilder()
	s := NewDepositService(pkglog.Nop(), store, store, store, newGate(store), b, b, queue)
	s.now = func() time.Time { return testNow }
	return s
}
