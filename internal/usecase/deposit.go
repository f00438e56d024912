package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"gorm.io/gorm"

	repo "github.com/example/orcid-service/internal/adapters/postgres"
	"github.com/example/orcid-service/internal/domain"
	"github.com/example/orcid-service/internal/orcid"
	"github.com/example/orcid-service/internal/tokenverify"
	pkglog "github.com/example/orcid-service/pkg/log"
)

// Queue accepts deposit units. Enqueue must not wait on the registry.
type Queue interface {
	Enqueue(ctx context.Context, unit domain.DepositUnit) error
}

type WorkBuilder interface {
	Supports(sub *domain.Submission) bool
	BuildWork(jctx *domain.Context, sub *domain.Submission, pub *domain.Publication, contributors []orcid.Contributor) (json.RawMessage, error)
}

type ReviewBuilder interface {
	BuildReview(jctx *domain.Context, sub *domain.Submission, pub *domain.Publication, ra *domain.ReviewAssignment) (json.RawMessage, error)
}

// DepositService is the work aggregator and the review deposit coordinator.
// It only produces units; executors consume them elsewhere.
type DepositService struct {
	logger      pkglog.Logger
	contexts    repo.ContextRepository
	identities  repo.IdentityRepository
	submissions repo.SubmissionRepository
	gate        *tokenverify.Gate
	works       WorkBuilder
	reviews     ReviewBuilder
	queue       Queue
	now         func() time.Time
}

func NewDepositService(logger pkglog.Logger, contexts repo.ContextRepository, identities repo.IdentityRepository, submissions repo.SubmissionRepository, gate *tokenverify.Gate, works WorkBuilder, reviews ReviewBuilder, queue Queue) *DepositService {
	return &DepositService{
		logger:      pkglog.Component(logger, "deposit"),
		contexts:    contexts,
		identities:  identities,
		submissions: submissions,
		gate:        gate,
		works:       works,
		reviews:     reviews,
		queue:       queue,
		now:         time.Now,
	}
}

type eligibleAuthor struct {
	orcid  string
	author *domain.Author
}

// DepositSubmission deposits the current publication of a submission.
func (s *DepositService) DepositSubmission(ctx context.Context, submissionID string) error {
	sub, err := s.submissions.FindSubmission(ctx, submissionID)
	if err != nil {
		return notFound(err)
	}
	if sub.CurrentPublicationID == "" {
		return domain.ErrSubmissionNotPublished
	}
	pub, err := s.submissions.FindPublication(ctx, sub.CurrentPublicationID)
	if err != nil {
		return notFound(err)
	}
	if !pub.Published() {
		return domain.ErrSubmissionNotPublished
	}
	jctx, err := s.contexts.FindByID(ctx, sub.ContextID)
	if err != nil {
		return notFound(err)
	}
	return s.DepositWork(ctx, pub, jctx)
}

// DepositWork enqueues one work unit per author holding a usable token, then
// hands every review assignment of the submission to DepositReview.
func (s *DepositService) DepositWork(ctx context.Context, pub *domain.Publication, jctx *domain.Context) error {
	log := s.logger.With().Str("publication_id", pub.ID).Str("context_id", jctx.ID).Logger()

	if !jctx.OrcidEnabled {
		log.Debug().Msg("orcid disabled, work not deposited")
		return nil
	}
	if !jctx.OrcidAPIType.IsMember() {
		log.Debug().Str("api_type", string(jctx.OrcidAPIType)).Msg("public api cannot deposit works")
		return nil
	}
	sub, err := s.submissions.FindSubmission(ctx, pub.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", notFound(err))
	}
	if !s.works.Supports(sub) {
		log.Debug().Str("kind", sub.Kind).Msg("submission kind not depositable")
		return nil
	}

	authors, err := s.submissions.ListAuthors(ctx, pub.ID)
	if err != nil {
		return fmt.Errorf("list authors: %w", err)
	}

	var eligible []eligibleAuthor
	for i := range authors {
		a := &authors[i]
		ok, err := s.gate.Check(ctx, a)
		if err != nil {
			log.Error().Err(err).Str("author_id", a.ID).Msg("token check failed")
			continue
		}
		if !ok {
			continue
		}
		id := orcid.ParseID(a.Orcid.URI)
		if id == "" {
			log.Warn().Str("author_id", a.ID).Str("uri", a.Orcid.URI).Msg("author token without orcid iD")
			continue
		}
		eligible = append(eligible, eligibleAuthor{orcid: id, author: a})
	}
	if len(eligible) == 0 {
		log.Info().Int("authors", len(authors)).Msg("no author with a usable orcid token")
		return nil
	}

	payload, err := s.works.BuildWork(jctx, sub, pub, s.contributors(ctx, authors))
	if err != nil {
		return fmt.Errorf("build work payload: %w", err)
	}

	enqueued := 0
	for _, e := range eligible {
		unit := domain.DepositUnit{
			ID:         uuid.NewString(),
			Kind:       domain.DepositWork,
			Identity:   e.author.Ref(),
			Orcid:      e.orcid,
			ContextID:  jctx.ID,
			EntityID:   sub.ID,
			Payload:    payload,
			EnqueuedAt: s.now().UTC(),
		}
		if err := s.queue.Enqueue(ctx, unit); err != nil {
			log.Error().Err(err).Str("unit_id", unit.ID).Str("author_id", e.author.ID).Msg("work deposit not enqueued")
			continue
		}
		enqueued++
	}
	log.Info().Int("eligible", len(eligible)).Int("enqueued", enqueued).Msg("work deposits enqueued")

	reviews, err := s.submissions.ListReviewAssignments(ctx, sub.ID)
	if err != nil {
		log.Error().Err(err).Msg("list review assignments failed")
		return nil
	}
	for _, ra := range reviews {
		if err := s.DepositReview(ctx, ra.ID); err != nil {
			log.Error().Err(err).Str("review_assignment_id", ra.ID).Msg("review deposit not scheduled")
		}
	}
	return nil
}

// contributors resolves every author's role through a lookup cache that lives for one pass only.
func (s *DepositService) contributors(ctx context.Context, authors []domain.Author) []orcid.Contributor {
	groups := cache.New(cache.NoExpiration, 0)
	out := make([]orcid.Contributor, 0, len(authors))
	for _, a := range authors {
		c := orcid.Contributor{Author: a}
		if a.UserGroupID != "" {
			if name, ok := groups.Get(a.UserGroupID); ok {
				c.Role = name.(string)
			} else if g, err := s.submissions.FindUserGroup(ctx, a.UserGroupID); err == nil {
				c.Role = g.Name
				groups.Set(a.UserGroupID, g.Name, cache.NoExpiration)
			} else {
				s.logger.Debug().Err(err).Str("user_group_id", a.UserGroupID).Msg("user group lookup failed")
			}
		}
		out = append(out, c)
	}
	return out
}

// DepositReview enqueues one review unit when the reviewer holds a usable token.
// Review deposit is opportunistic: every skip returns nil.
func (s *DepositService) DepositReview(ctx context.Context, reviewAssignmentID string) error {
	log := s.logger.With().Str("review_assignment_id", reviewAssignmentID).Logger()

	ra, err := s.submissions.FindReviewAssignment(ctx, reviewAssignmentID)
	if err != nil {
		return fmt.Errorf("load review assignment: %w", notFound(err))
	}
	sub, err := s.submissions.FindSubmission(ctx, ra.SubmissionID)
	if err != nil {
		return fmt.Errorf("load submission: %w", notFound(err))
	}
	jctx, err := s.contexts.FindByID(ctx, sub.ContextID)
	if err != nil {
		return fmt.Errorf("load context: %w", notFound(err))
	}
	if !jctx.CanDeposit() {
		log.Debug().Msg("context cannot deposit reviews")
		return nil
	}
	if !ra.Completed() {
		log.Debug().Msg("review not completed")
		return nil
	}

	reviewer, err := s.identities.Load(ctx, domain.IdentityRef{Kind: domain.IdentityUser, ID: ra.ReviewerID})
	if err != nil {
		return fmt.Errorf("load reviewer: %w", notFound(err))
	}
	ok, err := s.gate.Check(ctx, reviewer)
	if err != nil {
		return err
	}
	if !ok {
		log.Debug().Str("reviewer_id", ra.ReviewerID).Msg("reviewer has no usable orcid token")
		return nil
	}
	id := orcid.ParseID(reviewer.Token().URI)
	if id == "" {
		log.Warn().Str("reviewer_id", ra.ReviewerID).Msg("reviewer token without orcid iD")
		return nil
	}

	var pub *domain.Publication
	if sub.CurrentPublicationID != "" {
		pub, err = s.submissions.FindPublication(ctx, sub.CurrentPublicationID)
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return fmt.Errorf("load publication: %w", err)
		}
	}
	payload, err := s.reviews.BuildReview(jctx, sub, pub, ra)
	if err != nil {
		return fmt.Errorf("build review payload: %w", err)
	}

	unit := domain.DepositUnit{
		ID:         uuid.NewString(),
		Kind:       domain.DepositReview,
		Identity:   reviewer.Ref(),
		Orcid:      id,
		ContextID:  jctx.ID,
		EntityID:   ra.ID,
		Payload:    payload,
		Review:     &domain.ReviewMeta{Recommendation: ra.Recommendation, Method: ra.Method},
		EnqueuedAt: s.now().UTC(),
	}
	if err := s.queue.Enqueue(ctx, unit); err != nil {
		return fmt.Errorf("enqueue review deposit: %w", err)
	}
	log.Info().Str("unit_id", unit.ID).Str("orcid", id).Msg("review deposit enqueued")
	return nil
}
