package repo

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/example/orcid-service/internal/domain"
)

// IdentityRepository is the TokenRecord store shared by users and authors.
type IdentityRepository interface {
	Load(ctx context.Context, ref domain.IdentityRef) (domain.Identity, error)
	SaveToken(ctx context.Context, ref domain.IdentityRef, rec domain.TokenRecord) error
	ClearToken(ctx context.Context, ref domain.IdentityRef) error
	MarkAccessDenied(ctx context.Context, ref domain.IdentityRef) error
	SetEmailVerificationToken(ctx context.Context, authorID, hash string) error
}

type ContextRepository interface {
	FindByID(ctx context.Context, id string) (*domain.Context, error)
}

type SubmissionRepository interface {
	FindSubmission(ctx context.Context, id string) (*domain.Submission, error)
	FindPublication(ctx context.Context, id string) (*domain.Publication, error)
	FindAuthor(ctx context.Context, id string) (*domain.Author, error)
	ListAuthors(ctx context.Context, publicationID string) ([]domain.Author, error)
	FindUserGroup(ctx context.Context, id string) (*domain.UserGroup, error)
	FindReviewAssignment(ctx context.Context, id string) (*domain.ReviewAssignment, error)
	ListReviewAssignments(ctx context.Context, submissionID string) ([]domain.ReviewAssignment, error)
}

type PutCodeRepository interface {
	Find(ctx context.Context, kind domain.DepositKind, entityID, orcid string) (string, error)
	Save(ctx context.Context, kind domain.DepositKind, entityID, orcid, code string) error
	Delete(ctx context.Context, kind domain.DepositKind, entityID, orcid string) error
}

type identityRepo struct{ db *gorm.DB }

type contextRepo struct{ db *gorm.DB }

type submissionRepo struct{ db *gorm.DB }

type putCodeRepo struct{ db *gorm.DB }

func NewIdentityRepository(db *gorm.DB) IdentityRepository { return &identityRepo{db: db} }
func NewContextRepository(db *gorm.DB) ContextRepository { return &contextRepo{db: db} }
func NewSubmissionRepository(db *gorm.DB) SubmissionRepository { return &submissionRepo{db: db} }
func NewPutCodeRepository(db *gorm.DB) PutCodeRepository { return &putCodeRepo{db: db} }

// Models lists every table owned by this service, in migration order.
func Models() []interface{} {
	return []interface{}{
		&domain.Context{}, &domain.UserGroup{}, &domain.User{}, &domain.Submission{},
		&domain.Publication{}, &domain.Author{}, &domain.ReviewAssignment{}, &domain.PutCode{},
	}
}

func (r *identityRepo) Load(ctx context.Context, ref domain.IdentityRef) (domain.Identity, error) {
	switch ref.Kind {
	case domain.IdentityUser:
		var user domain.User
		if err := r.db.WithContext(ctx).Where("id = ?", ref.ID).First(&user).Error; err != nil {
			return nil, err
		}
		return &user, nil
	case domain.IdentityAuthor:
		var author domain.Author
		if err := r.db.WithContext(ctx).Where("id = ?", ref.ID).First(&author).Error; err != nil {
			return nil, err
		}
		return &author, nil
	}
	return nil, fmt.Errorf("unknown identity kind %q", ref.Kind)
}

func (r *identityRepo) SaveToken(ctx context.Context, ref domain.IdentityRef, rec domain.TokenRecord) error {
	values := map[string]interface{}{
		"orcid_uri":               rec.URI,
		"orcid_verified":          rec.Verified,
		"orcid_access_token":      rec.AccessToken,
		"orcid_scope":             rec.Scope,
		"orcid_refresh_token":     rec.RefreshToken,
		"orcid_access_expires_on": rec.AccessExpiresOn,
		"orcid_access_denied":     false,
	}
	if ref.Kind == domain.IdentityAuthor {
		values["email_verification_token"] = nil
	}
	return r.update(ctx, ref, values)
}

func (r *identityRepo) ClearToken(ctx context.Context, ref domain.IdentityRef) error {
	return r.update(ctx, ref, clearedToken())
}

func (r *identityRepo) MarkAccessDenied(ctx context.Context, ref domain.IdentityRef) error {
	values := clearedToken()
	values["orcid_access_denied"] = true
	return r.update(ctx, ref, values)
}

func (r *identityRepo) SetEmailVerificationToken(ctx context.Context, authorID, hash string) error {
	return r.update(ctx, domain.IdentityRef{Kind: domain.IdentityAuthor, ID: authorID},
		map[string]interface{}{"email_verification_token": hash})
}

func (r *identityRepo) update(ctx context.Context, ref domain.IdentityRef, values map[string]interface{}) error {
	var model interface{}
	switch ref.Kind {
	case domain.IdentityUser:
		model = &domain.User{}
	case domain.IdentityAuthor:
		model = &domain.Author{}
	default:
		return fmt.Errorf("unknown identity kind %q", ref.Kind)
	}
	res := r.db.WithContext(ctx).Model(model).Where("id = ?", ref.ID).Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// clearedToken keeps the URI and verified flag: the person stays linked, only
// the credential to act on their behalf goes away.
func clearedToken() map[string]interface{} {
	return map[string]interface{}{
		"orcid_access_token":      nil,
		"orcid_scope":             nil,
		"orcid_refresh_token":     nil,
		"orcid_access_expires_on": nil,
	}
}

func (r *contextRepo) FindByID(ctx context.Context, id string) (*domain.Context, error) {
	var c domain.Context
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&c).Error; err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *submissionRepo) FindSubmission(ctx context.Context, id string) (*domain.Submission, error) {
	var s domain.Submission
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error; err != nil {
		return nil, err
	}
	return &s, nil
}

func (r *submissionRepo) FindPublication(ctx context.Context, id string) (*domain.Publication, error) {
	var p domain.Publication
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&p).Error; err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *submissionRepo) FindAuthor(ctx context.Context, id string) (*domain.Author, error) {
	var a domain.Author
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *submissionRepo) ListAuthors(ctx context.Context, publicationID string) ([]domain.Author, error) {
	var authors []domain.Author
	if err := r.db.WithContext(ctx).Where("publication_id = ?", publicationID).Order("seq").Find(&authors).Error; err != nil {
		return nil, err
	}
	return authors, nil
}

func (r *submissionRepo) FindUserGroup(ctx context.Context, id string) (*domain.UserGroup, error) {
	var g domain.UserGroup
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

func (r *submissionRepo) FindReviewAssignment(ctx context.Context, id string) (*domain.ReviewAssignment, error) {
	var ra domain.ReviewAssignment
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&ra).Error; err != nil {
		return nil, err
	}
	return &ra, nil
}

func (r *submissionRepo) ListReviewAssignments(ctx context.Context, submissionID string) ([]domain.ReviewAssignment, error) {
	var out []domain.ReviewAssignment
	if err := r.db.WithContext(ctx).Where("submission_id = ?", submissionID).Order("created_at").Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *putCodeRepo) Find(ctx context.Context, kind domain.DepositKind, entityID, orcid string) (string, error) {
	var pc domain.PutCode
	if err := r.db.WithContext(ctx).
		Where("kind = ? AND entity_id = ? AND orcid = ?", kind, entityID, orcid).
		First(&pc).Error; err != nil {
		return "", err
	}
	return pc.Code, nil
}

func (r *putCodeRepo) Save(ctx context.Context, kind domain.DepositKind, entityID, orcid, code string) error {
	pc := &domain.PutCode{Kind: kind, EntityID: entityID, Orcid: orcid, Code: code, UpdatedAt: time.Now()}
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "kind"}, {Name: "entity_id"}, {Name: "orcid"}},
		DoUpdates: clause.AssignmentColumns([]string{"put_code", "updated_at"}),
	}).Create(pc).Error
}

func (r *putCodeRepo) Delete(ctx context.Context, kind domain.DepositKind, entityID, orcid string) error {
	return r.db.WithContext(ctx).
		Where("kind = ? AND entity_id = ? AND orcid = ?", kind, entityID, orcid).
		Delete(&domain.PutCode{}).Error
}
