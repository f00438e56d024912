package domain

import "time"

const StatusPublished = "published"

type Submission struct {
	ID                   string    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ContextID            string    `gorm:"type:uuid;index;not null" json:"context_id"`
	CurrentPublicationID string    `gorm:"type:uuid" json:"current_publication_id"`
	Kind                 string    `gorm:"type:text;not null;default:'article'" json:"kind"`
	CreatedAt            time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt            time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Submission) TableName() string { return "submission" }

type Publication struct {
	ID            string     `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SubmissionID  string     `gorm:"type:uuid;index;not null" json:"submission_id"`
	Version       int        `gorm:"not null;default:1" json:"version"`
	Title         string     `gorm:"type:text" json:"title"`
	Status        string     `gorm:"type:text;not null" json:"status"`
	DOI           string     `gorm:"column:doi;type:text" json:"doi"`
	URL           string     `gorm:"type:text" json:"url"`
	DatePublished *time.Time `json:"date_published"`
	CreatedAt     time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt     time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Publication) TableName() string { return "publication" }

func (p *Publication) Published() bool { return p != nil && p.Status == StatusPublished }

type ReviewMethod string

const (
	ReviewOpen            ReviewMethod = "open"
	ReviewAnonymous       ReviewMethod = "anonymous"
	ReviewDoubleAnonymous ReviewMethod = "double-anonymous"
)

type ReviewAssignment struct {
	ID             string       `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	SubmissionID   string       `gorm:"type:uuid;index;not null" json:"submission_id"`
	ReviewerID     string       `gorm:"type:uuid;index;not null" json:"reviewer_id"`
	Method         ReviewMethod `gorm:"column:review_method;type:text;not null" json:"review_method"`
	Recommendation string       `gorm:"type:text" json:"recommendation"`
	DateCompleted  *time.Time   `json:"date_completed"`
	CreatedAt      time.Time    `gorm:"autoCreateTime" json:"created_at"`
}

func (ReviewAssignment) TableName() string { return "review_assignment" }

func (r *ReviewAssignment) Completed() bool { return r != nil && r.DateCompleted != nil }

// PutCode remembers ORCID's identifier for an item deposited on one record.
type PutCode struct {
	ID        string      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Kind      DepositKind `gorm:"type:text;not null;uniqueIndex:idx_put_code_target,priority:1" json:"kind"`
	EntityID  string      `gorm:"type:uuid;not null;uniqueIndex:idx_put_code_target,priority:2" json:"entity_id"`
	Orcid     string      `gorm:"type:text;not null;uniqueIndex:idx_put_code_target,priority:3" json:"orcid"`
	Code      string      `gorm:"column:put_code;type:text;not null" json:"put_code"`
	UpdatedAt time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (PutCode) TableName() string { return "orcid_put_code" }
