package domain

import "time"

// APIType selects the ORCID registry flavour a journal talks to.
type APIType string

const (
	APIPublicProduction APIType = "public-production"
	APIPublicSandbox    APIType = "public-sandbox"
	APIMemberProduction APIType = "member-production"
	APIMemberSandbox    APIType = "member-sandbox"
)

func (t APIType) Valid() bool {
	switch t {
	case APIPublicProduction, APIPublicSandbox, APIMemberProduction, APIMemberSandbox:
		return true
	}
	return false
}

// IsMember reports whether the type grants write access to ORCID records.
func (t APIType) IsMember() bool {
	return t == APIMemberProduction || t == APIMemberSandbox
}

func (t APIType) IsSandbox() bool {
	return t == APIPublicSandbox || t == APIMemberSandbox
}

// Context is a journal or press together with its ORCID integration settings.
type Context struct {
	ID                string    `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Path              string    `gorm:"uniqueIndex;not null" json:"path"`
	Name              string    `gorm:"type:text;not null" json:"name"`
	ISSN              string    `gorm:"column:issn;type:text" json:"issn"`
	OrcidEnabled      bool      `gorm:"not null;default:false" json:"orcid_enabled"`
	OrcidAPIType      APIType   `gorm:"column:orcid_api_type;type:text" json:"orcid_api_type"`
	OrcidClientID     string    `gorm:"type:text" json:"-"`
	OrcidClientSecret string    `gorm:"type:text" json:"-"`
	OrcidCity         string    `gorm:"type:text" json:"orcid_city"`
	OrcidCountry      string    `gorm:"type:text" json:"orcid_country"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Context) TableName() string { return "journal_context" }

// CanDeposit reports whether works and reviews may be written to ORCID for this context.
func (c *Context) CanDeposit() bool {
	return c != nil && c.OrcidEnabled && c.OrcidAPIType.IsMember()
}
