package domain

import "time"

// TokenRecord is the ORCID token material attached to a User or an Author.
// An empty string means the field is absent.
type TokenRecord struct {
	URI             string     `gorm:"column:uri;type:text" json:"uri,omitempty"`
	Verified        bool       `gorm:"column:verified;not null;default:false" json:"verified"`
	AccessToken     string     `gorm:"column:access_token;type:text" json:"-"`
	Scope           string     `gorm:"column:scope;type:text" json:"scope,omitempty"`
	RefreshToken    string     `gorm:"column:refresh_token;type:text" json:"-"`
	AccessExpiresOn *time.Time `gorm:"column:access_expires_on" json:"access_expires_on,omitempty"`
	AccessDenied    bool       `gorm:"column:access_denied;not null;default:false" json:"access_denied"`
}

// HasToken reports whether an access token is stored, regardless of expiry.
func (r TokenRecord) HasToken() bool { return r.AccessToken != "" }

type IdentityKind string

const (
	IdentityUser   IdentityKind = "user"
	IdentityAuthor IdentityKind = "author"
)

// IdentityRef addresses one token-carrying row. The caller selects the kind.
type IdentityRef struct {
	Kind IdentityKind `json:"kind"`
	ID   string       `json:"id"`
}

func (r IdentityRef) String() string { return string(r.Kind) + ":" + r.ID }

// Identity is the shared view over User and Author used by the ORCID pipeline.
type Identity interface {
	Ref() IdentityRef
	Token() TokenRecord
	Name() string
}

type User struct {
	ID         string      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	Email      string      `gorm:"uniqueIndex;not null" json:"email"`
	GivenName  string      `gorm:"type:text" json:"given_name"`
	FamilyName string      `gorm:"type:text" json:"family_name"`
	Orcid      TokenRecord `gorm:"embedded;embeddedPrefix:orcid_" json:"orcid"`
	CreatedAt  time.Time   `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt  time.Time   `gorm:"autoUpdateTime" json:"updated_at"`
}

func (User) TableName() string { return "app_user" }

func (u *User) Ref() IdentityRef { return IdentityRef{Kind: IdentityUser, ID: u.ID} }
func (u *User) Token() TokenRecord { return u.Orcid }
func (u *User) Name() string { return fullName(u.GivenName, u.FamilyName) }

type Author struct {
	ID            string      `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	PublicationID string      `gorm:"type:uuid;index;not null" json:"publication_id"`
	UserGroupID   string      `gorm:"type:uuid" json:"user_group_id"`
	Seq           int         `gorm:"not null;default:0" json:"seq"`
	Email         string      `gorm:"type:text" json:"email"`
	GivenName     string      `gorm:"type:text" json:"given_name"`
	FamilyName    string      `gorm:"type:text" json:"family_name"`
	Orcid         TokenRecord `gorm:"embedded;embeddedPrefix:orcid_" json:"orcid"`

	// bcrypt hash of the token mailed to the author for out-of-band verification.
	EmailVerificationToken string    `gorm:"column:email_verification_token;type:text" json:"-"`
	CreatedAt              time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt              time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Author) TableName() string { return "author" }

func (a *Author) Ref() IdentityRef { return IdentityRef{Kind: IdentityAuthor, ID: a.ID} }
func (a *Author) Token() TokenRecord { return a.Orcid }
func (a *Author) Name() string { return fullName(a.GivenName, a.FamilyName) }

type UserGroup struct {
	ID        string `gorm:"type:uuid;default:uuid_generate_v4();primaryKey" json:"id"`
	ContextID string `gorm:"type:uuid;index;not null" json:"context_id"`
	Name      string `gorm:"type:text;not null" json:"name"`
	Abbrev    string `gorm:"type:text" json:"abbrev"`
}

func (UserGroup) TableName() string { return "user_group" }

func fullName(given, family string) string {
	switch {
	case given == "":
		return family
	case family == "":
		return given
	default:
		return given + " " + family
	}
}
