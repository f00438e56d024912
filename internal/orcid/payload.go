package orcid

import (
	"encoding/json"
	"net/url"
	"strings"
	"time"

	"github.com/example/orcid-service/internal/domain"
)

// Contributor is one author together with the name of their contributor role.
type Contributor struct {
	Author domain.Author
	Role   string
}

// PayloadBuilder renders minimal ORCID v3 documents for works and peer reviews.
type PayloadBuilder struct {
	// Kinds maps submission kinds to ORCID work types. Unlisted kinds are not deposited.
	Kinds map[string]string
}

func NewPayloadBuilder() *PayloadBuilder {
	return &PayloadBuilder{Kinds: map[string]string{
		"article":  "journal-article",
		"preprint": "preprint",
		"chapter":  "book-chapter",
		"book":     "book",
	}}
}

func (b *PayloadBuilder) Supports(sub *domain.Submission) bool {
	_, ok := b.Kinds[sub.Kind]
	return ok
}

type externalID struct {
	Type         string `json:"external-id-type"`
	Value        string `json:"external-id-value"`
	URL          *value `json:"external-id-url,omitempty"`
	Relationship string `json:"external-id-relationship"`
}

type value struct {
	Value string `json:"value"`
}

type date struct {
	Year  value  `json:"year"`
	Month *value `json:"month,omitempty"`
	Day   *value `json:"day,omitempty"`
}

func newDate(t *time.Time) *date {
	if t == nil {
		return nil
	}
	return &date{
		Year:  value{t.Format("2006")},
		Month: &value{t.Format("01")},
		Day:   &value{t.Format("02")},
	}
}

type externalIDs struct {
	ExternalID []externalID `json:"external-id"`
}

type titleJSON struct {
	Title value `json:"title"`
}

type contributorOrcid struct {
	URI  string `json:"uri"`
	Path string `json:"path"`
	Host string `json:"host"`
}

type contributorAttributes struct {
	Sequence string `json:"contributor-sequence"`
	Role     string `json:"contributor-role"`
}

type contributorJSON struct {
	Orcid      *contributorOrcid     `json:"contributor-orcid,omitempty"`
	CreditName value                 `json:"credit-name"`
	Attributes contributorAttributes `json:"contributor-attributes"`
}

type contributorsJSON struct {
	Contributor []contributorJSON `json:"contributor"`
}

type workJSON struct {
	Title           titleJSON        `json:"title"`
	JournalTitle    *value           `json:"journal-title,omitempty"`
	Type            string           `json:"type"`
	PublicationDate *date            `json:"publication-date,omitempty"`
	ExternalIDs     externalIDs      `json:"external-ids"`
	URL             *value           `json:"url,omitempty"`
	Contributors    contributorsJSON `json:"contributors"`
}

// BuildWork renders one work document from the complete author list.
func (b *PayloadBuilder) BuildWork(jctx *domain.Context, sub *domain.Submission, pub *domain.Publication, contributors []Contributor) (json.RawMessage, error) {
	var w workJSON
	w.Title.Title = value{pub.Title}
	if jctx.Name != "" {
		w.JournalTitle = &value{jctx.Name}
	}
	w.Type = b.Kinds[sub.Kind]
	w.PublicationDate = newDate(pub.DatePublished)
	if pub.URL != "" {
		w.URL = &value{pub.URL}
	}

	w.ExternalIDs.ExternalID = []externalID{}
	if pub.DOI != "" {
		w.ExternalIDs.ExternalID = append(w.ExternalIDs.ExternalID, externalID{
			Type: "doi", Value: pub.DOI, URL: &value{"https://doi.org/" + pub.DOI}, Relationship: "self",
		})
	}
	w.ExternalIDs.ExternalID = append(w.ExternalIDs.ExternalID, externalID{
		Type: "source-work-id", Value: sub.ID, Relationship: "self",
	})

	w.Contributors.Contributor = make([]contributorJSON, 0, len(contributors))
	for i, c := range contributors {
		var cj contributorJSON
		cj.CreditName = value{c.Author.Name()}
		cj.Attributes.Sequence = "additional"
		if i == 0 {
			cj.Attributes.Sequence = "first"
		}
		cj.Attributes.Role = contributorRole(c.Role)
		if c.Author.Orcid.Verified {
			cj.Orcid = contributorOrcidFor(c.Author.Orcid.URI)
		}
		w.Contributors.Contributor = append(w.Contributors.Contributor, cj)
	}
	return json.Marshal(w)
}

type address struct {
	City    string `json:"city"`
	Country string `json:"country"`
}

type organization struct {
	Name    string  `json:"name"`
	Address address `json:"address"`
}

type reviewJSON struct {
	ReviewerRole          string       `json:"reviewer-role"`
	ReviewIdentifiers     externalIDs  `json:"review-identifiers"`
	ReviewURL             *value       `json:"review-url,omitempty"`
	ReviewType            string       `json:"review-type"`
	ReviewCompletionDate  *date        `json:"review-completion-date,omitempty"`
	ReviewGroupID         string       `json:"review-group-id"`
	SubjectExternalID     *externalID  `json:"subject-external-identifier,omitempty"`
	SubjectContainerName  *value       `json:"subject-container-name,omitempty"`
	SubjectType           string       `json:"subject-type,omitempty"`
	SubjectName           *titleJSON   `json:"subject-name,omitempty"`
	SubjectURL            *value       `json:"subject-url,omitempty"`
	ConveningOrganization organization `json:"convening-organization"`
}

// BuildReview renders a peer-review activity. Subject details are only
// disclosed for open reviews.
func (b *PayloadBuilder) BuildReview(jctx *domain.Context, sub *domain.Submission, pub *domain.Publication, ra *domain.ReviewAssignment) (json.RawMessage, error) {
	var r reviewJSON
	r.ReviewerRole = "reviewer"
	r.ReviewType = "review"
	r.ReviewIdentifiers.ExternalID = []externalID{{
		Type: "source-work-id", Value: ra.ID, Relationship: "self",
	}}
	r.ReviewCompletionDate = newDate(ra.DateCompleted)
	r.ReviewGroupID = "issn:" + jctx.ISSN
	if jctx.ISSN == "" {
		r.ReviewGroupID = "orcid-generated:" + jctx.Path
	}
	r.ConveningOrganization.Name = jctx.Name
	r.ConveningOrganization.Address.City = jctx.OrcidCity
	r.ConveningOrganization.Address.Country = jctx.OrcidCountry

	if ra.Method == domain.ReviewOpen && pub != nil {
		r.SubjectContainerName = &value{jctx.Name}
		r.SubjectType = b.Kinds[sub.Kind]
		r.SubjectName = &titleJSON{Title: value{pub.Title}}
		if pub.DOI != "" {
			r.SubjectExternalID = &externalID{Type: "doi", Value: pub.DOI, URL: &value{"https://doi.org/" + pub.DOI}, Relationship: "self"}
		}
		if pub.URL != "" {
			r.SubjectURL = &value{pub.URL}
		}
	}
	return json.Marshal(r)
}

func contributorRole(group string) string {
	switch strings.ToLower(group) {
	case "translator", "trans":
		return "chair-or-translator"
	case "volume editor", "editor", "ve":
		return "editor"
	default:
		return "author"
	}
}

func contributorOrcidFor(uri string) *contributorOrcid {
	id := ParseID(uri)
	if id == "" {
		return nil
	}
	host := "orcid.org"
	if u, err := url.Parse(uri); err == nil && u.Host != "" {
		host = u.Host
	}
	return &contributorOrcid{URI: uri, Path: id, Host: host}
}
