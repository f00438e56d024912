package orcid

import (
	"regexp"
	"strings"

	"github.com/example/orcid-service/internal/domain"
)

// Endpoints are the registry base URLs for one API type.
// Site serves OAuth and canonical identifier URIs, API serves record reads and writes.
type Endpoints struct {
	Site string
	API  string
}

func DefaultEndpoints(t domain.APIType) Endpoints {
	switch t {
	case domain.APIMemberProduction:
		return Endpoints{Site: "https://orcid.org", API: "https://api.orcid.org"}
	case domain.APIMemberSandbox:
		return Endpoints{Site: "https://sandbox.orcid.org", API: "https://api.sandbox.orcid.org"}
	case domain.APIPublicSandbox:
		return Endpoints{Site: "https://sandbox.orcid.org", API: "https://pub.sandbox.orcid.org"}
	default:
		return Endpoints{Site: "https://orcid.org", API: "https://pub.orcid.org"}
	}
}

// URI returns the canonical identifier URL for a bare ORCID iD.
func (e Endpoints) URI(orcid string) string {
	return strings.TrimRight(e.Site, "/") + "/" + orcid
}

var idPattern = regexp.MustCompile(`^\d{4}-\d{4}-\d{4}-\d{3}[\dX]$`)

// ParseID extracts the bare iD from a stored URI, dropping scheme and host.
// It returns "" when no well-formed iD is present.
func ParseID(uri string) string {
	s := strings.TrimSpace(uri)
	s = strings.TrimRight(s, "/")
	if i := strings.LastIndex(s, "/"); i >= 0 {
		s = s[i+1:]
	}
	s = strings.ToUpper(s)
	if !idPattern.MatchString(s) {
		return ""
	}
	return s
}

// Scope returns the OAuth scope requested for an API type.
func Scope(t domain.APIType) string {
	if t.IsMember() {
		return "/read-limited /activities/update"
	}
	return "/authenticate"
}
