package orcid

// Profile is the subset of a public record used to pre-fill registration.
type Profile struct {
	Orcid       string `json:"orcid"`
	GivenName   string `json:"given_name"`
	FamilyName  string `json:"family_name"`
	Email       string `json:"email,omitempty"`
	Country     string `json:"country,omitempty"`
	Affiliation string `json:"affiliation,omitempty"`
}

type valueJSON struct {
	Value string `json:"value"`
}

type personJSON struct {
	Name *struct {
		GivenNames *valueJSON `json:"given-names"`
		FamilyName *valueJSON `json:"family-name"`
	} `json:"name"`
	Emails struct {
		Email []struct {
			Email   string `json:"email"`
			Primary bool   `json:"primary"`
		} `json:"email"`
	} `json:"emails"`
	Addresses struct {
		Address []struct {
			Country *valueJSON `json:"country"`
		} `json:"address"`
	} `json:"addresses"`
}

type employmentsJSON struct {
	AffiliationGroup []struct {
		Summaries []struct {
			EmploymentSummary struct {
				Organization struct {
					Name string `json:"name"`
				} `json:"organization"`
			} `json:"employment-summary"`
		} `json:"summaries"`
	} `json:"affiliation-group"`
}

func newProfile(orcid string, person personJSON, employments employmentsJSON) *Profile {
	p := &Profile{Orcid: orcid}
	if person.Name != nil {
		if person.Name.GivenNames != nil {
			p.GivenName = person.Name.GivenNames.Value
		}
		if person.Name.FamilyName != nil {
			p.FamilyName = person.Name.FamilyName.Value
		}
	}
	for _, e := range person.Emails.Email {
		if p.Email == "" || e.Primary {
			p.Email = e.Email
		}
	}
	for _, a := range person.Addresses.Address {
		if a.Country != nil && a.Country.Value != "" {
			p.Country = a.Country.Value
			break
		}
	}
	// Groups are ordered most recent first.
	for _, g := range employments.AffiliationGroup {
		for _, s := range g.Summaries {
			if name := s.EmploymentSummary.Organization.Name; name != "" {
				p.Affiliation = name
				return p
			}
		}
	}
	return p
}
