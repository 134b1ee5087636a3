package discovery

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/rotisserie/eris"

	"github.com/growthtools/leadscout/internal/extract"
)

// Profile holds what a company profile page yields before any contact
// page fan-out.
type Profile struct {
	Name         string
	Website      string
	About        string
	Headquarters string
	Contacts     *extract.PageContacts
}

// ParseProfile pulls the company fields out of a profile page. Missing
// sections leave their fields empty, a partial profile is still usable.
func ParseProfile(body string) (*Profile, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "discovery: parse profile")
	}

	p := &Profile{}
	p.Name = strings.TrimSpace(doc.Find(".top-card-layout__entity-info h1").First().Text())
	p.About = strings.TrimSpace(doc.Find(".core-section-container__content p").First().Text())

	// Details blocks are label/value pairs. The website lives in the first
	// block as a link, the rest are matched by label since block order
	// varies across page revisions.
	details := doc.Find(".core-section-container__content .mb-2")
	if details.Length() > 0 {
		p.Website = strings.TrimSpace(details.Eq(0).Find("a").First().Text())
	}
	details.Each(func(_ int, sel *goquery.Selection) {
		var parts []string
		sel.Find(".text-md").Each(func(_ int, md *goquery.Selection) {
			parts = append(parts, strings.TrimSpace(md.Text()))
		})
		if len(parts) < 2 {
			return
		}
		switch strings.ToLower(parts[0]) {
		case "headquarters":
			p.Headquarters = parts[1]
		case "website":
			if p.Website == "" {
				p.Website = parts[1]
			}
		}
	})

	contacts, err := extract.Page(body)
	if err != nil {
		return nil, err
	}
	p.Contacts = contacts

	return p, nil
}

// HasDirectContacts reports whether the profile page itself already
// carried a phone or email, which lets the caller skip the contact page
// fan-out entirely.
func (p *Profile) HasDirectContacts() bool {
	return p.Contacts != nil && (len(p.Contacts.Phones) > 0 || len(p.Contacts.Emails) > 0)
}
