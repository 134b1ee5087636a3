package discovery

import (
	"regexp"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// LinkStrategy is one way of pulling profile links out of a search page.
// Strategies are tried in order until one yields a non-empty result.
type LinkStrategy struct {
	Name string
	Find func(doc *goquery.Document) []string
}

func selectorStrategy(name, selector string) LinkStrategy {
	return LinkStrategy{
		Name: name,
		Find: func(doc *goquery.Document) []string {
			var hrefs []string
			doc.Find(selector).Each(func(_ int, sel *goquery.Selection) {
				if href, ok := sel.Attr("href"); ok {
					hrefs = append(hrefs, href)
				}
			})
			return hrefs
		},
	}
}

// DefaultLinkStrategies returns the strategy chain for company search
// pages: structured result selectors first, then a scan of every link on
// the page filtered by the profile URL pattern.
func DefaultLinkStrategies() []LinkStrategy {
	return []LinkStrategy{
		selectorStrategy("result_title", `.entity-result__title-text a[href*="/company/"]`),
		selectorStrategy("result_info", `.search-result__info a[href*="/company/"]`),
		selectorStrategy("result_card", `div[data-chameleon-result-urn] a[href*="/company/"]`),
		selectorStrategy("any_company_link", `a[href*="/company/"]`),
		selectorStrategy("all_links", "a"),
	}
}

// CandidateLinks runs the strategy chain and returns the raw hrefs from
// the first strategy that finds anything.
func CandidateLinks(doc *goquery.Document, strategies []LinkStrategy) (hrefs []string, strategy string) {
	for _, s := range strategies {
		if found := s.Find(doc); len(found) > 0 {
			return found, s.Name
		}
	}
	return nil, ""
}

var (
	cachedURLPattern  = regexp.MustCompile(`cache:(https?://[^&]+)`)
	absProfilePattern = regexp.MustCompile(`(?i)(https?://(?:www\.)?[^/\s"'#]+/company/[^/?"'#\s]+)`)
	relProfilePattern = regexp.MustCompile(`(/company/[^/?"'#\s]+)`)
	trackingParams    = regexp.MustCompile(`[?&](trk|original_referer|originalSubdomain)=[^&]*`)
)

// CanonicalProfileURL reduces a raw href to a clean absolute profile URL.
// It unwraps cached-copy links, resolves relative paths against baseURL,
// and strips tracking parameters. Returns false for anything that is not
// a profile link.
func CanonicalProfileURL(href, baseURL string) (string, bool) {
	if href == "" {
		return "", false
	}

	// Cached-copy mirrors wrap the real URL in a query parameter.
	if strings.Contains(href, "webcache.googleusercontent.com") {
		if m := cachedURLPattern.FindStringSubmatch(href); m != nil {
			href = m[1]
		}
	}

	if !strings.Contains(strings.ToLower(href), "/company/") {
		return "", false
	}

	if m := absProfilePattern.FindStringSubmatch(href); m != nil {
		clean := strings.TrimRight(m[1], "/")
		clean = trackingParams.ReplaceAllString(clean, "")
		return clean, true
	}
	if m := relProfilePattern.FindStringSubmatch(href); m != nil {
		return strings.TrimRight(baseURL, "/") + strings.TrimRight(m[1], "/"), true
	}
	return "", false
}

// NormalizeKey maps a canonical URL to its dedup key: lowercased with the
// trailing slash stripped.
func NormalizeKey(u string) string {
	return strings.TrimRight(strings.ToLower(u), "/")
}
