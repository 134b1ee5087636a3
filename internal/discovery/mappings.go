package discovery

import (
	_ "embed"
	"fmt"
	"net/url"

	"gopkg.in/yaml.v3"

	"github.com/growthtools/leadscout/internal/slug"
)

//go:embed search_ids.yaml
var searchIDsYAML []byte

//go:embed contact_paths.yaml
var contactPathsYAML []byte

// searchIDs maps normalized category slugs to directory industry-filter
// IDs. Loaded once at init, immutable afterwards.
var searchIDs map[string][]string

// contactPaths are the auxiliary pages fetched per entity website.
var contactPaths []string

func init() {
	if err := yaml.Unmarshal(searchIDsYAML, &searchIDs); err != nil {
		panic(fmt.Sprintf("discovery: parse search_ids.yaml: %v", err))
	}
	if err := yaml.Unmarshal(contactPathsYAML, &contactPaths); err != nil {
		panic(fmt.Sprintf("discovery: parse contact_paths.yaml: %v", err))
	}
}

// SearchIDs returns the industry-filter IDs mapped to a category, or nil
// when the category has no mapping and should use a keyword-only stream.
func SearchIDs(category string) []string {
	return searchIDs[slug.Category(category)]
}

// BuildSearchURLs returns the search streams for a category: one
// filtered stream per mapped industry ID, or a single keyword stream for
// unmapped categories.
func BuildSearchURLs(baseURL, category, region string) []string {
	keywords := category
	if region != "" {
		keywords = category + " " + region
	}
	base := fmt.Sprintf("%s/search/results/companies/?keywords=%s", baseURL, url.QueryEscape(keywords))

	ids := SearchIDs(category)
	if len(ids) == 0 {
		return []string{base}
	}
	urls := make([]string, 0, len(ids))
	for _, id := range ids {
		urls = append(urls, base+"&f_I="+url.QueryEscape(id))
	}
	return urls
}
