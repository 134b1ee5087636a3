package discovery

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/model"
)

// EmitFunc receives a newly discovered candidate. Returning false means
// the candidate was rejected upstream (already seen by another stream or
// the run-wide limit is reached) and must not count against this
// paginator's quota.
type EmitFunc func(model.EntityCandidate) bool

// Paginator walks one paged search stream, extracting and deduplicating
// profile links until a stopping condition holds.
type Paginator struct {
	Fetch               func(ctx context.Context, rawURL string) (string, error)
	SearchURL           string
	BaseURL             string
	MirrorPrefix        string
	Strategies          []LinkStrategy
	Limit               int
	MaxPages            int
	ResultsPerPage      int
	MaxConsecutiveEmpty int
	PageBuffer          int

	seen map[string]bool

	// Counters, readable after Run returns.
	Enqueued         int
	Processed        int
	ConsecutiveEmpty int
	CurrentPage      int
}

// EffectiveMaxPages widens the configured page cap so a high limit with a
// small page size is not starved by a conservative max_pages setting.
func (p *Paginator) EffectiveMaxPages() int {
	perPage := p.ResultsPerPage
	if perPage <= 0 {
		perPage = 10
	}
	needed := (p.Limit+perPage-1)/perPage + p.PageBuffer
	if needed > p.MaxPages {
		return needed
	}
	return p.MaxPages
}

// pageURL derives the URL for a page strictly from the original search
// URL, stripping any prior pagination parameters so offsets never
// compound.
func (p *Paginator) pageURL(page int) string {
	u, err := url.Parse(p.SearchURL)
	if err != nil {
		return p.SearchURL
	}
	q := u.Query()
	q.Del("start")
	q.Del("page")
	if page > 1 {
		perPage := p.ResultsPerPage
		if perPage <= 0 {
			perPage = 10
		}
		q.Set("start", strconv.Itoa((page-1)*perPage))
	}
	u.RawQuery = q.Encode()
	return u.String()
}

// fetchPage tries the primary URL, then falls back once to the mirror for
// the same page. A page that fails both ways is skipped, not fatal.
func (p *Paginator) fetchPage(ctx context.Context, pageURL string) (string, error) {
	body, err := p.Fetch(ctx, pageURL)
	if err == nil {
		return body, nil
	}
	if p.MirrorPrefix == "" {
		return "", err
	}
	zap.L().Warn("discovery: primary fetch failed, trying mirror",
		zap.String("url", pageURL),
		zap.Error(err),
	)
	return p.Fetch(ctx, p.MirrorPrefix+pageURL)
}

// Run drives the fetch-parse-emit cycle until the limit is filled, too
// many consecutive pages yield nothing new, or the page cap is hit.
func (p *Paginator) Run(ctx context.Context, emit EmitFunc) error {
	if p.seen == nil {
		p.seen = make(map[string]bool)
	}
	maxPages := p.EffectiveMaxPages()

	for page := 1; ; page++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		p.CurrentPage = page

		newCount := 0
		body, err := p.fetchPage(ctx, p.pageURL(page))
		if err != nil {
			zap.L().Warn("discovery: page fetch failed, skipping",
				zap.Int("page", page),
				zap.Error(err),
			)
		} else {
			newCount = p.processPage(body, page, emit)
		}
		p.Processed++

		if newCount == 0 {
			p.ConsecutiveEmpty++
		} else {
			p.ConsecutiveEmpty = 0
		}

		if p.Enqueued >= p.Limit ||
			p.ConsecutiveEmpty >= p.MaxConsecutiveEmpty ||
			page >= maxPages {
			return nil
		}
	}
}

// processPage extracts, canonicalizes, and dedups the page's links,
// emitting what is new. Returns how many new candidates the page held.
func (p *Paginator) processPage(body string, page int, emit EmitFunc) int {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(body))
	if err != nil {
		zap.L().Warn("discovery: page parse failed", zap.Int("page", page), zap.Error(err))
		return 0
	}

	hrefs, strategy := CandidateLinks(doc, p.Strategies)
	if len(hrefs) == 0 {
		return 0
	}
	zap.L().Debug("discovery: extracted links",
		zap.Int("page", page),
		zap.Int("count", len(hrefs)),
		zap.String("strategy", strategy),
	)

	newCount := 0
	for _, href := range hrefs {
		canonical, ok := CanonicalProfileURL(href, p.BaseURL)
		if !ok {
			continue
		}
		key := NormalizeKey(canonical)
		if p.seen[key] {
			continue
		}
		p.seen[key] = true
		newCount++

		if p.Enqueued >= p.Limit {
			continue
		}
		if emit(model.EntityCandidate{CanonicalURL: canonical, SourcePage: page}) {
			p.Enqueued++
		}
	}
	return newCount
}
