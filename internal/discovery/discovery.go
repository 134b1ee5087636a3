// Package discovery implements the lead discovery stage: paged directory
// search, profile parsing, and the per-entity contact page fan-out that
// mines phones and emails.
package discovery

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/growthtools/leadscout/internal/config"
	"github.com/growthtools/leadscout/internal/extract"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/store"
)

// Stats summarizes one discovery run.
type Stats struct {
	PagesProcessed int `json:"pages_processed"`
	Candidates     int `json:"candidates"`
	Leads          int `json:"leads"`
}

// Engine drives the whole discovery stage for one job.
type Engine struct {
	cfg     config.DiscoveryConfig
	search  config.SearchConfig
	fetcher Fetcher
	store   store.Store
}

// NewEngine creates a discovery engine. A nil fetcher gets the default
// HTTP fetcher built from the config.
func NewEngine(cfg config.DiscoveryConfig, search config.SearchConfig, fetcher Fetcher, st store.Store) *Engine {
	if fetcher == nil {
		fetcher = NewHTTPFetcher(time.Duration(cfg.FetchTimeoutSecs)*time.Second, cfg.HostRateLimit)
	}
	if cfg.SubfetchConcurrency < 1 {
		cfg.SubfetchConcurrency = 1
	}
	return &Engine{cfg: cfg, search: search, fetcher: fetcher, store: st}
}

// runGuard owns the run-wide seen-set and limit so concurrent search
// sub-streams never double-accept an entity.
type runGuard struct {
	mu       sync.Mutex
	seen     map[string]bool
	accepted int
	limit    int
}

func (g *runGuard) accept(key string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.seen[key] || g.accepted >= g.limit {
		return false
	}
	g.seen[key] = true
	g.accepted++
	return true
}

// Run executes the discovery stage: paginate every search stream for the
// category, enrich each accepted entity, and persist finished leads.
func (e *Engine) Run(ctx context.Context, params model.JobParams) (*Stats, error) {
	if params.Category == "" {
		return nil, eris.New("discovery: category is required")
	}
	if err := e.store.EnsureCategory(ctx, params.Category); err != nil {
		return nil, err
	}

	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}
	maxPages := params.MaxPages
	if maxPages <= 0 {
		maxPages = 20
	}

	stats := &Stats{}
	var statsMu sync.Mutex

	agg := NewAggregator(func(lead model.Lead) {
		if err := e.store.UpsertLead(ctx, lead); err != nil {
			zap.L().Error("discovery: persist lead failed",
				zap.String("company", lead.CompanyName),
				zap.Error(err),
			)
			return
		}
		statsMu.Lock()
		stats.Leads++
		statsMu.Unlock()
	})

	guard := &runGuard{seen: make(map[string]bool), limit: limit}
	candidates := make(chan model.EntityCandidate, e.cfg.PageBuffer*e.cfg.ResultsPerPage+1)

	// Sub-fetches across all entities share one bounded group.
	subfetches, subCtx := errgroup.WithContext(ctx)
	subfetches.SetLimit(e.cfg.SubfetchConcurrency)

	// Profile workers consume candidates as pagination produces them. The
	// consumer loop runs outside the bounded group: if it held a worker
	// slot, a concurrency of one would never admit the work it spawns.
	workers, workerCtx := errgroup.WithContext(ctx)
	workers.SetLimit(e.cfg.SubfetchConcurrency)
	consumerDone := make(chan struct{})
	go func() {
		defer close(consumerDone)
		for cand := range candidates {
			c := cand
			workers.Go(func() error {
				e.processCandidate(workerCtx, subCtx, subfetches, c, params, agg)
				return nil
			})
		}
	}()

	// One paginator per search stream, concurrent.
	searchURLs := BuildSearchURLs(e.search.BaseURL, params.Category, params.Region)
	streams, streamCtx := errgroup.WithContext(ctx)
	paginators := make([]*Paginator, len(searchURLs))
	for i, searchURL := range searchURLs {
		p := &Paginator{
			Fetch:               e.fetcher.Get,
			SearchURL:           searchURL,
			BaseURL:             e.search.BaseURL,
			MirrorPrefix:        e.search.MirrorPrefix,
			Strategies:          DefaultLinkStrategies(),
			Limit:               limit,
			MaxPages:            maxPages,
			ResultsPerPage:      e.cfg.ResultsPerPage,
			MaxConsecutiveEmpty: e.cfg.MaxConsecutiveEmpty,
			PageBuffer:          e.cfg.PageBuffer,
		}
		paginators[i] = p
		streams.Go(func() error {
			return p.Run(streamCtx, func(c model.EntityCandidate) bool {
				if !guard.accept(NormalizeKey(c.CanonicalURL)) {
					return false
				}
				select {
				case candidates <- c:
					return true
				case <-streamCtx.Done():
					return false
				}
			})
		})
	}

	streamErr := streams.Wait()
	close(candidates)
	<-consumerDone
	workerErr := workers.Wait()
	subErr := subfetches.Wait()

	for _, p := range paginators {
		stats.PagesProcessed += p.Processed
	}
	stats.Candidates = guard.accepted

	for _, err := range []error{streamErr, workerErr, subErr} {
		if err != nil {
			return stats, eris.Wrap(err, "discovery: run")
		}
	}
	zap.L().Info("discovery: run complete",
		zap.String("category", params.Category),
		zap.Int("pages", stats.PagesProcessed),
		zap.Int("candidates", stats.Candidates),
		zap.Int("leads", stats.Leads),
	)
	return stats, nil
}

// processCandidate fetches and parses one profile, then either emits the
// lead directly or fans out the contact page fetches.
func (e *Engine) processCandidate(ctx, subCtx context.Context, subfetches *errgroup.Group, cand model.EntityCandidate, params model.JobParams, agg *Aggregator) {
	body, err := e.fetcher.Get(ctx, cand.CanonicalURL)
	if err != nil {
		zap.L().Warn("discovery: profile fetch failed",
			zap.String("url", cand.CanonicalURL),
			zap.Error(err),
		)
		return
	}
	profile, err := ParseProfile(body)
	if err != nil {
		zap.L().Warn("discovery: profile parse failed",
			zap.String("url", cand.CanonicalURL),
			zap.Error(err),
		)
		return
	}
	if profile.Name == "" {
		return
	}

	key := NormalizeKey(cand.CanonicalURL)
	seed := model.Lead{
		Category:    params.Category,
		Region:      params.Region,
		CompanyName: profile.Name,
		Website:     profile.Website,
		About:       profile.About,
	}

	// The profile itself already had contact data: no fan-out needed.
	if profile.HasDirectContacts() {
		seed.Source = "profile"
		seed.Phone = bestPhone(profile.Contacts.Phones)
		seed.Emails = profile.Contacts.Emails
		agg.Begin(key, seed, 0)
		return
	}

	targets := contactTargets(profile.Website)
	if len(targets) == 0 {
		seed.Source = "search"
		agg.Begin(key, seed, 0)
		return
	}

	seed.Source = "contact_pages"
	agg.Begin(key, seed, len(targets))
	for _, target := range targets {
		t := target
		subfetches.Go(func() error {
			phone, emails, err := e.fetchContacts(subCtx, t)
			agg.Complete(key, phone, emails, err == nil)
			return nil
		})
	}
}

func (e *Engine) fetchContacts(ctx context.Context, pageURL string) (string, []string, error) {
	body, err := e.fetcher.Get(ctx, pageURL)
	if err != nil {
		return "", nil, err
	}
	pc, err := extract.Page(body)
	if err != nil {
		return "", nil, err
	}
	return bestPhone(pc.Phones), pc.Emails, nil
}

// bestPhone picks the highest-confidence candidate; extraction already
// orders them by source.
func bestPhone(cands []extract.Candidate) string {
	best := ""
	bestSrc := extract.SourcePageText + 1
	for _, c := range cands {
		if c.Source < bestSrc {
			best = c.Value
			bestSrc = c.Source
		}
	}
	return best
}

// contactTargets resolves the fixed contact path list against the
// website's root. An empty or unparseable website yields no targets.
func contactTargets(website string) []string {
	if website == "" {
		return nil
	}
	raw := website
	if !strings.HasPrefix(raw, "http://") && !strings.HasPrefix(raw, "https://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return nil
	}
	root := u.Scheme + "://" + u.Host
	targets := make([]string, 0, len(contactPaths))
	for _, p := range contactPaths {
		if p == "/" {
			targets = append(targets, root)
			continue
		}
		targets = append(targets, root+p)
	}
	return targets
}
