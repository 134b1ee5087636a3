package discovery

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rotisserie/eris"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthtools/leadscout/internal/config"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/store"
)

// mapFetcher serves canned bodies by URL substring match and errors on
// everything else.
type mapFetcher struct {
	bodies map[string]string
}

func (m *mapFetcher) Get(_ context.Context, rawURL string) (string, error) {
	for key, body := range m.bodies {
		if strings.Contains(rawURL, key) {
			return body, nil
		}
	}
	return "", eris.Errorf("not found: %s", rawURL)
}

const acmeProfile = `<html><body>
<div class="top-card-layout__entity-info"><h1>Acme Corp</h1></div>
<div class="core-section-container__content">
<p>Acme builds widgets for industrial kitchens.</p>
<div class="mb-2"><span class="text-md">Website</span><a href="#"><span class="text-md">acme.example.com</span></a></div>
<div class="mb-2"><span class="text-md">Headquarters</span><span class="text-md">Istanbul</span></div>
</div>
</body></html>`

const directProfile = `<html><body>
<div class="top-card-layout__entity-info"><h1>Direct Ltd</h1></div>
<div class="core-section-container__content"><p>Consultancy with contacts on the profile.</p></div>
<a href="tel:+90 212 555 44 33">Call</a>
<a href="mailto:hello@direct.example.com">Mail</a>
</body></html>`

const acmeContactPage = `<html><body>
<div class="contact-box">Telefon: 0212 123 45 67, iletisim@acme.example.com</div>
</body></html>`

func TestEngine_Run_EndToEnd(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	fetcher := &mapFetcher{bodies: map[string]string{
		"search/results/companies": searchPage("acme", "direct"),
		"/company/acme":            acmeProfile,
		"/company/direct":          directProfile,
		"acme.example.com/contact": acmeContactPage,
		// Every other contact path 404s; failures must not block the flush.
	}}

	engine := NewEngine(
		config.DiscoveryConfig{
			ResultsPerPage:      2,
			MaxConsecutiveEmpty: 2,
			PageBuffer:          1,
			SubfetchConcurrency: 4,
		},
		config.SearchConfig{BaseURL: "https://www.linkedin.com"},
		fetcher,
		st,
	)

	stats, err := engine.Run(context.Background(), model.JobParams{
		Category: "Widget Makers",
		Region:   "istanbul",
		Limit:    2,
		MaxPages: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Candidates)
	assert.Equal(t, 2, stats.Leads)

	leads, err := st.ListLeads(context.Background(), "Widget Makers", store.LeadFilter{})
	require.NoError(t, err)
	require.Len(t, leads, 2)

	byName := map[string]model.Lead{}
	for _, l := range leads {
		byName[l.CompanyName] = l
	}

	acme, ok := byName["Acme Corp"]
	require.True(t, ok)
	assert.Equal(t, "acme.example.com", acme.Website)
	assert.Equal(t, "0212 123 45 67", acme.Phone)
	assert.Contains(t, acme.Emails, "iletisim@acme.example.com")
	assert.Equal(t, "contact_pages", acme.Source)
	assert.Equal(t, "Acme builds widgets for industrial kitchens.", acme.About)

	direct, ok := byName["Direct Ltd"]
	require.True(t, ok)
	assert.Equal(t, "+90 212 555 44 33", direct.Phone)
	assert.Contains(t, direct.Emails, "hello@direct.example.com")
	assert.Equal(t, "profile", direct.Source)
}

// A single worker slot must still drain the candidate channel: the
// consumer loop may not occupy the slot its own spawned work needs.
func TestEngine_Run_SingleWorkerCompletes(t *testing.T) {
	st, err := store.NewSQLite(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() }) //nolint:errcheck
	require.NoError(t, st.Migrate(context.Background()))

	fetcher := &mapFetcher{bodies: map[string]string{
		"search/results/companies": searchPage("acme", "direct"),
		"/company/acme":            acmeProfile,
		"/company/direct":          directProfile,
		"acme.example.com/contact": acmeContactPage,
	}}

	engine := NewEngine(
		config.DiscoveryConfig{
			ResultsPerPage:      2,
			MaxConsecutiveEmpty: 2,
			PageBuffer:          1,
			SubfetchConcurrency: 1,
		},
		config.SearchConfig{BaseURL: "https://www.linkedin.com"},
		fetcher,
		st,
	)

	done := make(chan struct{})
	var stats *Stats
	go func() {
		defer close(done)
		stats, err = engine.Run(context.Background(), model.JobParams{
			Category: "Widget Makers",
			Limit:    2,
			MaxPages: 1,
		})
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("engine run never finished with a single worker")
	}
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Leads)
}

func TestEngine_Run_RequiresCategory(t *testing.T) {
	engine := NewEngine(config.DiscoveryConfig{}, config.SearchConfig{}, &mapFetcher{}, nil)
	_, err := engine.Run(context.Background(), model.JobParams{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "category is required")
}

func TestBuildSearchURLs(t *testing.T) {
	// Mapped category: one stream per industry ID.
	urls := BuildSearchURLs("https://www.linkedin.com", "finance", "")
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0], "f_I=43")

	urls = BuildSearchURLs("https://www.linkedin.com", "Technology", "")
	assert.Len(t, urls, 3)

	// Unmapped category: single keyword stream.
	urls = BuildSearchURLs("https://www.linkedin.com", "Widget Makers", "istanbul")
	require.Len(t, urls, 1)
	assert.Contains(t, urls[0], "keywords=Widget+Makers+istanbul")
	assert.NotContains(t, urls[0], "f_I")
}

func TestContactTargets(t *testing.T) {
	targets := contactTargets("acme.example.com")
	require.Len(t, targets, 10)
	assert.Equal(t, "https://acme.example.com", targets[0])
	assert.Contains(t, targets, "https://acme.example.com/iletisim")
	assert.Contains(t, targets, "https://acme.example.com/contact-us")

	assert.Empty(t, contactTargets(""))
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile(acmeProfile)
	require.NoError(t, err)
	assert.Equal(t, "Acme Corp", p.Name)
	assert.Equal(t, "acme.example.com", p.Website)
	assert.Equal(t, "Istanbul", p.Headquarters)
	assert.False(t, p.HasDirectContacts())

	p, err = ParseProfile(directProfile)
	require.NoError(t, err)
	assert.Equal(t, "Direct Ltd", p.Name)
	assert.True(t, p.HasDirectContacts())
}
