package discovery

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/growthtools/leadscout/internal/model"
)

func TestAggregator_FlushExactlyOnceAfterAllCompletions(t *testing.T) {
	var flushed []model.Lead
	agg := NewAggregator(func(l model.Lead) { flushed = append(flushed, l) })

	seed := model.Lead{Category: "tech", CompanyName: "Acme", Website: "https://acme.example.com"}
	agg.Begin("acme", seed, 3)

	agg.Complete("acme", "", []string{"info@acme.example.com"}, true)
	assert.Empty(t, flushed)
	agg.Complete("acme", "+90 212 123 45 67", nil, true)
	assert.Empty(t, flushed)
	agg.Complete("acme", "", nil, false)

	require.Len(t, flushed, 1)
	assert.Equal(t, "+90 212 123 45 67", flushed[0].Phone)
	assert.Equal(t, []string{"info@acme.example.com"}, flushed[0].Emails)
	assert.Equal(t, 0, agg.Pending())

	// A stray extra completion after the flush is a no-op.
	agg.Complete("acme", "0212 999 99 99", nil, true)
	assert.Len(t, flushed, 1)
}

func TestAggregator_ConcurrentCompletionsFlushOnce(t *testing.T) {
	var mu sync.Mutex
	flushes := 0
	agg := NewAggregator(func(model.Lead) {
		mu.Lock()
		flushes++
		mu.Unlock()
	})

	const paths = 10
	agg.Begin("acme", model.Lead{CompanyName: "Acme"}, paths)

	var wg sync.WaitGroup
	for i := 0; i < paths; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			agg.Complete("acme", "", nil, true)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, flushes)
	assert.Equal(t, 0, agg.Pending())
}

func TestAggregator_ZeroPathsBypasses(t *testing.T) {
	var flushed []model.Lead
	agg := NewAggregator(func(l model.Lead) { flushed = append(flushed, l) })

	seed := model.Lead{CompanyName: "Direct", Phone: "+90 212 111 22 33"}
	agg.Begin("direct", seed, 0)

	require.Len(t, flushed, 1)
	assert.Equal(t, "Direct", flushed[0].CompanyName)
	assert.Equal(t, 0, agg.Pending())
}

func TestAggregator_FailedSubfetchStillDecrements(t *testing.T) {
	var flushed []model.Lead
	agg := NewAggregator(func(l model.Lead) { flushed = append(flushed, l) })

	agg.Begin("acme", model.Lead{CompanyName: "Acme"}, 2)
	agg.Complete("acme", "ignored-on-failure", []string{"ignored@acme.com"}, false)
	agg.Complete("acme", "", nil, false)

	require.Len(t, flushed, 1)
	assert.Empty(t, flushed[0].Phone)
	assert.Empty(t, flushed[0].Emails)
}

func TestMergePhone_Policy(t *testing.T) {
	// First plausible value wins.
	assert.Equal(t, "+90 212 123 45 67", mergePhone("+90 212 123 45 67", "0212 999 88 77"))
	// Empty current is replaced.
	assert.Equal(t, "0212 999 88 77", mergePhone("", "0212 999 88 77"))
	// A numeric range is employee-count bleed-through and gets replaced.
	assert.Equal(t, "0212 999 88 77", mergePhone("1-10", "0212 999 88 77"))
	assert.Equal(t, "0212 999 88 77", mergePhone("201-500", "0212 999 88 77"))
	// Empty incoming never clobbers.
	assert.Equal(t, "+90 212 123 45 67", mergePhone("+90 212 123 45 67", ""))
}

func TestAggregator_EmailUnion(t *testing.T) {
	var flushed []model.Lead
	agg := NewAggregator(func(l model.Lead) { flushed = append(flushed, l) })

	agg.Begin("acme", model.Lead{CompanyName: "Acme"}, 2)
	agg.Complete("acme", "", []string{"a@acme.com", "b@acme.com"}, true)
	agg.Complete("acme", "", []string{"b@acme.com", "c@acme.com"}, true)

	require.Len(t, flushed, 1)
	assert.ElementsMatch(t, []string{"a@acme.com", "b@acme.com", "c@acme.com"}, flushed[0].Emails)
}
