package discovery

import (
	"sync"

	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/extract"
	"github.com/growthtools/leadscout/internal/model"
)

// Aggregator joins the per-entity sub-fetch fan-out back into one lead
// per entity. Each sub-fetch reports exactly once, success or error, and
// the entity flushes the instant its pending count reaches zero.
type Aggregator struct {
	mu       sync.Mutex
	inflight map[string]*aggRecord
	emit     func(model.Lead)
}

type aggRecord struct {
	lead    model.Lead
	pending int
	total   int
}

// NewAggregator creates an aggregator that hands finished leads to emit.
func NewAggregator(emit func(model.Lead)) *Aggregator {
	return &Aggregator{
		inflight: make(map[string]*aggRecord),
		emit:     emit,
	}
}

// Begin registers an entity with pathCount outstanding sub-fetches. A
// pathCount of zero bypasses aggregation and flushes the seed
// immediately, for profiles that already carried their own contact data.
func (a *Aggregator) Begin(key string, seed model.Lead, pathCount int) {
	if pathCount <= 0 {
		a.emit(seed)
		return
	}

	a.mu.Lock()
	if _, exists := a.inflight[key]; exists {
		a.mu.Unlock()
		zap.L().Warn("discovery: duplicate aggregation begin", zap.String("key", key))
		return
	}
	a.inflight[key] = &aggRecord{lead: seed, pending: pathCount, total: pathCount}
	a.mu.Unlock()
}

// Complete records one sub-fetch result for the entity. Failed
// sub-fetches still decrement the pending count or the record would leak.
// The flush happens exactly once, on the call that drains the count.
func (a *Aggregator) Complete(key string, phone string, emails []string, succeeded bool) {
	a.mu.Lock()
	rec, ok := a.inflight[key]
	if !ok {
		a.mu.Unlock()
		zap.L().Warn("discovery: completion for unknown entity", zap.String("key", key))
		return
	}

	if succeeded {
		rec.lead.Phone = mergePhone(rec.lead.Phone, phone)
		rec.lead.Emails = mergeEmails(rec.lead.Emails, emails)
	}
	rec.pending--
	done := rec.pending == 0
	if done {
		delete(a.inflight, key)
	}
	lead := rec.lead
	a.mu.Unlock()

	if done {
		a.emit(lead)
	}
}

// Pending returns how many entities are still in flight.
func (a *Aggregator) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.inflight)
}

// mergePhone keeps the first plausible value. The current phone is only
// replaced when it is empty or a numeric range, the shape employee counts
// leave behind when they leak into phone fields.
func mergePhone(current, incoming string) string {
	if incoming == "" {
		return current
	}
	if current == "" || extract.IsNumericRange(current) {
		return incoming
	}
	return current
}

func mergeEmails(existing, incoming []string) []string {
	seen := make(map[string]bool, len(existing))
	for _, e := range existing {
		seen[e] = true
	}
	for _, e := range incoming {
		if !seen[e] {
			seen[e] = true
			existing = append(existing, e)
		}
	}
	return existing
}
