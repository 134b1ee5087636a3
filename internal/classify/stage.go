// Package classify runs batches of discovered leads through the Anthropic
// API and persists a belongs/confidence/reason verdict per lead.
package classify

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/config"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/resilience"
	"github.com/growthtools/leadscout/internal/store"
	"github.com/growthtools/leadscout/pkg/anthropic"
)

const (
	defaultBatchSize = 15
	defaultMaxTokens = 4096
)

// Stage classifies the leads of one category in fixed-size batches. Every
// input lead ends up with a persisted verdict, even when a classifier call
// fails or returns garbage.
type Stage struct {
	cfg    config.ClassifyConfig
	client anthropic.Client
	store  store.Store
	window *RateWindow
	retry  resilience.RetryConfig
	now    func() time.Time
}

// NewStage builds a classification stage. A nil client is constructed from
// the configured API key.
func NewStage(cfg config.ClassifyConfig, client anthropic.Client, st store.Store) *Stage {
	if client == nil {
		client = anthropic.NewClient(cfg.APIKey)
	}
	retry := resilience.DefaultRetryConfig()
	if cfg.MaxRetries > 0 {
		retry.MaxAttempts = cfg.MaxRetries
	}
	// Classifier calls are retried regardless of error shape; the
	// per-entity fallback below is the terminal handler.
	retry.ShouldRetry = func(error) bool { return true }
	retry.OnRetry = resilience.RetryLogger("anthropic", "create_message")

	return &Stage{
		cfg:    cfg,
		client: client,
		store:  st,
		window: NewRateWindow(cfg.RequestsPerMinute),
		retry:  retry,
		now:    time.Now,
	}
}

// Run classifies up to limit leads of the category that carry a
// description. A limit of zero or less means all such leads. Stats are
// computed over the whole run, after the final batch.
func (s *Stage) Run(ctx context.Context, category string, limit int) (*model.ClassificationStats, error) {
	if category == "" {
		return nil, eris.New("classify: category is required")
	}
	if err := s.store.EnsureCategory(ctx, category); err != nil {
		return nil, eris.Wrap(err, "classify: ensure category")
	}

	leads, err := s.store.ListLeads(ctx, category, store.LeadFilter{
		WithAboutOnly: true,
		Limit:         limit,
	})
	if err != nil {
		return nil, eris.Wrap(err, "classify: list leads")
	}
	if len(leads) == 0 {
		zap.L().Info("no leads with descriptions to classify",
			zap.String("category", category))
		return &model.ClassificationStats{}, nil
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	stats := &model.ClassificationStats{}
	var confidenceSum float64
	batches := (len(leads) + batchSize - 1) / batchSize

	for i := 0; i < len(leads); i += batchSize {
		end := i + batchSize
		if end > len(leads) {
			end = len(leads)
		}
		batch := leads[i:end]
		batchNum := i/batchSize + 1

		zap.L().Info("classifying batch",
			zap.String("category", category),
			zap.Int("batch", batchNum),
			zap.Int("batches", batches),
			zap.Int("size", len(batch)))

		results := s.classifyBatch(ctx, category, batch)
		for _, r := range results {
			if err := s.store.UpsertClassification(ctx, r); err != nil {
				return nil, eris.Wrapf(err, "classify: persist verdict for %q", r.CompanyName)
			}
			stats.Total++
			confidenceSum += r.Confidence
			if r.Belongs {
				stats.Matched++
			} else {
				stats.Unmatched++
			}
		}

		if ctx.Err() != nil {
			return nil, eris.Wrap(ctx.Err(), "classify: cancelled")
		}
	}

	if stats.Total > 0 {
		stats.MeanConfidence = confidenceSum / float64(stats.Total)
	}
	zap.L().Info("classification finished",
		zap.String("category", category),
		zap.Int("total", stats.Total),
		zap.Int("matched", stats.Matched),
		zap.Int("unmatched", stats.Unmatched),
		zap.Float64("mean_confidence", stats.MeanConfidence))
	return stats, nil
}

// classifyBatch produces exactly one Classification per input lead. Call
// failures and malformed responses degrade to belongs=false verdicts
// instead of propagating.
func (s *Stage) classifyBatch(ctx context.Context, category string, batch []model.Lead) []model.Classification {
	prompt := BuildPrompt(batch, category)

	text, err := resilience.DoVal(ctx, s.retry, func(ctx context.Context) (string, error) {
		if err := s.window.Wait(ctx); err != nil {
			return "", err
		}
		resp, err := s.client.CreateMessage(ctx, anthropic.MessageRequest{
			Model:     s.cfg.Model,
			MaxTokens: int64(s.maxTokens()),
			Messages: []anthropic.Message{
				{Role: "user", Content: prompt},
			},
		})
		if err != nil {
			return "", err
		}
		resp.Usage.LogCost(s.cfg.Model, "classify")
		return resp.Text(), nil
	})
	if err != nil {
		zap.L().Warn("classifier call failed after retries",
			zap.String("category", category),
			zap.Int("batch_size", len(batch)),
			zap.Error(err))
		return s.fallback(batch, category, fmt.Sprintf("classifier call failed: %v", err))
	}

	return s.parseResponse(text, batch, category)
}

// parseResponse matches classifier decisions back to the batch by exact
// company name. Missing entities and unparseable output both yield default
// verdicts so the caller always gets len(batch) results.
func (s *Stage) parseResponse(text string, batch []model.Lead, category string) []model.Classification {
	var decisions []decision
	if err := json.Unmarshal([]byte(stripFences(text)), &decisions); err != nil {
		zap.L().Warn("unparseable classifier response",
			zap.String("category", category),
			zap.Error(err))
		return s.fallback(batch, category, fmt.Sprintf("parse error: %v", err))
	}

	byName := make(map[string]model.Lead, len(batch))
	for _, l := range batch {
		byName[l.CompanyName] = l
	}

	results := make([]model.Classification, 0, len(batch))
	seen := make(map[string]bool, len(batch))
	for _, d := range decisions {
		lead, ok := byName[d.CompanyName]
		if !ok {
			zap.L().Warn("classifier decision for unknown company",
				zap.String("company", d.CompanyName))
			continue
		}
		if seen[d.CompanyName] {
			continue
		}
		seen[d.CompanyName] = true
		results = append(results, s.verdict(lead, category, d.Belongs, clamp01(d.Confidence), d.Reason))
	}

	for _, l := range batch {
		if !seen[l.CompanyName] {
			zap.L().Warn("company missing from classifier response",
				zap.String("company", l.CompanyName))
			results = append(results, s.verdict(l, category, false, 0, "missing from response"))
		}
	}
	return results
}

func (s *Stage) fallback(batch []model.Lead, category, reason string) []model.Classification {
	results := make([]model.Classification, 0, len(batch))
	for _, l := range batch {
		results = append(results, s.verdict(l, category, false, 0, reason))
	}
	return results
}

func (s *Stage) verdict(l model.Lead, category string, belongs bool, confidence float64, reason string) model.Classification {
	return model.Classification{
		CompanyName:  l.CompanyName,
		Category:     category,
		Belongs:      belongs,
		Confidence:   confidence,
		Reason:       reason,
		About:        l.About,
		Website:      l.Website,
		Region:       l.Region,
		Phone:        l.Phone,
		Emails:       l.Emails,
		ClassifiedAt: s.now().UTC(),
	}
}

func (s *Stage) maxTokens() int {
	if s.cfg.MaxTokens > 0 {
		return s.cfg.MaxTokens
	}
	return defaultMaxTokens
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}
