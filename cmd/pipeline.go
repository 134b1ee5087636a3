package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/classify"
	"github.com/growthtools/leadscout/internal/discovery"
	"github.com/growthtools/leadscout/internal/model"
	"github.com/growthtools/leadscout/internal/orchestrator"
)

var pipelineFlags struct {
	category  string
	region    string
	regionID  string
	limit     int
	maxPages  int
	batchSize int
}

var pipelineCmd = &cobra.Command{
	Use:   "pipeline",
	Short: "Run discovery then classification once, in-process",
	Long:  "Runs the full two-stage pipeline for one category and waits for it to finish. Useful for one-off runs without the HTTP server.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Classify.APIKey == "" {
			return eris.New("pipeline: LEADSCOUT_CLASSIFY_API_KEY is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		discover := &orchestrator.InlineDiscoverer{
			Engine: discovery.NewEngine(cfg.Discovery, cfg.Search, nil, st),
		}
		ccfg := cfg.Classify
		if pipelineFlags.batchSize > 0 {
			ccfg.BatchSize = pipelineFlags.batchSize
		}
		stage := classify.NewStage(ccfg, nil, st)
		orch := orchestrator.New(st, discover, stage, cfg.Jobs)

		job, err := orch.Submit(ctx, model.JobParams{
			Category:          pipelineFlags.category,
			Region:            pipelineFlags.region,
			RegionID:          pipelineFlags.regionID,
			Limit:             pipelineFlags.limit,
			MaxPages:          pipelineFlags.maxPages,
			ClassifyBatchSize: ccfg.BatchSize,
		})
		if err != nil {
			return err
		}
		zap.L().Info("pipeline job submitted", zap.String("job_id", job.ID))

		orch.Wait()

		final, err := st.GetJob(context.Background(), job.ID)
		if err != nil {
			return err
		}
		if final.Status != model.JobStatusSucceeded {
			return eris.Errorf("pipeline: job %s ended %s: %s", final.ID, final.Status, final.Error)
		}

		elapsed := time.Duration(0)
		if final.StartedAt != nil && final.FinishedAt != nil {
			elapsed = final.FinishedAt.Sub(*final.StartedAt)
		}
		zap.L().Info("pipeline finished",
			zap.String("job_id", final.ID),
			zap.Duration("elapsed", elapsed))
		return nil
	},
}

func init() {
	pipelineCmd.Flags().StringVar(&pipelineFlags.category, "category", "", "category to run (required)")
	pipelineCmd.Flags().StringVar(&pipelineFlags.region, "region", "", "region keyword appended to the search")
	pipelineCmd.Flags().StringVar(&pipelineFlags.regionID, "region-id", "", "directory region identifier")
	pipelineCmd.Flags().IntVar(&pipelineFlags.limit, "limit", 20, "stop after this many accepted companies")
	pipelineCmd.Flags().IntVar(&pipelineFlags.maxPages, "max-pages", 20, "hard cap on search pages per stream")
	pipelineCmd.Flags().IntVar(&pipelineFlags.batchSize, "batch-size", 0, "companies per classifier call (default from config)")
	_ = pipelineCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(pipelineCmd)
}
