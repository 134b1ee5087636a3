package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/classify"
)

var classifyFlags struct {
	category  string
	limit     int
	batchSize int
}

var classifyCmd = &cobra.Command{
	Use:   "classify",
	Short: "Classify stored leads against their sector via Claude",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		if cfg.Classify.APIKey == "" {
			return eris.New("classify: LEADSCOUT_CLASSIFY_API_KEY is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		ccfg := cfg.Classify
		if classifyFlags.batchSize > 0 {
			ccfg.BatchSize = classifyFlags.batchSize
		}

		stage := classify.NewStage(ccfg, nil, st)
		stats, err := stage.Run(ctx, classifyFlags.category, classifyFlags.limit)
		if err != nil {
			return err
		}

		zap.L().Info("classification complete",
			zap.String("category", classifyFlags.category),
			zap.Int("total", stats.Total),
			zap.Int("matched", stats.Matched),
			zap.Int("unmatched", stats.Unmatched),
			zap.Float64("mean_confidence", stats.MeanConfidence))
		return nil
	},
}

func init() {
	classifyCmd.Flags().StringVar(&classifyFlags.category, "category", "", "category to classify (required)")
	classifyCmd.Flags().IntVar(&classifyFlags.limit, "limit", 0, "classify at most this many leads (0 = all)")
	classifyCmd.Flags().IntVar(&classifyFlags.batchSize, "batch-size", 0, "companies per classifier call (default from config)")
	_ = classifyCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(classifyCmd)
}
