package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/discovery"
	"github.com/growthtools/leadscout/internal/model"
)

var discoverFlags struct {
	category string
	region   string
	regionID string
	limit    int
	maxPages int
}

var discoverCmd = &cobra.Command{
	Use:   "discover",
	Short: "Crawl the directory for a category and persist enriched leads",
	Long:  "Paginates the directory search for a category, fans out contact-page fetches per discovered company, and upserts one lead row per company. The serve command runs this as a child process per job.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		engine := discovery.NewEngine(cfg.Discovery, cfg.Search, nil, st)
		stats, err := engine.Run(ctx, model.JobParams{
			Category: discoverFlags.category,
			Region:   discoverFlags.region,
			RegionID: discoverFlags.regionID,
			Limit:    discoverFlags.limit,
			MaxPages: discoverFlags.maxPages,
		})
		if err != nil {
			return err
		}

		zap.L().Info("discovery complete",
			zap.String("category", discoverFlags.category),
			zap.Int("pages", stats.PagesProcessed),
			zap.Int("candidates", stats.Candidates),
			zap.Int("leads", stats.Leads))
		return nil
	},
}

func init() {
	discoverCmd.Flags().StringVar(&discoverFlags.category, "category", "", "category to discover (required)")
	discoverCmd.Flags().StringVar(&discoverFlags.region, "region", "", "region keyword appended to the search")
	discoverCmd.Flags().StringVar(&discoverFlags.regionID, "region-id", "", "directory region identifier")
	discoverCmd.Flags().IntVar(&discoverFlags.limit, "limit", 20, "stop after this many accepted companies")
	discoverCmd.Flags().IntVar(&discoverFlags.maxPages, "max-pages", 20, "hard cap on search pages per stream")
	_ = discoverCmd.MarkFlagRequired("category")
	rootCmd.AddCommand(discoverCmd)
}
