package main

import (
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/growthtools/leadscout/internal/api"
	"github.com/growthtools/leadscout/internal/classify"
	"github.com/growthtools/leadscout/internal/discovery"
	"github.com/growthtools/leadscout/internal/orchestrator"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the pipeline HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if cfg.Classify.APIKey == "" {
			return eris.New("serve: LEADSCOUT_CLASSIFY_API_KEY is required")
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		var discover orchestrator.DiscoverRunner
		if cfg.Discovery.Inline {
			discover = &orchestrator.InlineDiscoverer{
				Engine: discovery.NewEngine(cfg.Discovery, cfg.Search, nil, st),
			}
		} else {
			discover = &orchestrator.SubprocessDiscoverer{}
		}

		stage := classify.NewStage(cfg.Classify, nil, st)
		orch := orchestrator.New(st, discover, stage, cfg.Jobs)
		defer orch.Wait()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: api.NewServer(st, orch).Handler(),
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
