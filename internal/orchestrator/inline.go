package orchestrator

import (
	"context"
	"fmt"

	"github.com/growthtools/leadscout/internal/discovery"
	"github.com/growthtools/leadscout/internal/model"
)

// InlineDiscoverer runs discovery in-process instead of as a child
// process. Used by the pipeline CLI command, where a process boundary
// buys nothing.
type InlineDiscoverer struct {
	Engine *discovery.Engine
}

func (d *InlineDiscoverer) Run(ctx context.Context, params model.JobParams, tails *TailPair) error {
	stats, err := d.Engine.Run(ctx, params)
	if err != nil {
		return err
	}
	tails.Stdout.WriteLine(fmt.Sprintf("discovery finished: pages=%d candidates=%d leads=%d",
		stats.PagesProcessed, stats.Candidates, stats.Leads))
	return nil
}
