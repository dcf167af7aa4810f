package main

import (
	"context"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/alfredjeanlab/fleetbus/internal/plan"
	"github.com/alfredjeanlab/fleetbus/internal/session"
)

var publishCmd = &cobra.Command{
	Use:   "publish <plan>...",
	Short: "Run one publication session per plan file",
	Long: `Runs one publication session per plan, all concurrently. Plans are TOML,
YAML or JSON files, picked by extension, or s3://bucket/key references.

Each session binds its plan's endpoint, waits for the settle window and sends
the plan's events in order. Once plans exit after their last send; cyclic
plans run until interrupted.`,
	GroupID: "publish",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signalContext(cmd)
		defer stop()

		loader := plan.NewLoader(cfg.S3Region, cfg.S3Endpoint)
		plans := make([]*plan.Plan, len(args))
		for i, ref := range args {
			p, err := loader.Load(ctx, ref)
			if err != nil {
				return err
			}
			plans[i] = p
		}

		return publishPlans(ctx, cmd, plans, sessionOptions(cmd))
	},
}

// publishPlans runs one session per plan concurrently and returns the first
// failure once every session has ended. One session failing never cancels the
// others.
func publishPlans(ctx context.Context, cmd *cobra.Command, plans []*plan.Plan, opts session.Options) error {
	var g errgroup.Group
	for _, p := range plans {
		g.Go(func() error {
			return runSession(ctx, cmd, p, opts)
		})
	}
	return g.Wait()
}

func init() {
	addPacingFlags(publishCmd)
}
