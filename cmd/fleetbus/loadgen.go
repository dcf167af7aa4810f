package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/plan"
)

var loadgenCmd = &cobra.Command{
	Use:   "loadgen",
	Short: "Publish a cyclic synthetic load",
	Long: `Publishes --count generated events in a loop, one every --interval, until
interrupted or until --cycles passes have been sent. Events alternate create
and update (unless --action is set) with alternating trial and limit 9999 on
fleets that accept them.`,
	GroupID: "publish",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		flags := cmd.Flags()
		opts := plan.LoadTestOptions{}
		opts.Count, _ = flags.GetInt("count")
		opts.Tag, _ = flags.GetString("tag")
		opts.Proto, _ = flags.GetString("proto")
		opts.Interval, _ = flags.GetDuration("interval")
		action, _ := flags.GetString("action")
		cycles, _ := flags.GetInt("cycles")

		if action != "" {
			a, err := model.ParseAction(action)
			if err != nil {
				return err
			}
			opts.Action = a
		}
		schema, ok := registry.Lookup(opts.Tag)
		if !ok {
			return fmt.Errorf("unknown tag %q (see fleetbus schemas)", opts.Tag)
		}
		p, err := plan.LoadTest(schema, opts)
		if err != nil {
			return err
		}

		sopts := sessionOptions(cmd)
		sopts.MaxCycles = cycles
		ctx, stop := signalContext(cmd)
		defer stop()
		return runSession(ctx, cmd, p, sopts)
	},
}

func init() {
	loadgenCmd.Flags().Int("count", 150, "events per cycle")
	loadgenCmd.Flags().String("tag", "dev", "fleet tag")
	loadgenCmd.Flags().String("proto", "", "provisioning kind (default depends on the fleet)")
	loadgenCmd.Flags().String("action", "", "fixed action (default alternates create and update)")
	loadgenCmd.Flags().Duration("interval", time.Second, "gap between sends and between cycles")
	loadgenCmd.Flags().Int("cycles", 0, "stop after this many cycles (0 = until interrupted)")
	addPacingFlags(loadgenCmd)
}
