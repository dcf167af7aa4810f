package main

import (
	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/listen"
	"github.com/alfredjeanlab/fleetbus/internal/router"
	"github.com/alfredjeanlab/fleetbus/internal/ui"
)

var listenCmd = &cobra.Command{
	Use:   "listen [tag...]",
	Short: "Print envelopes published on an endpoint",
	Long: `Connects to a bound endpoint as a subscriber and prints every envelope on the
given tags (all tags when none are given), decoded with the fleet schemas.
Envelopes repeated within --dedupe are flagged as duplicates.`,
	GroupID: "inspect",
	RunE: func(cmd *cobra.Command, args []string) error {
		endpoint := endpointFlag
		if endpoint == "" {
			endpoint = cfg.Endpoint
		}
		ep, err := router.ParseEndpoint(endpoint)
		if err != nil {
			return err
		}
		window := cfg.DedupeWindow
		if cmd.Flags().Changed("dedupe") {
			window, _ = cmd.Flags().GetDuration("dedupe")
		}

		sub, err := listen.Dial(ep.URL(), envelope.NewCodec(registry), window, logger)
		if err != nil {
			return err
		}
		defer sub.Close()

		received, cancel, err := sub.Subscribe(args...)
		if err != nil {
			return err
		}
		defer cancel()
		logger.Info("listening", "endpoint", ep.URL(), "tags", args)

		ctx, stop := signalContext(cmd)
		defer stop()
		out := cmd.OutOrStdout()
		styler := ui.Styler{Color: !jsonOutput && ui.ShouldUseColorOn(out)}
		for {
			select {
			case <-ctx.Done():
				if n := sub.Dropped(); n > 0 {
					logger.Warn("envelopes dropped", "count", n)
				}
				return nil
			case r, ok := <-received:
				if !ok {
					return nil
				}
				printReceived(out, styler, r)
			}
		}
	},
}

func init() {
	listenCmd.Flags().Duration("dedupe", 0, "flag envelopes repeated within this window (default $FLEETBUS_DEDUPE_WINDOW)")
}
