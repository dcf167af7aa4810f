package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/plan"
	"github.com/alfredjeanlab/fleetbus/internal/session"
)

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
}

// sessionOptions builds session defaults from the environment and the
// command's pacing flags.
func sessionOptions(cmd *cobra.Command) session.Options {
	opts := session.Options{
		Settle:         cfg.Settle,
		SettleMax:      cfg.SettleMax,
		MinSubscribers: cfg.MinSubscribers,
		CycleInterval:  cfg.CycleInterval,
		Linger:         cfg.Linger,
		RateLimit:      cfg.RateLimit,
		Logger:         logger,
	}
	flags := cmd.Flags()
	if flags.Changed("settle") {
		opts.Settle, _ = flags.GetDuration("settle")
	}
	if flags.Changed("linger") {
		opts.Linger, _ = flags.GetDuration("linger")
	}
	if flags.Changed("min-subscribers") {
		opts.MinSubscribers, _ = flags.GetInt("min-subscribers")
	}
	if flags.Changed("settle-max") {
		opts.SettleMax, _ = flags.GetDuration("settle-max")
	}
	if flags.Changed("rate") {
		opts.RateLimit, _ = flags.GetFloat64("rate")
	}
	opts.Strict, _ = flags.GetBool("strict")
	return opts
}

func addPacingFlags(cmd *cobra.Command) {
	cmd.Flags().Duration("settle", 0, "wait after bind before the first send (default $FLEETBUS_SETTLE)")
	cmd.Flags().Duration("settle-max", 0, "wait up to this long after bind for --min-subscribers")
	cmd.Flags().Int("min-subscribers", 0, "subscriptions to wait for before the first send")
	cmd.Flags().Duration("linger", 0, "stay bound this long after the last send (default $FLEETBUS_LINGER)")
	cmd.Flags().Float64("rate", 0, "maximum sends per second (0 = unlimited)")
	cmd.Flags().Bool("strict", false, "reject the whole plan if any entry is invalid")
}

// resolveEndpoint applies flag > plan > environment precedence.
func resolveEndpoint(p *plan.Plan) string {
	switch {
	case endpointFlag != "":
		return endpointFlag
	case p.Endpoint != "":
		return p.Endpoint
	}
	return cfg.Endpoint
}

// overridePlan makes explicitly set pacing flags win over the plan's own
// settings, matching the precedence of --endpoint.
func overridePlan(cmd *cobra.Command, p *plan.Plan) {
	flags := cmd.Flags()
	for name, field := range map[string]**time.Duration{
		"settle": &p.Settle,
		"linger": &p.Linger,
	} {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		d, _ := flags.GetDuration(name)
		*field = &d
	}
}

// runSession publishes p in its own session and prints the outcome.
func runSession(ctx context.Context, cmd *cobra.Command, p *plan.Plan, opts session.Options) error {
	overridePlan(cmd, p)
	s, err := session.New(session.RouterBinder(rt), envelope.NewCodec(registry), opts)
	if err != nil {
		return err
	}
	res, err := s.Start(ctx, resolveEndpoint(p), p)
	printResult(cmd.OutOrStdout(), p.Name, res, err)
	return err
}
