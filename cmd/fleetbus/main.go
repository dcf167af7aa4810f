package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/config"
	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/router"
)

var (
	endpointFlag string
	jsonOutput   bool

	cfg      *config.Config
	logger   *slog.Logger
	registry *envelope.Registry
	rt       *router.Router
)

var rootCmd = &cobra.Command{
	Use:           "fleetbus <command>",
	Short:         "Publish account lifecycle events to consumer fleets",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return err
		}
		cfg = c
		logger = cfg.Logger()
		registry = envelope.DefaultRegistry()
		rt = router.New(logger, router.Options{
			BindAttempts:  cfg.BindAttempts,
			BindRetryWait: cfg.BindRetryWait,
		})
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&endpointFlag, "endpoint", "", "endpoint to bind or connect to (default $FLEETBUS_ENDPOINT)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	rootCmd.AddGroup(
		&cobra.Group{ID: "publish", Title: "Publishing:"},
		&cobra.Group{ID: "inspect", Title: "Inspection:"},
	)
	cobra.EnableCommandSorting = false

	rootCmd.AddCommand(publishCmd)
	rootCmd.AddCommand(sendCmd)
	rootCmd.AddCommand(loadgenCmd)
	rootCmd.AddCommand(listenCmd)
	rootCmd.AddCommand(schemasCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger == nil {
			logger = slog.New(slog.NewTextHandler(os.Stderr, nil))
		}
		logger.Error("command failed", "err", err)
		os.Exit(1)
	}
}
