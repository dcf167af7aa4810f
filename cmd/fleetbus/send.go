package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/plan"
	"github.com/alfredjeanlab/fleetbus/internal/scheduler"
)

var sendCmd = &cobra.Command{
	Use:   "send",
	Short: "Publish a single event",
	Example: `  fleetbus send --tag dev --action create --id dc79e5c9-4b10-48b3-b7b8-534821ce48c7 --attrs '{"trial":false,"limit":6000}'
  fleetbus send --tag Wireguard --action delete --id conn-7 --endpoint tcp://127.0.0.1:3005`,
	GroupID: "publish",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		tag, _ := cmd.Flags().GetString("tag")
		action, _ := cmd.Flags().GetString("action")
		id, _ := cmd.Flags().GetString("id")
		attrs, _ := cmd.Flags().GetString("attrs")

		p, err := singleEventPlan(tag, action, id, attrs)
		if err != nil {
			return err
		}

		ctx, stop := signalContext(cmd)
		defer stop()
		return runSession(ctx, cmd, p, sessionOptions(cmd))
	},
}

// singleEventPlan builds a once plan holding one event.
func singleEventPlan(tag, action, id, attrsJSON string) (*plan.Plan, error) {
	if tag == "" || action == "" || id == "" {
		return nil, fmt.Errorf("--tag, --action and --id are required")
	}
	a, err := model.ParseAction(action)
	if err != nil {
		return nil, err
	}
	attrs, err := envelope.ParseAttributesJSON([]byte(attrsJSON))
	if err != nil {
		return nil, fmt.Errorf("--attrs: %w", err)
	}

	p := &plan.Plan{Name: "send", Mode: scheduler.Once}
	p.Append(tag, 0, model.Event{Action: a, SubjectID: id, Attrs: attrs})
	// A single hand-sent event is either valid or an error.
	p.Strict = true
	return p, nil
}

func init() {
	sendCmd.Flags().String("tag", envelope.TagDev, "fleet tag")
	sendCmd.Flags().String("action", "", "create, update, delete, restore or init")
	sendCmd.Flags().String("id", "", "subject id (user_id or conn_id, per fleet)")
	sendCmd.Flags().String("attrs", "", "attributes as a JSON object")
	addPacingFlags(sendCmd)
}
