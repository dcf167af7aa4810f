package main

import (
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/alfredjeanlab/fleetbus/internal/envelope"
	"github.com/alfredjeanlab/fleetbus/internal/model"
	"github.com/alfredjeanlab/fleetbus/internal/ui"
)

var schemasCmd = &cobra.Command{
	Use:     "schemas",
	Short:   "List fleet tags and the payloads they accept",
	GroupID: "inspect",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return printSchemas(cmd.OutOrStdout(), registry, ui.Styler{Color: !jsonOutput && ui.ShouldUseColorOn(cmd.OutOrStdout())})
	},
}

type schemaJSON struct {
	Tag      string              `json:"tag"`
	Version  string              `json:"version"`
	IDField  string              `json:"id_field"`
	UUIDs    bool                `json:"uuid_ids"`
	Actions  []model.Action      `json:"actions"`
	Keys     []string            `json:"attributes"`
	Required map[string][]string `json:"required,omitempty"`
	Protos   []string            `json:"protos,omitempty"`
}

func printSchemas(w io.Writer, reg *envelope.Registry, s ui.Styler) error {
	for _, tag := range reg.Tags() {
		sc, _ := reg.Lookup(tag)
		required := make(map[string][]string)
		for a, paths := range sc.Required {
			required[string(a)] = slices.Clone(paths)
		}
		if sc.ProtoWireguardNeedsWG {
			required[string(model.ActionCreate)+" tag=Wireguard"] = []string{envelope.PathWGKeys, envelope.PathWGAddress}
		}

		if jsonOutput {
			data, err := json.Marshal(schemaJSON{
				Tag: tag, Version: sc.Version, IDField: sc.IDField, UUIDs: sc.UUIDs,
				Actions: sc.Actions, Keys: sc.Keys, Required: required, Protos: sc.Protos,
			})
			if err != nil {
				return err
			}
			fmt.Fprintln(w, string(data))
			continue
		}

		actions := make([]string, len(sc.Actions))
		for i, a := range sc.Actions {
			actions[i] = string(a)
		}
		id := sc.IDField
		if sc.UUIDs {
			id += " (uuid)"
		}
		fmt.Fprintf(w, "%s %s\n", s.Tag(tag), s.Muted("schema "+sc.Version))
		fmt.Fprintf(w, "  id:         %s\n", id)
		fmt.Fprintf(w, "  actions:    %s\n", strings.Join(actions, ", "))
		fmt.Fprintf(w, "  attributes: %s\n", strings.Join(sc.Keys, ", "))
		for _, k := range sortedKeys(required) {
			fmt.Fprintf(w, "  requires:   %s: %s\n", k, strings.Join(required[k], ", "))
		}
		if len(sc.Protos) > 0 {
			fmt.Fprintf(w, "  protos:     %s\n", strings.Join(sc.Protos, ", "))
		}
	}
	return nil
}

func sortedKeys(m map[string][]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
