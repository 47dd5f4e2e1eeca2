package main

import (
	"encoding/json"

	"github.com/spf13/cobra"

	"chat-harness/internal/protocol"
	"chat-harness/internal/report"
	"chat-harness/internal/workspace"
)

func (a *app) lsCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "ls [dir]",
		Short: "List a workspace the way the harness reports it",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.WorkDir
			if len(args) > 0 {
				dir = args[0]
			}

			entries, err := workspace.List(dir, a.cfg.ListingOptions())
			if err != nil {
				return err
			}

			payload := protocol.WorkspaceListingPayload{Dir: dir, Entries: entries}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(payload)
			}
			report.NewText(cmd.OutOrStdout(), report.WithColor(!a.cfg.NoColor)).
				Report(protocol.TypeWorkspaceListing, payload)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the listing as JSON")
	return cmd
}
