package main

import (
	"github.com/spf13/cobra"

	"chat-harness/internal/scenario"
)

func (a *app) scenarioCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "scenario [file]",
		Short: "Print the built-in scenario, or validate and normalize a scenario file",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sc := scenario.Default()
			if len(args) > 0 {
				var err error
				if sc, err = scenario.Load(args[0]); err != nil {
					return err
				}
			}

			data, err := scenario.Marshal(sc)
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
}
