package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/trickstertwo/xchannel"
	"github.com/trickstertwo/xchannel/config"
)

func newValidateCmd() *cobra.Command {
	var build bool
	cmd := &cobra.Command{
		Use:   "validate <channels.yaml>",
		Short: "Check a channels file without starting anything",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			defs, err := config.LoadChannels(args[0])
			if err != nil {
				return err
			}
			for _, def := range defs {
				if build {
					// Resolves connector types and response handlers.
					if _, err := def.Builder(); err != nil {
						return err
					}
				}
				state := "enabled"
				if !def.IsEnabled() {
					state = "disabled"
				}
				_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s -> %d destination(s)\n", def.ID, state, def.Source.Type, len(def.Destinations))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&build, "build", true, "also resolve connector types through the registries")
	return cmd
}

func newTypesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "types",
		Short: "List registered source and destination connector types",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sources, destinations := xchannel.ConnectorTypes()
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "sources:      %s\n", strings.Join(sources, ", "))
			_, _ = fmt.Fprintf(out, "destinations: %s\n", strings.Join(destinations, ", "))
			return nil
		},
	}
}
